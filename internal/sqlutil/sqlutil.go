// Package sqlutil holds small database/sql helpers shared by the stores.
package sqlutil

import (
	"database/sql"
	"time"
)

// ScanRows scans all rows into a slice using the provided scanner.
func ScanRows[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ScanMaps scans all rows into maps keyed by column name. Byte slices are
// returned as strings.
func ScanMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	return ScanRows(rows, func(r *sql.Rows) (map[string]any, error) {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := r.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = Normalize(values[i])
		}
		return row, nil
	})
}

// Normalize converts driver values into the plain forms the rest of the
// code compares: strings instead of bytes, dates as ISO strings.
func Normalize(v any) any {
	switch tv := v.(type) {
	case []byte:
		return string(tv)
	case time.Time:
		if tv.Hour() == 0 && tv.Minute() == 0 && tv.Second() == 0 && tv.Nanosecond() == 0 {
			return tv.Format("2006-01-02")
		}
		return tv.UTC().Format(time.RFC3339)
	}
	return v
}
