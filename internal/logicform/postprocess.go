package logicform

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// PostProcessOptions tunes ApplyHavingSortLimitSkip.
type PostProcessOptions struct {
	// Target is the schema whose properties type the sort keys that are not
	// dimension or aggregate names. Defaults to the base schema.
	Target *schema.Schema
	// Locale collates string sort keys (BCP 47, e.g. "en" or "de-CH").
	Locale string
	// LimitByKey buckets rows for limit-by. Defaults to the formatted value
	// of row[limitBy.by].
	LimitByKey func(Row) string
	Now        func() time.Time
}

// ApplyHavingSortLimitSkip post-processes raw grouped rows in a fixed order:
// having, sort, skip, limit-by, limit. The input slice is not modified.
func (d *Definition) ApplyHavingSortLimitSkip(ctx context.Context, rows []Row, opts PostProcessOptions) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := d.applyHaving(rows, opts)
	if err != nil {
		return nil, err
	}
	d.applySort(out, opts)
	out = d.applySkip(out)
	out = d.applyLimitBy(out, opts)
	return d.applyLimit(out), nil
}

func (d *Definition) applyHaving(rows []Row, opts PostProcessOptions) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	if len(d.having) == 0 {
		return append(out, rows...), nil
	}
	m := condition.Matcher{Funcs: d.funcs, Now: opts.Now}
	for _, row := range rows {
		ok, err := m.Match(row, d.having)
		if err != nil {
			return nil, &ValidationError{Field: "having", Message: "cannot evaluate", Err: err}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// SortRows orders rows in place by the logic form's sort keys. The sort is
// stable: rows tied on every key keep their relative order.
func (d *Definition) SortRows(rows []Row, opts PostProcessOptions) {
	d.applySort(rows, opts)
}

func (d *Definition) applySort(rows []Row, opts PostProcessOptions) {
	if len(d.sort) == 0 || len(rows) < 2 {
		return
	}
	col := condition.NewCollator(opts.Locale)
	cmps := make([]condition.Comparator, len(d.sort))
	for i, k := range d.sort {
		cmps[i] = condition.ComparatorFor(d.FindPropBySortKey(k.Key, opts.Target), col)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for n, k := range d.sort {
			c := cmps[n](rows[i][k.Key], rows[j][k.Key])
			if c != 0 {
				if k.Dir < 0 {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
}

func (d *Definition) applySkip(rows []Row) []Row {
	n := d.Skip()
	if n >= len(rows) {
		return rows[:0]
	}
	return rows[n:]
}

func (d *Definition) applyLimit(rows []Row) []Row {
	n, ok := d.Limit()
	if !ok || n >= len(rows) {
		return rows
	}
	return rows[:n]
}

func (d *Definition) applyLimitBy(rows []Row, opts PostProcessOptions) []Row {
	if d.limitBy == nil {
		return rows
	}
	key := opts.LimitByKey
	if key == nil {
		by := d.limitBy.By
		key = func(r Row) string { return fmt.Sprint(r[by]) }
	}
	return CollectLimitBy(rows, key, d.limitBy.N)
}

// CollectLimitBy keeps at most n rows per distinct key, emulating
// ClickHouse's LIMIT n BY. Buckets are emitted in first-seen order and rows
// keep their relative order within a bucket.
func CollectLimitBy(rows []Row, key func(Row) string, n int) []Row {
	if n <= 0 {
		return rows[:0]
	}
	var order []string
	buckets := make(map[string][]Row)
	for _, r := range rows {
		k := key(r)
		bucket, seen := buckets[k]
		if !seen {
			order = append(order, k)
		}
		if len(bucket) < n {
			buckets[k] = append(bucket, r)
		}
	}
	out := make([]Row, 0, len(rows))
	for _, k := range order {
		out = append(out, buckets[k]...)
	}
	return out
}
