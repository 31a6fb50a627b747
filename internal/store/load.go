package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// Dataset maps schema ids to the rows to store for them.
type Dataset map[string][]map[string]any

// ReadDataset reads a YAML or JSON dataset file.
func ReadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	return ParseDataset(data)
}

// ParseDataset decodes a dataset document: a map from schema id to a list
// of rows.
func ParseDataset(data []byte) (Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return ds, nil
}

// LoadResult counts the rows stored per schema.
type LoadResult struct {
	Rows map[string]int
}

// Total returns the number of rows stored.
func (r LoadResult) Total() int {
	n := 0
	for _, c := range r.Rows {
		n += c
	}
	return n
}

// Load creates missing tables and inserts ds in one transaction. Entities
// are stored before events so that event rows can snapshot the slowly
// changing properties of the entities they reference. Rows without an id
// get a generated one.
func (s *Store) Load(ctx context.Context, ds Dataset) (LoadResult, error) {
	lock, err := s.acquireLoadLock()
	if err != nil {
		return LoadResult{}, err
	}
	defer lock.Release()

	if err := s.Migrate(ctx); err != nil {
		return LoadResult{}, err
	}

	order, err := s.loadOrder(ds)
	if err != nil {
		return LoadResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res := LoadResult{Rows: make(map[string]int, len(ds))}
	for _, sch := range order {
		for i, row := range ds[sch.ID] {
			if err := s.insert(ctx, tx, sch, row); err != nil {
				return LoadResult{}, fmt.Errorf("%s row %d: %w", sch.ID, i, err)
			}
			res.Rows[sch.ID]++
		}
		logging.Debug().Str("schema", sch.ID).Int("rows", res.Rows[sch.ID]).Msg("loaded")
	}
	if err := tx.Commit(); err != nil {
		return LoadResult{}, fmt.Errorf("failed to commit: %w", err)
	}
	return res, nil
}

func (s *Store) loadOrder(ds Dataset) ([]*schema.Schema, error) {
	ids := make([]string, 0, len(ds))
	for id := range ds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entities, events []*schema.Schema
	for _, id := range ids {
		sch, ok := s.lookup.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", schema.ErrUnknownSchema, id)
		}
		if sch.IsEvent() {
			events = append(events, sch)
		} else {
			entities = append(entities, sch)
		}
	}
	return append(entities, events...), nil
}

func (s *Store) insert(ctx context.Context, tx *sql.Tx, sch *schema.Schema, row map[string]any) error {
	values := make(map[string]any, len(row)+1)
	for k, v := range row {
		if k == schema.IDProperty {
			values[k] = v
			continue
		}
		p, ok := sch.Property(k)
		if !ok {
			return fmt.Errorf("%w: %q", schema.ErrUnknownProperty, k)
		}
		values[p.ColumnName()] = v
	}
	if values[schema.IDProperty] == nil {
		values[schema.IDProperty] = uuid.NewString()
	}
	if sch.IsEvent() {
		if err := s.snapshotSCD(ctx, tx, sch, values); err != nil {
			return err
		}
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = s.dialect.Quote(col)
		args[i] = storedValue(values[col])
	}

	stmt, stmtArgs, err := s.dialect.Builder().
		Insert(s.dialect.Quote(sch.TableName())).
		Columns(quoted...).
		Values(args...).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt, stmtArgs...); err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}
	return nil
}

// snapshotSCD copies the current value of every slowly changing property
// the event references into its localized column, unless the row sets it.
func (s *Store) snapshotSCD(ctx context.Context, tx *sql.Tx, sch *schema.Schema, values map[string]any) error {
	for _, p := range sch.Properties {
		if p.LocalizedFrom == "" || values[p.ColumnName()] != nil {
			continue
		}
		chain, err := s.lookup.ResolveChain(sch, p.LocalizedFrom)
		if err != nil || len(chain) != 2 {
			continue
		}
		ref := chain[0].Property
		refID := values[ref.ColumnName()]
		if refID == nil {
			continue
		}
		q := s.dialect.Quote
		stmt, args, err := s.dialect.Builder().
			Select(q(chain[1].Property.ColumnName())).
			From(q(chain[1].Schema.TableName())).
			Where(sq.Eq{q(schema.IDProperty): refID}).
			ToSql()
		if err != nil {
			return err
		}
		var v any
		err = tx.QueryRowContext(ctx, stmt, args...).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", p.LocalizedFrom, err)
		}
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		values[p.ColumnName()] = v
	}
	return nil
}

func storedValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		if tv.Hour() == 0 && tv.Minute() == 0 && tv.Second() == 0 && tv.Nanosecond() == 0 {
			return tv.Format("2006-01-02")
		}
		return tv.UTC().Format("2006-01-02 15:04:05")
	case map[string]any, []any:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprint(tv)
		}
		return string(b)
	}
	return v
}

type loadLock struct {
	file *os.File
}

// acquireLoadLock takes an exclusive lock next to a SQLite database file.
// Other backends rely on the server's own locking.
func (s *Store) acquireLoadLock() (*loadLock, error) {
	if s.dialect.Name() != "sqlite" || s.dsn == ":memory:" {
		return nil, nil
	}
	lockFile, err := os.OpenFile(s.dsn+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open load lock: %w", err)
	}
	if err := lockFileExclusiveNonBlocking(lockFile); err != nil {
		lockFile.Close()
		if isWouldBlockError(err) {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("failed to acquire load lock: %w", err)
	}
	return &loadLock{file: lockFile}, nil
}

func (l *loadLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlockErr := unlockFile(l.file)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
