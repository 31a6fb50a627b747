// Package store executes logic forms against SQL databases through
// database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/sqlgen"
	"github.com/aidanlsb/semanticdb/internal/sqlutil"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

var (
	// ErrStoreLocked indicates another process is loading into the database.
	ErrStoreLocked = errors.New("database is locked for loading")
)

// Store is a SQL database holding one table per schema.
type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
	lookup  schema.Lookup
	funcs   udf.Registry
	cfg     condition.Config
	dsn     string
}

var _ logicform.Executor = (*Store)(nil)

// Open connects to dsn with the driver registered for dl. SQLite DSNs are
// file paths; their directory is created when missing.
func Open(ctx context.Context, dl dialect.Dialect, dsn string, lookup schema.Lookup, funcs udf.Registry) (*Store, error) {
	if dl.Name() == "sqlite" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(dl.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dl.Name(), err)
	}

	s := &Store{db: db, dialect: dl, lookup: lookup, funcs: funcs, dsn: dsn}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an in-memory SQLite store (for testing).
func OpenInMemory(ctx context.Context, lookup schema.Lookup, funcs udf.Registry) (*Store, error) {
	dl, err := dialect.Get("sqlite")
	if err != nil {
		return nil, err
	}
	return Open(ctx, dl, ":memory:", lookup, funcs)
}

func (s *Store) initialize(ctx context.Context) error {
	if s.dialect.Name() != "sqlite" {
		return nil
	}
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA cache_size = -64000",
	}
	if s.dsn != ":memory:" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// SetConfig sets the evaluation settings used when encoding conditions.
func (s *Store) SetConfig(cfg condition.Config) {
	s.cfg = cfg
}

// Migrate creates a table for every schema in the lookup.
func (s *Store) Migrate(ctx context.Context) error {
	for _, id := range s.lookup.IDs() {
		sch, _ := s.lookup.Get(id)
		ddl := s.dialect.CreateTable(sch)
		logging.Debug().Str("schema", id).Str("sql", ddl).Msg("create table")
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table for %s: %w", id, err)
		}
	}
	return nil
}

// RunQuery fetches every stored column of the rows of schemaID matching
// query.
func (s *Store) RunQuery(ctx context.Context, schemaID string, query map[string]any) ([]logicform.Row, error) {
	sch, ok := s.lookup.Get(schemaID)
	if !ok {
		return nil, &condition.ResolutionError{Path: schemaID, Err: schema.ErrUnknownSchema}
	}
	stmt, err := sqlgen.Select(sch, s.lookup, s.funcs, query, nil, s.dialect, s.cfg)
	if err != nil {
		return nil, err
	}
	return s.RunSQL(ctx, stmt.SQL, stmt.Args...)
}

// RunSQL executes stmt and returns its rows keyed by column name.
func (s *Store) RunSQL(ctx context.Context, stmt string, args ...any) ([]logicform.Row, error) {
	logging.Debug().Str("sql", stmt).Int("args", len(args)).Msg("query")
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return sqlutil.ScanMaps(rows)
}

// ResolveReference returns the ids of refSchemaID rows matching query,
// ordered by their string form.
func (s *Store) ResolveReference(ctx context.Context, refSchemaID string, query map[string]any) ([]any, error) {
	sch, ok := s.lookup.Get(refSchemaID)
	if !ok {
		return nil, &condition.ResolutionError{Path: refSchemaID, Err: schema.ErrUnknownSchema}
	}
	stmt, err := sqlgen.Select(sch, s.lookup, s.funcs, query, []string{schema.IDProperty}, s.dialect, s.cfg)
	if err != nil {
		return nil, err
	}
	logging.Debug().Str("sql", stmt.SQL).Msg("resolve reference")
	rows, err := s.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", refSchemaID, err)
	}
	ids, err := sqlutil.ScanRows(rows, func(r *sql.Rows) (any, error) {
		var id any
		err := r.Scan(&id)
		return sqlutil.Normalize(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", refSchemaID, err)
	}
	sort.SliceStable(ids, func(i, j int) bool { return fmt.Sprint(ids[i]) < fmt.Sprint(ids[j]) })
	return ids, nil
}
