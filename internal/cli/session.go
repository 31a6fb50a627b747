package cli

import (
	"context"
	"fmt"

	"github.com/aidanlsb/semanticdb/internal/config"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/docstore"
	"github.com/aidanlsb/semanticdb/internal/engine"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/store"
)

// session is an open backend with its schemas and engine.
type session struct {
	lookup schema.Lookup
	exec   logicform.Executor
	sql    *store.Store
	engine *engine.Engine
	close  func() error
}

func (s *session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (a *app) loadSchemas() (schema.Lookup, error) {
	path := a.cfg.SchemaPath()
	lookup, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Debug().Str("path", path).Int("schemas", len(lookup)).Msg("schemas loaded")
	return lookup, nil
}

// openSession opens the configured backend. The document store is filled
// from [backend] data; so is a sqlite database living in memory.
func (a *app) openSession(ctx context.Context) (*session, error) {
	lookup, err := a.loadSchemas()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	s := &session{lookup: lookup}

	switch cfg.Backend.Kind {
	case config.BackendDocument:
		docs, err := docstore.New(lookup, nil)
		if err != nil {
			return nil, err
		}
		if path := cfg.DataPath(); path != "" {
			ds, err := store.ReadDataset(path)
			if err != nil {
				return nil, err
			}
			if _, err := docs.InsertAll(ds); err != nil {
				return nil, err
			}
		}
		s.exec = docs
	default:
		dl, err := dialect.Get(cfg.Backend.Dialect)
		if err != nil {
			return nil, withCode(ErrConfigInvalid, err, "")
		}
		st, err := store.Open(ctx, dl, cfg.DSN(), lookup, nil)
		if err != nil {
			return nil, execError(err)
		}
		s.sql, s.exec, s.close = st, st, st.Close
		if path := cfg.DataPath(); path != "" && cfg.DSN() == ":memory:" {
			ds, err := store.ReadDataset(path)
			if err != nil {
				st.Close()
				return nil, err
			}
			if _, err := st.Load(ctx, ds); err != nil {
				st.Close()
				return nil, execError(err)
			}
		}
	}

	s.engine = engine.New(s.exec, lookup, nil, engine.Options{
		Totality:      cfg.Totality.Enabled,
		MaxDimensions: cfg.Totality.MaxDimensions,
		Locale:        cfg.Sort.Locale,
	})
	return s, nil
}

func (a *app) requireSQL(s *session, command string) error {
	if s.sql == nil {
		return withCode(ErrNotSupported,
			fmt.Errorf("%s needs a sql backend, configured backend is %q", command, a.cfg.Backend.Kind),
			"Set [backend] kind = \"sql\" in sdb.toml")
	}
	return nil
}
