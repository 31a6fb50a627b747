// Package engine runs logic forms end to end against a backend. SQL
// backends get a compiled statement; the document store groups in memory.
// Either way the rows are completed and post-processed the same way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/sqlgen"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// ErrNoDialect is returned when a backend neither speaks SQL nor groups
// documents itself.
var ErrNoDialect = errors.New("backend has no SQL dialect and cannot aggregate")

// SQLBackend is an executor that runs statements of one dialect.
type SQLBackend interface {
	logicform.Executor
	Dialect() dialect.Dialect
}

// Aggregator is an executor that groups and aggregates in memory.
type Aggregator interface {
	logicform.Executor
	Aggregate(ctx context.Context, d *logicform.Definition) ([]logicform.Row, error)
}

// Options tunes an Engine.
type Options struct {
	// Totality appends zero-valued rows for group combinations that did not
	// occur.
	Totality bool
	// MaxDimensions caps how many groupby dimensions totality considers.
	// Zero keeps logicform.TotalityDimensionArityUpperBound.
	MaxDimensions int
	// Locale collates string sort keys.
	Locale string
	Now    func() time.Time
}

// Engine runs logic forms against one backend.
type Engine struct {
	exec   logicform.Executor
	lookup schema.Lookup
	funcs  udf.Registry
	opts   Options
}

// New returns an Engine on exec.
func New(exec logicform.Executor, lookup schema.Lookup, funcs udf.Registry, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{exec: exec, lookup: lookup, funcs: funcs, opts: opts}
}

// Plan is a compiled logic form.
type Plan struct {
	Definition *logicform.Definition
	// Localized is set when referenced slowly changing properties were
	// rewritten onto their event-local snapshots.
	Localized bool
	// Statement is nil for backends without SQL.
	Statement *sqlgen.Statement
	Dialect   string
	// Totality is set when not-happened rows will be synthesized, which
	// moves having, sort and paging out of the statement.
	Totality bool
}

// PostProcessed reports whether rows go through in-memory having, sort and
// paging after they are fetched.
func (p *Plan) PostProcessed() bool {
	return p.Statement == nil || p.Totality || p.Statement.PostProcess
}

// Definition normalizes raw and localizes its referenced SCD properties.
func (e *Engine) Definition(raw map[string]any) (*logicform.Definition, bool, error) {
	var opts []logicform.Option
	if e.opts.MaxDimensions > 0 {
		opts = append(opts, logicform.WithTotalityArity(e.opts.MaxDimensions))
	}
	d, err := logicform.Of(raw, e.lookup, e.funcs, e.exec, opts...)
	if err != nil {
		return nil, false, err
	}
	localized := d.LocalizeReferencedSCDProps()
	return localized, localized != d, nil
}

// Compile plans raw without touching the backend.
func (e *Engine) Compile(raw map[string]any) (*Plan, error) {
	d, localized, err := e.Definition(raw)
	if err != nil {
		return nil, err
	}
	p := &Plan{
		Definition: d,
		Localized:  localized,
		Totality:   e.opts.Totality && len(d.Groupby()) > 0,
	}
	if _, ok := e.exec.(Aggregator); ok {
		return p, nil
	}
	sb, ok := e.exec.(SQLBackend)
	if !ok {
		return nil, ErrNoDialect
	}
	stmt, err := sqlgen.Build(d, sb.Dialect(), sqlgen.Options{
		Config:     condition.Config{Now: e.opts.Now},
		OmitPaging: p.Totality,
		OmitHaving: p.Totality,
	})
	if err != nil {
		return nil, err
	}
	p.Statement = &stmt
	p.Dialect = sb.Dialect().Name()
	return p, nil
}

// Run executes raw and returns its final rows.
func (e *Engine) Run(ctx context.Context, raw map[string]any) ([]logicform.Row, error) {
	p, err := e.Compile(raw)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, p)
}

// Execute runs a compiled plan.
func (e *Engine) Execute(ctx context.Context, p *Plan) ([]logicform.Row, error) {
	d := p.Definition
	var rows []logicform.Row
	var err error
	if p.Statement != nil {
		logging.Debug().Str("dialect", p.Dialect).Str("sql", p.Statement.SQL).Msg("executing logic form")
		rows, err = e.exec.RunSQL(ctx, p.Statement.SQL, p.Statement.Args...)
	} else {
		rows, err = e.exec.(Aggregator).Aggregate(ctx, d)
	}
	if err != nil {
		return nil, err
	}

	if p.Totality {
		if rows, err = d.NotHappenedDimensionsResult(ctx, rows); err != nil {
			return nil, fmt.Errorf("totality: %w", err)
		}
	}
	if !p.PostProcessed() {
		return rows, nil
	}
	return d.ApplyHavingSortLimitSkip(ctx, rows, logicform.PostProcessOptions{
		Locale: e.opts.Locale,
		Now:    e.opts.Now,
	})
}

// Report describes how a logic form would run.
type Report struct {
	*Plan
	Constraints []logicform.RelationConstraint
}

// Check compiles raw and computes the totality bound of every groupby
// dimension. Reference dimensions are resolved through the backend.
func (e *Engine) Check(ctx context.Context, raw map[string]any) (*Report, error) {
	p, err := e.Compile(raw)
	if err != nil {
		return nil, err
	}
	constraints, err := p.Definition.RelationConstraints(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{Plan: p, Constraints: constraints}, nil
}
