// Package logicform compiles and post-processes logic forms: declarative
// analytical queries with groupings, aggregates, having, sort, skip, limit
// and limit-by.
package logicform

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// Row is one result row keyed by selection name.
type Row = map[string]any

// Executor is the I/O a logic form needs from its backend.
type Executor interface {
	// RunQuery fetches the rows of schemaID matching query.
	RunQuery(ctx context.Context, schemaID string, query map[string]any) ([]Row, error)
	// RunSQL executes a dialect statement.
	RunSQL(ctx context.Context, stmt string, args ...any) ([]Row, error)
	// ResolveReference returns the ids of refSchemaID rows matching query.
	ResolveReference(ctx context.Context, refSchemaID string, query map[string]any) ([]any, error)
}

// Aggregate operators.
const (
	AggSum   = "$sum"
	AggCount = "$count"
	AggAvg   = "$avg"
	AggMax   = "$max"
	AggMin   = "$min"
	AggUniq  = "$uniq"
)

var builtinAggregates = map[string]bool{
	AggSum: true, AggCount: true, AggAvg: true, AggMax: true, AggMin: true, AggUniq: true,
}

// Dimension is one normalized groupby item.
type Dimension struct {
	ID       string            // Chain expression, e.g. "region" or "customer_tier"
	Name     string            // Output key
	Level    dates.Granularity // Bucket size; set only for temporal dimensions
	Chain    schema.Chain
	Property *schema.Property // Leaf of Chain
}

// Pred is one normalized aggregate selection.
type Pred struct {
	Field    string // Chain expression; empty for a bare $count
	Operator string
	Name     string // Output key
	Chain    schema.Chain
	Property *schema.Property
}

// SortKey orders results by an output key. Dir is 1 or -1.
type SortKey struct {
	Key string
	Dir int
}

// LimitBy caps rows per distinct value of By.
type LimitBy struct {
	N  int
	By string
}

// TotalityDimensionArityUpperBound is the default cap on how many groupby
// dimensions may take part in not-happened row synthesis.
const TotalityDimensionArityUpperBound = 3

// Option configures a Definition.
type Option func(*Definition)

// WithTotalityArity overrides TotalityDimensionArityUpperBound.
func WithTotalityArity(n int) Option {
	return func(d *Definition) {
		if n > 0 {
			d.totalityArity = n
		}
	}
}

// Definition is an immutable, normalized view of a logic form bound to a
// schema lookup, custom functions and an executor.
type Definition struct {
	raw    map[string]any
	lookup schema.Lookup
	funcs  udf.Registry
	exec   Executor
	base   *schema.Schema
	opts   []Option

	groupby []Dimension
	preds   []Pred
	props   []string
	having  map[string]any
	sort    []SortKey
	skip    *int
	limit   *int
	limitBy *LimitBy
	query   *querydef.QueryDefinition

	totalityArity int
}

// Of normalizes raw once. The base schema is named by raw["schema"].
func Of(raw map[string]any, lookup schema.Lookup, funcs udf.Registry, exec Executor, opts ...Option) (*Definition, error) {
	if raw == nil {
		return nil, invalid("logic form", "document is empty")
	}
	d := &Definition{
		raw:           raw,
		lookup:        lookup,
		funcs:         funcs,
		exec:          exec,
		opts:          opts,
		totalityArity: TotalityDimensionArityUpperBound,
	}
	for _, opt := range opts {
		opt(d)
	}

	schemaID, ok := raw["schema"].(string)
	if !ok || schemaID == "" {
		return nil, invalid("schema", "a base schema id is required")
	}
	if d.base, ok = lookup.Get(schemaID); !ok {
		return nil, &ResolutionError{Path: schemaID, Err: schema.ErrUnknownSchema}
	}

	steps := []func() error{
		d.normalizeQuery,
		d.normalizeGroupby,
		d.normalizePreds,
		d.normalizeProps,
		d.normalizeHaving,
		d.normalizeSort,
		d.normalizePaging,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if err := d.checkNameClashes(); err != nil {
		return nil, err
	}
	return d, nil
}

// Raw returns the document the Definition was built from.
func (d *Definition) Raw() map[string]any { return d.raw }

// BaseSchema returns the schema named by the logic form.
func (d *Definition) BaseSchema() *schema.Schema { return d.base }

// Lookup returns the schema lookup bound at construction.
func (d *Definition) Lookup() schema.Lookup { return d.lookup }

// Funcs returns the custom function registry.
func (d *Definition) Funcs() udf.Registry { return d.funcs }

// Executor returns the bound executor, possibly nil.
func (d *Definition) Executor() Executor { return d.exec }

// Groupby returns the normalized dimensions in declaration order.
func (d *Definition) Groupby() []Dimension { return d.groupby }

// Preds returns the normalized aggregates in declaration order.
func (d *Definition) Preds() []Pred { return d.preds }

func (d *Definition) Props() []string        { return d.props }
func (d *Definition) Having() map[string]any { return d.having }
func (d *Definition) Sort() []SortKey        { return d.sort }
func (d *Definition) LimitBy() *LimitBy      { return d.limitBy }

// QueryDef wraps Query for flattening and path checks.
func (d *Definition) QueryDef() *querydef.QueryDefinition { return d.query }

// Query returns the raw query tree, never nil.
func (d *Definition) Query() map[string]any { return d.query.Raw() }

// Skip returns the number of rows to drop, or 0.
func (d *Definition) Skip() int {
	if d.skip == nil {
		return 0
	}
	return *d.skip
}

// Limit returns the row cap and whether one is set.
func (d *Definition) Limit() (int, bool) {
	if d.limit == nil {
		return 0, false
	}
	return *d.limit, true
}

// IsSimple reports whether the logic form only lists rows: no groupby and no
// aggregates.
func (d *Definition) IsSimple() bool {
	return len(d.groupby) == 0 && len(d.preds) == 0
}

// FindPropByPredStr resolves a pred field expression on the base schema.
func (d *Definition) FindPropByPredStr(predStr string) *schema.Property {
	p, err := d.lookup.PropertyFollowChain(d.base, predStr)
	if err != nil {
		return nil
	}
	return p
}

var countProperty = &schema.Property{Name: "count", Type: schema.TypeNumber}

// FindPropBySortKey returns the property that decides how values under key
// compare: the groupby dimension's property, the aggregated property, a
// synthetic number for counts, or a property of target (the base schema
// when nil). It returns nil when nothing matches.
func (d *Definition) FindPropBySortKey(key string, target *schema.Schema) *schema.Property {
	for _, dim := range d.groupby {
		if dim.Name == key {
			return dim.Property
		}
	}
	for _, p := range d.preds {
		if p.Name != key {
			continue
		}
		switch p.Operator {
		case AggCount, AggUniq:
			return countProperty
		case AggSum, AggAvg:
			if p.Property != nil && p.Property.IsNumeric() {
				return p.Property
			}
			return countProperty
		case AggMax, AggMin:
			return p.Property
		default:
			return nil
		}
	}
	if target == nil {
		target = d.base
	}
	p, err := d.lookup.PropertyFollowChain(target, key)
	if err != nil {
		return nil
	}
	return p
}

func (d *Definition) normalizeQuery() error {
	switch q := d.raw["query"].(type) {
	case nil:
		d.query = querydef.Of(nil)
	case map[string]any:
		d.query = querydef.Of(q)
	default:
		return invalid("query", "expected an object, got %T", q)
	}
	return nil
}

func (d *Definition) normalizeGroupby() error {
	items, err := asList(d.raw["groupby"])
	if err != nil {
		return invalid("groupby", "%v", err)
	}
	for i, item := range items {
		var dim Dimension
		level := ""
		switch v := item.(type) {
		case string:
			dim.ID = v
		case map[string]any:
			dim.ID, _ = v["_id"].(string)
			dim.Name, _ = v["name"].(string)
			level, _ = v["level"].(string)
		default:
			return invalid("groupby", "item %d: expected a string or object, got %T", i, item)
		}
		if dim.ID == "" {
			return invalid("groupby", "item %d: _id is required", i)
		}
		chain, err := d.lookup.ResolveChain(d.base, dim.ID)
		if err != nil {
			return &ResolutionError{Schema: d.base.ID, Path: dim.ID, Err: err}
		}
		dim.Chain = chain
		dim.Property = chain.Leaf()
		if dim.Property.IsTemporal() {
			if dim.Level, err = dates.ParseGranularity(level); err != nil {
				return &ValidationError{Field: "groupby", Message: fmt.Sprintf("item %q", dim.ID), Err: err}
			}
		} else if level != "" {
			return invalid("groupby", "item %q: level applies only to date properties", dim.ID)
		}
		if dim.Name == "" {
			dim.Name = dim.ID
		}
		d.groupby = append(d.groupby, dim)
	}
	return nil
}

func (d *Definition) normalizePreds() error {
	items, err := asList(d.raw["preds"])
	if err != nil {
		return invalid("preds", "%v", err)
	}
	for i, item := range items {
		var p Pred
		switch v := item.(type) {
		case string:
			if udf.OperatorName(v) == AggCount {
				p = Pred{Operator: AggCount, Name: "count"}
			} else {
				p = Pred{Field: v, Operator: AggSum, Name: v}
			}
		case map[string]any:
			p.Field, _ = v["pred"].(string)
			p.Operator, _ = v["operator"].(string)
			p.Name, _ = v["name"].(string)
			if p.Operator == "" {
				p.Operator = AggSum
			}
			p.Operator = udf.OperatorName(p.Operator)
		default:
			return invalid("preds", "item %d: expected a string or object, got %T", i, item)
		}

		if !builtinAggregates[p.Operator] {
			fn, ok := d.funcs.Lookup(p.Operator)
			if !ok || fn.Kind != udf.Aggregate {
				return invalid("preds", "item %d: unknown aggregate %s", i, p.Operator)
			}
		}
		if p.Field == "" && p.Operator != AggCount {
			return invalid("preds", "item %d: %s needs a pred field", i, p.Operator)
		}
		if p.Field != "" {
			chain, err := d.lookup.ResolveChain(d.base, p.Field)
			if err != nil {
				return &ResolutionError{Schema: d.base.ID, Path: p.Field, Err: err}
			}
			p.Chain = chain
			p.Property = chain.Leaf()
			if (p.Operator == AggSum || p.Operator == AggAvg) && !p.Property.IsNumeric() {
				return invalid("preds", "%s of non-numeric property %q", p.Operator, p.Field)
			}
		}
		if p.Name == "" {
			p.Name = predName(p)
		}
		d.preds = append(d.preds, p)
	}
	return nil
}

func predName(p Pred) string {
	op := strings.TrimPrefix(p.Operator, "$")
	if p.Field == "" {
		return op
	}
	return p.Field + "_" + op
}

func (d *Definition) normalizeProps() error {
	items, err := asList(d.raw["props"])
	if err != nil {
		return invalid("props", "%v", err)
	}
	for i, item := range items {
		name, ok := item.(string)
		if !ok || name == "" {
			return invalid("props", "item %d: expected a property name", i)
		}
		if _, err := d.lookup.ResolveChain(d.base, name); err != nil {
			return &ResolutionError{Schema: d.base.ID, Path: name, Err: err}
		}
		d.props = append(d.props, name)
	}
	return nil
}

func (d *Definition) normalizeHaving() error {
	switch h := d.raw["having"].(type) {
	case nil:
	case map[string]any:
		d.having = h
	default:
		return invalid("having", "expected an object, got %T", h)
	}
	return nil
}

func (d *Definition) normalizeSort() error {
	switch s := d.raw["sort"].(type) {
	case nil:
		return nil
	case []any:
		for i, item := range s {
			m, ok := item.(map[string]any)
			if !ok {
				return invalid("sort", "item %d: expected {key, dir}", i)
			}
			key, _ := m["key"].(string)
			if key == "" {
				return invalid("sort", "item %d: key is required", i)
			}
			dir, err := parseDir(m["dir"])
			if err != nil {
				return invalid("sort", "key %q: %v", key, err)
			}
			d.sort = append(d.sort, SortKey{Key: key, Dir: dir})
		}
	case map[string]any:
		keys := make([]string, 0, len(s))
		for k := range s {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dir, err := parseDir(s[k])
			if err != nil {
				return invalid("sort", "key %q: %v", k, err)
			}
			d.sort = append(d.sort, SortKey{Key: k, Dir: dir})
		}
	default:
		return invalid("sort", "expected a list or object, got %T", s)
	}
	return nil
}

func parseDir(v any) (int, error) {
	if v == nil {
		return 1, nil
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(s) {
		case "asc", "1":
			return 1, nil
		case "desc", "-1":
			return -1, nil
		}
		return 0, fmt.Errorf("unknown direction %q", s)
	}
	n, ok := asInt(v)
	if !ok || (n != 1 && n != -1) {
		return 0, fmt.Errorf("direction must be 1 or -1, got %v", v)
	}
	return n, nil
}

func (d *Definition) normalizePaging() error {
	for _, field := range []string{"skip", "limit"} {
		v, present := d.raw[field]
		if !present || v == nil {
			continue
		}
		n, ok := asInt(v)
		if !ok || n < 0 {
			return invalid(field, "expected a non-negative integer, got %v", v)
		}
		if field == "skip" {
			d.skip = &n
		} else {
			d.limit = &n
		}
	}

	switch lb := d.raw["limitBy"].(type) {
	case nil:
	case map[string]any:
		n, ok := asInt(lb["n"])
		if !ok || n <= 0 {
			return invalid("limitBy", "n must be a positive integer, got %v", lb["n"])
		}
		by, _ := lb["by"].(string)
		if by == "" {
			return invalid("limitBy", "by is required")
		}
		d.limitBy = &LimitBy{N: n, By: by}
	default:
		return invalid("limitBy", "expected {n, by}, got %T", lb)
	}
	return nil
}

func (d *Definition) checkNameClashes() error {
	seen := make(map[string]bool, len(d.groupby)+len(d.preds))
	for _, dim := range d.groupby {
		if seen[dim.Name] {
			return invalid("groupby", "duplicate output name %q", dim.Name)
		}
		seen[dim.Name] = true
	}
	for _, p := range d.preds {
		if seen[p.Name] {
			return invalid("preds", "duplicate output name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func asList(v any) ([]any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return tv, nil
	case []string:
		out := make([]any, len(tv))
		for i, s := range tv {
			out[i] = s
		}
		return out, nil
	case string, map[string]any:
		return []any{tv}, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
