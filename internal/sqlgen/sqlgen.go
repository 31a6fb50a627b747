// Package sqlgen compiles logic forms into dialect SQL statements.
package sqlgen

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// BaseAlias is the table alias of the logic form's base schema.
const BaseAlias = "t"

// Statement is a compiled query ready for database/sql.
type Statement struct {
	SQL  string
	Args []any

	// PostProcess is set when sort, skip, limit or limit-by were left out of
	// the SQL and must be applied to the fetched rows.
	PostProcess bool
}

// Options controls compilation.
type Options struct {
	Config condition.Config

	// OmitPaging leaves ORDER BY, OFFSET, LIMIT and LIMIT BY out of the
	// statement, e.g. when rows are completed before paging.
	OmitPaging bool
	// OmitHaving leaves HAVING out of the statement, e.g. when it must see
	// rows that are filled in after the query runs.
	OmitHaving bool
}

// Build compiles d for dl.
func Build(d *logicform.Definition, dl dialect.Dialect, opts Options) (Statement, error) {
	g := &generator{
		def:     d,
		dialect: dl,
		lookup:  d.Lookup(),
		base:    d.BaseSchema(),
		funcs:   d.Funcs(),
		joins:   newJoinSet(dl),
	}
	return g.build(opts)
}

// Select compiles a plain row query against s: the given columns (every
// stored column when empty) of the rows matching query.
func Select(s *schema.Schema, lookup schema.Lookup, funcs udf.Registry, query map[string]any, columns []string, dl dialect.Dialect, cfg condition.Config) (Statement, error) {
	joins := newJoinSet(dl)
	resolve := condition.SchemaResolver(s, lookup, condition.Options{QuantifyReceiver: BaseAlias, Dialect: dl})

	if len(columns) == 0 {
		columns = StoredColumns(s)
	}
	b := dl.Builder().Select()
	for _, name := range columns {
		col, err := resolve(name)
		if err != nil {
			return Statement{}, err
		}
		if err := joins.addPath(lookup, s, name); err != nil {
			return Statement{}, err
		}
		b = b.Column(col.Expr + " AS " + dl.Quote(name))
	}

	for _, path := range queryPaths(query) {
		if err := joins.addPath(lookup, s, path); err != nil {
			return Statement{}, err
		}
	}
	where, err := condition.Encode(query, s, lookup, funcs, cfg, condition.Options{QuantifyReceiver: BaseAlias, Dialect: dl})
	if err != nil {
		return Statement{}, err
	}

	b = b.From(dl.Quote(s.TableName()) + " AS " + dl.Quote(BaseAlias))
	b = joins.apply(b)
	if !where.IsEmpty() {
		b = b.Where(where)
	}
	sqlStr, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render select: %w", err)
	}
	return Statement{SQL: sqlStr, Args: args}, nil
}

// StoredColumns lists the columns a table for s carries: id first, then
// every property in declaration order.
func StoredColumns(s *schema.Schema) []string {
	cols := []string{schema.IDProperty}
	for _, p := range s.Properties {
		if p.Name == schema.IDProperty {
			continue
		}
		cols = append(cols, p.Name)
	}
	return cols
}

type generator struct {
	def     *logicform.Definition
	dialect dialect.Dialect
	lookup  schema.Lookup
	base    *schema.Schema
	funcs   udf.Registry
	joins   *joinSet

	// Select-list expressions by output name.
	selected map[string]condition.Column
}

func (g *generator) resolver() condition.Resolver {
	return condition.SchemaResolver(g.base, g.lookup, condition.Options{QuantifyReceiver: BaseAlias, Dialect: g.dialect})
}

func (g *generator) build(opts Options) (Statement, error) {
	d := g.def
	g.selected = make(map[string]condition.Column)
	b := g.dialect.Builder().Select()

	var err error
	if d.IsSimple() {
		b, err = g.selectProps(b)
	} else {
		b, err = g.selectGroups(b)
	}
	if err != nil {
		return Statement{}, err
	}

	for _, path := range queryPaths(d.Query()) {
		if err := g.joins.addPath(g.lookup, g.base, path); err != nil {
			return Statement{}, err
		}
	}
	where, err := d.EncodeWhere(opts.Config, condition.Options{QuantifyReceiver: BaseAlias, Dialect: g.dialect})
	if err != nil {
		return Statement{}, err
	}

	b = b.From(g.dialect.Quote(g.base.TableName()) + " AS " + g.dialect.Quote(BaseAlias))
	b = g.joins.apply(b)
	if !where.IsEmpty() {
		b = b.Where(where)
	}

	if len(d.Groupby()) > 0 {
		groups := make([]string, len(d.Groupby()))
		for i, dim := range d.Groupby() {
			groups[i] = g.selected[dim.Name].Expr
		}
		b = b.GroupBy(groups...)
	}

	if len(d.Having()) > 0 && !opts.OmitHaving {
		having, err := d.EncodeHaving(g.havingResolver(), opts.Config, condition.Options{Dialect: g.dialect})
		if err != nil {
			return Statement{}, err
		}
		b = b.Having(having)
	}

	postProcess := false
	if !opts.OmitPaging {
		b, postProcess = g.paging(b)
	}

	sqlStr, args, err := b.ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render logic form: %w", err)
	}
	return Statement{SQL: sqlStr, Args: args, PostProcess: postProcess}, nil
}

func (g *generator) selectProps(b sq.SelectBuilder) (sq.SelectBuilder, error) {
	props := g.def.Props()
	if len(props) == 0 {
		props = StoredColumns(g.base)
	}
	resolve := g.resolver()
	for _, name := range props {
		col, err := resolve(name)
		if err != nil {
			return b, err
		}
		if err := g.joins.addPath(g.lookup, g.base, name); err != nil {
			return b, err
		}
		g.selected[name] = col
		b = b.Column(col.Expr + " AS " + g.dialect.Quote(name))
	}
	return b, nil
}

func (g *generator) selectGroups(b sq.SelectBuilder) (sq.SelectBuilder, error) {
	resolve := g.resolver()
	for _, dim := range g.def.Groupby() {
		col, err := resolve(dim.ID)
		if err != nil {
			return b, err
		}
		if err := g.joins.addPath(g.lookup, g.base, dim.ID); err != nil {
			return b, err
		}
		if dim.Property.IsTemporal() && dim.Level != "" {
			col.Expr = g.dialect.DateBucket(col.Expr, dim.Level)
		}
		g.selected[dim.Name] = col
		b = b.Column(col.Expr + " AS " + g.dialect.Quote(dim.Name))
	}

	for _, p := range g.def.Preds() {
		expr, args, err := g.aggregate(p)
		if err != nil {
			return b, err
		}
		g.selected[p.Name] = condition.Column{Expr: expr, Property: g.def.FindPropBySortKey(p.Name, nil)}
		b = b.Column(sq.Expr(expr+" AS "+g.dialect.Quote(p.Name), args...))
	}
	return b, nil
}

func (g *generator) aggregate(p logicform.Pred) (string, []any, error) {
	if p.Field == "" {
		if p.Operator != logicform.AggCount {
			return "", nil, &logicform.ValidationError{Field: "preds", Message: fmt.Sprintf("%s needs a field", p.Operator)}
		}
		return "COUNT(*)", nil, nil
	}
	col, err := g.resolver()(p.Field)
	if err != nil {
		return "", nil, err
	}
	if err := g.joins.addPath(g.lookup, g.base, p.Field); err != nil {
		return "", nil, err
	}
	switch p.Operator {
	case logicform.AggSum:
		return "SUM(" + col.Expr + ")", nil, nil
	case logicform.AggCount:
		return "COUNT(" + col.Expr + ")", nil, nil
	case logicform.AggAvg:
		return "AVG(" + col.Expr + ")", nil, nil
	case logicform.AggMax:
		return "MAX(" + col.Expr + ")", nil, nil
	case logicform.AggMin:
		return "MIN(" + col.Expr + ")", nil, nil
	case logicform.AggUniq:
		return "COUNT(DISTINCT " + col.Expr + ")", nil, nil
	}
	fn, ok := g.funcs.Lookup(p.Operator)
	if !ok || fn.Kind != udf.Aggregate || fn.SQL == nil {
		return "", nil, &logicform.ValidationError{Field: "preds", Message: fmt.Sprintf("aggregate %s has no SQL form", p.Operator)}
	}
	return fn.SQL(g.dialect.Name(), col.Expr, nil)
}

// havingResolver maps having keys to the selected expressions. Postgres
// rejects output aliases in HAVING, so the full expression is used.
func (g *generator) havingResolver() condition.Resolver {
	return func(path string) (condition.Column, error) {
		if col, ok := g.selected[path]; ok {
			return col, nil
		}
		return condition.Column{}, &condition.ResolutionError{Schema: g.base.ID, Path: path, Err: fmt.Errorf("not a groupby or pred name")}
	}
}

func (g *generator) paging(b sq.SelectBuilder) (sq.SelectBuilder, bool) {
	d := g.def
	for _, key := range d.Sort() {
		b = g.orderBy(b, key)
	}

	limit, hasLimit := d.Limit()
	lb := d.LimitBy()
	if lb != nil {
		if !g.dialect.SupportsLimitBy() {
			return b, true
		}
		expr := g.dialect.Quote(lb.By)
		if _, ok := g.selected[lb.By]; !ok {
			if c, err := g.resolver()(lb.By); err == nil {
				expr = c.Expr
			}
		}
		suffix := fmt.Sprintf("LIMIT %d BY %s", lb.N, expr)
		if hasLimit {
			suffix += fmt.Sprintf(" LIMIT %d", limit)
		}
		if d.Skip() > 0 {
			suffix += fmt.Sprintf(" OFFSET %d", d.Skip())
		}
		return b.Suffix(suffix), false
	}

	if hasLimit {
		b = b.Limit(uint64(limit))
	}
	if d.Skip() > 0 {
		if !hasLimit && g.dialect.Name() != "postgres" {
			// Only postgres takes OFFSET without LIMIT.
			b = b.Limit(1<<63 - 1)
		}
		b = b.Offset(uint64(d.Skip()))
	}
	return b, false
}

// orderBy sorts by output alias, except enums which sort by declared rank.
func (g *generator) orderBy(b sq.SelectBuilder, key logicform.SortKey) sq.SelectBuilder {
	dir := "ASC"
	if key.Dir < 0 {
		dir = "DESC"
	}
	expr := g.dialect.Quote(key.Key)
	col, ok := g.selected[key.Key]
	if !ok {
		c, err := g.resolver()(key.Key)
		if err != nil {
			return b.OrderBy(expr + " " + dir)
		}
		col, expr = c, c.Expr
		_ = g.joins.addPath(g.lookup, g.base, key.Key)
	}
	if col.Property == nil || !col.Property.IsEnum() || len(col.Property.Values) == 0 {
		return b.OrderBy(expr + " " + dir)
	}

	var sb strings.Builder
	sb.WriteString("CASE " + col.Expr)
	args := make([]any, 0, len(col.Property.Values))
	for i, v := range col.Property.Values {
		fmt.Fprintf(&sb, " WHEN ? THEN %d", i)
		args = append(args, v)
	}
	fmt.Fprintf(&sb, " ELSE %d END %s", len(col.Property.Values), dir)
	return b.OrderByClause(sb.String(), args...)
}

// queryPaths lists every path the query constrains, logical branches
// included, sorted.
func queryPaths(query map[string]any) []string {
	seen := map[string]bool{}
	var walk func(prefix string, n querydef.Node)
	walk = func(prefix string, n querydef.Node) {
		switch tn := n.(type) {
		case *querydef.Leaf:
			seen[prefix] = true
		case *querydef.Scope:
			for _, f := range tn.Fields {
				if querydef.IsLogical(f.Name) {
					walk(prefix, f.Node)
					continue
				}
				walk(querydef.JoinPath(prefix, f.Name), f.Node)
			}
		case *querydef.Logical:
			for _, child := range tn.Children {
				walk(prefix, child)
			}
		}
	}
	walk("", querydef.Of(query).Tree())
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
