package logicform

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// maxPermutations caps the expected permutation set even when the arity cap
// allows the dimensions through.
const maxPermutations = 1 << 16

// RelationConstraint describes one dimension's value domain under the
// active query.
type RelationConstraint struct {
	Dimension string
	Totality  []any // Full ordered domain; nil when not Bounded
	Excluded  []any // Declared values removed by the query
	Bounded   bool
	Reason    string // Why the dimension is unbounded
}

// NotHappenedDimensionsResult appends a zero-valued row for every
// combination of bounded dimension values that rows does not contain. When
// any dimension is unbounded, or there are more dimensions than the arity
// cap, rows is returned unchanged. Appended rows are not sorted.
func (d *Definition) NotHappenedDimensionsResult(ctx context.Context, rows []Row) ([]Row, error) {
	if len(d.groupby) == 0 {
		return rows, nil
	}
	if len(d.groupby) > d.totalityArity {
		logging.Debug().
			Int("dimensions", len(d.groupby)).
			Int("limit", d.totalityArity).
			Msg("totality skipped: too many dimensions")
		return rows, nil
	}

	constraints, err := d.RelationConstraints(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range constraints {
		if !c.Bounded {
			logging.Debug().Str("dimension", c.Dimension).Str("reason", c.Reason).Msg("totality skipped: unbounded dimension")
			return rows, nil
		}
	}

	order := d.groupNameConcatOrder()
	total := 1
	for _, i := range order {
		total *= len(constraints[i].Totality)
		if total > maxPermutations {
			logging.Debug().Int("limit", maxPermutations).Msg("totality skipped: too many permutations")
			return rows, nil
		}
	}

	observed := make(map[string]bool, len(rows))
	for _, r := range rows {
		values := make([]any, len(order))
		for n, i := range order {
			values[n] = r[d.groupby[i].Name]
		}
		observed[d.compositeKey(order, values)] = true
	}

	zero := d.zeroValueRow()
	out := append(make([]Row, 0, len(rows)+total), rows...)
	synthesized := 0
	permute(order, constraints, func(values []any) {
		if observed[d.compositeKey(order, values)] {
			return
		}
		row := make(Row, len(d.groupby)+len(zero))
		for k, v := range zero {
			row[k] = v
		}
		for n, i := range order {
			row[d.groupby[i].Name] = values[n]
		}
		out = append(out, row)
		synthesized++
	})
	logging.Debug().Int("observed", len(rows)).Int("synthesized", synthesized).Msg("totality applied")
	return out, nil
}

// RelationConstraints computes one constraint per groupby dimension, in
// groupby order. Reference dimensions are resolved concurrently through the
// executor; the first executor error cancels the rest and is returned as is.
func (d *Definition) RelationConstraints(ctx context.Context) ([]RelationConstraint, error) {
	out := make([]RelationConstraint, len(d.groupby))
	g, gctx := errgroup.WithContext(ctx)
	for i := range d.groupby {
		g.Go(func() error {
			c, err := d.totality(gctx, d.groupby[i])
			if err != nil {
				return err
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Definition) totality(ctx context.Context, dim Dimension) (RelationConstraint, error) {
	c := RelationConstraint{Dimension: dim.Name}
	if d.constrainedInLogical(dim) {
		c.Reason = "constrained inside $and/$or/$nor"
		return c, nil
	}
	p := dim.Property
	switch {
	case p.IsEnum():
		declared := make([]any, len(p.Values))
		for i, v := range p.Values {
			declared[i] = v
		}
		return d.filterDeclared(c, dim, declared), nil
	case p.Type == schema.TypeBoolean:
		return d.filterDeclared(c, dim, []any{false, true}), nil
	case p.IsReference():
		return d.refObjectTotality(ctx, c, dim)
	case p.IsTemporal():
		return d.temporalTotality(c, dim), nil
	}
	c.Reason = fmt.Sprintf("%s values are not enumerable", p.Type)
	return c, nil
}

// constraintsOn collects the operators the query places on a dimension's
// path, however the path is spelled ("customer_tier", "customer.tier",
// or nested).
func (d *Definition) constraintsOn(dim Dimension) map[string]any {
	want := canonicalPath(dim.Chain)
	ops := make(map[string]any)
	for _, la := range d.query.Leaves() {
		chain, err := d.lookup.ResolveChain(d.base, la.Path)
		if err != nil || canonicalPath(chain) != want {
			continue
		}
		for op, v := range la.Leaf.Ops {
			ops[op] = v
		}
	}
	return ops
}

func (d *Definition) constrainedInLogical(dim Dimension) bool {
	want := canonicalPath(dim.Chain)
	var walk func(prefix string, n querydef.Node, inLogical bool) bool
	walk = func(prefix string, n querydef.Node, inLogical bool) bool {
		switch tn := n.(type) {
		case *querydef.Leaf:
			if !inLogical {
				return false
			}
			chain, err := d.lookup.ResolveChain(d.base, prefix)
			return err == nil && canonicalPath(chain) == want
		case *querydef.Scope:
			for _, f := range tn.Fields {
				path := querydef.JoinPath(prefix, f.Name)
				if _, ok := f.Node.(*querydef.Logical); ok {
					path = prefix
				}
				if walk(path, f.Node, inLogical) {
					return true
				}
			}
		case *querydef.Logical:
			for _, child := range tn.Children {
				if walk(prefix, child, true) {
					return true
				}
			}
		}
		return false
	}
	return walk("", d.query.Tree(), false)
}

func (d *Definition) filterDeclared(c RelationConstraint, dim Dimension, declared []any) RelationConstraint {
	m := condition.Matcher{Funcs: d.funcs}
	ops := d.constraintsOn(dim)
	for op := range ops {
		switch op {
		case querydef.OpEq, querydef.OpNe, querydef.OpIn, querydef.OpNin, querydef.OpExists:
		default:
			c.Reason = fmt.Sprintf("operator %s on an enumerated dimension", op)
			return c
		}
	}
	for _, v := range declared {
		if len(ops) == 0 {
			c.Totality = append(c.Totality, v)
			continue
		}
		if ok, err := m.Match(Row{"v": v}, map[string]any{"v": ops}); err == nil && ok {
			c.Totality = append(c.Totality, v)
		} else {
			c.Excluded = append(c.Excluded, v)
		}
	}
	c.Bounded = true
	return c
}

func (d *Definition) refObjectTotality(ctx context.Context, c RelationConstraint, dim Dimension) (RelationConstraint, error) {
	if d.exec == nil {
		c.Reason = "no executor to resolve references"
		return c, nil
	}
	refSchema, ok := d.lookup.Get(dim.Property.Ref)
	if !ok {
		c.Reason = fmt.Sprintf("referenced schema %q not found", dim.Property.Ref)
		return c, nil
	}
	query := d.constructQueryAgainstRefDim(dim)
	ids, err := d.exec.ResolveReference(ctx, refSchema.ID, query)
	if err != nil {
		return c, err
	}
	c.Totality = ids
	c.Bounded = true
	return c, nil
}

// constructQueryAgainstRefDim rebuilds the part of the query that constrains
// a reference dimension as a query against the referenced schema:
//
//	{customer: "c1"}               -> {id: {$eq: "c1"}}
//	{customer: {$in: ["c1"]}}      -> {id: {$in: ["c1"]}}
//	{customer_tier: "gold"}        -> {id: {$exists: true}, tier: {$eq: "gold"}}
func (d *Definition) constructQueryAgainstRefDim(dim Dimension) map[string]any {
	prefix := canonicalPath(dim.Chain)
	normalized := querydef.Of(nil)
	for _, la := range d.query.Leaves() {
		chain, err := d.lookup.ResolveChain(d.base, la.Path)
		if err != nil {
			continue
		}
		path := canonicalPath(chain)
		if path != prefix && !strings.HasPrefix(path, prefix+".") {
			continue
		}
		if path == prefix {
			path = prefix + "." + schema.IDProperty
		}
		for _, op := range la.Leaf.Operators() {
			normalized.AddQueryItem(querydef.QueryItem{Path: path, Operator: op, Value: la.Leaf.Ops[op]})
		}
	}

	query := normalized.CollectQueryObjectAtDepth(prefix)
	if _, ok := query[schema.IDProperty]; !ok && len(query) > 0 {
		query[schema.IDProperty] = map[string]any{querydef.OpExists: true}
	}
	return query
}

func (d *Definition) temporalTotality(c RelationConstraint, dim Dimension) RelationConstraint {
	ops := d.constraintsOn(dim)
	now := time.Now()
	dayGrained := dim.Property.Type == schema.TypeDate

	var lo, hi time.Time
	var hasLo, hasHi bool
	parse := func(v any) (time.Time, bool) { return dates.ParseInstant(v, now) }

	if eq, ok := ops[querydef.OpEq]; ok {
		if dates.IsCalendarForm(eq) {
			l, h, err := dates.CalendarRange(eq)
			if err == nil {
				lo, hi, hasLo, hasHi = l, h, true, true
			}
		} else if t, ok := parse(eq); ok {
			lo, hi, hasLo, hasHi = t, t, true, true
		}
	}
	if v, ok := ops[querydef.OpGte]; ok {
		lo, hasLo = parse(v)
	}
	if v, ok := ops[querydef.OpGt]; ok {
		if t, ok := parse(v); ok {
			lo, hasLo = t.Add(time.Nanosecond), true
			if dayGrained {
				lo = t.AddDate(0, 0, 1)
			}
		}
	}
	if v, ok := ops[querydef.OpLte]; ok {
		hi, hasHi = parse(v)
	}
	if v, ok := ops[querydef.OpLt]; ok {
		if t, ok := parse(v); ok {
			hi, hasHi = t.Add(-time.Nanosecond), true
		}
	}
	if !hasLo || !hasHi {
		c.Reason = "open date range"
		return c
	}
	for _, label := range dates.Buckets(lo, hi, dim.Level) {
		c.Totality = append(c.Totality, label)
	}
	c.Bounded = true
	return c
}

// groupNameConcatOrder returns groupby indexes in the order composite keys
// concatenate them: by the declaration rank of each dimension's root
// property on the base schema, groupby order breaking ties.
func (d *Definition) groupNameConcatOrder() []int {
	order := make([]int, len(d.groupby))
	for i := range order {
		order[i] = i
	}
	rank := func(i int) int {
		r := d.base.Rank(d.groupby[i].Chain[0].Property.Name)
		if r < 0 {
			return len(d.base.Properties)
		}
		return r
	}
	sort.SliceStable(order, func(a, b int) bool { return rank(order[a]) < rank(order[b]) })
	return order
}

// compositeKey renders group values (in concat order) as a JSON array of
// canonical strings, so distinct permutations never collide.
func (d *Definition) compositeKey(order []int, values []any) string {
	parts := make([]string, len(order))
	for n, i := range order {
		parts[n] = canonicalValue(d.groupby[i], values[n])
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

func canonicalValue(dim Dimension, v any) string {
	if v == nil {
		return "\x00null"
	}
	p := dim.Property
	switch {
	case p.IsTemporal():
		if t, ok := dates.ParseInstant(v, time.Now()); ok {
			return dates.Label(t, dim.Level)
		}
	case p.Type == schema.TypeBoolean:
		switch tv := v.(type) {
		case bool:
			return strconv.FormatBool(tv)
		case int64:
			return strconv.FormatBool(tv != 0)
		case int:
			return strconv.FormatBool(tv != 0)
		}
	}
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(tv), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}

func canonicalPath(c schema.Chain) string {
	names := make([]string, len(c))
	for i, seg := range c {
		names[i] = seg.Property.Name
	}
	return strings.Join(names, ".")
}

// zeroValueRow holds the value every non-group selection takes in a
// synthesized row.
func (d *Definition) zeroValueRow() Row {
	row := make(Row, len(d.preds))
	for _, p := range d.preds {
		switch p.Operator {
		case AggCount, AggSum, AggUniq:
			row[p.Name] = 0
		default:
			var zero any
			if fn, ok := d.funcs.Lookup(p.Operator); ok && fn.Kind == udf.Aggregate {
				zero = fn.Zero
			}
			row[p.Name] = zero
		}
	}
	return row
}

// permute calls fn with every combination of totality values, in concat
// order, varying the last dimension fastest.
func permute(order []int, constraints []RelationConstraint, fn func([]any)) {
	values := make([]any, len(order))
	var walk func(n int)
	walk = func(n int) {
		if n == len(order) {
			fn(append([]any(nil), values...))
			return
		}
		for _, v := range constraints[order[n]].Totality {
			values[n] = v
			walk(n + 1)
		}
	}
	walk(0)
}
