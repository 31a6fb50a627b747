package logicform

import (
	"reflect"
	"sort"
	"strings"

	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/querydef"
)

// LocalizeReferencedSCDProps returns a Definition whose groupby, preds and
// query read slowly changing properties from their localized copies on the
// base schema: "customer_tier" becomes "customertier" when tier is SCD on
// the customer schema. Output names do not change. Expressions that cannot
// be localized are left as written, and if nothing changes d itself is
// returned.
func (d *Definition) LocalizeReferencedSCDProps() *Definition {
	raw := make(map[string]any, len(d.raw))
	for k, v := range d.raw {
		raw[k] = v
	}
	changed := false

	if len(d.groupby) > 0 {
		items := make([]any, len(d.groupby))
		for i, dim := range d.groupby {
			id := d.localizeExpr(dim.ID)
			changed = changed || id != dim.ID
			item := map[string]any{"_id": id, "name": dim.Name}
			if dim.Level != "" {
				item["level"] = string(dim.Level)
			}
			items[i] = item
		}
		raw["groupby"] = items
	}

	if len(d.preds) > 0 {
		items := make([]any, len(d.preds))
		for i, p := range d.preds {
			field := p.Field
			if field != "" {
				field = d.localizeExpr(field)
				changed = changed || field != p.Field
			}
			items[i] = map[string]any{"pred": field, "operator": p.Operator, "name": p.Name}
		}
		raw["preds"] = items
	}

	if q := d.query.Raw(); len(q) > 0 {
		localized, qChanged, ok := d.localizeQuery(q)
		if !ok {
			logging.Debug().Msg("scd localization abandoned: localized query keys collide")
			return d
		}
		if qChanged {
			raw["query"] = localized
			changed = true
		}
	}

	if !changed {
		return d
	}
	out, err := Of(raw, d.lookup, d.funcs, d.exec, d.opts...)
	if err != nil {
		logging.Debug().Err(err).Msg("scd localization abandoned")
		return d
	}
	return out
}

// localizeExpr reduces a chain expression pairwise, left to right. While
// the current token is a reference and the next property is SCD on the
// referenced schema, the pair collapses into the localized property on the
// current schema. Otherwise the current token is kept and the walk moves
// into the referenced schema.
func (d *Definition) localizeExpr(expr string) string {
	chain, err := d.lookup.ResolveChain(d.base, expr)
	if err != nil || len(chain) < 2 {
		return expr
	}

	var names []string
	curSchema := chain[0].Schema
	cur := chain[0].Property
	localized := false
	for _, seg := range chain[1:] {
		next := seg.Property
		if cur.IsReference() && next.SCD {
			if name, ok := curSchema.SCDLookup()[cur.Name+"_"+next.Name]; ok {
				if p, ok := curSchema.Property(name); ok {
					cur = p
					localized = true
					continue
				}
			}
		}
		names = append(names, cur.Name)
		curSchema = seg.Schema
		cur = next
	}
	names = append(names, cur.Name)

	if !localized {
		return expr
	}
	sep := "_"
	if strings.Contains(expr, ".") {
		sep = "."
	}
	out := strings.Join(names, sep)
	logging.Debug().Str("from", expr).Str("to", out).Msg("localized scd chain")
	return out
}

// localizeQuery rewrites query keys. Nested scopes that contain a localizable
// path are flattened into dotted keys so the rewritten path can stand alone.
// Constraints that land on the same key are combined into one leaf; ok is
// false when they cannot be combined without dropping one of them.
func (d *Definition) localizeQuery(q map[string]any) (out map[string]any, changed, ok bool) {
	out = make(map[string]any, len(q))

	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := q[k]
		if querydef.IsLogical(k) {
			rewritten, c, lok := d.localizeLogical(v)
			if !lok {
				return nil, false, false
			}
			out[k] = rewritten
			changed = changed || c
			continue
		}
		if _, isScope := querydef.Parse(v).(*querydef.Scope); isScope {
			if flat, fok := d.localizeScope(k, v); fok {
				for _, path := range sortedKeys(flat) {
					if !putConstraint(out, path, flat[path]) {
						return nil, false, false
					}
				}
				changed = true
				continue
			}
			if !putConstraint(out, k, v) {
				return nil, false, false
			}
			continue
		}
		lk := d.localizeExpr(k)
		changed = changed || lk != k
		if !putConstraint(out, lk, v) {
			return nil, false, false
		}
	}
	return out, changed, true
}

// putConstraint sets out[key] = v. When key is already constrained both
// values must be operator leaves; their operators are merged, and the same
// operator may only repeat with an equal argument.
func putConstraint(out map[string]any, key string, v any) bool {
	prev, exists := out[key]
	if !exists {
		out[key] = v
		return true
	}
	a, aok := querydef.Parse(prev).(*querydef.Leaf)
	b, bok := querydef.Parse(v).(*querydef.Leaf)
	if !aok || !bok {
		return false
	}
	merged := make(map[string]any, len(a.Ops)+len(b.Ops))
	for op, arg := range a.Ops {
		merged[op] = arg
	}
	for op, arg := range b.Ops {
		if have, dup := merged[op]; dup && !reflect.DeepEqual(have, arg) {
			return false
		}
		merged[op] = arg
	}
	out[key] = merged
	return true
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d *Definition) localizeLogical(v any) (any, bool, bool) {
	items, ok := v.([]any)
	if !ok {
		return v, false, true
	}
	out := make([]any, len(items))
	changed := false
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			out[i] = item
			continue
		}
		rewritten, c, qok := d.localizeQuery(m)
		if !qok {
			return nil, false, false
		}
		out[i] = rewritten
		changed = changed || c
	}
	return out, changed, true
}

// localizeScope flattens the scope at key into full-path leaves when at
// least one of them localizes.
func (d *Definition) localizeScope(key string, v any) (map[string]any, bool) {
	if hasLogical(querydef.Parse(v)) {
		return nil, false
	}
	leaves := querydef.Of(map[string]any{key: v}).Leaves()
	flat := make(map[string]any, len(leaves))
	changed := false
	for _, la := range leaves {
		path := d.localizeExpr(la.Path)
		changed = changed || path != la.Path
		flat[path] = la.Leaf.Ops
	}
	if !changed {
		return nil, false
	}
	return flat, true
}

func hasLogical(n querydef.Node) bool {
	switch tn := n.(type) {
	case *querydef.Logical:
		return true
	case *querydef.Scope:
		for _, f := range tn.Fields {
			if hasLogical(f.Node) {
				return true
			}
		}
	}
	return false
}
