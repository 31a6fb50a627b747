package querydef

import (
	"strings"
)

// QueryItem is one flattened constraint: Path Operator Value.
type QueryItem struct {
	Path     string
	Operator string
	Value    any
}

// QueryDefinition wraps a raw query tree. It is read-only except for
// AddQueryItem, which is used while assembling a tree.
type QueryDefinition struct {
	o map[string]any
}

// Of wraps a raw query tree. No validation is performed.
func Of(raw map[string]any) *QueryDefinition {
	if raw == nil {
		raw = map[string]any{}
	}
	return &QueryDefinition{o: raw}
}

// Raw returns the wrapped tree. Callers must not modify it.
func (d *QueryDefinition) Raw() map[string]any {
	return d.o
}

// Tree parses the wrapped document into a Node.
func (d *QueryDefinition) Tree() Node {
	return parseScope(d.o)
}

// IsEmpty reports whether the query constrains nothing.
func (d *QueryDefinition) IsEmpty() bool {
	return len(d.o) == 0
}

// LeafAt is a leaf together with its full dotted path.
type LeafAt struct {
	Path string
	Leaf *Leaf
}

// Leaves returns every conjunctive leaf in path order. Leaves under $and/$or
// are not included since they do not constrain the path on their own.
func (d *QueryDefinition) Leaves() []LeafAt {
	var out []LeafAt
	collectLeaves("", d.Tree(), &out)
	return out
}

func collectLeaves(prefix string, n Node, out *[]LeafAt) {
	switch tn := n.(type) {
	case *Leaf:
		*out = append(*out, LeafAt{Path: prefix, Leaf: tn})
	case *Scope:
		for _, f := range tn.Fields {
			if _, ok := f.Node.(*Logical); ok {
				continue
			}
			collectLeaves(JoinPath(prefix, f.Name), f.Node, out)
		}
	}
}

// Flatten walks the tree and returns one QueryItem per leaf operator. Keys
// are visited in lexical order so repeated calls yield identical sequences.
func (d *QueryDefinition) Flatten() []QueryItem {
	var items []QueryItem
	for _, la := range d.Leaves() {
		for _, op := range la.Leaf.Operators() {
			items = append(items, QueryItem{Path: la.Path, Operator: op, Value: la.Leaf.Ops[op]})
		}
	}
	return items
}

// HasDuplicateQueryPath reports whether two distinct leaves resolve to the same
// dotted path, e.g. {"a.b": 1, "a": {"b": 2}}. The SQL encoder cannot express
// such trees, so compilation checks this first.
func (d *QueryDefinition) HasDuplicateQueryPath() bool {
	seen := make(map[string]bool)
	for _, la := range d.Leaves() {
		if seen[la.Path] {
			return true
		}
		seen[la.Path] = true
	}
	return false
}

// AddQueryItem merges a constraint into the tree at qi.Path (a top-level key).
//
//	existing   incoming  result
//	absent     any       {op: value}
//	$eq        $eq       {$in: [existing, incoming]}
//	any        $eq       {$eq: incoming}
//	opmap      opmap     shallow merge, incoming wins on key collision
func (d *QueryDefinition) AddQueryItem(qi QueryItem) *QueryDefinition {
	existing, ok := d.o[qi.Path]
	if !ok {
		d.o[qi.Path] = map[string]any{qi.Operator: qi.Value}
		return d
	}

	ops := toOps(existing)
	if qi.Operator == OpEq {
		if old, isEq := ops[OpEq]; isEq && len(ops) == 1 {
			d.o[qi.Path] = map[string]any{OpIn: []any{old, qi.Value}}
			return d
		}
		d.o[qi.Path] = map[string]any{OpEq: qi.Value}
		return d
	}

	merged := make(map[string]any, len(ops)+1)
	for k, v := range ops {
		merged[k] = v
	}
	merged[qi.Operator] = qi.Value
	d.o[qi.Path] = merged
	return d
}

// CollectQueryObjectAtDepth returns the constraints nested under a dotted path
// prefix, keyed by their path relative to it. Used to compile array- and
// reference-scoped predicates.
//
//	{"a": {"b": {"c": 1}}, "a.b.d": {"$gt": 2}} at "a.b" -> {"c": {"$eq": 1}, "d": {"$gt": 2}}
func (d *QueryDefinition) CollectQueryObjectAtDepth(prefix string) map[string]any {
	out := make(map[string]any)
	want := prefix + "."
	for _, la := range d.Leaves() {
		if !strings.HasPrefix(la.Path, want) {
			continue
		}
		rel := strings.TrimPrefix(la.Path, want)
		ops, _ := out[rel].(map[string]any)
		if ops == nil {
			ops = make(map[string]any, len(la.Leaf.Ops))
		}
		for k, v := range la.Leaf.Ops {
			ops[k] = v
		}
		out[rel] = ops
	}
	return out
}

// JoinPath joins dotted path segments, skipping empty ones.
func JoinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}

func toOps(v any) map[string]any {
	switch tv := v.(type) {
	case map[string]any:
		if isLeafMap(tv) {
			return tv
		}
		// Scopes and calendar selectors merge as plain maps, matching the
		// shallow-merge rule; a calendar selector is an equality.
		if _, isLeaf := Parse(tv).(*Leaf); isLeaf {
			return map[string]any{OpEq: tv}
		}
		return tv
	case []any:
		return map[string]any{OpIn: tv}
	default:
		return map[string]any{OpEq: v}
	}
}
