// Package querydef normalizes nested query-condition trees into flat,
// conflict-resolved path/operator constraints.
package querydef

import (
	"regexp"
	"sort"

	"github.com/aidanlsb/semanticdb/internal/dates"
)

var operatorToken = regexp.MustCompile(`^\$[A-Za-z][A-Za-z0-9_]*$`)

// Logical combinators. They look like operator tokens but introduce sub-trees
// instead of constraining a value.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNor = "$nor"
)

// Comparison operators understood by the encoder and the in-memory matcher.
// Custom functions registered in udf add to this set.
const (
	OpEq       = "$eq"
	OpNe       = "$ne"
	OpIn       = "$in"
	OpNin      = "$nin"
	OpGt       = "$gt"
	OpGte      = "$gte"
	OpLt       = "$lt"
	OpLte      = "$lte"
	OpExists   = "$exists"
	OpContains = "$contains"
)

// IsOperatorToken reports whether key has the reserved "$name" form.
func IsOperatorToken(key string) bool {
	return operatorToken.MatchString(key)
}

// IsLogical reports whether key is a logical combinator.
func IsLogical(key string) bool {
	return key == OpAnd || key == OpOr || key == OpNor
}

// Node is one position of a query tree: Leaf, Scope or Logical.
type Node interface {
	node()
}

// Leaf is an operator map such as {"$gte": 1, "$lt": 5}.
type Leaf struct {
	Ops map[string]any
}

// Operators returns the leaf's operators, sorted.
func (l *Leaf) Operators() []string {
	ops := make([]string, 0, len(l.Ops))
	for op := range l.Ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Field is a named child of a Scope.
type Field struct {
	Name string
	Node Node
}

// Scope maps path segments to child nodes. Fields are sorted by name.
type Scope struct {
	Fields []Field
}

// Logical combines whole sub-trees with $and, $or or $nor.
type Logical struct {
	Op       string
	Children []Node
}

func (*Leaf) node()    {}
func (*Scope) node()   {}
func (*Logical) node() {}

// Parse converts an open-shaped query value into a Node.
//
// A map is a Leaf iff it is non-empty and every key is an operator token that
// is not a logical combinator. Scalars are shorthand for {$eq: v}, lists for
// {$in: [...]}, and calendar selectors ({year: 2025, month: 2}) are kept whole
// as {$eq: selector} so encoders can expand them to a range.
func Parse(v any) Node {
	switch tv := v.(type) {
	case map[string]any:
		if isLeafMap(tv) {
			ops := make(map[string]any, len(tv))
			for k, val := range tv {
				ops[k] = val
			}
			return &Leaf{Ops: ops}
		}
		if dates.IsCalendarForm(tv) {
			return &Leaf{Ops: map[string]any{OpEq: tv}}
		}
		return parseScope(tv)
	case []any:
		return &Leaf{Ops: map[string]any{OpIn: tv}}
	default:
		return &Leaf{Ops: map[string]any{OpEq: v}}
	}
}

func parseScope(m map[string]any) *Scope {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	scope := &Scope{Fields: make([]Field, 0, len(keys))}
	for _, k := range keys {
		if IsLogical(k) {
			scope.Fields = append(scope.Fields, Field{Name: k, Node: parseLogical(k, m[k])})
			continue
		}
		scope.Fields = append(scope.Fields, Field{Name: k, Node: Parse(m[k])})
	}
	return scope
}

func parseLogical(op string, v any) *Logical {
	l := &Logical{Op: op}
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		l.Children = append(l.Children, parseScope(m))
	}
	return l
}

func isLeafMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !IsOperatorToken(k) || IsLogical(k) {
			return false
		}
	}
	return true
}
