// Package udf holds custom predicate and aggregate functions that a Logic Form
// can reference by operator name (e.g. {"$median": "amount"}).
package udf

import (
	"fmt"
	"sort"
	"strings"
)

// Kind separates row-level predicates from aggregates.
type Kind int

const (
	Predicate Kind = iota
	Aggregate
)

// Function is a named custom function. SQL renders it for a dialect given
// already-quoted argument expressions; Eval evaluates it in memory for
// backends without SQL.
type Function struct {
	Name string
	Kind Kind

	// SQL renders the call. For predicates the first argument is the column
	// and the function returns a boolean condition with "?" placeholders for
	// the values passed in args.
	SQL func(dialect string, column string, value any) (expr string, args []any, err error)

	// Eval evaluates a predicate against a row value, or an aggregate over
	// the collected values of a group.
	Eval func(values []any, arg any) (any, error)

	// Zero is the value reported for an aggregate over an empty group.
	Zero any
}

// Registry maps operator names ("$median") to functions.
type Registry map[string]*Function

// NewRegistry builds a registry, normalizing names to their "$" form.
func NewRegistry(fns ...*Function) Registry {
	r := make(Registry, len(fns))
	for _, fn := range fns {
		r.Register(fn)
	}
	return r
}

// Register adds or replaces a function.
func (r Registry) Register(fn *Function) {
	fn.Name = OperatorName(fn.Name)
	r[fn.Name] = fn
}

// Lookup returns the function registered under name ("median" or "$median").
func (r Registry) Lookup(name string) (*Function, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r[OperatorName(name)]
	return fn, ok
}

// Names returns the registered operator names, sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OperatorName returns name with a single leading "$".
func OperatorName(name string) string {
	return "$" + strings.TrimLeft(strings.TrimSpace(name), "$")
}

// RenderTemplate is a helper for simple SQL templates where "{col}" is
// replaced by the column expression and each "?" binds value.
func RenderTemplate(tmpl string) func(string, string, any) (string, []any, error) {
	return func(_ string, column string, value any) (string, []any, error) {
		expr := strings.ReplaceAll(tmpl, "{col}", column)
		n := strings.Count(expr, "?")
		args := make([]any, n)
		for i := range args {
			args[i] = value
		}
		if n > 0 && value == nil {
			return "", nil, fmt.Errorf("template %q requires a value", tmpl)
		}
		return expr, args, nil
	}
}
