package condition

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// ErrUnsupportedOperator is returned for an operator that is neither built in
// nor a registered custom predicate.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// Matcher evaluates condition trees against in-memory rows.
type Matcher struct {
	Funcs udf.Registry
	Now   func() time.Time // Resolves relative date keywords; defaults to time.Now
}

// Match evaluates cond against row with no custom predicates.
func Match(row map[string]any, cond map[string]any) (bool, error) {
	return Matcher{}.Match(row, cond)
}

// Match reports whether row satisfies cond. A row that lacks a key the
// condition references does not match.
func (m Matcher) Match(row map[string]any, cond map[string]any) (bool, error) {
	if len(cond) == 0 {
		return true, nil
	}
	return m.matchScope(row, querydef.Of(cond).Tree().(*querydef.Scope))
}

func (m Matcher) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m Matcher) matchNode(row map[string]any, value any, present bool, n querydef.Node) (bool, error) {
	switch tn := n.(type) {
	case *querydef.Leaf:
		if !present {
			return false, nil
		}
		return m.matchLeaf(value, tn)
	case *querydef.Scope:
		nested, ok := value.(map[string]any)
		if !present || !ok {
			return false, nil
		}
		return m.matchScope(nested, tn)
	case *querydef.Logical:
		return m.matchLogical(row, tn)
	}
	return false, fmt.Errorf("unexpected node %T", n)
}

func (m Matcher) matchScope(row map[string]any, s *querydef.Scope) (bool, error) {
	for _, f := range s.Fields {
		if l, ok := f.Node.(*querydef.Logical); ok {
			ok, err := m.matchLogical(row, l)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		value, present := lookupField(row, f.Name)
		ok, err := m.matchNode(row, value, present, f.Node)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m Matcher) matchLogical(row map[string]any, l *querydef.Logical) (bool, error) {
	matched := 0
	for _, child := range l.Children {
		ok, err := m.matchNode(row, row, true, child)
		if err != nil {
			return false, err
		}
		if ok {
			matched++
		}
	}
	switch l.Op {
	case querydef.OpAnd:
		return matched == len(l.Children), nil
	case querydef.OpOr:
		return matched > 0, nil
	default:
		return matched == 0, nil
	}
}

// lookupField finds a key directly, then by walking dotted segments through
// nested maps.
func lookupField(row map[string]any, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = row
	for _, seg := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (m Matcher) matchLeaf(value any, leaf *querydef.Leaf) (bool, error) {
	for _, op := range leaf.Operators() {
		ok, err := m.matchOperator(value, op, leaf.Ops[op])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (m Matcher) matchOperator(value any, op string, arg any) (bool, error) {
	switch op {
	case querydef.OpEq:
		return m.equal(value, arg), nil
	case querydef.OpNe:
		return !m.equal(value, arg), nil
	case querydef.OpIn:
		return m.in(value, arg), nil
	case querydef.OpNin:
		return !m.in(value, arg), nil
	case querydef.OpGt, querydef.OpGte, querydef.OpLt, querydef.OpLte:
		if value == nil || arg == nil {
			return false, nil
		}
		c := Compare(value, m.resolveArg(value, arg))
		switch op {
		case querydef.OpGt:
			return c > 0, nil
		case querydef.OpGte:
			return c >= 0, nil
		case querydef.OpLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case querydef.OpExists:
		want, _ := arg.(bool)
		return (value != nil) == want, nil
	case querydef.OpContains:
		if value == nil {
			return false, nil
		}
		return strings.Contains(stringOf(value), stringOf(arg)), nil
	}

	fn, ok := m.Funcs.Lookup(op)
	if !ok || fn.Kind != udf.Predicate || fn.Eval == nil {
		return false, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
	}
	out, err := fn.Eval([]any{value}, arg)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	matched, _ := out.(bool)
	return matched, nil
}

func (m Matcher) equal(value, arg any) bool {
	if arg == nil || value == nil {
		return arg == nil && value == nil
	}
	if dates.IsCalendarForm(arg) {
		lo, hi, err := dates.CalendarRange(arg)
		if err != nil {
			return false
		}
		t, ok := dates.ParseInstant(value, m.now())
		return ok && !t.Before(lo) && !t.After(hi)
	}
	return Compare(value, m.resolveArg(value, arg)) == 0
}

func (m Matcher) in(value, arg any) bool {
	rv := reflect.ValueOf(arg)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return m.equal(value, arg)
	}
	for i := 0; i < rv.Len(); i++ {
		if m.equal(value, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

// resolveArg turns a relative keyword ("today") into a date when the row
// value is temporal.
func (m Matcher) resolveArg(value, arg any) any {
	s, ok := arg.(string)
	if !ok {
		return arg
	}
	if _, isKeyword := dates.NormalizeRelativeDateKeyword(s); !isKeyword {
		return arg
	}
	if normalizeForCompare(value).kind != cmpTemporal {
		return arg
	}
	if t, ok := dates.ParseInstant(s, m.now()); ok {
		return t
	}
	return arg
}
