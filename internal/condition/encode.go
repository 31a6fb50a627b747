package condition

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

// Quoter is the part of a SQL dialect the encoder needs.
type Quoter interface {
	Name() string
	Quote(ident string) string
}

type ansiQuoter struct{}

func (ansiQuoter) Name() string { return "ansi" }

func (ansiQuoter) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Config carries evaluation settings shared by every encode call.
type Config struct {
	Now func() time.Time // Resolves relative date keywords; defaults to time.Now
}

func (c Config) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Options controls how a fragment is rendered.
type Options struct {
	EncloseParentheses bool
	QuantifyReceiver   string // Table alias that qualifies base-schema columns
	Dialect            Quoter // Defaults to ANSI double-quoting
}

func (o Options) quoter() Quoter {
	if o.Dialect == nil {
		return ansiQuoter{}
	}
	return o.Dialect
}

// Fragment is a SQL condition with "?" placeholders.
type Fragment struct {
	SQL  string
	Args []any
}

// IsEmpty reports whether the fragment constrains nothing.
func (f Fragment) IsEmpty() bool { return f.SQL == "" }

// ToSql makes a Fragment usable wherever squirrel expects a Sqlizer.
func (f Fragment) ToSql() (string, []any, error) { return f.SQL, f.Args, nil }

// Column is a resolved SQL expression for a condition path.
type Column struct {
	Expr     string
	Property *schema.Property // Nil when the expression has no schema type (aggregates)
}

// Resolver maps a condition path to the SQL expression it constrains.
type Resolver func(path string) (Column, error)

// ResolutionError reports a path that does not resolve against the schema.
type ResolutionError struct {
	Schema string
	Path   string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Schema == "" {
		return fmt.Sprintf("cannot resolve %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("cannot resolve %q on schema %q: %v", e.Path, e.Schema, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// JoinAlias names the table alias for the schema reached by following refs
// from the receiver. sqlgen joins referenced tables under the same aliases.
func JoinAlias(receiver string, refs []string) string {
	joined := strings.Join(refs, "__")
	if receiver == "" {
		return joined
	}
	return receiver + "__" + joined
}

// ColumnRef renders a possibly qualified, quoted column reference.
func ColumnRef(q Quoter, alias, column string) string {
	if alias == "" {
		return q.Quote(column)
	}
	return q.Quote(alias) + "." + q.Quote(column)
}

// SchemaResolver resolves paths as chain expressions on base. Paths that cross
// a reference resolve to a column of the joined table aliased by JoinAlias.
func SchemaResolver(base *schema.Schema, lookup schema.Lookup, opts Options) Resolver {
	q := opts.quoter()
	return func(path string) (Column, error) {
		chain, err := lookup.ResolveChain(base, path)
		if err != nil {
			return Column{}, &ResolutionError{Schema: base.ID, Path: path, Err: err}
		}
		leaf := chain.Leaf()
		// customer.id is the foreign key itself; no join needed.
		if len(chain) > 1 && leaf.Name == schema.IDProperty {
			chain = chain[:len(chain)-1]
			leaf = chain.Leaf()
		}
		alias := opts.QuantifyReceiver
		if len(chain) > 1 {
			refs := make([]string, 0, len(chain)-1)
			for _, seg := range chain[:len(chain)-1] {
				refs = append(refs, seg.Property.Name)
			}
			alias = JoinAlias(opts.QuantifyReceiver, refs)
		}
		return Column{Expr: ColumnRef(q, alias, leaf.ColumnName()), Property: leaf}, nil
	}
}

// Encode renders a query tree as a SQL condition over base.
func Encode(tree map[string]any, base *schema.Schema, lookup schema.Lookup, funcs udf.Registry, cfg Config, opts Options) (Fragment, error) {
	if base == nil {
		return Fragment{}, &ResolutionError{Path: "", Err: schema.ErrUnknownSchema}
	}
	return EncodeWith(tree, SchemaResolver(base, lookup, opts), funcs, cfg, opts)
}

// EncodeWith renders a condition tree using a custom resolver, e.g. one that
// maps having keys to aggregate expressions.
func EncodeWith(tree map[string]any, resolve Resolver, funcs udf.Registry, cfg Config, opts Options) (Fragment, error) {
	if len(tree) == 0 {
		return Fragment{}, nil
	}
	e := &encoder{resolve: resolve, funcs: funcs, cfg: cfg, dialect: opts.quoter().Name()}
	parts, err := e.scope("", querydef.Of(tree).Tree().(*querydef.Scope))
	if err != nil {
		return Fragment{}, err
	}

	var cond sq.Sqlizer = parts
	if len(parts) == 1 {
		cond = parts[0]
	}
	sqlStr, args, err := cond.ToSql()
	if err != nil {
		return Fragment{}, err
	}
	if opts.EncloseParentheses && !strings.HasPrefix(sqlStr, "(") {
		sqlStr = "(" + sqlStr + ")"
	}
	return Fragment{SQL: sqlStr, Args: args}, nil
}

type encoder struct {
	resolve Resolver
	funcs   udf.Registry
	cfg     Config
	dialect string
}

func (e *encoder) scope(prefix string, s *querydef.Scope) (sq.And, error) {
	var parts sq.And
	for _, f := range s.Fields {
		switch n := f.Node.(type) {
		case *querydef.Logical:
			part, err := e.logical(prefix, n)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		case *querydef.Scope:
			nested, err := e.scope(querydef.JoinPath(prefix, f.Name), n)
			if err != nil {
				return nil, err
			}
			parts = append(parts, nested...)
		case *querydef.Leaf:
			col, err := e.resolve(querydef.JoinPath(prefix, f.Name))
			if err != nil {
				return nil, err
			}
			leafParts, err := e.leaf(col, n)
			if err != nil {
				return nil, err
			}
			parts = append(parts, leafParts...)
		}
	}
	return parts, nil
}

func (e *encoder) logical(prefix string, l *querydef.Logical) (sq.Sqlizer, error) {
	children := make([]sq.Sqlizer, 0, len(l.Children))
	for _, child := range l.Children {
		s, ok := child.(*querydef.Scope)
		if !ok {
			continue
		}
		parts, err := e.scope(prefix, s)
		if err != nil {
			return nil, err
		}
		if len(parts) == 1 {
			children = append(children, parts[0])
			continue
		}
		children = append(children, parts)
	}
	switch l.Op {
	case querydef.OpAnd:
		return sq.And(children), nil
	case querydef.OpOr:
		return sq.Or(children), nil
	default:
		sqlStr, args, err := sq.Or(children).ToSql()
		if err != nil {
			return nil, err
		}
		return sq.Expr("NOT "+sqlStr, args...), nil
	}
}

// likeEscaper quotes LIKE wildcards so $contains matches its argument
// literally. '!' is used because backslash is itself special in MySQL strings.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func (e *encoder) leaf(col Column, leaf *querydef.Leaf) ([]sq.Sqlizer, error) {
	var parts []sq.Sqlizer
	c := col.Expr
	for _, op := range leaf.Operators() {
		arg := leaf.Ops[op]
		switch op {
		case querydef.OpEq:
			if dates.IsCalendarForm(arg) {
				lo, hi, err := dates.CalendarRange(arg)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", c, err)
				}
				next := hi.Add(time.Nanosecond)
				parts = append(parts, sq.And{
					sq.GtOrEq{c: lo.Format("2006-01-02")},
					sq.Lt{c: next.Format("2006-01-02")},
				})
				continue
			}
			parts = append(parts, sq.Eq{c: e.arg(col, arg)})
		case querydef.OpNe:
			if arg == nil {
				parts = append(parts, sq.NotEq{c: nil})
				continue
			}
			parts = append(parts, sq.Or{sq.NotEq{c: e.arg(col, arg)}, sq.Eq{c: nil}})
		case querydef.OpIn:
			parts = append(parts, sq.Eq{c: e.list(col, arg)})
		case querydef.OpNin:
			parts = append(parts, sq.NotEq{c: e.list(col, arg)})
		case querydef.OpGt:
			parts = append(parts, sq.Gt{c: e.arg(col, arg)})
		case querydef.OpGte:
			parts = append(parts, sq.GtOrEq{c: e.arg(col, arg)})
		case querydef.OpLt:
			parts = append(parts, sq.Lt{c: e.arg(col, arg)})
		case querydef.OpLte:
			parts = append(parts, sq.LtOrEq{c: e.arg(col, arg)})
		case querydef.OpExists:
			if want, _ := arg.(bool); want {
				parts = append(parts, sq.NotEq{c: nil})
			} else {
				parts = append(parts, sq.Eq{c: nil})
			}
		case querydef.OpContains:
			parts = append(parts, sq.Expr(c+" LIKE ? ESCAPE '!'", "%"+likeEscaper.Replace(stringOf(arg))+"%"))
		default:
			fn, ok := e.funcs.Lookup(op)
			if !ok || fn.Kind != udf.Predicate || fn.SQL == nil {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
			}
			expr, args, err := fn.SQL(e.dialect, c, arg)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			parts = append(parts, sq.Expr(expr, args...))
		}
	}
	return parts, nil
}

func (e *encoder) list(col Column, arg any) []any {
	rv := reflect.ValueOf(arg)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{e.arg(col, arg)}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = e.arg(col, rv.Index(i).Interface())
	}
	return out
}

// arg normalizes temporal arguments to ISO strings so every dialect
// compares them the same way.
func (e *encoder) arg(col Column, v any) any {
	if col.Property == nil || !col.Property.IsTemporal() {
		return v
	}
	layout := "2006-01-02 15:04:05"
	if col.Property.Type == schema.TypeDate {
		layout = "2006-01-02"
	}
	switch tv := v.(type) {
	case time.Time:
		return tv.Format(layout)
	case string:
		if _, ok := dates.NormalizeRelativeDateKeyword(tv); !ok {
			return v
		}
		if t, ok := dates.ParseInstant(tv, e.cfg.now()); ok {
			return t.Format("2006-01-02")
		}
	}
	return v
}
