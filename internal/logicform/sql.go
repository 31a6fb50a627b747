package logicform

import (
	"errors"

	"github.com/aidanlsb/semanticdb/internal/condition"
)

// EncodeWhere renders the query tree as a WHERE fragment over the base
// schema. Queries that spell one path twice without merging are rejected
// since the fragment could not express both.
func (d *Definition) EncodeWhere(cfg condition.Config, opts condition.Options) (condition.Fragment, error) {
	if d.query.HasDuplicateQueryPath() {
		return condition.Fragment{}, invalid("query", "a path is constrained more than once; merge the constraints")
	}
	frag, err := condition.Encode(d.query.Raw(), d.base, d.lookup, d.funcs, cfg, opts)
	return frag, asValidation("query", err)
}

// EncodeHaving renders the having tree. resolve maps having keys (aggregate
// or dimension names) to SQL expressions.
func (d *Definition) EncodeHaving(resolve condition.Resolver, cfg condition.Config, opts condition.Options) (condition.Fragment, error) {
	frag, err := condition.EncodeWith(d.having, resolve, d.funcs, cfg, opts)
	return frag, asValidation("having", err)
}

func asValidation(field string, err error) error {
	if errors.Is(err, condition.ErrUnsupportedOperator) {
		return &ValidationError{Field: field, Message: "cannot encode", Err: err}
	}
	return err
}
