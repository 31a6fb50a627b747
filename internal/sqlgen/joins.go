package sqlgen

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// join is one LEFT JOIN of a referenced table.
type join struct {
	alias  string
	parent string
	fk     string
	table  string
	depth  int
}

// joinSet collects the reference joins a statement needs, once per alias.
type joinSet struct {
	dialect dialect.Dialect
	byAlias map[string]join
}

func newJoinSet(dl dialect.Dialect) *joinSet {
	return &joinSet{dialect: dl, byAlias: make(map[string]join)}
}

// addPath registers every join needed to reach the leaf of path. A trailing
// id stops at the foreign key, matching condition.SchemaResolver.
func (j *joinSet) addPath(lookup schema.Lookup, base *schema.Schema, path string) error {
	chain, err := lookup.ResolveChain(base, path)
	if err != nil {
		return &condition.ResolutionError{Schema: base.ID, Path: path, Err: err}
	}
	if len(chain) > 1 && chain.Leaf().Name == schema.IDProperty {
		chain = chain[:len(chain)-1]
	}

	parent := BaseAlias
	var refs []string
	for i := 1; i < len(chain); i++ {
		ref := chain[i-1].Property
		refs = append(refs, ref.Name)
		alias := condition.JoinAlias(BaseAlias, refs)
		if _, ok := j.byAlias[alias]; !ok {
			target, ok := lookup.Get(ref.Ref)
			if !ok {
				return &condition.ResolutionError{Schema: chain[i-1].Schema.ID, Path: path, Err: fmt.Errorf("%w: %s", schema.ErrUnknownSchema, ref.Ref)}
			}
			j.byAlias[alias] = join{
				alias:  alias,
				parent: parent,
				fk:     ref.ColumnName(),
				table:  target.TableName(),
				depth:  i,
			}
		}
		parent = alias
	}
	return nil
}

// apply adds the joins, parents before children and by alias within a
// depth, so statements render deterministically.
func (j *joinSet) apply(b sq.SelectBuilder) sq.SelectBuilder {
	joins := make([]join, 0, len(j.byAlias))
	for _, jn := range j.byAlias {
		joins = append(joins, jn)
	}
	sort.Slice(joins, func(a, b int) bool {
		if joins[a].depth != joins[b].depth {
			return joins[a].depth < joins[b].depth
		}
		return joins[a].alias < joins[b].alias
	})
	q := j.dialect.Quote
	for _, jn := range joins {
		b = b.LeftJoin(fmt.Sprintf("%s AS %s ON %s = %s",
			q(jn.table), q(jn.alias),
			condition.ColumnRef(j.dialect, jn.alias, schema.IDProperty),
			condition.ColumnRef(j.dialect, jn.parent, jn.fk),
		))
	}
	return b
}
