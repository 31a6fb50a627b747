// Package docstore is an in-memory document store executor. It has no SQL:
// logic forms against it are answered by fetching matching documents and
// grouping them in memory.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/querydef"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

const indexID = "id"

// ErrNoSQL is returned by RunSQL: documents cannot be queried with SQL.
var ErrNoSQL = errors.New("document store does not execute SQL")

type document struct {
	id     string
	fields map[string]any
}

// Store keeps one memdb table of documents per schema.
type Store struct {
	db     *memdb.MemDB
	lookup schema.Lookup
	funcs  udf.Registry
	now    func() time.Time
}

var _ logicform.Executor = (*Store)(nil)

// New creates an empty store for the schemas in lookup.
func New(lookup schema.Lookup, funcs udf.Registry) (*Store, error) {
	tables := make(map[string]*memdb.TableSchema, len(lookup))
	for _, id := range lookup.IDs() {
		tables[id] = &memdb.TableSchema{
			Name: id,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "id"},
				},
			},
		}
	}
	db, err := memdb.NewMemDB(&memdb.DBSchema{Tables: tables})
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}
	return &Store{db: db, lookup: lookup, funcs: funcs, now: time.Now}, nil
}

// SetNow overrides the clock used for relative date keywords.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// Insert stores docs under schemaID in one transaction, replacing documents
// with the same id. Documents without an id get a generated one. Event
// documents snapshot the slowly changing properties of the entities they
// reference. It returns the ids in input order.
func (s *Store) Insert(schemaID string, docs []map[string]any) ([]string, error) {
	sch, ok := s.lookup.Get(schemaID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnknownSchema, schemaID)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	ids := make([]string, 0, len(docs))
	for i, doc := range docs {
		fields := make(map[string]any, len(doc))
		for k, v := range doc {
			if k == schema.IDProperty {
				continue
			}
			if _, ok := sch.Property(k); !ok {
				return nil, fmt.Errorf("%s document %d: %w: %q", schemaID, i, schema.ErrUnknownProperty, k)
			}
			fields[k] = v
		}
		id := uuid.NewString()
		if v, ok := doc[schema.IDProperty]; ok && v != nil {
			id = fmt.Sprint(v)
		}
		if sch.IsEvent() {
			s.snapshotSCD(txn, sch, fields)
		}
		if err := txn.Insert(schemaID, &document{id: id, fields: fields}); err != nil {
			return nil, fmt.Errorf("%s document %d: %w", schemaID, i, err)
		}
		ids = append(ids, id)
	}
	txn.Commit()
	return ids, nil
}

// InsertAll stores a whole dataset, entities before events.
func (s *Store) InsertAll(ds map[string][]map[string]any) (map[string]int, error) {
	schemaIDs := make([]string, 0, len(ds))
	for id := range ds {
		schemaIDs = append(schemaIDs, id)
	}
	sort.Slice(schemaIDs, func(i, j int) bool {
		ei, ej := s.isEvent(schemaIDs[i]), s.isEvent(schemaIDs[j])
		if ei != ej {
			return !ei
		}
		return schemaIDs[i] < schemaIDs[j]
	})

	counts := make(map[string]int, len(ds))
	for _, id := range schemaIDs {
		ids, err := s.Insert(id, ds[id])
		if err != nil {
			return nil, err
		}
		counts[id] = len(ids)
	}
	return counts, nil
}

func (s *Store) isEvent(schemaID string) bool {
	sch, ok := s.lookup.Get(schemaID)
	return ok && sch.IsEvent()
}

func (s *Store) snapshotSCD(txn *memdb.Txn, sch *schema.Schema, fields map[string]any) {
	for _, p := range sch.Properties {
		if p.LocalizedFrom == "" || fields[p.Name] != nil {
			continue
		}
		chain, err := s.lookup.ResolveChain(sch, p.LocalizedFrom)
		if err != nil || len(chain) != 2 {
			continue
		}
		refID := fields[chain[0].Property.Name]
		if refID == nil {
			continue
		}
		raw, err := txn.First(chain[1].Schema.ID, indexID, fmt.Sprint(refID))
		if err != nil || raw == nil {
			continue
		}
		fields[p.Name] = raw.(*document).fields[chain[1].Property.Name]
	}
}

// RunQuery returns the documents of schemaID matching query, ordered by id.
// Query paths may cross references ("customer.city.name").
func (s *Store) RunQuery(ctx context.Context, schemaID string, query map[string]any) ([]logicform.Row, error) {
	sch, ok := s.lookup.Get(schemaID)
	if !ok {
		return nil, &condition.ResolutionError{Path: schemaID, Err: schema.ErrUnknownSchema}
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	docs, err := s.match(ctx, txn, sch, query)
	if err != nil {
		return nil, err
	}
	out := make([]logicform.Row, len(docs))
	for i, doc := range docs {
		out[i] = docRow(sch, doc)
	}
	logging.Debug().Str("schema", schemaID).Int("rows", len(out)).Msg("document query")
	return out, nil
}

func (s *Store) match(ctx context.Context, txn *memdb.Txn, sch *schema.Schema, query map[string]any) ([]*document, error) {
	canonical, paths, err := s.canonicalQuery(sch, query)
	if err != nil {
		return nil, err
	}
	m := condition.Matcher{Funcs: s.funcs, Now: s.now}

	it, err := txn.Get(sch.ID, indexID)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sch.ID, err)
	}
	var out []*document
	for raw := it.Next(); raw != nil; raw = it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := raw.(*document)
		probe := docRow(sch, doc)
		for _, path := range paths {
			probe[path.expr] = s.follow(txn, doc, path.chain)
		}
		ok, err := m.Match(probe, canonical)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// RunSQL always fails with ErrNoSQL.
func (s *Store) RunSQL(context.Context, string, ...any) ([]logicform.Row, error) {
	return nil, ErrNoSQL
}

// ResolveReference returns the ids of refSchemaID documents matching query.
func (s *Store) ResolveReference(ctx context.Context, refSchemaID string, query map[string]any) ([]any, error) {
	rows, err := s.RunQuery(ctx, refSchemaID, query)
	if err != nil {
		return nil, err
	}
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r[schema.IDProperty]
	}
	return ids, nil
}

// docRow carries every declared property, nil when the document lacks it,
// like a table row would.
func docRow(sch *schema.Schema, doc *document) logicform.Row {
	row := make(logicform.Row, len(sch.Properties)+1)
	for _, p := range sch.Properties {
		row[p.Name] = doc.fields[p.Name]
	}
	row[schema.IDProperty] = doc.id
	return row
}

// follow reads the value at the end of chain, dereferencing one document per
// hop. A missing reference yields nil.
func (s *Store) follow(txn *memdb.Txn, doc *document, chain schema.Chain) any {
	cur := doc
	for i, seg := range chain {
		var v any
		if seg.Property.Name == schema.IDProperty {
			v = cur.id
		} else {
			v = cur.fields[seg.Property.Name]
		}
		if i == len(chain)-1 || v == nil {
			return v
		}
		raw, err := txn.First(chain[i+1].Schema.ID, indexID, fmt.Sprint(v))
		if err != nil || raw == nil {
			return nil
		}
		cur = raw.(*document)
	}
	return nil
}

type resolvedPath struct {
	expr  string
	chain schema.Chain
}

// canonicalQuery rewrites every constrained path to its dotted canonical
// form ("customer_tier" -> "customer.tier"; a trailing ".id" collapses onto
// the reference) and returns the paths that need dereferencing.
func (s *Store) canonicalQuery(sch *schema.Schema, query map[string]any) (map[string]any, []resolvedPath, error) {
	seen := map[string]resolvedPath{}
	var rewrite func(prefix string, scope *querydef.Scope) (map[string]any, error)
	rewrite = func(prefix string, scope *querydef.Scope) (map[string]any, error) {
		out := make(map[string]any, len(scope.Fields))
		for _, f := range scope.Fields {
			switch n := f.Node.(type) {
			case *querydef.Logical:
				children := make([]any, 0, len(n.Children))
				for _, child := range n.Children {
					c, err := rewrite(prefix, child.(*querydef.Scope))
					if err != nil {
						return nil, err
					}
					children = append(children, c)
				}
				addConjunct(out, n.Op, children)
			case *querydef.Scope:
				nested, err := rewrite(querydef.JoinPath(prefix, f.Name), n)
				if err != nil {
					return nil, err
				}
				for k, v := range nested {
					if querydef.IsLogical(k) {
						addConjunct(out, k, v.([]any))
						continue
					}
					out[k] = v
				}
			case *querydef.Leaf:
				path := querydef.JoinPath(prefix, f.Name)
				chain, err := s.lookup.ResolveChain(sch, path)
				if err != nil {
					return nil, &condition.ResolutionError{Schema: sch.ID, Path: path, Err: err}
				}
				if len(chain) > 1 && chain.Leaf().Name == schema.IDProperty {
					chain = chain[:len(chain)-1]
				}
				names := make([]string, len(chain))
				for i, seg := range chain {
					names[i] = seg.Property.Name
				}
				expr := strings.Join(names, ".")
				if len(chain) > 1 {
					seen[expr] = resolvedPath{expr: expr, chain: chain}
				}
				ops := make(map[string]any, len(n.Ops))
				if existing, ok := out[expr].(map[string]any); ok {
					for op, v := range existing {
						ops[op] = v
					}
				}
				for op, v := range n.Ops {
					ops[op] = v
				}
				out[expr] = ops
			}
		}
		return out, nil
	}

	tree, _ := querydef.Of(query).Tree().(*querydef.Scope)
	canonical, err := rewrite("", tree)
	if err != nil {
		return nil, nil, err
	}
	paths := make([]resolvedPath, 0, len(seen))
	for _, p := range seen {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].expr < paths[j].expr })
	return canonical, paths, nil
}

// addConjunct places a logical combinator into out, nesting under $and when
// the key is already taken.
func addConjunct(out map[string]any, op string, children []any) {
	if _, taken := out[op]; !taken {
		out[op] = children
		return
	}
	and, _ := out[querydef.OpAnd].([]any)
	if op == querydef.OpAnd {
		out[querydef.OpAnd] = append(and, children...)
		return
	}
	out[querydef.OpAnd] = append(and, map[string]any{op: children})
}
