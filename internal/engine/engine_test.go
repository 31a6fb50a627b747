package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aidanlsb/semanticdb/internal/docstore"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/store"
	"github.com/aidanlsb/semanticdb/internal/testutil"
)

type backend struct {
	name string
	exec logicform.Executor
}

// backends returns the sales dataset loaded into sqlite and into the
// document store.
func backends(t *testing.T) ([]backend, schema.Lookup) {
	t.Helper()
	ctx := context.Background()
	l := testutil.SalesLookup(t)
	ds, err := store.ParseDataset([]byte(testutil.SalesDatasetYAML))
	if err != nil {
		t.Fatalf("ParseDataset: %v", err)
	}

	sqlStore, err := store.OpenInMemory(ctx, l, nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { sqlStore.Close() })
	if _, err := sqlStore.Load(ctx, ds); err != nil {
		t.Fatalf("Load: %v", err)
	}

	docs, err := docstore.New(l, nil)
	if err != nil {
		t.Fatalf("docstore.New: %v", err)
	}
	if _, err := docs.InsertAll(ds); err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	return []backend{{"sqlite", sqlStore}, {"docstore", docs}}, l
}

func TestRun_BackendParity(t *testing.T) {
	bs, l := backends(t)
	tests := []struct {
		name     string
		totality bool
		raw      map[string]any
		want     []logicform.Row
	}{
		{
			name: "grouped sum",
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"amount", "$count"},
				"query":   map[string]any{"status": "active"},
				"sort":    []any{map[string]any{"key": "amount", "dir": -1}},
			},
			want: []logicform.Row{
				{"region": "W", "amount": 35.0, "count": int64(2)},
				{"region": "E", "amount": 10.0, "count": int64(1)},
			},
		},
		{
			name:     "totality fills the empty region",
			totality: true,
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"$count"},
				"sort":    []any{map[string]any{"key": "count", "dir": -1}},
			},
			want: []logicform.Row{
				{"region": "E", "count": int64(3)},
				{"region": "W", "count": int64(2)},
				{"region": "N", "count": 0},
			},
		},
		{
			name:     "totality pages after filling",
			totality: true,
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"$count"},
				"sort":    []any{map[string]any{"key": "count", "dir": 1}},
				"limit":   1,
			},
			want: []logicform.Row{
				{"region": "N", "count": 0},
			},
		},
		{
			name:     "having drops filled rows",
			totality: true,
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"$count"},
				"having":  map[string]any{"count": map[string]any{"$gte": 3}},
			},
			want: []logicform.Row{
				{"region": "E", "count": int64(3)},
			},
		},
		{
			name:     "having keeps only filled rows",
			totality: true,
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"$count"},
				"having":  map[string]any{"count": map[string]any{"$lt": 2}},
			},
			want: []logicform.Row{
				{"region": "N", "count": 0},
			},
		},
		{
			name:     "month buckets over a closed range",
			totality: true,
			raw: map[string]any{
				"groupby": []any{map[string]any{"_id": "order_date", "level": "month", "name": "month"}},
				"preds":   []any{"$count"},
				"query":   map[string]any{"order_date": map[string]any{"$gte": "2025-01-01", "$lte": "2025-04-30"}},
				"sort":    []any{map[string]any{"key": "month", "dir": 1}},
			},
			want: []logicform.Row{
				{"month": "2025-01", "count": int64(2)},
				{"month": "2025-02", "count": int64(1)},
				{"month": "2025-03", "count": int64(2)},
				{"month": "2025-04", "count": 0},
			},
		},
		{
			name: "referenced scd reads the snapshot",
			raw: map[string]any{
				"groupby": []any{"customer_tier"},
				"preds":   []any{"$count"},
				"sort":    []any{map[string]any{"key": "count", "dir": -1}},
			},
			want: []logicform.Row{
				{"customer_tier": "gold", "count": int64(3)},
				{"customer_tier": "silver", "count": int64(2)},
			},
		},
		{
			name: "limit by region",
			raw: map[string]any{
				"groupby": []any{"region", "status"},
				"preds":   []any{"amount"},
				"sort": []any{
					map[string]any{"key": "region", "dir": 1},
					map[string]any{"key": "amount", "dir": -1},
				},
				"limitBy": map[string]any{"n": 1, "by": "region"},
			},
			want: []logicform.Row{
				{"region": "E", "status": "active", "amount": 10.0},
				{"region": "W", "status": "active", "amount": 35.0},
			},
		},
		{
			name: "row listing",
			raw: map[string]any{
				"props": []any{"id", "amount"},
				"query": map[string]any{"customer": map[string]any{"city": map[string]any{"country": "NL"}}},
				"sort":  []any{map[string]any{"key": "amount", "dir": -1}},
				"skip":  1,
			},
			want: []logicform.Row{
				{"id": "o1", "amount": 10.0},
			},
		},
		{
			name: "contains matches wildcards literally",
			raw: map[string]any{
				"props": []any{"id"},
				"query": map[string]any{"$or": []any{
					map[string]any{"region": "W"},
					map[string]any{"status": map[string]any{"$contains": "_"}},
					map[string]any{"status": map[string]any{"$contains": "an%el"}},
				}},
				"sort": []any{map[string]any{"key": "id", "dir": 1}},
			},
			want: []logicform.Row{
				{"id": "o2"},
				{"id": "o4"},
			},
		},
	}
	for _, b := range bs {
		for _, tt := range tests {
			t.Run(b.name+"/"+tt.name, func(t *testing.T) {
				e := New(b.exec, l, nil, Options{Totality: tt.totality})
				raw := map[string]any{"schema": "sales-order"}
				for k, v := range tt.raw {
					raw[k] = v
				}
				got, err := e.Run(context.Background(), raw)
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if diff := cmp.Diff(tt.want, normalizeAmounts(got)); diff != "" {
					t.Fatalf("rows mismatch (-want +got):\n%s", diff)
				}
			})
		}
	}
}

// normalizeAmounts widens raw document amounts to float64 so listings from
// both backends compare equal.
func normalizeAmounts(rows []logicform.Row) []logicform.Row {
	for _, r := range rows {
		if v, ok := r["amount"].(int); ok {
			r["amount"] = float64(v)
		}
	}
	return rows
}

func TestCompile(t *testing.T) {
	bs, l := backends(t)
	raw := map[string]any{
		"schema":  "sales-order",
		"groupby": []any{"region"},
		"preds":   []any{"$count"},
		"limit":   2,
	}

	sqlEngine := New(bs[0].exec, l, nil, Options{Totality: true})
	p, err := sqlEngine.Compile(raw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if p.Statement == nil || p.Dialect != "sqlite" {
		t.Fatalf("expected a sqlite statement, got %+v", p)
	}
	if strings.Contains(p.Statement.SQL, "LIMIT") {
		t.Fatalf("paging should be left to post-processing under totality: %s", p.Statement.SQL)
	}
	if !p.PostProcessed() {
		t.Fatalf("expected post-processing")
	}

	withHaving := map[string]any{
		"schema":  "sales-order",
		"groupby": []any{"region"},
		"preds":   []any{"$count"},
		"having":  map[string]any{"count": map[string]any{"$lt": 2}},
	}
	p, err = sqlEngine.Compile(withHaving)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(p.Statement.SQL, "HAVING") {
		t.Fatalf("having should run after filling under totality: %s", p.Statement.SQL)
	}
	p, err = New(bs[0].exec, l, nil, Options{}).Compile(withHaving)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(p.Statement.SQL, "HAVING") {
		t.Fatalf("expected SQL having without totality: %s", p.Statement.SQL)
	}

	p, err = New(bs[0].exec, l, nil, Options{}).Compile(raw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.HasSuffix(p.Statement.SQL, "LIMIT 2") || p.PostProcessed() {
		t.Fatalf("expected SQL paging, got %q", p.Statement.SQL)
	}

	p, err = New(bs[1].exec, l, nil, Options{}).Compile(raw)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if p.Statement != nil || !p.PostProcessed() {
		t.Fatalf("document store plan should have no statement: %+v", p)
	}
}

func TestCompile_Localized(t *testing.T) {
	bs, l := backends(t)
	p, err := New(bs[0].exec, l, nil, Options{}).Compile(map[string]any{
		"schema":  "sales-order",
		"groupby": []any{"customer_tier"},
		"preds":   []any{"$count"},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !p.Localized {
		t.Fatalf("expected the scd dimension to be localized")
	}
	if !strings.Contains(p.Statement.SQL, `"t"."customertier"`) || strings.Contains(p.Statement.SQL, "JOIN") {
		t.Fatalf("expected a local column and no join: %s", p.Statement.SQL)
	}
}

func TestCompile_Errors(t *testing.T) {
	bs, l := backends(t)
	e := New(bs[0].exec, l, nil, Options{})

	var verr *logicform.ValidationError
	if _, err := e.Compile(map[string]any{"schema": "sales-order", "limit": -1}); !errors.As(err, &verr) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if _, err := e.Compile(map[string]any{"schema": "planet"}); !errors.Is(err, schema.ErrUnknownSchema) {
		t.Fatalf("expected unknown schema, got %v", err)
	}

	bare := New(bareExecutor{}, l, nil, Options{})
	if _, err := bare.Compile(map[string]any{"schema": "sales-order"}); !errors.Is(err, ErrNoDialect) {
		t.Fatalf("expected ErrNoDialect, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	bs, l := backends(t)
	for _, b := range bs {
		t.Run(b.name, func(t *testing.T) {
			e := New(b.exec, l, nil, Options{Totality: true})
			r, err := e.Check(context.Background(), map[string]any{
				"schema":  "sales-order",
				"groupby": []any{"region", "customer"},
				"preds":   []any{"$count"},
				"query": map[string]any{
					"region":   map[string]any{"$ne": "N"},
					"customer": map[string]any{"name": map[string]any{"$in": []any{"Acme", "Initech"}}},
				},
			})
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if len(r.Constraints) != 2 {
				t.Fatalf("expected two constraints, got %+v", r.Constraints)
			}
			region, customer := r.Constraints[0], r.Constraints[1]
			if diff := cmp.Diff([]any{"E", "W"}, region.Totality); diff != "" {
				t.Fatalf("region totality (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]any{"u1", "u3"}, customer.Totality); diff != "" {
				t.Fatalf("customer totality (-want +got):\n%s", diff)
			}

			md := r.Markdown()
			for _, want := range []string{"# sales-order", "| region | yes | E, W (excluded: N) |", "## Totality"} {
				if !strings.Contains(md, want) {
					t.Fatalf("markdown missing %q:\n%s", want, md)
				}
			}
		})
	}
}

type bareExecutor struct{}

func (bareExecutor) RunQuery(context.Context, string, map[string]any) ([]logicform.Row, error) {
	return nil, nil
}

func (bareExecutor) RunSQL(context.Context, string, ...any) ([]logicform.Row, error) {
	return nil, nil
}

func (bareExecutor) ResolveReference(context.Context, string, map[string]any) ([]any, error) {
	return nil, nil
}
