package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/sqlgen"
	"github.com/aidanlsb/semanticdb/internal/testutil"
)

func openLoaded(t *testing.T) (*Store, schema.Lookup) {
	t.Helper()
	ctx := context.Background()
	l := testutil.SalesLookup(t)
	s, err := OpenInMemory(ctx, l, nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ds, err := ParseDataset([]byte(testutil.SalesDatasetYAML))
	if err != nil {
		t.Fatalf("ParseDataset: %v", err)
	}
	res, err := s.Load(ctx, ds)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Total() != 10 || res.Rows["sales-order"] != 5 {
		t.Fatalf("unexpected load result %+v", res)
	}
	return s, l
}

func ids(rows []logicform.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprint(r["id"])
	}
	sort.Strings(out)
	return out
}

func TestRunQuery(t *testing.T) {
	s, _ := openLoaded(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		schema string
		query  map[string]any
		want   []string
	}{
		{"enum filter", "customer", map[string]any{"tier": "gold"}, []string{"u1", "u3"}},
		{"through reference", "customer", map[string]any{"city": map[string]any{"country": "FR"}}, []string{"u2", "u3"}},
		{"snapshotted scd", "sales-order", map[string]any{"customertier": "gold"}, []string{"o1", "o3", "o4"}},
		{"date range", "sales-order", map[string]any{"order_date": map[string]any{"year": 2025, "month": 3}}, []string{"o4", "o5"}},
		{"or", "sales-order", map[string]any{"$or": []any{
			map[string]any{"amount": map[string]any{"$gte": 15}},
			map[string]any{"status": "pending"},
		}}, []string{"o2", "o3", "o4"}},
		{"no match", "sales-order", map[string]any{"region": "N"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.RunQuery(ctx, tt.schema, tt.query)
			if err != nil {
				t.Fatalf("RunQuery: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(rows)); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunQuery_Columns(t *testing.T) {
	s, _ := openLoaded(t)
	rows, err := s.RunQuery(context.Background(), "city", map[string]any{"id": "c-ams"})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	want := []logicform.Row{{"id": "c-ams", "name": "Amsterdam", "country": "NL"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveReference(t *testing.T) {
	s, _ := openLoaded(t)
	got, err := s.ResolveReference(context.Background(), "customer", map[string]any{
		"id":   map[string]any{"$exists": true},
		"tier": map[string]any{"$eq": "gold"},
	})
	if err != nil {
		t.Fatalf("ResolveReference: %v", err)
	}
	if diff := cmp.Diff([]any{"u1", "u3"}, got); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.ResolveReference(context.Background(), "planet", nil); !errors.Is(err, schema.ErrUnknownSchema) {
		t.Fatalf("expected unknown schema, got %v", err)
	}
}

func TestRunSQL_LogicForm(t *testing.T) {
	s, l := openLoaded(t)
	d, err := logicform.Of(map[string]any{
		"schema":  "sales-order",
		"groupby": []any{"region"},
		"preds":   []any{"amount", "$count"},
		"query":   map[string]any{"status": "active"},
		"sort":    []any{map[string]any{"key": "amount", "dir": -1}},
	}, l, nil, s)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	stmt, err := sqlgen.Build(d, s.Dialect(), sqlgen.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rows, err := s.RunSQL(context.Background(), stmt.SQL, stmt.Args...)
	if err != nil {
		t.Fatalf("RunSQL: %v", err)
	}
	want := []logicform.Row{
		{"region": "W", "amount": 35.0, "count": int64(2)},
		{"region": "E", "amount": 10.0, "count": int64(1)},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory(ctx, testutil.SalesLookup(t), nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer s.Close()

	if _, err := s.Load(ctx, Dataset{"planet": {{"name": "Mars"}}}); !errors.Is(err, schema.ErrUnknownSchema) {
		t.Fatalf("expected unknown schema, got %v", err)
	}
	if _, err := s.Load(ctx, Dataset{"city": {{"mayor": "x"}}}); !errors.Is(err, schema.ErrUnknownProperty) {
		t.Fatalf("expected unknown property, got %v", err)
	}
	rows, err := s.RunQuery(ctx, "city", nil)
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("failed load should roll back, found %d rows", len(rows))
	}
}

func TestLoad_GeneratesIDs(t *testing.T) {
	ctx := context.Background()
	s, err := OpenInMemory(ctx, testutil.SalesLookup(t), nil)
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer s.Close()

	if _, err := s.Load(ctx, Dataset{"city": {{"name": "Oslo"}}}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rows, err := s.RunQuery(ctx, "city", map[string]any{"name": "Oslo"})
	if err != nil {
		t.Fatalf("RunQuery: %v", err)
	}
	if len(rows) != 1 || len(fmt.Sprint(rows[0]["id"])) != 36 {
		t.Fatalf("expected one row with a uuid id, got %v", rows)
	}
}

func TestOpen_FileDatabase(t *testing.T) {
	ctx := context.Background()
	dl, _ := dialect.Get("sqlite")
	path := filepath.Join(t.TempDir(), "nested", "sales.db")
	s, err := Open(ctx, dl, path, testutil.SalesLookup(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if _, err := s.Load(ctx, Dataset{"city": {{"id": "c1", "name": "Oslo"}}}); err != nil {
		t.Fatalf("Load: %v", err)
	}
}
