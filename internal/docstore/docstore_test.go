package docstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/testutil"
)

func newLoaded(t *testing.T) (*Store, schema.Lookup) {
	t.Helper()
	l := testutil.SalesLookup(t)
	s, err := New(l, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var ds map[string][]map[string]any
	if err := yaml.Unmarshal([]byte(testutil.SalesDatasetYAML), &ds); err != nil {
		t.Fatalf("unmarshal dataset: %v", err)
	}
	counts, err := s.InsertAll(ds)
	if err != nil {
		t.Fatalf("InsertAll: %v", err)
	}
	if counts["sales-order"] != 5 || counts["customer"] != 3 {
		t.Fatalf("unexpected counts %v", counts)
	}
	return s, l
}

func rowIDs(rows []logicform.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprint(r["id"])
	}
	return out
}

func TestRunQuery(t *testing.T) {
	s, _ := newLoaded(t)
	tests := []struct {
		name   string
		schema string
		query  map[string]any
		want   []string
	}{
		{"enum", "customer", map[string]any{"tier": "gold"}, []string{"u1", "u3"}},
		{"nested reference", "customer", map[string]any{"city": map[string]any{"country": "FR"}}, []string{"u2", "u3"}},
		{"chain expression", "sales-order", map[string]any{"customer_city_country": "NL"}, []string{"o1", "o4"}},
		{"snapshotted scd", "sales-order", map[string]any{"customertier": "gold"}, []string{"o1", "o3", "o4"}},
		{"reference id", "sales-order", map[string]any{"customer.id": "u2"}, []string{"o2", "o5"}},
		{"absent field", "sales-order", map[string]any{"note": map[string]any{"$exists": false}}, []string{"o1", "o2", "o3", "o4", "o5"}},
		{"calendar month", "sales-order", map[string]any{"order_date": map[string]any{"year": 2025, "month": 1}}, []string{"o1", "o2"}},
		{"nor inside scope", "sales-order", map[string]any{"customer": map[string]any{"$nor": []any{map[string]any{"tier": "gold"}}}}, []string{"o2", "o5"}},
		{"or", "sales-order", map[string]any{"$or": []any{
			map[string]any{"amount": map[string]any{"$gte": 15}},
			map[string]any{"status": "pending"},
		}}, []string{"o2", "o3", "o4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.RunQuery(context.Background(), tt.schema, tt.query)
			if err != nil {
				t.Fatalf("RunQuery: %v", err)
			}
			if diff := cmp.Diff(tt.want, rowIDs(rows)); diff != "" {
				t.Fatalf("ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunQuery_Errors(t *testing.T) {
	s, _ := newLoaded(t)
	ctx := context.Background()
	if _, err := s.RunQuery(ctx, "planet", nil); !errors.Is(err, schema.ErrUnknownSchema) {
		t.Fatalf("expected unknown schema, got %v", err)
	}
	if _, err := s.RunQuery(ctx, "sales-order", map[string]any{"colour": "red"}); !errors.Is(err, schema.ErrUnknownProperty) {
		t.Fatalf("expected unknown property, got %v", err)
	}
	if _, err := s.RunSQL(ctx, "SELECT 1"); !errors.Is(err, ErrNoSQL) {
		t.Fatalf("expected ErrNoSQL, got %v", err)
	}
}

func TestResolveReference(t *testing.T) {
	s, _ := newLoaded(t)
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
}

func TestInsert_UnknownProperty(t *testing.T) {
	s, _ := newLoaded(t)
	if _, err := s.Insert("city", []map[string]any{{"mayor": "x"}}); !errors.Is(err, schema.ErrUnknownProperty) {
		t.Fatalf("expected unknown property, got %v", err)
	}
	rows, _ := s.RunQuery(context.Background(), "city", nil)
	if len(rows) != 2 {
		t.Fatalf("aborted insert left %d cities", len(rows))
	}
}

func TestAggregate(t *testing.T) {
	s, l := newLoaded(t)
	tests := []struct {
		name string
		raw  map[string]any
		want []logicform.Row
	}{
		{
			name: "sum and count",
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"amount", "$count"},
				"query":   map[string]any{"status": "active"},
			},
			want: []logicform.Row{
				{"region": "E", "amount": 10.0, "count": int64(1)},
				{"region": "W", "amount": 35.0, "count": int64(2)},
			},
		},
		{
			name: "month buckets",
			raw: map[string]any{
				"groupby": []any{map[string]any{"_id": "order_date", "level": "month", "name": "month"}},
				"preds":   []any{map[string]any{"pred": "quantity", "operator": "$avg", "name": "qty"}},
			},
			want: []logicform.Row{
				{"month": "2025-01", "qty": 1.5},
				{"month": "2025-02", "qty": 1.0},
				{"month": "2025-03", "qty": 2.0},
			},
		},
		{
			name: "uniq and max through a chain",
			raw: map[string]any{
				"groupby": []any{"customer_city_name"},
				"preds": []any{
					map[string]any{"pred": "customer", "operator": "$uniq", "name": "buyers"},
					map[string]any{"pred": "order_date", "operator": "$max", "name": "latest"},
				},
			},
			want: []logicform.Row{
				{"customer_city_name": "Amsterdam", "buyers": int64(1), "latest": "2025-03-02"},
				{"customer_city_name": "Paris", "buyers": int64(2), "latest": "2025-03-15"},
			},
		},
		{
			name: "projection",
			raw: map[string]any{
				"props": []any{"customer_name", "amount"},
				"query": map[string]any{"region": "W"},
			},
			want: []logicform.Row{
				{"customer_name": "Globex", "amount": 20},
				{"customer_name": "Acme", "amount": 15},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := map[string]any{"schema": "sales-order"}
			for k, v := range tt.raw {
				raw[k] = v
			}
			d, err := logicform.Of(raw, l, nil, s)
			if err != nil {
				t.Fatalf("Of: %v", err)
			}
			got, err := s.Aggregate(context.Background(), d)
			if err != nil {
				t.Fatalf("Aggregate: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
