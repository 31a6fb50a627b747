package querydef

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"
)

func TestFlatten(t *testing.T) {
	q := Of(map[string]any{
		"status": "active",
		"amount": map[string]any{"$lte": 100, "$gte": 10},
		"customer": map[string]any{
			"tier": map[string]any{"$in": []any{"gold", "silver"}},
			"city": map[string]any{"name": "Oslo"},
		},
		"tags":  []any{"x", "y"},
		"$or":   []any{map[string]any{"a": 1}, map[string]any{"b": 2}},
		"date":  map[string]any{"year": 2025, "month": 2},
		"empty": map[string]any{},
	})

	want := []QueryItem{
		{Path: "amount", Operator: "$gte", Value: 10},
		{Path: "amount", Operator: "$lte", Value: 100},
		{Path: "customer.city.name", Operator: "$eq", Value: "Oslo"},
		{Path: "customer.tier", Operator: "$in", Value: []any{"gold", "silver"}},
		{Path: "date", Operator: "$eq", Value: map[string]any{"year": 2025, "month": 2}},
		{Path: "status", Operator: "$eq", Value: "active"},
		{Path: "tags", Operator: "$in", Value: []any{"x", "y"}},
	}
	if diff := cmp.Diff(want, q.Flatten()); diff != "" {
		t.Fatalf("Flatten mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_LeafDiscrimination(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		isLeaf bool
	}{
		{"operator map", map[string]any{"$gt": 1, "$lt": 3}, true},
		{"mixed keys", map[string]any{"$gt": 1, "name": "x"}, false},
		{"logical only", map[string]any{"$or": []any{}}, false},
		{"empty map", map[string]any{}, false},
		{"scalar", 3, true},
		{"list", []any{1, 2}, true},
		{"calendar", map[string]any{"year": 2025}, true},
		{"malformed token", map[string]any{"$1x": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, isLeaf := Parse(tt.in).(*Leaf)
			if isLeaf != tt.isLeaf {
				t.Fatalf("Parse(%v) leaf=%v, want %v", tt.in, isLeaf, tt.isLeaf)
			}
		})
	}
}

func TestHasDuplicateQueryPath(t *testing.T) {
	if Of(map[string]any{"a": map[string]any{"$gt": 1, "$lt": 5}}).HasDuplicateQueryPath() {
		t.Fatalf("operators on a single leaf are not duplicates")
	}
	dup := Of(map[string]any{
		"a.b": 1,
		"a":   map[string]any{"b": map[string]any{"$ne": 2}},
	})
	if !dup.HasDuplicateQueryPath() {
		t.Fatalf("expected a.b to be reported as duplicated")
	}
}

func TestAddQueryItem(t *testing.T) {
	t.Run("absent path", func(t *testing.T) {
		q := Of(nil).AddQueryItem(QueryItem{Path: "a", Operator: "$gt", Value: 1})
		if diff := cmp.Diff(map[string]any{"a": map[string]any{"$gt": 1}}, q.Raw()); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("eq then eq widens", func(t *testing.T) {
		q := Of(nil).
			AddQueryItem(QueryItem{Path: "a", Operator: "$eq", Value: 1}).
			AddQueryItem(QueryItem{Path: "a", Operator: "$eq", Value: 2})
		if diff := cmp.Diff(map[string]any{"$in": []any{1, 2}}, q.Raw()["a"]); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("scalar shorthand widens", func(t *testing.T) {
		q := Of(map[string]any{"a": "x"}).AddQueryItem(QueryItem{Path: "a", Operator: "$eq", Value: "y"})
		if diff := cmp.Diff(map[string]any{"$in": []any{"x", "y"}}, q.Raw()["a"]); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("range then eq overwrites", func(t *testing.T) {
		q := Of(nil).
			AddQueryItem(QueryItem{Path: "a", Operator: "$gt", Value: 1}).
			AddQueryItem(QueryItem{Path: "a", Operator: "$eq", Value: 5})
		if diff := cmp.Diff(map[string]any{"$eq": 5}, q.Raw()["a"]); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("operator maps merge and incoming wins", func(t *testing.T) {
		q := Of(map[string]any{"a": map[string]any{"$gt": 1, "$lt": 10}}).
			AddQueryItem(QueryItem{Path: "a", Operator: "$gt", Value: 3}).
			AddQueryItem(QueryItem{Path: "a", Operator: "$ne", Value: 7})
		want := map[string]any{"$gt": 3, "$lt": 10, "$ne": 7}
		if diff := cmp.Diff(want, q.Raw()["a"]); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCollectQueryObjectAtDepth(t *testing.T) {
	q := Of(map[string]any{
		"a":     map[string]any{"b": map[string]any{"c": 1}},
		"a.b.d": map[string]any{"$gt": 2},
		"a.x":   3,
		"ab":    4,
	})
	want := map[string]any{
		"c": map[string]any{"$eq": 1},
		"d": map[string]any{"$gt": 2},
	}
	if diff := cmp.Diff(want, q.CollectQueryObjectAtDepth("a.b")); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if got := q.CollectQueryObjectAtDepth("zzz"); len(got) != 0 {
		t.Fatalf("expected nothing under zzz, got %v", got)
	}
}

func genQueryTree(t *rapid.T, depth int) map[string]any {
	keys := []string{"a", "b", "c", "d.e"}
	n := rapid.IntRange(0, 3).Draw(t, "fields")
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key := rapid.SampledFrom(keys).Draw(t, "key")
		switch kind := rapid.IntRange(0, 2).Draw(t, "kind"); {
		case kind == 0:
			out[key] = rapid.IntRange(-5, 5).Draw(t, "scalar")
		case kind == 1 || depth == 0:
			op := rapid.SampledFrom([]string{"$eq", "$gt", "$lte", "$ne"}).Draw(t, "op")
			out[key] = map[string]any{op: rapid.IntRange(-5, 5).Draw(t, "value")}
		default:
			out[key] = genQueryTree(t, depth-1)
		}
	}
	return out
}

func TestFlatten_Idempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := genQueryTree(t, 2)
		first := Of(raw).Flatten()
		second := Of(raw).Flatten()
		if diff := cmp.Diff(first, second); diff != "" {
			t.Fatalf("flatten not stable (-first +second):\n%s", diff)
		}
	})
}

func TestAddQueryItem_Laws(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		path := rapid.SampledFrom([]string{"a", "b.c", "region"}).Draw(t, "path")
		x := rapid.IntRange(-100, 100).Draw(t, "x")
		y := rapid.IntRange(-100, 100).Draw(t, "y")

		widened := Of(nil).
			AddQueryItem(QueryItem{Path: path, Operator: OpEq, Value: x}).
			AddQueryItem(QueryItem{Path: path, Operator: OpEq, Value: y})
		if diff := cmp.Diff(map[string]any{OpIn: []any{x, y}}, widened.Raw()[path]); diff != "" {
			t.Fatalf("widen law violated (-want +got):\n%s", diff)
		}

		op := rapid.SampledFrom([]string{OpGt, OpGte, OpLt, OpLte, OpNe, OpIn}).Draw(t, "op")
		overwritten := Of(nil).
			AddQueryItem(QueryItem{Path: path, Operator: op, Value: x}).
			AddQueryItem(QueryItem{Path: path, Operator: OpEq, Value: y})
		if diff := cmp.Diff(map[string]any{OpEq: y}, overwritten.Raw()[path]); diff != "" {
			t.Fatalf("overwrite law violated for %s (-want +got):\n%s", op, diff)
		}
	})
}

func ExampleQueryDefinition_AddQueryItem() {
	q := Of(nil).
		AddQueryItem(QueryItem{Path: "region", Operator: "$eq", Value: "E"}).
		AddQueryItem(QueryItem{Path: "region", Operator: "$eq", Value: "W"})
	fmt.Println(q.Raw()["region"])
	// Output: map[$in:[E W]]
}
