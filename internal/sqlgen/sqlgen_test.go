package sqlgen

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/aidanlsb/semanticdb/internal/condition"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/testutil"
	"github.com/aidanlsb/semanticdb/internal/udf"
)

func mustDef(t *testing.T, raw map[string]any, funcs udf.Registry) *logicform.Definition {
	t.Helper()
	raw["schema"] = "sales-order"
	d, err := logicform.Of(raw, testutil.SalesLookup(t), funcs, nil)
	if err != nil {
		t.Fatalf("Of: %v", err)
	}
	return d
}

func mustDialect(t *testing.T, name string) dialect.Dialect {
	t.Helper()
	dl, err := dialect.Get(name)
	if err != nil {
		t.Fatalf("dialect.Get: %v", err)
	}
	return dl
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		raw     map[string]any
		want    string
		args    []any
	}{
		{
			name:    "grouped sum with filter",
			dialect: "sqlite",
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{"amount"},
				"query":   map[string]any{"status": "active"},
				"sort":    []any{map[string]any{"key": "amount", "dir": -1}},
				"limit":   2,
			},
			want: `SELECT "t"."region" AS "region", SUM("t"."amount") AS "amount" FROM "sales_order" AS "t" ` +
				`WHERE "t"."status" = ? GROUP BY "t"."region" ORDER BY "amount" DESC LIMIT 2`,
			args: []any{"active"},
		},
		{
			name:    "reference chain joins",
			dialect: "sqlite",
			raw: map[string]any{
				"groupby": []any{"customer_city_name"},
				"preds":   []any{"$count"},
			},
			want: `SELECT "t__customer__city"."name" AS "customer_city_name", COUNT(*) AS "count" FROM "sales_order" AS "t" ` +
				`LEFT JOIN "customer" AS "t__customer" ON "t__customer"."id" = "t"."customer" ` +
				`LEFT JOIN "city" AS "t__customer__city" ON "t__customer__city"."id" = "t__customer"."city" ` +
				`GROUP BY "t__customer__city"."name"`,
		},
		{
			name:    "postgres placeholders and having",
			dialect: "postgres",
			raw: map[string]any{
				"groupby": []any{"status"},
				"preds":   []any{"$count"},
				"query":   map[string]any{"amount": map[string]any{"$gte": 10}},
				"having":  map[string]any{"count": map[string]any{"$gt": 1}},
			},
			want: `SELECT "t"."status" AS "status", COUNT(*) AS "count" FROM "sales_order" AS "t" ` +
				`WHERE "t"."amount" >= $1 GROUP BY "t"."status" HAVING COUNT(*) > $2`,
			args: []any{10, 1},
		},
		{
			name:    "month bucket",
			dialect: "sqlite",
			raw: map[string]any{
				"groupby": []any{map[string]any{"_id": "order_date", "level": "month", "name": "month"}},
				"preds":   []any{map[string]any{"pred": "customer", "operator": "$uniq", "name": "buyers"}},
			},
			want: `SELECT strftime('%Y-%m', "t"."order_date") AS "month", COUNT(DISTINCT "t"."customer") AS "buyers" ` +
				`FROM "sales_order" AS "t" GROUP BY strftime('%Y-%m', "t"."order_date")`,
		},
		{
			name:    "listing with props and offset",
			dialect: "sqlite",
			raw: map[string]any{
				"props": []any{"note", "customer_name"},
				"skip":  5,
				"limit": 10,
			},
			want: `SELECT "t"."note" AS "note", "t__customer"."name" AS "customer_name" FROM "sales_order" AS "t" ` +
				`LEFT JOIN "customer" AS "t__customer" ON "t__customer"."id" = "t"."customer" LIMIT 10 OFFSET 5`,
		},
		{
			name:    "mysql backticks",
			dialect: "mysql",
			raw: map[string]any{
				"groupby": []any{"region"},
				"preds":   []any{map[string]any{"pred": "quantity", "operator": "$max"}},
			},
			want: "SELECT `t`.`region` AS `region`, MAX(`t`.`quantity`) AS `quantity_max` FROM `sales_order` AS `t` GROUP BY `t`.`region`",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := Build(mustDef(t, tt.raw, nil), mustDialect(t, tt.dialect), Options{})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if stmt.SQL != tt.want {
				t.Fatalf("SQL mismatch\nwant: %s\ngot:  %s", tt.want, stmt.SQL)
			}
			if diff := cmp.Diff(tt.args, stmt.Args, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("args mismatch (-want +got):\n%s", diff)
			}
			if stmt.PostProcess {
				t.Fatalf("unexpected post-process flag")
			}
		})
	}
}

func TestBuild_EnumSortByRank(t *testing.T) {
	stmt, err := Build(mustDef(t, map[string]any{
		"groupby": []any{"region"},
		"preds":   []any{"$count"},
		"sort":    []any{map[string]any{"key": "region", "dir": 1}},
	}, nil), mustDialect(t, "sqlite"), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `ORDER BY CASE "t"."region" WHEN ? THEN 0 WHEN ? THEN 1 WHEN ? THEN 2 ELSE 3 END ASC`
	if !strings.HasSuffix(stmt.SQL, want) {
		t.Fatalf("SQL = %s", stmt.SQL)
	}
	if diff := cmp.Diff([]any{"E", "W", "N"}, stmt.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_LimitBy(t *testing.T) {
	raw := func() map[string]any {
		return map[string]any{
			"groupby": []any{"region", "status"},
			"preds":   []any{"amount"},
			"sort":    []any{map[string]any{"key": "amount", "dir": -1}},
			"limitBy": map[string]any{"n": 1, "by": "region"},
			"limit":   5,
		}
	}

	ch, err := Build(mustDef(t, raw(), nil), mustDialect(t, "clickhouse"), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasSuffix(ch.SQL, `ORDER BY "amount" DESC LIMIT 1 BY "region" LIMIT 5`) || ch.PostProcess {
		t.Fatalf("clickhouse SQL = %s (post-process %v)", ch.SQL, ch.PostProcess)
	}

	lite, err := Build(mustDef(t, raw(), nil), mustDialect(t, "sqlite"), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(lite.SQL, "LIMIT") || !lite.PostProcess {
		t.Fatalf("sqlite SQL = %s (post-process %v)", lite.SQL, lite.PostProcess)
	}
}

func TestBuild_OmitPaging(t *testing.T) {
	stmt, err := Build(mustDef(t, map[string]any{
		"groupby": []any{"region"},
		"sort":    []any{map[string]any{"key": "region", "dir": -1}},
		"limit":   1,
	}, nil), mustDialect(t, "sqlite"), Options{OmitPaging: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(stmt.SQL, "ORDER BY") || strings.Contains(stmt.SQL, "LIMIT") {
		t.Fatalf("SQL = %s", stmt.SQL)
	}
}

func TestBuild_OmitHaving(t *testing.T) {
	stmt, err := Build(mustDef(t, map[string]any{
		"groupby": []any{"region"},
		"preds":   []any{"$count"},
		"query":   map[string]any{"amount": map[string]any{"$gte": 10}},
		"having":  map[string]any{"count": map[string]any{"$lt": 2}},
	}, nil), mustDialect(t, "sqlite"), Options{OmitHaving: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `SELECT "t"."region" AS "region", COUNT(*) AS "count" FROM "sales_order" AS "t" ` +
		`WHERE "t"."amount" >= ? GROUP BY "t"."region"`
	if diff := cmp.Diff(want, stmt.SQL); diff != "" {
		t.Fatalf("SQL mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{10}, stmt.Args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_CustomAggregate(t *testing.T) {
	funcs := udf.NewRegistry(&udf.Function{
		Name: "median",
		Kind: udf.Aggregate,
		SQL: func(dialect, column string, _ any) (string, []any, error) {
			return "percentile_cont(0.5) WITHIN GROUP (ORDER BY " + column + ")", nil, nil
		},
	})
	stmt, err := Build(mustDef(t, map[string]any{
		"groupby": []any{"region"},
		"preds":   []any{map[string]any{"pred": "amount", "operator": "$median", "name": "mid"}},
	}, funcs), mustDialect(t, "postgres"), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(stmt.SQL, `percentile_cont(0.5) WITHIN GROUP (ORDER BY "t"."amount") AS "mid"`) {
		t.Fatalf("SQL = %s", stmt.SQL)
	}
}

func TestSelect(t *testing.T) {
	l := testutil.SalesLookup(t)
	customer, _ := l.Get("customer")
	stmt, err := Select(customer, l, nil, map[string]any{"city": map[string]any{"country": "NL"}}, []string{"id"}, mustDialect(t, "postgres"), condition.Config{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	want := `SELECT "t"."id" AS "id" FROM "customer" AS "t" LEFT JOIN "city" AS "t__city" ON "t__city"."id" = "t"."city" WHERE "t__city"."country" = $1`
	if stmt.SQL != want {
		t.Fatalf("SQL mismatch\nwant: %s\ngot:  %s", want, stmt.SQL)
	}
}

func TestStoredColumns(t *testing.T) {
	l := testutil.SalesLookup(t)
	customer, _ := l.Get("customer")
	if diff := cmp.Diff([]string{"id", "name", "tier", "city"}, StoredColumns(customer)); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
}
