package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// clickhouse renders SQL only; no driver is registered for it, so a store
// cannot open it. Use `sdb compile` to get statements for it.
type clickhouse struct{}

var clickhouseTypes = map[schema.PropertyType]string{
	schema.TypeNumber:     "Float64",
	schema.TypeCurrency:   "Decimal(18,4)",
	schema.TypePercentage: "Float64",
	schema.TypeBoolean:    "Bool",
	schema.TypeDate:       "Date",
	schema.TypeDatetime:   "DateTime",
	schema.TypeTimestamp:  "DateTime64(3)",
}

func (clickhouse) Name() string       { return "clickhouse" }
func (clickhouse) DriverName() string { return "" }

func (clickhouse) Quote(ident string) string { return doubleQuote(ident) }

func (clickhouse) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (clickhouse) DateBucket(expr string, g dates.Granularity) string {
	switch g {
	case dates.Week:
		return fmt.Sprintf("formatDateTime(toMonday(%s), '%%Y-%%m-%%d')", expr)
	case dates.Month:
		return fmt.Sprintf("formatDateTime(%s, '%%Y-%%m')", expr)
	case dates.Quarter:
		return fmt.Sprintf("concat(toString(toYear(%[1]s)), '-Q', toString(toQuarter(%[1]s)))", expr)
	case dates.Year:
		return fmt.Sprintf("toString(toYear(%s))", expr)
	default:
		return fmt.Sprintf("formatDateTime(%s, '%%Y-%%m-%%d')", expr)
	}
}

func (clickhouse) ColumnType(p *schema.Property) string {
	return "Nullable(" + typeFor(p, clickhouseTypes, "String") + ")"
}

func (clickhouse) SupportsLimitBy() bool { return true }

func (d clickhouse) CreateTable(s *schema.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.Quote(s.TableName()))
	fmt.Fprintf(&b, "\t%s String", d.Quote(schema.IDProperty))
	for _, p := range s.Properties {
		if p.ColumnName() == schema.IDProperty {
			continue
		}
		fmt.Fprintf(&b, ",\n\t%s %s", d.Quote(p.ColumnName()), d.ColumnType(p))
	}
	fmt.Fprintf(&b, "\n) ENGINE = MergeTree ORDER BY %s", d.Quote(schema.IDProperty))
	return b.String()
}
