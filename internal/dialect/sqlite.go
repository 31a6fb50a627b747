package dialect

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

type sqlite struct{}

var sqliteTypes = map[schema.PropertyType]string{
	schema.TypeNumber:     "REAL",
	schema.TypeCurrency:   "REAL",
	schema.TypePercentage: "REAL",
	schema.TypeBoolean:    "INTEGER",
}

func (sqlite) Name() string       { return "sqlite" }
func (sqlite) DriverName() string { return "sqlite" }

func (sqlite) Quote(ident string) string { return doubleQuote(ident) }

func (sqlite) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (sqlite) DateBucket(expr string, g dates.Granularity) string {
	switch g {
	case dates.Week:
		return fmt.Sprintf("date(%[1]s, '-' || ((CAST(strftime('%%w', %[1]s) AS INTEGER) + 6) %% 7) || ' days')", expr)
	case dates.Month:
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", expr)
	case dates.Quarter:
		return fmt.Sprintf("strftime('%%Y', %[1]s) || '-Q' || ((CAST(strftime('%%m', %[1]s) AS INTEGER) + 2) / 3)", expr)
	case dates.Year:
		return fmt.Sprintf("strftime('%%Y', %s)", expr)
	default:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", expr)
	}
}

func (sqlite) ColumnType(p *schema.Property) string {
	return typeFor(p, sqliteTypes, "TEXT")
}

func (sqlite) SupportsLimitBy() bool { return false }

func (d sqlite) CreateTable(s *schema.Schema) string {
	return createTable(d, s, "TEXT", "")
}
