package dialect

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

type postgres struct{}

var postgresTypes = map[schema.PropertyType]string{
	schema.TypeNumber:     "DOUBLE PRECISION",
	schema.TypeCurrency:   "NUMERIC(18,4)",
	schema.TypePercentage: "DOUBLE PRECISION",
	schema.TypeBoolean:    "BOOLEAN",
	schema.TypeDate:       "DATE",
	schema.TypeDatetime:   "TIMESTAMP",
	schema.TypeTimestamp:  "TIMESTAMPTZ",
}

func (postgres) Name() string       { return "postgres" }
func (postgres) DriverName() string { return "pgx" }

func (postgres) Quote(ident string) string { return doubleQuote(ident) }

func (postgres) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (postgres) DateBucket(expr string, g dates.Granularity) string {
	ts := fmt.Sprintf("CAST(%s AS TIMESTAMP)", expr)
	switch g {
	case dates.Week:
		return fmt.Sprintf("to_char(date_trunc('week', %s), 'YYYY-MM-DD')", ts)
	case dates.Month:
		return fmt.Sprintf("to_char(%s, 'YYYY-MM')", ts)
	case dates.Quarter:
		return fmt.Sprintf(`to_char(%s, 'YYYY-"Q"Q')`, ts)
	case dates.Year:
		return fmt.Sprintf("to_char(%s, 'YYYY')", ts)
	default:
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", ts)
	}
}

func (postgres) ColumnType(p *schema.Property) string {
	return typeFor(p, postgresTypes, "TEXT")
}

func (postgres) SupportsLimitBy() bool { return false }

func (d postgres) CreateTable(s *schema.Schema) string {
	return createTable(d, s, "TEXT", "")
}
