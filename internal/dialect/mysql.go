package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

type mysql struct{}

var mysqlTypes = map[schema.PropertyType]string{
	schema.TypeNumber:     "DOUBLE",
	schema.TypeCurrency:   "DECIMAL(18,4)",
	schema.TypePercentage: "DOUBLE",
	schema.TypeBoolean:    "TINYINT(1)",
	schema.TypeDate:       "DATE",
	schema.TypeDatetime:   "DATETIME",
	schema.TypeTimestamp:  "TIMESTAMP",
}

func (mysql) Name() string       { return "mysql" }
func (mysql) DriverName() string { return "mysql" }

func (mysql) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysql) Builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (mysql) DateBucket(expr string, g dates.Granularity) string {
	switch g {
	case dates.Week:
		return fmt.Sprintf("DATE_FORMAT(DATE_SUB(%[1]s, INTERVAL WEEKDAY(%[1]s) DAY), '%%Y-%%m-%%d')", expr)
	case dates.Month:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m')", expr)
	case dates.Quarter:
		return fmt.Sprintf("CONCAT(YEAR(%[1]s), '-Q', QUARTER(%[1]s))", expr)
	case dates.Year:
		return fmt.Sprintf("CAST(YEAR(%s) AS CHAR)", expr)
	default:
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d')", expr)
	}
}

func (mysql) ColumnType(p *schema.Property) string {
	return typeFor(p, mysqlTypes, "VARCHAR(255)")
}

func (mysql) SupportsLimitBy() bool { return false }

func (d mysql) CreateTable(s *schema.Schema) string {
	return createTable(d, s, "VARCHAR(64)", " ENGINE=InnoDB")
}
