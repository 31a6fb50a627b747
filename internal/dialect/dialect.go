// Package dialect holds the per-database differences the SQL generator and
// store need: quoting, placeholders, date bucketing, column types and DDL.
package dialect

import (
	"fmt"
	"sort"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/aidanlsb/semanticdb/internal/dates"
	"github.com/aidanlsb/semanticdb/internal/schema"
)

// Dialect is one SQL backend.
type Dialect interface {
	// Name is the configuration name ("sqlite", "postgres", ...).
	Name() string
	// DriverName is the database/sql driver registered for this dialect.
	DriverName() string
	Quote(ident string) string
	Builder() sq.StatementBuilderType
	// DateBucket renders expr truncated to g, as the canonical label produced
	// by dates.Label.
	DateBucket(expr string, g dates.Granularity) string
	// ColumnType maps a property to its storage type.
	ColumnType(p *schema.Property) string
	// SupportsLimitBy reports native LIMIT n BY support.
	SupportsLimitBy() bool
	// CreateTable renders the DDL for a schema's table.
	CreateTable(s *schema.Schema) string
}

var registry = map[string]Dialect{
	"sqlite":     sqlite{},
	"postgres":   postgres{},
	"mysql":      mysql{},
	"clickhouse": clickhouse{},
}

var aliases = map[string]string{
	"sqlite3":    "sqlite",
	"postgresql": "postgres",
	"pg":         "postgres",
	"mariadb":    "mysql",
	"ch":         "clickhouse",
}

// Get returns the dialect registered under name.
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	d, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names lists the registered dialect names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func doubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// createTable renders a CREATE TABLE with an id primary key followed by
// every property column in declaration order.
func createTable(d Dialect, s *schema.Schema, idType, suffix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.Quote(s.TableName()))
	fmt.Fprintf(&b, "\t%s %s PRIMARY KEY", d.Quote(schema.IDProperty), idType)
	for _, p := range s.Properties {
		if p.ColumnName() == schema.IDProperty {
			continue
		}
		fmt.Fprintf(&b, ",\n\t%s %s", d.Quote(p.ColumnName()), d.ColumnType(p))
	}
	b.WriteString("\n)")
	b.WriteString(suffix)
	return b.String()
}

// typeFor resolves a property to a type from table, honoring primal_type.
func typeFor(p *schema.Property, table map[schema.PropertyType]string, fallback string) string {
	if p.PrimalType != "" {
		return p.PrimalType
	}
	if t, ok := table[p.Type]; ok {
		return t
	}
	return fallback
}
