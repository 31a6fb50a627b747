// Package schema handles schema loading, lookup and validation.
package schema

import (
	"strings"

	"github.com/gosimple/slug"
)

// Kind distinguishes entity tables (customers, products) from event tables
// (orders, visits) that reference them.
type Kind string

const (
	KindEntity Kind = "entity"
	KindEvent  Kind = "event"
)

// PropertyType represents the type of a property.
type PropertyType string

const (
	TypeString     PropertyType = "string"
	TypeNumber     PropertyType = "number"
	TypeCurrency   PropertyType = "currency"
	TypePercentage PropertyType = "percentage"
	TypeBoolean    PropertyType = "boolean"
	TypeEnum       PropertyType = "enum"
	TypeDate       PropertyType = "date"
	TypeDatetime   PropertyType = "datetime"
	TypeTimestamp  PropertyType = "timestamp"
	TypeObject     PropertyType = "object"
)

// IDProperty is the implicit primary key of every schema.
const IDProperty = "id"

// Schema represents one table definition loaded from the schema file.
type Schema struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name,omitempty"`
	Description string      `yaml:"description,omitempty"`
	Kind        Kind        `yaml:"kind,omitempty"`
	Table       string      `yaml:"table,omitempty"` // Overrides the table name derived from ID
	Properties  []*Property `yaml:"properties"`
	Hierarchy   *Hierarchy  `yaml:"hierarchy,omitempty"`

	byName map[string]*Property
	byID   map[string]*Property
}

// Hierarchy describes a parent chain on an entity schema (e.g. city -> province).
type Hierarchy struct {
	Parent string `yaml:"parent"` // Reference property pointing at the parent level
}

// Property defines a column within a schema.
type Property struct {
	Name       string       `yaml:"name"`
	ID         string       `yaml:"id,omitempty"`
	Type       PropertyType `yaml:"type"`
	Ref        string       `yaml:"ref,omitempty"`         // For object types: referenced schema ID
	SCD        bool         `yaml:"scd,omitempty"`         // Slowly changing; localized into referencing events
	Values     []string     `yaml:"values,omitempty"`      // For enum types, in rank order
	PrimalType string       `yaml:"primal_type,omitempty"` // Storage type hint for dialect type mapping
	Column     string       `yaml:"column,omitempty"`      // Overrides the column name (defaults to Name)

	// Transient properties are added at load time, never read from the file.
	Transient     bool   `yaml:"-"`
	LocalizedFrom string `yaml:"-"` // Chain expression a localized SCD property replaces ("customer_tier")
}

// ColumnName returns the physical column name.
func (p *Property) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return p.Name
}

// IsReference reports whether the property points at another schema.
func (p *Property) IsReference() bool {
	return p.Type == TypeObject && p.Ref != ""
}

// IsNumeric reports whether values compare numerically.
func (p *Property) IsNumeric() bool {
	switch p.Type {
	case TypeNumber, TypeCurrency, TypePercentage:
		return true
	}
	return false
}

// IsTemporal reports whether values compare as instants.
func (p *Property) IsTemporal() bool {
	switch p.Type {
	case TypeDate, TypeDatetime, TypeTimestamp:
		return true
	}
	return false
}

// IsEnum reports whether the property has a declared, ranked value domain.
func (p *Property) IsEnum() bool {
	return p.Type == TypeEnum && len(p.Values) > 0
}

// EnumRank returns the declared position of v, or -1 when v is not declared.
func (p *Property) EnumRank(v string) int {
	for i, declared := range p.Values {
		if declared == v {
			return i
		}
	}
	return -1
}

// index (re)builds the name and id maps. Called by the loader and after
// transient properties are added.
func (s *Schema) index() {
	s.byName = make(map[string]*Property, len(s.Properties))
	s.byID = make(map[string]*Property, len(s.Properties))
	for _, p := range s.Properties {
		s.byName[p.Name] = p
		if p.ID != "" {
			s.byID[p.ID] = p
		}
	}
}

// Property returns the property with the given name or ID.
func (s *Schema) Property(idOrName string) (*Property, bool) {
	if s.byName == nil {
		s.index()
	}
	if p, ok := s.byName[idOrName]; ok {
		return p, true
	}
	p, ok := s.byID[idOrName]
	return p, ok
}

// Rank returns the declaration position of a property, or -1.
// Composite keys concatenate group values in rank order.
func (s *Schema) Rank(name string) int {
	for i, p := range s.Properties {
		if p.Name == name || (p.ID != "" && p.ID == name) {
			return i
		}
	}
	return -1
}

// ReferenceProps returns every reference property in declaration order.
func (s *Schema) ReferenceProps() []*Property {
	var refs []*Property
	for _, p := range s.Properties {
		if p.IsReference() {
			refs = append(refs, p)
		}
	}
	return refs
}

// IsEntity reports whether this schema describes an entity table.
func (s *Schema) IsEntity() bool { return s.Kind == KindEntity }

// IsEvent reports whether this schema describes an event table.
func (s *Schema) IsEvent() bool { return s.Kind == KindEvent }

// TableName returns the physical table name.
func (s *Schema) TableName() string {
	if s.Table != "" {
		return s.Table
	}
	return strings.ReplaceAll(slug.Make(s.ID), "-", "_")
}

// SCDLookup maps chain expressions to the localized property that replaces
// them, e.g. "customer_tier" -> "customertier".
func (s *Schema) SCDLookup() map[string]string {
	out := make(map[string]string)
	for _, p := range s.Properties {
		if p.LocalizedFrom != "" {
			out[p.LocalizedFrom] = p.Name
		}
	}
	return out
}

func (s *Schema) addTransientProperty(p *Property) {
	if _, exists := s.Property(p.Name); exists {
		return
	}
	p.Transient = true
	s.Properties = append(s.Properties, p)
	s.index()
}
