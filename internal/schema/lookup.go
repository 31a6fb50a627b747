package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownSchema indicates a schema ID that is not in the lookup.
	ErrUnknownSchema = errors.New("unknown schema")
	// ErrUnknownProperty indicates a property (or chain segment) that cannot be resolved.
	ErrUnknownProperty = errors.New("unknown property")
)

// Lookup resolves schema IDs to schema definitions. It is passed explicitly to
// every component that needs to follow references.
type Lookup map[string]*Schema

// NewLookup indexes the given schemas by ID.
func NewLookup(schemas ...*Schema) Lookup {
	l := make(Lookup, len(schemas))
	for _, s := range schemas {
		s.index()
		l[s.ID] = s
	}
	return l
}

// Get returns the schema with the given ID.
func (l Lookup) Get(id string) (*Schema, bool) {
	s, ok := l[id]
	return s, ok
}

// IDs returns all schema IDs, sorted.
func (l Lookup) IDs() []string {
	ids := make([]string, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Segment is one hop of a resolved chain expression.
type Segment struct {
	Schema   *Schema   // Schema the property is declared on
	Property *Property // Property resolved on Schema
}

// Chain is a resolved chain expression such as "customer_tier" or "customer.city.name".
type Chain []Segment

// Leaf returns the final property of the chain.
func (c Chain) Leaf() *Property {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1].Property
}

// IsLocal reports whether the chain stays on the base schema.
func (c Chain) IsLocal() bool { return len(c) == 1 }

// SplitChain tokenizes a chain expression on '_' and '.'.
func SplitChain(expr string) []string {
	return strings.FieldsFunc(expr, func(r rune) bool { return r == '_' || r == '.' })
}

// ResolveChain resolves a chain expression starting at base. Property names may
// themselves contain underscores; the longest matching name wins at each hop.
func (l Lookup) ResolveChain(base *Schema, expr string) (Chain, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base schema", ErrUnknownSchema)
	}
	if p, ok := base.Property(expr); ok {
		return Chain{{Schema: base, Property: p}}, nil
	}
	if expr == IDProperty {
		return Chain{{Schema: base, Property: &Property{Name: IDProperty, Type: TypeString}}}, nil
	}
	tokens := SplitChain(expr)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrUnknownProperty)
	}
	chain, err := l.resolveTokens(base, tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %q on schema %q", err, expr, base.ID)
	}
	return chain, nil
}

func (l Lookup) resolveTokens(s *Schema, tokens []string) (Chain, error) {
	var lastErr error = ErrUnknownProperty
	for n := len(tokens); n >= 1; n-- {
		name := strings.Join(tokens[:n], "_")
		p, ok := s.Property(name)
		if !ok && name == IDProperty {
			p, ok = &Property{Name: IDProperty, Type: TypeString}, true
		}
		if !ok {
			continue
		}
		seg := Segment{Schema: s, Property: p}
		if n == len(tokens) {
			return Chain{seg}, nil
		}
		if !p.IsReference() {
			continue
		}
		ref, ok := l.Get(p.Ref)
		if !ok {
			lastErr = ErrUnknownSchema
			continue
		}
		rest, err := l.resolveTokens(ref, tokens[n:])
		if err != nil {
			lastErr = err
			continue
		}
		return append(Chain{seg}, rest...), nil
	}
	return nil, lastErr
}

// PropertyFollowChain returns the leaf property of a chain expression.
func (l Lookup) PropertyFollowChain(base *Schema, expr string) (*Property, error) {
	chain, err := l.ResolveChain(base, expr)
	if err != nil {
		return nil, err
	}
	return chain.Leaf(), nil
}

// RefereeSchema returns the schema a reference property on base points at.
func (l Lookup) RefereeSchema(base *Schema, propName string) (*Schema, bool) {
	if base == nil {
		return nil, false
	}
	p, ok := base.Property(propName)
	if !ok || !p.IsReference() {
		return nil, false
	}
	return l.Get(p.Ref)
}

// EnrichRelatedSCDProps adds a localized transient property to every event
// schema for each SCD property of an entity it references. A reference
// "customer" to a schema with SCD property "tier" yields "customertier".
func (l Lookup) EnrichRelatedSCDProps() {
	for _, id := range l.IDs() {
		s := l[id]
		if !s.IsEvent() {
			continue
		}
		for _, refProp := range s.ReferenceProps() {
			ref, ok := l.Get(refProp.Ref)
			if !ok {
				continue
			}
			for _, p := range ref.Properties {
				if !p.SCD {
					continue
				}
				name := refProp.Name + p.Name
				chain := refProp.Name + "_" + p.Name
				if existing, ok := s.Property(name); ok {
					if existing.LocalizedFrom == "" {
						existing.LocalizedFrom = chain
					}
					continue
				}
				s.addTransientProperty(&Property{
					Name:          name,
					Type:          p.Type,
					Ref:           p.Ref,
					Values:        append([]string(nil), p.Values...),
					PrimalType:    p.PrimalType,
					LocalizedFrom: chain,
				})
			}
		}
	}
}
