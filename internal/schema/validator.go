package schema

import (
	"fmt"
	"strings"
)

// Issue is a single problem found while validating schemas.
type Issue struct {
	Schema   string
	Property string
	Message  string
}

func (i Issue) String() string {
	if i.Property == "" {
		return fmt.Sprintf("schema '%s': %s", i.Schema, i.Message)
	}
	return fmt.Sprintf("schema '%s' property '%s': %s", i.Schema, i.Property, i.Message)
}

// InvalidError aggregates validation issues.
type InvalidError struct {
	Issues []Issue
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return "invalid schema: " + strings.Join(msgs, "; ")
}

var knownTypes = map[PropertyType]bool{
	TypeString: true, TypeNumber: true, TypeCurrency: true, TypePercentage: true,
	TypeBoolean: true, TypeEnum: true, TypeDate: true, TypeDatetime: true,
	TypeTimestamp: true, TypeObject: true,
}

// Validate checks every schema in the lookup for structural problems.
func (l Lookup) Validate() []Issue {
	var issues []Issue
	for _, id := range l.IDs() {
		s := l[id]
		if strings.TrimSpace(s.ID) == "" {
			issues = append(issues, Issue{Schema: s.Name, Message: "missing id"})
		}
		if s.Kind != KindEntity && s.Kind != KindEvent {
			issues = append(issues, Issue{Schema: s.ID, Message: fmt.Sprintf("unknown kind %q", s.Kind)})
		}

		names := make(map[string]bool, len(s.Properties))
		for _, p := range s.Properties {
			if p == nil {
				issues = append(issues, Issue{Schema: s.ID, Message: "empty property entry"})
				continue
			}
			if strings.TrimSpace(p.Name) == "" {
				issues = append(issues, Issue{Schema: s.ID, Message: "property without name"})
				continue
			}
			if names[p.Name] {
				issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: "duplicate property name"})
			}
			names[p.Name] = true

			if !knownTypes[p.Type] {
				issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: fmt.Sprintf("unknown type %q", p.Type)})
				continue
			}
			if p.Type == TypeEnum && len(p.Values) == 0 {
				issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: "enum property requires values"})
			}
			if p.Ref != "" {
				if p.Type != TypeObject {
					issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: "ref is only valid on object properties"})
				} else if _, ok := l.Get(p.Ref); !ok {
					issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: fmt.Sprintf("references unknown schema %q", p.Ref)})
				}
			}
			if p.SCD && !s.IsEntity() {
				issues = append(issues, Issue{Schema: s.ID, Property: p.Name, Message: "scd is only valid on entity schemas"})
			}
		}

		if s.Hierarchy != nil {
			p, ok := s.Property(s.Hierarchy.Parent)
			if !ok || !p.IsReference() {
				issues = append(issues, Issue{Schema: s.ID, Message: fmt.Sprintf("hierarchy parent %q must be a reference property", s.Hierarchy.Parent)})
			}
		}
	}
	return issues
}
