package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/semanticdb/internal/schema"
	"github.com/aidanlsb/semanticdb/internal/ui"
)

type schemaSummary struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Table       string `json:"table"`
	Description string `json:"description,omitempty"`
	Properties  int    `json:"properties"`
}

type propertyInfo struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Ref       string   `json:"ref,omitempty"`
	SCD       bool     `json:"scd,omitempty"`
	Values    []string `json:"values,omitempty"`
	Transient bool     `json:"transient,omitempty"`
}

func (a *app) newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [id]",
		Short: "List schemas or show one schema's properties",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lookup, err := a.loadSchemas()
			if err != nil {
				return a.fail(cmd, err)
			}
			if len(args) == 0 {
				return a.listSchemas(cmd, lookup)
			}
			s, ok := lookup.Get(args[0])
			if !ok {
				return a.fail(cmd, fmt.Errorf("%w: %s", schema.ErrUnknownSchema, args[0]))
			}
			return a.showSchema(cmd, s)
		},
	}
}

func (a *app) listSchemas(cmd *cobra.Command, lookup schema.Lookup) error {
	ids := lookup.IDs()
	summaries := make([]schemaSummary, 0, len(ids))
	for _, id := range ids {
		s, _ := lookup.Get(id)
		summaries = append(summaries, schemaSummary{
			ID:          s.ID,
			Kind:        string(s.Kind),
			Table:       s.TableName(),
			Description: s.Description,
			Properties:  len(s.Properties),
		})
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		outputSuccess(out, map[string]any{"schemas": summaries}, &Meta{Count: len(summaries)})
		return nil
	}
	rows := make([]map[string]any, len(summaries))
	for i, s := range summaries {
		rows[i] = map[string]any{"id": ui.SchemaID(s.ID), "kind": s.Kind, "table": s.Table, "properties": s.Properties}
	}
	tbl := ui.NewResultsTable(ui.NewDisplayContext(out), []string{"id", "kind", "table", "properties"})
	tbl.AddRows(rows)
	fmt.Fprintln(out, tbl.Render())
	fmt.Fprintln(out, ui.Hint(ui.Count(len(summaries), "schema", "schemas")))
	return nil
}

func (a *app) showSchema(cmd *cobra.Command, s *schema.Schema) error {
	props := make([]propertyInfo, 0, len(s.Properties))
	for _, p := range s.Properties {
		props = append(props, propertyInfo{
			Name:      p.Name,
			Type:      string(p.Type),
			Ref:       p.Ref,
			SCD:       p.SCD,
			Values:    p.Values,
			Transient: p.Transient,
		})
	}

	out := cmd.OutOrStdout()
	if a.jsonOutput {
		outputSuccess(out, map[string]any{
			"id":         s.ID,
			"kind":       string(s.Kind),
			"table":      s.TableName(),
			"properties": props,
		}, nil)
		return nil
	}

	fmt.Fprintln(out, ui.Header(s.ID))
	if s.Description != "" {
		fmt.Fprintln(out, ui.Hint(s.Description))
	}
	rows := make([]map[string]any, len(props))
	for i, p := range props {
		var notes []string
		if p.Ref != "" {
			notes = append(notes, "→ "+p.Ref)
		}
		if p.SCD {
			notes = append(notes, "scd")
		}
		if len(p.Values) > 0 {
			notes = append(notes, strings.Join(p.Values, " < "))
		}
		if p.Transient {
			notes = append(notes, "snapshot")
		}
		rows[i] = map[string]any{"name": p.Name, "type": p.Type, "notes": strings.Join(notes, ", ")}
	}
	tbl := ui.NewResultsTable(ui.NewDisplayContext(out), []string{"name", "type", "notes"})
	tbl.AddRows(rows)
	fmt.Fprintln(out, tbl.Render())
	return nil
}
