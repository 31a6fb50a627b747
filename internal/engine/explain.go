package engine

import (
	"fmt"
	"strings"

	"github.com/aidanlsb/semanticdb/internal/logicform"
)

// Markdown renders the report as a markdown document for the explain
// command.
func (r *Report) Markdown() string {
	d := r.Definition
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", d.BaseSchema().ID)
	if d.IsSimple() {
		b.WriteString("Row listing")
		if props := d.Props(); len(props) > 0 {
			fmt.Fprintf(&b, " of `%s`", strings.Join(props, "`, `"))
		}
		b.WriteString(".\n\n")
	}

	if dims := d.Groupby(); len(dims) > 0 {
		b.WriteString("## Groups\n\n")
		for _, dim := range dims {
			fmt.Fprintf(&b, "- `%s` from `%s`", dim.Name, dim.ID)
			if dim.Level != "" {
				fmt.Fprintf(&b, " by %s", dim.Level)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if preds := d.Preds(); len(preds) > 0 {
		b.WriteString("## Aggregates\n\n")
		for _, p := range preds {
			field := p.Field
			if field == "" {
				field = "*"
			}
			fmt.Fprintf(&b, "- `%s` = %s(`%s`)\n", p.Name, strings.TrimPrefix(p.Operator, "$"), field)
		}
		b.WriteString("\n")
	}

	if r.Localized {
		b.WriteString("Referenced slowly changing properties are read from the values recorded on each event.\n\n")
	}

	if r.Statement != nil {
		fmt.Fprintf(&b, "## SQL (%s)\n\n```sql\n%s\n```\n\n", r.Dialect, r.Statement.SQL)
		if len(r.Statement.Args) > 0 {
			b.WriteString("Arguments:\n\n")
			for i, a := range r.Statement.Args {
				fmt.Fprintf(&b, "%d. `%v`\n", i+1, a)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("## Document scan\n\nMatching documents are grouped and aggregated in memory.\n\n")
	}
	if r.PostProcessed() {
		b.WriteString("Having, sort, skip, limit-by and limit are applied to the fetched rows.\n\n")
	}

	if len(r.Constraints) > 0 {
		b.WriteString("## Totality\n\n")
		if !r.Totality {
			b.WriteString("Disabled; bounds shown for reference.\n\n")
		}
		b.WriteString("| Dimension | Bounded | Values |\n|---|---|---|\n")
		for _, c := range r.Constraints {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Dimension, yesNo(c.Bounded), constraintValues(c))
		}
	}
	return b.String()
}

func constraintValues(c logicform.RelationConstraint) string {
	if !c.Bounded {
		return c.Reason
	}
	parts := make([]string, len(c.Totality))
	for i, v := range c.Totality {
		parts[i] = fmt.Sprint(v)
	}
	s := strings.Join(parts, ", ")
	if len(c.Excluded) > 0 {
		ex := make([]string, len(c.Excluded))
		for i, v := range c.Excluded {
			ex[i] = fmt.Sprint(v)
		}
		s += " (excluded: " + strings.Join(ex, ", ") + ")"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
