package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/aidanlsb/semanticdb/internal/engine"
	"github.com/aidanlsb/semanticdb/internal/lastquery"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/logicform"
	"github.com/aidanlsb/semanticdb/internal/ui"
)

// queryFlags is shared by the commands that take a logic form.
type queryFlags struct {
	inline   string
	schemaID string
	last     bool
}

func (f *queryFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.inline, "lf", "e", "", "Logic form given inline as JSON or YAML")
	fs.StringVarP(&f.schemaID, "schema", "s", "", "Base schema id (overrides the document's schema)")
	fs.BoolVar(&f.last, "last", false, "Use the most recently run logic form")
}

// read decodes the logic form from --lf, --last, a file argument, or stdin
// ("-"). It also returns the text it decoded.
func (f *queryFlags) read(cmd *cobra.Command, args []string, projectDir string) (map[string]any, string, error) {
	var data []byte
	var source, lastSchema string
	switch {
	case f.last:
		lq, err := lastquery.Read(projectDir)
		if err != nil {
			if errors.Is(err, lastquery.ErrNoLastQuery) {
				return nil, "", withCode(ErrMissingArgument, err, "Run a logic form with 'sdb run' first")
			}
			return nil, "", withCode(ErrFileReadError, err, "")
		}
		data, source, lastSchema = []byte(lq.Source), "--last", lq.Schema
	case f.inline != "":
		data, source = []byte(f.inline), "--lf"
	case len(args) == 1 && args[0] == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, "", withCode(ErrFileReadError, err, "")
		}
		data, source = b, "stdin"
	case len(args) == 1:
		b, err := os.ReadFile(args[0])
		if err != nil {
			if os.IsNotExist(err) {
				return nil, "", withCode(ErrFileNotFound, err, "")
			}
			return nil, "", withCode(ErrFileReadError, err, "")
		}
		data, source = b, args[0]
	default:
		return nil, "", withCode(ErrMissingArgument, fmt.Errorf("no logic form given"), "Pass a file, '-' for stdin, or --lf '{...}'")
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, "", withCode(ErrInvalidInput, fmt.Errorf("failed to parse logic form from %s: %w", source, err), "")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw["schema"]; !ok && lastSchema != "" {
		raw["schema"] = lastSchema
	}
	if f.schemaID != "" {
		raw["schema"] = f.schemaID
	}
	return raw, string(data), nil
}

func (a *app) newRunCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Run a logic form and print its rows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, source, err := qf.read(cmd, args, a.cfg.Dir())
			if err != nil {
				return a.fail(cmd, err)
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return a.fail(cmd, err)
			}
			defer s.Close()

			start := time.Now()
			plan, err := s.engine.Compile(raw)
			if err != nil {
				return a.fail(cmd, err)
			}
			rows, err := s.engine.Execute(cmd.Context(), plan)
			if err != nil {
				return a.fail(cmd, execError(err))
			}
			elapsed := time.Since(start).Milliseconds()
			a.rememberQuery(plan, source, len(rows))

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				data := map[string]any{"rows": rows}
				outputSuccessWithWarnings(out, data, nil, &Meta{Count: len(rows), QueryTimeMs: elapsed})
				return nil
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, ui.Hint("No rows."))
				return nil
			}
			tbl := ui.NewResultsTable(ui.NewDisplayContext(out), outputColumns(plan.Definition))
			tbl.AddRows(rows)
			fmt.Fprintln(out, tbl.Render())
			fmt.Fprintln(out, ui.Hint(fmt.Sprintf("%s in %dms", ui.Count(len(rows), "row", "rows"), elapsed)))
			return nil
		},
	}
	qf.register(cmd.Flags())
	return cmd
}

// rememberQuery saves source as the last query. Failures are logged only.
func (a *app) rememberQuery(plan *engine.Plan, source string, rows int) {
	if strings.TrimSpace(source) == "" {
		return
	}
	err := lastquery.Write(a.cfg.Dir(), &lastquery.LastQuery{
		Source:    source,
		Schema:    plan.Definition.BaseSchema().ID,
		Timestamp: time.Now(),
		Rows:      rows,
	})
	if err != nil {
		logging.Warn().Err(err).Msg("could not save last query")
	}
}

// outputColumns orders table columns: dimensions, then aggregates, then
// listed properties.
func outputColumns(d *logicform.Definition) []string {
	var cols []string
	for _, dim := range d.Groupby() {
		cols = append(cols, dim.Name)
	}
	for _, p := range d.Preds() {
		cols = append(cols, p.Name)
	}
	return append(cols, d.Props()...)
}

type compileResult struct {
	Schema      string `json:"schema"`
	Dialect     string `json:"dialect,omitempty"`
	SQL         string `json:"sql,omitempty"`
	Args        []any  `json:"args,omitempty"`
	PostProcess bool   `json:"post_process"`
	Totality    bool   `json:"totality"`
	Localized   bool   `json:"localized"`
}

func newCompileResult(p *engine.Plan) compileResult {
	r := compileResult{
		Schema:      p.Definition.BaseSchema().ID,
		Dialect:     p.Dialect,
		PostProcess: p.PostProcessed(),
		Totality:    p.Totality,
		Localized:   p.Localized,
	}
	if p.Statement != nil {
		r.SQL, r.Args = p.Statement.SQL, p.Statement.Args
	}
	return r
}

func (a *app) newCompileCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "compile [file|-]",
		Short: "Print the SQL a logic form compiles to",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _, err := qf.read(cmd, args, a.cfg.Dir())
			if err != nil {
				return a.fail(cmd, err)
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return a.fail(cmd, err)
			}
			defer s.Close()
			if err := a.requireSQL(s, "compile"); err != nil {
				return a.fail(cmd, err)
			}

			plan, err := s.engine.Compile(raw)
			if err != nil {
				return a.fail(cmd, err)
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput {
				outputSuccess(out, newCompileResult(plan), nil)
				return nil
			}
			fmt.Fprintln(out, plan.Statement.SQL)
			for i, arg := range plan.Statement.Args {
				fmt.Fprintln(out, ui.Hint(fmt.Sprintf("  $%d = %v", i+1, arg)))
			}
			if plan.PostProcessed() {
				fmt.Fprintln(out, ui.Hint("-- sort and paging are applied after fetching"))
			}
			return nil
		},
	}
	qf.register(cmd.Flags())
	return cmd
}

type constraintResult struct {
	Dimension string `json:"dimension"`
	Bounded   bool   `json:"bounded"`
	Values    []any  `json:"values,omitempty"`
	Excluded  []any  `json:"excluded,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func (a *app) newCheckCmd() *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "check [file|-]",
		Short: "Validate a logic form and show its totality bounds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _, err := qf.read(cmd, args, a.cfg.Dir())
			if err != nil {
				return a.fail(cmd, err)
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return a.fail(cmd, err)
			}
			defer s.Close()

			report, err := s.engine.Check(cmd.Context(), raw)
			if err != nil {
				return a.fail(cmd, execError(err))
			}

			constraints := make([]constraintResult, len(report.Constraints))
			var warnings []Warning
			for i, c := range report.Constraints {
				constraints[i] = constraintResult{
					Dimension: c.Dimension,
					Bounded:   c.Bounded,
					Values:    c.Totality,
					Excluded:  c.Excluded,
					Reason:    c.Reason,
				}
				if report.Totality && !c.Bounded {
					warnings = append(warnings, Warning{
						Code:    WarnTotalitySkipped,
						Message: fmt.Sprintf("dimension %q is unbounded (%s); missing groups will not be filled", c.Dimension, c.Reason),
					})
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				data := map[string]any{
					"valid":       true,
					"plan":        newCompileResult(report.Plan),
					"constraints": constraints,
				}
				outputSuccessWithWarnings(out, data, warnings, nil)
				return nil
			}
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Valid logic form on %s", ui.SchemaID(report.Definition.BaseSchema().ID))))
			for _, c := range constraints {
				if c.Bounded {
					fmt.Fprintf(out, "  %s: %s\n", ui.Bold.Render(c.Dimension), joinValues(c.Values))
				} else {
					fmt.Fprintf(out, "  %s: %s\n", ui.Bold.Render(c.Dimension), ui.Hint("unbounded, "+c.Reason))
				}
			}
			for _, w := range warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.Warning(w.Message))
			}
			return nil
		},
	}
	qf.register(cmd.Flags())
	return cmd
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = ui.FormatValue(v)
	}
	return strings.Join(parts, ", ")
}

func (a *app) newExplainCmd() *cobra.Command {
	var qf queryFlags
	var raw bool
	cmd := &cobra.Command{
		Use:   "explain [file|-]",
		Short: "Describe how a logic form will run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, _, err := qf.read(cmd, args, a.cfg.Dir())
			if err != nil {
				return a.fail(cmd, err)
			}
			s, err := a.openSession(cmd.Context())
			if err != nil {
				return a.fail(cmd, err)
			}
			defer s.Close()

			report, err := s.engine.Check(cmd.Context(), lf)
			if err != nil {
				return a.fail(cmd, execError(err))
			}
			md := report.Markdown()

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				outputSuccess(out, map[string]any{"markdown": md}, nil)
				return nil
			}
			display := ui.NewDisplayContext(out)
			if raw || !display.IsTTY {
				fmt.Fprint(out, md)
				return nil
			}
			rendered, err := ui.RenderMarkdown(md, display.TermWidth)
			if err != nil {
				return a.fail(cmd, err)
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
	qf.register(cmd.Flags())
	cmd.Flags().BoolVar(&raw, "raw", false, "Print markdown without terminal rendering")
	return cmd
}
