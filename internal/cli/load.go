package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/semanticdb/internal/config"
	"github.com/aidanlsb/semanticdb/internal/dialect"
	"github.com/aidanlsb/semanticdb/internal/store"
	"github.com/aidanlsb/semanticdb/internal/ui"
)

func (a *app) newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [dataset]",
		Short: "Create tables and insert a YAML or JSON dataset",
		Long: `Creates missing tables for every schema and inserts the dataset (a map of
schema id to rows) in one transaction. Without an argument the [backend] data
file is loaded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.DataPath()
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return a.fail(cmd, withCode(ErrMissingArgument, fmt.Errorf("no dataset given"), "Pass a dataset file or set [backend] data"))
			}
			if a.cfg.Backend.Kind != config.BackendSQL {
				return a.fail(cmd, withCode(ErrNotSupported,
					fmt.Errorf("load needs a sql backend, configured backend is %q", a.cfg.Backend.Kind),
					"The document store reads [backend] data on every command"))
			}
			if a.cfg.DSN() == ":memory:" {
				return a.fail(cmd, withCode(ErrNotSupported,
					fmt.Errorf("load into an in-memory database does not persist"),
					"Set [backend] dsn to a file, or set [backend] data"))
			}

			lookup, err := a.loadSchemas()
			if err != nil {
				return a.fail(cmd, err)
			}
			ds, err := store.ReadDataset(path)
			if err != nil {
				return a.fail(cmd, err)
			}
			dl, err := dialect.Get(a.cfg.Backend.Dialect)
			if err != nil {
				return a.fail(cmd, withCode(ErrConfigInvalid, err, ""))
			}
			st, err := store.Open(cmd.Context(), dl, a.cfg.DSN(), lookup, nil)
			if err != nil {
				return a.fail(cmd, execError(err))
			}
			defer st.Close()

			var spinner *ui.Spinner
			if !a.jsonOutput {
				spinner = ui.NewSpinner(cmd.ErrOrStderr(), "Loading "+path)
				spinner.Start()
			}
			res, err := st.Load(cmd.Context(), ds)
			if spinner != nil {
				spinner.Stop()
			}
			if err != nil {
				return a.fail(cmd, execError(err))
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				outputSuccess(out, map[string]any{"rows": res.Rows}, &Meta{Count: res.Total()})
				return nil
			}
			ids := make([]string, 0, len(res.Rows))
			for id := range res.Rows {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "  %s %s\n", ui.SchemaID(id), ui.Hint(ui.Count(res.Rows[id], "row", "rows")))
			}
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Loaded %s", ui.Count(res.Total(), "row", "rows"))))
			return nil
		},
	}
}
