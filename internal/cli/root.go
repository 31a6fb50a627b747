// Package cli implements the command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aidanlsb/semanticdb/internal/config"
	"github.com/aidanlsb/semanticdb/internal/logging"
	"github.com/aidanlsb/semanticdb/internal/ui"
)

// app holds the global flags and the resolved config of one invocation.
type app struct {
	configPath string
	jsonOutput bool
	logLevel   string
	verbose    bool

	cfg *config.Config
}

// NewRootCmd builds the sdb command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "sdb",
		Short: "sdb - a semantic layer for analytical queries",
		Long: `sdb compiles logic forms (declarative analytical queries with groupings,
aggregates, having, sort and paging) against a typed schema, and runs them on
a SQL database or an in-memory document store.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "init", "version", "help", "completion":
				a.configureLogging(nil)
				return nil
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return withCode(ErrConfigInvalid, err, "Check sdb.toml or pass --config")
			}
			a.cfg = cfg
			a.configureLogging(cfg)
			ui.ConfigureTheme(cfg.UI.Accent, cfg.UI.CodeTheme)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to sdb.toml (default: nearest sdb.toml, or $SDB_CONFIG)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format (for scripts)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level on stderr (overrides [log] level)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Shorthand for --log-level debug")

	root.AddCommand(
		a.newInitCmd(),
		a.newSchemaCmd(),
		a.newLoadCmd(),
		a.newRunCmd(),
		a.newCompileCmd(),
		a.newCheckCmd(),
		a.newExplainCmd(),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the CLI and reports errors on stderr, or as a JSON envelope
// on stdout when --json is set.
func Execute() error {
	root := NewRootCmd()
	return run(root, os.Stdout, os.Stderr)
}

func run(root *cobra.Command, stdout, stderr io.Writer) error {
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil || errors.Is(err, errSilent) {
		return err
	}
	jsonFlag, _ := root.PersistentFlags().GetBool("json")
	if jsonFlag {
		outputError(stdout, classify(err))
		return err
	}
	fmt.Fprintln(stderr, ui.Error(err.Error()))
	if s := classify(err).Suggestion; s != "" {
		fmt.Fprintln(stderr, ui.Hint(s))
	}
	return err
}

func (a *app) configureLogging(cfg *config.Config) {
	level := a.logLevel
	if level == "" && cfg != nil {
		level = cfg.Log.Level
	}
	if a.verbose {
		level = "debug"
	}
	logging.Configure(os.Stderr, level, isatty.IsTerminal(os.Stderr.Fd()))
}

// fail reports err according to the output mode.
func (a *app) fail(cmd *cobra.Command, err error) error {
	if a.jsonOutput {
		outputError(cmd.OutOrStdout(), classify(err))
		return errSilent
	}
	return err
}
