package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aidanlsb/semanticdb/internal/config"
	"github.com/aidanlsb/semanticdb/internal/ui"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default sdb.toml",
		Long: `Writes sdb.toml with default settings into dir (default: the current
directory). An existing file is left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return a.fail(cmd, withCode(ErrInvalidInput, err, ""))
			}
			if info, err := os.Stat(abs); err == nil && !info.IsDir() {
				return a.fail(cmd, withCode(ErrInvalidInput, fmt.Errorf("%s is not a directory", abs), ""))
			}

			path := filepath.Join(abs, config.FileName)
			created, err := config.CreateDefault(path)
			if err != nil {
				return a.fail(cmd, withCode(ErrFileReadError, err, ""))
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				outputSuccess(out, map[string]any{"path": path, "created": created}, nil)
				return nil
			}
			if !created {
				fmt.Fprintln(out, ui.Warning(fmt.Sprintf("%s already exists, left unchanged", path)))
				return nil
			}
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Created %s", path)))
			fmt.Fprintln(out, ui.Hint("Next: write schema.yaml, then 'sdb load <dataset>'"))
			return nil
		},
	}
}
