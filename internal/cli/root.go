// Package cli wires the legwork commands. Each subcommand lives in its own
// file and builds its collaborators from the project configuration under
// .legwork/.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/legwork-ci/legwork/internal/config"
)

// NewRootCommand assembles the full command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "legwork",
		Short:         "Run matrix CI pipelines defined in legwork.yaml",
		Long:          "legwork expands a declarative pipeline into matrix legs and runs\nthem against push and tag events, locally or behind a webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("project", "p", ".", "project directory containing legwork.yaml")
	root.AddCommand(
		newInitCommand(),
		newValidateCommand(),
		newRunCommand(),
		newSecretCommand(),
		newServeCommand(),
		newHistoryCommand(),
	)
	return root
}

// Execute runs the CLI and returns the terminal error, if any.
func Execute() error {
	return NewRootCommand().Execute()
}

func projectDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString("project")
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("cli: resolve project dir: %w", err)
	}
	return abs, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, err := projectDir(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(dir)
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the .legwork directory with a default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir(cmd)
			if err != nil {
				return err
			}
			if err := config.InitLegworkDir(dir); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", filepath.Join(dir, config.LegworkDir))
			return nil
		},
	}
}
