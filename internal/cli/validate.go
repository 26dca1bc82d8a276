package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/legwork-ci/legwork/internal/pipeline"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Parse the pipeline and print the expanded matrix legs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			def, err := pipeline.Load(cfg.PipelinePath())
			if err != nil {
				return err
			}
			legs, err := pipeline.Expand(def)
			if err != nil {
				return err
			}
			printLegs(cmd.OutOrStdout(), legs)
			return nil
		},
	}
}

func printLegs(out io.Writer, legs []pipeline.ResolvedLeg) {
	fmt.Fprintf(out, "%d legs\n", len(legs))
	for _, leg := range legs {
		names := make([]string, 0, len(leg.Stages))
		for _, ref := range leg.Stages {
			names = append(names, ref.ID)
		}
		fmt.Fprintf(out, "  %-24s %s", leg.Name, strings.Join(names, " → "))
		if !leg.When.IsZero() {
			fmt.Fprintf(out, "  [%s]", leg.When.Describe())
		}
		fmt.Fprintln(out)
	}
}
