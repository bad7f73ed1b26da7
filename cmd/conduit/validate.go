package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/run-ci/conduit/pipeline"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [pipeline file]",
		Short: "Check a pipeline file for problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pipeline.DefaultFile
			if len(args) == 1 {
				path = args[0]
			}

			spec, err := pipeline.Load(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%v: pipeline %q with %v steps\n",
				path, spec.Name, len(spec.Steps))

			return nil
		},
	}
}
