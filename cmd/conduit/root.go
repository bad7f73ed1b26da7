package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "conduit",
		Short:         "Conduit runs CI pipelines",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newTriggerCmd())

	return cmd
}
