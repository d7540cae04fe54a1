package main

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the steeze-functions command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steeze-functions",
		Short: "Function registry with cached compilation and sequential pipelines",
	}
	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewCheckCommand())
	return cmd
}
