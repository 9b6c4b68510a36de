package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/virtualcam/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if !verbose {
				fmt.Fprintln(out, version.String())
				return
			}
			if _, err := version.Get().WriteTo(out); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print build metadata")
	return cmd
}
