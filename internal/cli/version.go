// File: internal/cli/version.go
// Author: momentics <momentics@gmail.com>

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at link time.
var Version = "dev"

// NewVersionCommand prints the build version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "qospoker", Version)
		},
	}
}
