// File: internal/cli/hold.go
// Author: momentics <momentics@gmail.com>

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/api"
)

// NewHoldCommand keeps a lease until the command is interrupted.
func NewHoldCommand(opts *RootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "hold <path> <value>",
		Short: "Hold a QoS request until interrupted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}

			released := make(chan api.Release, 1)
			p, err := opts.newPoker(func(rel api.Release) { released <- rel })
			if err != nil {
				return err
			}
			defer p.Shutdown()

			token, err := p.RequestHandleTimeout(args[0], value, timeout)
			if err != nil {
				return err
			}
			defer token.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "holding %s = %d\n", args[0], value)

			select {
			case rel := <-released:
				opts.Logger.Info("hold ended", releaseFields(rel)...)
			case <-cmd.Context().Done():
				opts.Logger.Info("hold interrupted", zap.String("path", args[0]))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "release the request after this long (0 holds until interrupted)")
	return cmd
}
