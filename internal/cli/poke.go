// File: internal/cli/poke.go
// Author: momentics <momentics@gmail.com>

package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-qos/api"
)

// releaseGrace bounds how long poke waits past the requested duration.
const releaseGrace = time.Second

// NewPokeCommand issues one timed request and waits until it is withdrawn.
func NewPokeCommand(opts *RootOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "poke <path> <value>",
		Short: "Write value to a QoS node and withdraw it after a duration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1])
			if err != nil {
				return err
			}
			if duration <= 0 {
				return errors.New("--duration must be positive")
			}

			released := make(chan api.Release, 1)
			p, err := opts.newPoker(func(rel api.Release) { released <- rel })
			if err != nil {
				return err
			}
			defer p.Shutdown()

			p.RequestTimed(args[0], value, duration)

			deadline := time.NewTimer(duration + releaseGrace)
			defer deadline.Stop()
			select {
			case rel := <-released:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d held for %s (%s)\n", rel.Path, rel.Value, rel.Held.Round(time.Millisecond), rel.Reason)
				return nil
			case <-deadline.C:
				return fmt.Errorf("%s: request was not granted, see log", args[0])
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
	cmd.Flags().DurationVarP(&duration, "duration", "d", time.Second, "how long the request stays in force")
	return cmd
}
