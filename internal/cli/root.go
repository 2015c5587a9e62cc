// File: internal/cli/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package cli implements the qospoker command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/control"
)

// RootOptions is shared by every subcommand.
type RootOptions struct {
	Viper  *viper.Viper
	Logger *zap.Logger
}

// NewRootCommand creates the qospoker command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Viper: viper.New()}
	control.SetDefaults(opts.Viper)

	cmd := &cobra.Command{
		Use:           "qospoker",
		Short:         "Grant bounded-lifetime PM QoS requests",
		Long:          "qospoker opens kernel QoS control nodes, writes a value and keeps the request in force for a duration, for the lifetime of a lease, or as configured by the daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.Logger != nil {
				opts.Logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "path to a YAML config file")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "json", "log format (json|console)")
	flags.Int("cpu", -1, "pin the worker thread to this CPU (-1 disables)")
	bindFlags(opts.Viper, flags, "config", "log-level", "log-format", "cpu")
	control.BindEnv(opts.Viper)

	cmd.AddCommand(NewPokeCommand(opts))
	cmd.AddCommand(NewHoldCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

func (o *RootOptions) load() error {
	if path := strings.TrimSpace(o.Viper.GetString("config")); path != "" {
		o.Viper.SetConfigFile(path)
		if err := o.Viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	logger, err := control.NewLogger(o.Viper.GetString("log-level"), o.Viper.GetString("log-format"))
	if err != nil {
		return err
	}
	o.Logger = logger
	return nil
}
