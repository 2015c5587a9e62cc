// File: internal/cli/serve.go
// Author: momentics <momentics@gmail.com>

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
	"github.com/momentics/hioload-qos/facade"
	"github.com/momentics/hioload-qos/internal/daemon"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// NewServeCommand runs the daemon: configured holds and boosts, metrics and
// debug endpoints, and config hot reload.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep configured QoS requests in force and serve metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("metrics-listen", "127.0.0.1:9477", "address for /metrics, /healthz and /debug/state (empty disables)")
	bindFlags(opts.Viper, cmd.Flags(), "metrics-listen")
	return cmd
}

func serve(ctx context.Context, opts *RootOptions, out io.Writer) error {
	logger := opts.Logger
	store, err := control.NewConfigStore(opts.Viper)
	if err != nil {
		return err
	}
	cfg := store.Snapshot()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pcfg := facade.DefaultConfig()
	pcfg.Logger = logger
	pcfg.CPUAffinity = cfg.CPU
	pcfg.MaxEvents = cfg.MaxEvents
	pcfg.Metrics = control.NewMetrics(reg)
	pcfg.OnRelease = func(rel api.Release) { logger.Info("qos request released", releaseFields(rel)...) }
	poker, err := facade.New(pcfg)
	if err != nil {
		return err
	}
	defer poker.Shutdown()

	d := daemon.New(poker, logger)
	defer d.Close()
	if err := d.Apply(cfg); err != nil {
		logger.Warn("initial config applied partially", zap.Error(err))
	}

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	poker.RegisterProbes(probes)
	probes.RegisterProbe("daemon.holds", func() any { return d.Holds() })

	if path := opts.Viper.ConfigFileUsed(); path != "" {
		watcher, err := control.NewWatcher(path, logger)
		if err != nil {
			return err
		}
		defer watcher.Close()
		store.OnReload(func(c control.Config) {
			if err := d.Apply(c); err != nil {
				logger.Warn("reloaded config applied partially", zap.Error(err))
			}
		})
		watcher.RegisterReloadHook(func() {
			if err := store.Reload(); err != nil {
				logger.Error("config reload rejected", zap.Error(err))
			}
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsListen != "" {
		ln, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.MetricsListen, err)
		}
		srv := &http.Server{
			Handler:           daemon.NewRouter(d, reg, probes),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		logger.Info("http listening", zap.String("addr", ln.Addr().String()))
		fmt.Fprintf(out, "listening on %s\n", ln.Addr())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Strings("holds", d.Holds()))
		return nil
	})
	return g.Wait()
}
