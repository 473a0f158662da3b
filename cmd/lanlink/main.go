package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/lanlink/pkg/api"
	"github.com/cuemby/lanlink/pkg/config"
	"github.com/cuemby/lanlink/pkg/events"
	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/cuemby/lanlink/pkg/storage"
	"github.com/cuemby/lanlink/pkg/supervisor"
	"github.com/cuemby/lanlink/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lanlink",
	Short: "Lanlink - virtual LAN supervisor",
	Long: `Lanlink runs and supervises the helpers that put this machine on a
virtual LAN: the overlay edge client, the broadcast relay and a small file
server. It talks to the edge over its management port, lists the other
members of your group and classifies the NAT you are behind.

Run "lanlink serve" once; the other commands talk to it over its local API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Lanlink version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("api", "", "Address of the lanlink API (defaults to api.addr from config)")

	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads --config and applies --api
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if addr, _ := cmd.Flags().GetString("api"); addr != "" {
		cfg.API.Addr = addr
	}
	return cfg, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker supervisor and its local API",
	Long: `Run the worker supervisor in the foreground.

The supervisor starts no workers by default; start them with
"lanlink worker start" or list them with --start. On SIGINT or SIGTERM the
API stops accepting requests and every running worker is shut down.

Examples:
  # Serve with the default configuration
  lanlink serve

  # Join the overlay right away
  lanlink serve --start edge,broadcast`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSlice("start", nil, "Workers to start once the API is up")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	logger := log.WithComponent("serve")
	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, cfg.DataDir)

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go watchEvents(sub)

	sup := supervisor.New(cfg, supervisor.WithStore(store), supervisor.WithBroker(broker))
	metrics.RegisterComponent("supervisor", true, "")

	workers := make([]string, 0, len(types.KnownWorkers))
	for _, w := range types.KnownWorkers {
		workers = append(workers, w.String())
	}
	collector := metrics.NewCollector(sup.Registry(), workers)
	collector.Start()
	defer collector.Stop()

	ln, err := net.Listen("tcp", cfg.API.Addr)
	if err != nil {
		metrics.RegisterComponent("api", false, err.Error())
		return fmt.Errorf("failed to listen on %s: %w", cfg.API.Addr, err)
	}
	metrics.RegisterComponent("api", true, ln.Addr().String())

	srv := api.NewServer(sup)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	autostart, _ := cmd.Flags().GetStringSlice("start")
	for _, name := range autostart {
		if _, err := sup.Start(name, nil); err != nil {
			logger.Error().Str("worker", name).Err(err).Msg("Autostart failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("api", ln.Addr().String()).
		Str("version", Version).
		Msg("Lanlink is running, press Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("API server stopped")
	}

	metrics.UpdateComponent("api", false, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server did not shut down cleanly")
	}

	if err := sup.Shutdown(); err != nil {
		serveErr = multierr.Append(serveErr, fmt.Errorf("failed to stop workers: %w", err))
	}

	logger.Info().Msg("Shutdown complete")
	return serveErr
}

// watchEvents logs supervisor events and mirrors worker state into the
// component health registry until sub is closed
func watchEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		evt := logger.Info()
		switch ev.Type {
		case events.EventWorkerStarted:
			metrics.RegisterComponent(ev.Worker, true, ev.Message)
		case events.EventWorkerStopped:
			metrics.RemoveComponent(ev.Worker)
		case events.EventWorkerExited, events.EventEdgeUnresponsive:
			metrics.UpdateComponent(ev.Worker, false, ev.Message)
			evt = logger.Warn()
		case events.EventNATFailed:
			evt = logger.Warn()
		}

		evt.Str("event", string(ev.Type)).
			Str("worker", ev.Worker).
			Interface("metadata", ev.Metadata).
			Msg(ev.Message)
	}
}
