package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/perfship/internal/adapters/signals"
	"github.com/bft-labs/perfship/internal/adapters/spool"
	"github.com/bft-labs/perfship/internal/cliconfig"
	"github.com/bft-labs/perfship/pkg/log"
	"github.com/bft-labs/perfship/pkg/perfship"
)

const helpDescription = `
Batch performance snapshots and ship them to the perfship ingest service.

Highlights:
  - Coalesces bursts of the same metric and skips keys reported recently.
  - Delivers one batch at a time with exponential-backoff retries.
  - Remembers what was delivered across restarts (file or pebble storage).
  - Configure via file, env (PERFSHIP_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  perfship send snapshots.ndjson --auth-key <api-key>
  cat snapshots.ndjson | perfship send -
  perfship watch --spool-dir /var/spool/perfship --metrics-addr :9464
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "perfship",
		Short:         "Batch performance snapshots and ship them to the ingest service",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	send := &cobra.Command{
		Use:   "send [file|-]",
		Short: "Deliver the snapshots of an NDJSON file (or stdin) and exit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			return runSend(cmd.Context(), cfg, src, cmd.InOrStdin())
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Watch a spool directory and deliver snapshots until terminated",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, &cfg, cfgPath); err != nil {
				return err
			}
			if cfg.SpoolDir == "" {
				return errors.New("spool-dir is required")
			}
			return runWatch(cmd.Context(), cfg)
		},
	}
	root.AddCommand(send, watch)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.perfship/config.toml)")

	flags.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "ingest service base URL")
	flags.StringVar(&cfg.AnalysisURL, "analysis-url", cfg.AnalysisURL, "analysis service base URL (enables analysis)")
	flags.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key for authentication")

	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "snapshots per batch")
	flags.IntVar(&cfg.MaxQueueSize, "max-queue-size", cfg.MaxQueueSize, "maximum batches waiting for delivery")
	flags.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "minimum time between two reports of the same key")
	flags.IntVar(&cfg.MaxRetry, "max-retry", cfg.MaxRetry, "retries after a failed delivery")
	flags.DurationVar(&cfg.BaseDelay, "base-delay", cfg.BaseDelay, "first retry delay, doubled on every retry")
	flags.BoolVar(&cfg.HoldInFlightDuringRetry, "hold-inflight-during-retry", cfg.HoldInFlightDuringRetry, "suppress keys of a failed batch until its retry ends")

	flags.StringVar(&cfg.StorageType, "storage-type", cfg.StorageType, "delivery history storage: session or persistent")
	flags.StringVar(&cfg.StorageBackend, "storage-backend", cfg.StorageBackend, "persistent storage backend: file or pebble")
	flags.StringVar(&cfg.StorageDir, "storage-dir", cfg.StorageDir, "persistent storage directory (default: $HOME/.perfship/state)")
	flags.StringVar(&cfg.StorageKey, "storage-key", cfg.StorageKey, "storage key of the delivery history")
	flags.IntVar(&cfg.MaxEntries, "max-entries", cfg.MaxEntries, "maximum keys kept in the delivery history")
	flags.Int64Var(&cfg.QuotaBytes, "quota-bytes", cfg.QuotaBytes, "storage quota in bytes (0 for none)")

	flags.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout")
	flags.DurationVar(&cfg.FlushTimeout, "flush-timeout", cfg.FlushTimeout, "flush time limit on hidden/unload signals")
	flags.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "directory of NDJSON snapshot files to watch")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: console or json")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "perfship: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies the config file and PERFSHIP_* variables to cfg
// without overriding flags given on the command line, then validates.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

// newAgent builds the logger, the optional metrics endpoint and the agent.
// The returned cleanup stops the metrics endpoint.
func newAgent(cfg cliconfig.Config, opts ...perfship.Option) (*perfship.Agent, zerolog.Logger, func(), error) {
	zl, err := cliconfig.Logger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, zl, nil, err
	}

	logCfg := cfg
	if logCfg.AuthKey != "" {
		logCfg.AuthKey = "*****"
	}
	zl.Debug().Interface("config", logCfg).Msg("configuration")

	opts = append(opts, perfship.WithLogger(log.NewZerologAdapterWithLogger(zl)))

	cleanup := func() {}
	if cfg.MetricsAddr != "" {
		opts = append(opts, perfship.WithRegisterer(prometheus.DefaultRegisterer))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zl.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server failed")
			}
		}()
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}
	}

	a, err := perfship.New(agentConfig(cfg), opts...)
	if err != nil {
		cleanup()
		return nil, zl, nil, fmt.Errorf("create agent: %w", err)
	}
	return a, zl, cleanup, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func agentConfig(cfg cliconfig.Config) perfship.Config {
	return perfship.Config{
		ServiceURL:              cfg.ServiceURL,
		AnalysisURL:             cfg.AnalysisURL,
		AuthKey:                 cfg.AuthKey,
		BatchSize:               cfg.BatchSize,
		MaxQueueSize:            cfg.MaxQueueSize,
		TTL:                     cfg.TTL,
		MaxRetry:                cfg.MaxRetry,
		BaseDelay:               cfg.BaseDelay,
		HoldInFlightDuringRetry: cfg.HoldInFlightDuringRetry,
		HTTPTimeout:             cfg.HTTPTimeout,
		FlushTimeout:            cfg.FlushTimeout,
		StorageType:             cfg.StorageType,
		StorageBackend:          cfg.StorageBackend,
		StorageDir:              cfg.StorageDir,
		StorageKey:              cfg.StorageKey,
		MaxEntries:              cfg.MaxEntries,
		QuotaBytes:              cfg.QuotaBytes,
		SpoolDir:                cfg.SpoolDir,
	}
}

func runSend(ctx context.Context, cfg cliconfig.Config, src string, stdin io.Reader) error {
	cfg.SpoolDir = ""

	var r io.Reader = stdin
	if src != "-" {
		f, err := os.Open(src)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	a, zl, cleanup, err := newAgent(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("start agent: %w", err)
	}
	res, decodeErr := spool.Decode(r, a.Report, log.NewZerologAdapterWithLogger(zl))
	stopErr := a.Stop()

	s := a.Stats().Reports
	zl.Info().
		Int("accepted", res.Accepted).
		Int("skipped", res.Skipped).
		Uint64("batches_delivered", s.BatchesDelivered).
		Uint64("batches_dropped", s.BatchesDropped).
		Msg("send finished")

	if decodeErr != nil {
		return decodeErr
	}
	if stopErr != nil {
		return fmt.Errorf("stop agent: %w", stopErr)
	}
	return nil
}

func runWatch(ctx context.Context, cfg cliconfig.Config) error {
	zl, err := cliconfig.Logger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	src := signals.NewOS(log.NewZerologAdapterWithLogger(zl))
	defer src.Close()

	a, zl, cleanup, err := newAgent(cfg, perfship.WithLifecycleSource(src))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unsub := src.Subscribe(func(ev perfship.LifecycleEvent) {
		if ev == perfship.EventUnload {
			cancel()
		}
	})
	defer unsub()

	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return fmt.Errorf("start agent: %w", err)
	}
	zl.Info().Str("spool_dir", cfg.SpoolDir).Msg("watching spool directory")

	<-ctx.Done()
	zl.Info().Msg("stopping")
	if err := a.Stop(); err != nil {
		return fmt.Errorf("stop agent: %w", err)
	}
	return nil
}
