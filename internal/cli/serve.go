package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/bridge"
	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/logger"
	"github.com/gzhole/gameblocker/internal/metrics"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket bridge for the page relay",
	Long: `Serve the detector to a page relay over WebSocket.

Each connection to /ws is one document context. The relay sends navigate,
key and loaded messages and receives a single block message per session.
/healthz and the metrics endpoint are served on the same address.

  gameblocker serve --listen 127.0.0.1:7878`,
	RunE: serveCommand,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from settings)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if serveListen != "" {
		s.Listen = serveListen
	}

	log, err := buildLogger(s)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := listSource(ctx, s, log)
	if err != nil {
		return err
	}

	audit, err := logger.NewAuditLogger(s.AuditLogPath)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer audit.Close()

	opts := bridge.Options{
		Loader:      config.NewLoader(src, log, m),
		Sink:        audit.Sink(log),
		Logger:      log,
		Metrics:     m,
		Gatherer:    reg,
		MetricsPath: s.MetricsPath,
	}
	if s.PollNavigation {
		opts.PollInterval = s.PollInterval.Duration
	}
	srv := bridge.NewServer(opts)

	log.Info("starting gameblocker",
		zap.String("version", Version),
		zap.String("lists_dir", s.ListsDir),
		zap.String("lists_url", s.ListsURL),
		zap.Bool("poll_navigation", s.PollNavigation))
	return srv.ListenAndServe(ctx, s.Listen)
}

// listSource builds the document source for s. Directory sources are
// cached and, when enabled, invalidated by a watcher that lives until ctx
// ends.
func listSource(ctx context.Context, s *config.Settings, log *zap.Logger) (config.Source, error) {
	src := config.NewSource(s)
	if s.ListsURL != "" {
		return src, nil
	}

	if err := os.MkdirAll(s.ListsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create lists directory: %w", err)
	}
	if !s.WatchLists {
		return src, nil
	}

	cache := config.NewCachingSource(src)
	w, err := config.NewWatcher(s.ListsDir, cache, log)
	if err != nil {
		log.Warn("lists watcher unavailable, reading lists uncached", zap.Error(err))
		return src, nil
	}
	w.Start()
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return cache, nil
}
