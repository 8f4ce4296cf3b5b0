// Command block-index runs the periodic binary fuse xor filter builder
// against the same storage the chain command populates.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/masp-indexer/core/internal/blockindex"
	"github.com/masp-indexer/core/internal/config"
	"github.com/masp-indexer/core/internal/logging"
	"github.com/masp-indexer/core/internal/metrics"
	"github.com/masp-indexer/core/internal/storage"
)

func main() {
	v := viper.New()
	var buildInterval time.Duration
	cmd := &cobra.Command{
		Use:   "block-index",
		Short: "Run the periodic block-index filter builder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(v)
			return run(cmd.Context(), cfg, buildInterval)
		},
	}
	config.BindFlags(cmd, v)
	cmd.Flags().DurationVar(&buildInterval, "build-interval", blockindex.DefaultInterval, "block-index build interval")

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "block-index: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, buildInterval time.Duration) error {
	log, err := logging.New(cfg.Verbosity)
	if err != nil {
		return fmt.Errorf("block-index: init logger: %w", err)
	}
	defer log.Sync()

	mtr := metrics.New(prometheus.DefaultRegisterer)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("block-index: metrics server stopped", "reason", err)
		}
	}()
	defer metricsSrv.Close()

	store, err := storage.New(ctx, &storage.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("block-index: connect storage: %w", err)
	}
	defer store.Close()

	builder := blockindex.New(store, log, buildInterval)
	builder.SetMetrics(mtr)

	if err := builder.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Infow("block-index: shutdown complete")
	return nil
}
