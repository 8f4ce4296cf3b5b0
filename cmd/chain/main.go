// Command chain runs the shielded-transaction indexing pipeline: a
// Follower, a bounded pool of Fetchers, and a single serial Applier.
// Startup parses config, wires a context cancelled by shutdown
// signals, calls run(ctx, cfg), and exits non-zero on error.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/masp-indexer/core/internal/applier"
	"github.com/masp-indexer/core/internal/chainclient/cometbft"
	"github.com/masp-indexer/core/internal/config"
	"github.com/masp-indexer/core/internal/errs"
	"github.com/masp-indexer/core/internal/fetcher"
	"github.com/masp-indexer/core/internal/follower"
	"github.com/masp-indexer/core/internal/logging"
	"github.com/masp-indexer/core/internal/metrics"
	"github.com/masp-indexer/core/internal/storage"
	"github.com/masp-indexer/core/internal/tree"
	"github.com/masp-indexer/core/internal/witness"
	"github.com/masp-indexer/core/pkg/sapling"
	"github.com/masp-indexer/core/pkg/types"
)

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Run the shielded-transaction indexing pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(v)
			return run(cmd.Context(), cfg)
		},
	}
	config.BindFlags(cmd, v)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "chain: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.Verbosity)
	if err != nil {
		return fmt.Errorf("chain: init logger: %w", err)
	}
	defer log.Sync()

	mtr := metrics.New(prometheus.DefaultRegisterer)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("chain: metrics server stopped", "reason", err)
		}
	}()
	defer metricsSrv.Close()

	store, err := storage.New(ctx, &storage.Config{DatabaseURL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("chain: connect storage: %w", err)
	}
	defer store.Close()

	hasher := sapling.NewMiMCHasher()

	committedTree, err := store.LoadTree(ctx, hasher)
	if err != nil {
		return fmt.Errorf("chain: load commitment tree: %w", err)
	}
	if committedTree == nil {
		committedTree = sapling.NewCommitmentTree(hasher, sapling.Depth)
	}
	t := tree.Load(committedTree)

	committedWitnesses, err := store.LoadWitnesses(ctx, hasher)
	if err != nil {
		return fmt.Errorf("chain: load witnesses: %w", err)
	}
	w := witness.Load(hasher, sapling.Depth, committedWitnesses)

	if committedTree.Size() == 0 && len(committedWitnesses) > 0 {
		return errs.ErrInconsistentState
	}

	chain, err := cometbft.New(cfg.CometBFTURL, nil)
	if err != nil {
		return fmt.Errorf("chain: dial chain client: %w", err)
	}

	exit := &atomic.Bool{}

	lastCommitted, ok, err := store.LastCommittedHeight(ctx)
	if err != nil {
		return fmt.Errorf("chain: read last committed height: %w", err)
	}
	startHeight := types.Height(cfg.StartingBlockHeight)
	if ok {
		startHeight, err = lastCommitted.Next()
		if err != nil {
			return err
		}
	} else if startHeight == 0 {
		startHeight = 1
	}

	f := follower.New(chain, log, cfg.Interval, types.Height(cfg.StartingBlockHeight), exit)
	fe := fetcher.New(chain, cfg.MaxConcurrentFetches, cfg.Interval, exit)

	applierCfg := &applier.Config{RetryInterval: cfg.Interval, RootsToCheck: cfg.NumberOfWitnessMapRootsToCheck}
	ap := applier.New(chain, store, hasher, sapling.Depth, t, w, applierCfg, log, exit)
	ap.SetMetrics(mtr)

	heights := make(chan types.Height)
	fetched := make(chan fetcher.Fetched)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.Run(gctx, heights) })
	g.Go(func() error { return fe.Run(gctx, heights, fetched) })
	g.Go(func() error { return ap.Run(gctx, fetched, startHeight) })

	if err := g.Wait(); err != nil && errs.KindOf(err) != errs.KindShutdown {
		return err
	}
	log.Infow("chain: shutdown complete")
	return nil
}
