package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/suspectuso/drop-minter/internal/api"
	"github.com/suspectuso/drop-minter/internal/blockfrost"
	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/config"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/notifier"
	"github.com/suspectuso/drop-minter/internal/reconcile"
	"github.com/suspectuso/drop-minter/internal/storage"
	"github.com/suspectuso/drop-minter/internal/telegram"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the deposit address and fulfill payments",
		Long: `Start the reconcile loop, the status API and, if BOT_TOKEN is set,
the operator bot.

Startup fails if the configuration is invalid, the watched address cannot be
decoded, the catalog cannot be read, or Blockfrost or the minting service is
unreachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(os.Stdout, rootOpts.Verbose)
			slog.SetDefault(log)
			return runService(cmd.Context(), config.Load(), log)
		},
	}
}

func runService(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	watch, err := cardano.ParseAddress(cfg.WatchAddress)
	if err != nil {
		return fmt.Errorf("WATCH_ADDRESS: %w", err)
	}
	if (watch.Network() == cardano.MainnetID) != (cfg.Network == "mainnet") {
		return fmt.Errorf("WATCH_ADDRESS is not a %s address", cfg.Network)
	}
	policyKeyHash, err := cardano.Deriver{}.PaymentKeyHash(cfg.WatchAddress)
	if err != nil {
		return fmt.Errorf("WATCH_ADDRESS: %w", err)
	}

	catalog, err := minter.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", "path", cfg.CatalogPath, "variants", catalog.Len())

	// Initialize storage
	store, err := storage.New(cfg.DBPath, cfg.SeenCacheSize)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Collaborators must be reachable before the first cycle
	indexer := blockfrost.NewClient(cfg.BlockfrostBaseURL, cfg.BlockfrostProjectID, cfg.BlockfrostRPS)
	if err := indexer.Health(ctx); err != nil {
		return fmt.Errorf("blockfrost: %w", err)
	}
	log.Info("blockfrost client initialized", "base_url", cfg.BlockfrostBaseURL)

	mint := minter.NewClient(cfg.MinterURL, cfg.MinterToken, policyKeyHash)
	if err := mint.Health(ctx); err != nil {
		return fmt.Errorf("minting service: %w", err)
	}
	log.Info("minting service reachable", "url", cfg.MinterURL, "policy_key_hash", policyKeyHash)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		bot    *telegram.Bot
		notify reconcile.Notifier
	)
	if cfg.BotToken != "" {
		bot, err = telegram.New(cfg, catalog, log)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		notify = notifier.New(cfg, bot, log)
		log.Info("telegram bot initialized", "operators", len(cfg.OperatorChatIDs))
	}

	deriver := cardano.Deriver{}
	fulfiller := reconcile.NewFulfiller(mint, store, catalog, uint64(cfg.CarryLovelace), notify, log)
	rec := reconcile.New(reconcile.Deps{
		Deposits:   indexer,
		Classifier: reconcile.NewClassifier(cfg.PriceLovelace),
		Resolver:   reconcile.NewResolver(indexer, deriver),
		Seen:       store,
		Ledger:     store,
		Fulfiller:  fulfiller,
		Metrics:    reconcile.NewMetrics(reg),
		Log:        log,
	}, cfg.WatchAddress, cfg.PageSize)
	ops := reconcile.NewOperations(store, deriver, catalog, fulfiller, log)

	sched, err := reconcile.NewScheduler(rec, cfg.PollInterval, log)
	if err != nil {
		return err
	}
	server := api.NewServer(ops, reg, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// claims left by a previous run that stopped before issuing
	if _, err := rec.ResumeInterrupted(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	log.Info("watching deposits",
		"address", cfg.WatchAddress,
		"price_lovelace", cfg.PriceLovelace,
		"interval", cfg.PollInterval,
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down...")
		return sched.Stop()
	})

	g.Go(func() error {
		if err := server.Start(ctx, cfg.HTTPPort); err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	if bot != nil {
		g.Go(func() error {
			log.Info("starting bot polling...")
			bot.Start(ctx, ops)
			return nil
		})
	}

	return g.Wait()
}
