package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/config"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/reconcile"
	"github.com/suspectuso/drop-minter/internal/storage"
)

// session is an opened store and the operator actions over it
type session struct {
	cfg   *config.Config
	store *storage.Storage
	ops   *reconcile.Operations
	log   *slog.Logger
}

func (s *session) Close() error {
	return s.store.Close()
}

type sessionMode int

const (
	readOnly sessionMode = iota
	withCatalog
	withIssuer
)

func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions, mode sessionMode) (*session, error) {
	cfg := config.Load()
	log := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	store, err := storage.New(cfg.DBPath, cfg.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	var (
		catalog   *minter.Catalog
		fulfiller *reconcile.Fulfiller
	)
	if mode >= withCatalog {
		catalog, err = minter.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			store.Close()
			return nil, err
		}
	}
	if mode >= withIssuer {
		if cfg.CarryLovelace < 0 {
			store.Close()
			return nil, fmt.Errorf("CARRY_LOVELACE must not be negative, got %d", cfg.CarryLovelace)
		}
		policyKeyHash, err := cardano.Deriver{}.PaymentKeyHash(cfg.WatchAddress)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("WATCH_ADDRESS: %w", err)
		}
		mint := minter.NewClient(cfg.MinterURL, cfg.MinterToken, policyKeyHash)
		if err := mint.Health(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("minting service: %w", err)
		}
		fulfiller = reconcile.NewFulfiller(mint, store, catalog, uint64(cfg.CarryLovelace), nil, log)
	}

	return &session{
		cfg:   cfg,
		store: store,
		ops:   reconcile.NewOperations(store, cardano.Deriver{}, catalog, fulfiller, log),
		log:   log,
	}, nil
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <address>",
		Short: "Show the entitlement of a payment or stake address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts, readOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.ops.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return output(cmd, opts, st, func(w io.Writer) {
				fmt.Fprintf(w, "identity:       %s\n", st.Identity)
				fmt.Fprintf(w, "state:          %s\n", st.State)
				if st.DepositTx != "" {
					fmt.Fprintf(w, "deposit tx:     %s\n", st.DepositTx)
				}
				if st.FulfillmentTx != "" {
					fmt.Fprintf(w, "fulfillment tx: %s\n", st.FulfillmentTx)
					fmt.Fprintf(w, "payload:        %s\n", st.Payload)
				}
			})
		},
	}
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List paid entitlements without a recorded fulfillment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts, readOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			pending, err := s.ops.Pending(cmd.Context())
			if err != nil {
				return err
			}
			if pending == nil {
				pending = []storage.Entitlement{}
			}

			return output(cmd, opts, pending, func(w io.Writer) {
				if len(pending) == 0 {
					fmt.Fprintln(w, "no pending entitlements")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "IDENTITY\tDEPOSIT TX\tCLAIMED")
				for _, e := range pending {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Identity, e.DepositTx, e.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
				}
				tw.Flush()
			})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts, readOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.ops.Stats(cmd.Context())
			if err != nil {
				return err
			}

			return output(cmd, opts, st, func(w io.Writer) {
				fmt.Fprintf(w, "seen deposits: %d\nfulfilled:     %d\npending:       %d\n", st.SeenDeposits, st.Fulfilled, st.Pending)
			})
		},
	}
}

// NewMarkFulfilledCommand creates the mark-fulfilled command.
func NewMarkFulfilledCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark-fulfilled <address> <fulfillment-tx> <payload>",
		Short: "Record an issuance found on chain for a pending entitlement",
		Long: `Record an asset issuance that happened but was not recorded, for example
after the store failed right after minting. Recording the same transaction
again is a no-op; a different transaction for a fulfilled entitlement is refused.

Example:
  minter mark-fulfilled stake1u... 9f2c...d6 frost`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), cmd, opts, withCatalog)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ops.RecordFulfillment(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}

			st, err := s.ops.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd, opts, st, func(w io.Writer) {
				fmt.Fprintf(w, "recorded %s for %s\n", st.FulfillmentTx, st.Identity)
			})
		},
	}
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "retry <address>",
		Short: "Issue again for a pending entitlement",
		Long: `Issue an asset for a pending entitlement whose fulfillment failed.

Check the chain first: if the failed attempt did issue, retrying issues a
second asset. Use mark-fulfilled for that case instead. An attempt that never
finished must be released with release-attempt before it can be retried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("retry can issue a second asset; confirm with --yes after checking the chain")
			}

			s, err := openSession(cmd.Context(), cmd, opts, withIssuer)
			if err != nil {
				return err
			}
			defer s.Close()

			ful, err := s.ops.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return output(cmd, opts, map[string]string{"tx_hash": ful.TxHash, "variant": ful.Variant.ID}, func(w io.Writer) {
				fmt.Fprintf(w, "issued %s in %s\n", ful.Variant.ID, ful.TxHash)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that the previous attempt issued nothing")

	return cmd
}

// NewReleaseAttemptCommand creates the release-attempt command.
func NewReleaseAttemptCommand(opts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "release-attempt <address>",
		Short: "Release a fulfillment attempt that never finished",
		Long: `Release the open fulfillment attempt of a pending entitlement, so that
retry can issue again. An attempt stays open when the process stopped while
issuing, or when an issued asset could not be recorded.

Only release after checking the chain shows nothing was issued. If an asset
was issued, record it with mark-fulfilled instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("releasing allows a second issuance; confirm with --yes after checking the chain")
			}

			s, err := openSession(cmd.Context(), cmd, opts, readOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ops.ReleaseAttempt(cmd.Context(), args[0]); err != nil {
				return err
			}

			st, err := s.ops.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd, opts, st, func(w io.Writer) {
				fmt.Fprintf(w, "released attempt for %s\n", st.Identity)
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that the open attempt issued nothing")

	return cmd
}
