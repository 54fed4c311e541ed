package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/suspectuso/drop-minter/internal/ledger"
	"github.com/suspectuso/drop-minter/internal/storage"
)

// Outcome is what happened to one deposit in a cycle
type Outcome string

const (
	OutcomeSkipped         Outcome = "skipped"          // already seen
	OutcomeRejected        Outcome = "rejected"         // wrong value shape, marked seen
	OutcomeUnresolved      Outcome = "unresolved"       // payer lookup failed, left unseen
	OutcomeNoIdentity      Outcome = "no_identity"      // no stake credential, marked seen
	OutcomeAlreadyEntitled Outcome = "already_entitled" // identity claimed before, marked seen
	OutcomeFulfilled       Outcome = "fulfilled"
	OutcomeFulfillFailed   Outcome = "fulfill_failed" // claim kept pending, marked seen
	OutcomeStoreError      Outcome = "store_error"    // local store failure, left unseen
)

// CycleStats counts outcomes of one pass over a page of deposits
type CycleStats struct {
	Deposits int
	Outcomes map[Outcome]int
}

func (s *CycleStats) add(o Outcome) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[Outcome]int)
	}
	s.Deposits++
	s.Outcomes[o]++
}

// Deps are the collaborators and stores a Reconciler works with.
// They are built and owned by the process entry point.
type Deps struct {
	Deposits   DepositLister
	Classifier Classifier
	Resolver   *Resolver
	Seen       SeenSet
	Ledger     Ledger
	Fulfiller  *Fulfiller
	Metrics    *Metrics
	Log        *slog.Logger
}

// Reconciler matches deposits at the watched address to one-time fulfillments.
// It keeps no state of its own: every decision is a durable write in the
// seen set or the entitlement ledger, so overlapping runs are safe.
type Reconciler struct {
	Deps

	address  string
	pageSize int
}

// New creates a reconciler watching address
func New(deps Deps, address string, pageSize int) *Reconciler {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Reconciler{
		Deps:     deps,
		address:  address,
		pageSize: pageSize,
	}
}

// RunCycle lists the most recent deposits and processes them
func (r *Reconciler) RunCycle(ctx context.Context) (CycleStats, error) {
	log := r.Log.With("cycle_id", uuid.NewString())
	r.Metrics.cycleStarted()

	deposits, err := r.Deposits.ListRecentDeposits(ctx, r.address, r.pageSize)
	if err != nil {
		err = fmt.Errorf("list deposits: %w", err)
		r.Metrics.cycleFinished(err)
		log.Error("reconcile cycle", "error", err)
		return CycleStats{}, err
	}
	r.Metrics.cycleFinished(nil)

	start := time.Now()
	stats := r.process(ctx, deposits, log)

	if stats.Deposits > stats.Outcomes[OutcomeSkipped] {
		log.Info("reconcile cycle done",
			"deposits", stats.Deposits,
			"outcomes", stats.Outcomes,
			"duration", time.Since(start),
		)
	} else {
		log.Debug("reconcile cycle done", "deposits", stats.Deposits)
	}

	return stats, nil
}

// Process runs the state machine over deposits in the given order
func (r *Reconciler) Process(ctx context.Context, deposits []ledger.Deposit) CycleStats {
	return r.process(ctx, deposits, r.Log)
}

func (r *Reconciler) process(ctx context.Context, deposits []ledger.Deposit, log *slog.Logger) CycleStats {
	var stats CycleStats
	for _, d := range deposits {
		if ctx.Err() != nil {
			break
		}
		o := r.processDeposit(ctx, d, log.With("deposit_id", d.ID()))
		r.Metrics.observeOutcome(o)
		stats.add(o)
	}
	return stats
}

func (r *Reconciler) processDeposit(ctx context.Context, d ledger.Deposit, log *slog.Logger) Outcome {
	id := d.ID()

	seen, err := r.Seen.IsSeen(ctx, id)
	if err != nil {
		log.Error("check seen", "error", err)
		return OutcomeStoreError
	}
	if seen {
		return OutcomeSkipped
	}

	if !r.Classifier.Qualifies(d) {
		log.Debug("deposit does not qualify", "amounts", d.Amounts)
		r.markSeen(ctx, id, log)
		return OutcomeRejected
	}

	payer, err := r.Resolver.Resolve(ctx, d.TxHash)
	if errors.Is(err, ErrNoIdentity) {
		log.Warn("no payer identity", "error", err)
		r.markSeen(ctx, id, log)
		return OutcomeNoIdentity
	}
	if err != nil {
		log.Warn("resolve payer, will retry", "error", err)
		return OutcomeUnresolved
	}

	log = log.With("identity", payer.Identity)

	res, err := r.Ledger.Claim(ctx, storage.Claim{
		Identity:     payer.Identity,
		PayerAddress: payer.Address,
		DepositTx:    d.TxHash,
	})
	if err != nil {
		log.Error("claim entitlement", "error", err)
		return OutcomeStoreError
	}
	if res == storage.AlreadyClaimed {
		log.Info("identity already entitled")
		r.markSeen(ctx, id, log)
		return OutcomeAlreadyEntitled
	}

	log.Info("entitlement claimed", "payer", payer.Address)

	_, err = r.Fulfiller.Fulfill(ctx, storage.Entitlement{
		Identity:     payer.Identity,
		PayerAddress: payer.Address,
		DepositTx:    d.TxHash,
		CreatedAt:    time.Now(),
	})

	// the deposit is accounted for either way; a stuck claim is retried by an operator
	r.markSeen(context.WithoutCancel(ctx), id, log)

	switch {
	case err == nil:
		return OutcomeFulfilled
	case errors.Is(err, ErrAttemptOpen), errors.Is(err, ErrNotPending):
		log.Info("fulfillment taken by a concurrent pass")
		return OutcomeAlreadyEntitled
	default:
		return OutcomeFulfillFailed
	}
}

// ResumeInterrupted fulfills claims that were never attempted, which happens
// when the process stops between claiming and issuing. Claims whose attempt
// failed or never finished are reported and left to an operator. It returns
// the number of claims fulfilled.
func (r *Reconciler) ResumeInterrupted(ctx context.Context) (int, error) {
	pending, err := r.Ledger.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	resumed := 0
	for _, e := range pending {
		if ctx.Err() != nil {
			break
		}
		log := r.Log.With("identity", e.Identity, "deposit_tx", e.DepositTx)

		switch {
		case e.AttemptOpen:
			log.Warn("fulfillment attempt never finished; check the chain, then mark-fulfilled or release-attempt",
				"attempts", e.Attempts, "attempted_at", e.AttemptedAt)
			r.Fulfiller.notify.FulfillmentFailed(context.WithoutCancel(ctx), e, ErrAttemptOpen)
		case e.Attempts > 0:
			log.Warn("pending after a failed fulfillment attempt", "attempts", e.Attempts)
		default:
			log.Info("resuming interrupted fulfillment")
			if _, err := r.Fulfiller.Fulfill(ctx, e); err == nil {
				resumed++
			}
		}
	}

	if len(pending) > 0 {
		r.Log.Info("pending entitlements checked", "pending", len(pending), "resumed", resumed)
	}
	return resumed, nil
}

func (r *Reconciler) markSeen(ctx context.Context, id string, log *slog.Logger) {
	if _, err := r.Seen.MarkSeen(ctx, id); err != nil {
		log.Error("mark deposit seen", "error", err)
	}
}
