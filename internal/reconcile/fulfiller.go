package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/storage"
)

var (
	// ErrNotPending is returned when fulfilling an entitlement that already has a fulfillment
	ErrNotPending = errors.New("entitlement is not pending")

	// ErrAttemptOpen is returned when another issuance for the entitlement is
	// in flight or ended without a result. The chain must be checked before
	// the attempt is released.
	ErrAttemptOpen = errors.New("a fulfillment attempt is already open")
)

// Fulfillment is the result of a successful issuance
type Fulfillment struct {
	TxHash  string
	Variant minter.Variant
}

// UnrecordedError means the asset was issued but the ledger update failed.
// The entitlement still reads as pending; TxHash must be recorded by an operator.
type UnrecordedError struct {
	Fulfillment Fulfillment
	Err         error
}

func (e *UnrecordedError) Error() string {
	return fmt.Sprintf("issued in %s but not recorded: %v", e.Fulfillment.TxHash, e.Err)
}

func (e *UnrecordedError) Unwrap() error {
	return e.Err
}

// Fulfiller issues one asset for a claimed entitlement and records it
type Fulfiller struct {
	issuer        Issuer
	ledger        Ledger
	catalog       *minter.Catalog
	carryLovelace uint64
	notify        Notifier
	log           *slog.Logger

	// pick returns a uniform index in [0, n)
	pick func(n int) int
}

// NewFulfiller creates a fulfiller. notify may be nil.
func NewFulfiller(issuer Issuer, ledger Ledger, catalog *minter.Catalog, carryLovelace uint64, notify Notifier, log *slog.Logger) *Fulfiller {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Fulfiller{
		issuer:        issuer,
		ledger:        ledger,
		catalog:       catalog,
		carryLovelace: carryLovelace,
		notify:        notify,
		log:           log,
		pick:          rand.IntN,
	}
}

// Fulfill issues an asset for e. Issuance happens only after the store has
// opened an attempt for the entitlement, so concurrent callers issue at most
// once. A failed issuance closes the attempt and leaves the claim pending;
// an issuance that could not be recorded keeps the attempt open.
func (f *Fulfiller) Fulfill(ctx context.Context, e storage.Entitlement) (Fulfillment, error) {
	if !e.Pending() {
		return Fulfillment{}, ErrNotPending
	}

	opened, err := f.ledger.BeginAttempt(ctx, e.Identity)
	if err != nil {
		return Fulfillment{}, fmt.Errorf("begin attempt: %w", err)
	}
	if !opened {
		return Fulfillment{}, f.refusal(ctx, e.Identity)
	}

	// alerts and records below must outlive a shutdown
	bg := context.WithoutCancel(ctx)

	variant := f.catalog.At(f.pick(f.catalog.Len()))

	log := f.log.With("identity", e.Identity, "variant", variant.ID)
	log.Info("issuing asset", "address", e.PayerAddress, "deposit_tx", e.DepositTx)

	txHash, err := f.issuer.Issue(ctx, minter.IssueRequest{
		Address:       e.PayerAddress,
		Variant:       variant,
		CarryLovelace: f.carryLovelace,
	})
	if err != nil {
		err = fmt.Errorf("issue: %w", err)
		log.Error("issue asset", "error", err)
		if cerr := f.ledger.EndAttempt(bg, e.Identity); cerr != nil {
			log.Error("close attempt", "error", cerr)
		}
		f.notify.FulfillmentFailed(bg, e, err)
		return Fulfillment{}, err
	}

	ful := Fulfillment{TxHash: txHash, Variant: variant}

	if err := f.ledger.MarkFulfilled(bg, e.Identity, txHash, variant.ID); err != nil {
		uerr := &UnrecordedError{Fulfillment: ful, Err: err}
		log.Error("record fulfillment", "tx_hash", txHash, "error", err)
		f.notify.FulfillmentFailed(bg, e, uerr)
		return ful, uerr
	}

	log.Info("asset issued", "tx_hash", txHash)
	f.notify.Fulfilled(bg, e, ful)
	return ful, nil
}

// refusal explains why an attempt could not be opened
func (f *Fulfiller) refusal(ctx context.Context, identity string) error {
	e, err := f.ledger.Get(ctx, identity)
	if err != nil {
		return err
	}
	if !e.Pending() {
		return ErrNotPending
	}
	return ErrAttemptOpen
}
