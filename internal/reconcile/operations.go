package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/storage"
)

// ErrUnknownPayload is returned when a recorded payload is not in the catalog
var ErrUnknownPayload = errors.New("payload is not a catalog variant")

// Store is the read side of both stores plus the out-of-band fulfillment record
type Store interface {
	Get(ctx context.Context, identity string) (*storage.Entitlement, error)
	Lookup(ctx context.Context, identity string) (storage.Status, error)
	ListPending(ctx context.Context) ([]storage.Entitlement, error)
	Stats(ctx context.Context) (storage.Stats, error)
	MarkFulfilled(ctx context.Context, identity, fulfillmentTx, payload string) error
	EndAttempt(ctx context.Context, identity string) error
}

// Operations are the operator-facing actions shared by the API, the bot and the CLI.
// None of them ever claims an entitlement; only the reconcile loop does.
type Operations struct {
	store     Store
	deriver   CredentialDeriver
	catalog   *minter.Catalog
	fulfiller *Fulfiller
	log       *slog.Logger
}

// NewOperations creates the operator actions. catalog and fulfiller may be nil
// for read-only callers.
func NewOperations(store Store, deriver CredentialDeriver, catalog *minter.Catalog, fulfiller *Fulfiller, log *slog.Logger) *Operations {
	return &Operations{
		store:     store,
		deriver:   deriver,
		catalog:   catalog,
		fulfiller: fulfiller,
		log:       log,
	}
}

// Identity normalizes a payment or stake address to the payer identity
func (o *Operations) Identity(address string) (string, error) {
	address = strings.TrimSpace(address)
	id, err := o.deriver.StakeAddress(address)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}
	return id, nil
}

// Status returns the entitlement status of the identity behind address
func (o *Operations) Status(ctx context.Context, address string) (storage.Status, error) {
	id, err := o.Identity(address)
	if err != nil {
		return storage.Status{}, err
	}
	return o.store.Lookup(ctx, id)
}

// Pending lists claims that have no recorded fulfillment
func (o *Operations) Pending(ctx context.Context) ([]storage.Entitlement, error) {
	return o.store.ListPending(ctx)
}

// Stats returns aggregate store counters
func (o *Operations) Stats(ctx context.Context) (storage.Stats, error) {
	return o.store.Stats(ctx)
}

// RecordFulfillment records an issuance found by audit. Re-recording the same
// transaction is a no-op.
func (o *Operations) RecordFulfillment(ctx context.Context, address, fulfillmentTx, payload string) error {
	id, err := o.Identity(address)
	if err != nil {
		return err
	}

	fulfillmentTx = strings.TrimSpace(fulfillmentTx)
	payload = strings.TrimSpace(payload)
	if fulfillmentTx == "" {
		return errors.New("fulfillment tx is required")
	}
	if o.catalog != nil {
		if _, ok := o.catalog.Find(payload); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPayload, payload)
		}
	}

	if err := o.store.MarkFulfilled(ctx, id, fulfillmentTx, payload); err != nil {
		return err
	}

	o.log.Info("fulfillment recorded by operator", "identity", id, "tx_hash", fulfillmentTx, "payload", payload)
	return nil
}

// Retry issues again for a pending entitlement. It must only be used after
// checking the chain: if the previous attempt did issue, this issues twice.
// Overlapping retries issue at most once; the others get ErrAttemptOpen.
func (o *Operations) Retry(ctx context.Context, address string) (Fulfillment, error) {
	if o.fulfiller == nil {
		return Fulfillment{}, errors.New("retry is not available in this mode")
	}

	id, err := o.Identity(address)
	if err != nil {
		return Fulfillment{}, err
	}

	e, err := o.store.Get(ctx, id)
	if err != nil {
		return Fulfillment{}, err
	}

	o.log.Warn("operator retry", "identity", id, "deposit_tx", e.DepositTx)
	return o.fulfiller.Fulfill(ctx, *e)
}

// ReleaseAttempt closes an attempt left open by an interrupted or unrecorded
// issuance, once the operator has found on chain that nothing was issued.
func (o *Operations) ReleaseAttempt(ctx context.Context, address string) error {
	id, err := o.Identity(address)
	if err != nil {
		return err
	}

	if err := o.store.EndAttempt(ctx, id); err != nil {
		return err
	}

	o.log.Warn("fulfillment attempt released by operator", "identity", id)
	return nil
}
