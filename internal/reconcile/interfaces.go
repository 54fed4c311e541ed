package reconcile

import (
	"context"

	"github.com/suspectuso/drop-minter/internal/ledger"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/storage"
)

// DepositLister lists the most recent deposits at an address, newest first
type DepositLister interface {
	ListRecentDeposits(ctx context.Context, address string, count int) ([]ledger.Deposit, error)
}

// InputLister returns the spending inputs of a transaction
type InputLister interface {
	GetTransactionInputs(ctx context.Context, txHash string) ([]ledger.Input, error)
}

// CredentialDeriver derives a stake address from any address
type CredentialDeriver interface {
	StakeAddress(address string) (string, error)
}

// Issuer mints a variant to a payer address
type Issuer interface {
	Issue(ctx context.Context, req minter.IssueRequest) (string, error)
}

// SeenSet records which deposits have been examined
type SeenSet interface {
	IsSeen(ctx context.Context, depositID string) (bool, error)
	MarkSeen(ctx context.Context, depositID string) (bool, error)
}

// Ledger is the entitlement store
type Ledger interface {
	Claim(ctx context.Context, c storage.Claim) (storage.ClaimResult, error)
	Get(ctx context.Context, identity string) (*storage.Entitlement, error)
	ListPending(ctx context.Context) ([]storage.Entitlement, error)
	BeginAttempt(ctx context.Context, identity string) (bool, error)
	EndAttempt(ctx context.Context, identity string) error
	MarkFulfilled(ctx context.Context, identity, fulfillmentTx, payload string) error
}

// Notifier is told about every fulfillment attempt
type Notifier interface {
	Fulfilled(ctx context.Context, e storage.Entitlement, f Fulfillment)
	FulfillmentFailed(ctx context.Context, e storage.Entitlement, err error)
}

type nopNotifier struct{}

func (nopNotifier) Fulfilled(context.Context, storage.Entitlement, Fulfillment)  {}
func (nopNotifier) FulfillmentFailed(context.Context, storage.Entitlement, error) {}
