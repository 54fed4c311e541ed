package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoIdentity means no payer identity can ever be derived for a transaction
var ErrNoIdentity = errors.New("no payer identity")

// Payer is the resolved origin of a deposit
type Payer struct {
	Address  string
	Identity string
}

// Resolver attributes a deposit transaction to a payer.
//
// The payer is the address of the first spending input. This is a fixed
// convention, not a proof of ownership: a multi-input transaction decides
// whose identity the payment is attributed to.
type Resolver struct {
	inputs  InputLister
	deriver CredentialDeriver
}

// NewResolver creates a resolver
func NewResolver(inputs InputLister, deriver CredentialDeriver) *Resolver {
	return &Resolver{inputs: inputs, deriver: deriver}
}

// Resolve returns the payer of txHash. Errors wrapping ErrNoIdentity are
// permanent; any other error is a collaborator failure and may be retried.
//
// The payer is the address of the first spent input. A transaction built
// with someone else's output first attributes the payment to that owner.
func (r *Resolver) Resolve(ctx context.Context, txHash string) (Payer, error) {
	inputs, err := r.inputs.GetTransactionInputs(ctx, txHash)
	if err != nil {
		return Payer{}, fmt.Errorf("get inputs of %s: %w", txHash, err)
	}
	if len(inputs) == 0 {
		return Payer{}, fmt.Errorf("%w: transaction %s has no inputs", ErrNoIdentity, txHash)
	}

	addr := inputs[0].Address
	identity, err := r.deriver.StakeAddress(addr)
	if err != nil {
		return Payer{Address: addr}, fmt.Errorf("%w: %s: %v", ErrNoIdentity, addr, err)
	}

	return Payer{Address: addr, Identity: identity}, nil
}
