package storage

import "time"

// Entitlement is the claim-and-fulfillment state of one payer identity
type Entitlement struct {
	Identity      string     `json:"identity"` // stake address
	PayerAddress  string     `json:"payer_address"`
	DepositTx     string     `json:"deposit_tx"`
	FulfillmentTx *string    `json:"fulfillment_tx,omitempty"`
	Payload       *string    `json:"payload,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FulfilledAt   *time.Time `json:"fulfilled_at,omitempty"`

	// Attempts counts issuance attempts; AttemptOpen is set while one is
	// unresolved (in flight, interrupted, or issued but not recorded).
	Attempts    int        `json:"attempts"`
	AttemptOpen bool       `json:"attempt_open"`
	AttemptedAt *time.Time `json:"attempted_at,omitempty"`
}

// Pending reports whether the entitlement is claimed but not yet fulfilled
func (e *Entitlement) Pending() bool {
	return e.FulfillmentTx == nil
}

// Claim is the input of an atomic entitlement claim
type Claim struct {
	Identity     string
	PayerAddress string
	DepositTx    string
}

// ClaimResult is the outcome of Claim
type ClaimResult int

const (
	Claimed ClaimResult = iota + 1
	AlreadyClaimed
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// State is the status of an identity as seen by readers
type State string

const (
	StateNone      State = "none"
	StatePending   State = "pending"
	StateFulfilled State = "fulfilled"
)

// Status is a read-only view of an identity's entitlement
type Status struct {
	State         State  `json:"state"`
	Identity      string `json:"identity"`
	DepositTx     string `json:"deposit_tx,omitempty"`
	FulfillmentTx string `json:"fulfillment_tx,omitempty"`
	Payload       string `json:"payload,omitempty"`
}

// Stats holds aggregate counters of both stores
type Stats struct {
	SeenDeposits int `json:"seen_deposits"`
	Pending      int `json:"pending"`
	Fulfilled    int `json:"fulfilled"`
}
