package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/drop-minter/internal/cardano"
	"github.com/suspectuso/drop-minter/internal/ledger"
	"github.com/suspectuso/drop-minter/internal/minter"
	"github.com/suspectuso/drop-minter/internal/storage"
)

const testPrice = 1_000_000

var errTransport = errors.New("connection reset by peer")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deposit(tx string, idx int, amounts ...ledger.Amount) ledger.Deposit {
	return ledger.Deposit{TxHash: tx, OutputIndex: idx, Amounts: amounts}
}

func lovelace(q int64) ledger.Amount {
	return ledger.Amount{Unit: ledger.Lovelace, Quantity: fmt.Sprint(q)}
}

func exact(tx string) ledger.Deposit {
	return deposit(tx, 0, lovelace(testPrice))
}

// fakeIndexer serves both deposit listing and input lookup
type fakeIndexer struct {
	mu       sync.Mutex
	deposits []ledger.Deposit
	listErr  error
	inputs   map[string]string // tx -> first input address
	failing  map[string]bool   // tx -> transport failure
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		inputs:  make(map[string]string),
		failing: make(map[string]bool),
	}
}

func (f *fakeIndexer) ListRecentDeposits(ctx context.Context, address string, count int) ([]ledger.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.deposits) > count {
		return f.deposits[:count], nil
	}
	return f.deposits, nil
}

func (f *fakeIndexer) GetTransactionInputs(ctx context.Context, txHash string) ([]ledger.Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[txHash] {
		return nil, errTransport
	}
	addr, ok := f.inputs[txHash]
	if !ok {
		return nil, nil
	}
	return []ledger.Input{{Address: addr, TxHash: "prev-" + txHash}, {Address: "addr_other"}}, nil
}

func (f *fakeIndexer) pay(tx, addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[tx] = addr
}

func (f *fakeIndexer) setFailing(tx string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[tx] = failing
}

// fakeDeriver maps addresses to stake addresses
type fakeDeriver map[string]string

func (f fakeDeriver) StakeAddress(addr string) (string, error) {
	if id, ok := f[addr]; ok {
		return id, nil
	}
	return "", cardano.ErrNoStakeCredential
}

// fakeIssuer records every issuance
type fakeIssuer struct {
	mu    sync.Mutex
	calls []minter.IssueRequest
	err   error
}

func (f *fakeIssuer) Issue(ctx context.Context, req minter.IssueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("mint-%d", len(f.calls)), nil
}

func (f *fakeIssuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeIssuer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type notification struct {
	identity string
	ful      Fulfillment
	err      error
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (f *fakeNotifier) Fulfilled(ctx context.Context, e storage.Entitlement, ful Fulfillment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{identity: e.Identity, ful: ful})
}

func (f *fakeNotifier) FulfillmentFailed(ctx context.Context, e storage.Entitlement, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{identity: e.Identity, err: err})
}

func testCatalog(t *testing.T) *minter.Catalog {
	t.Helper()
	c, err := minter.ParseCatalog([]byte("variants:\n  - id: ember\n  - id: frost\n  - id: moss\n"))
	require.NoError(t, err)
	return c
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "test.db"), 64)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type harness struct {
	rec      *Reconciler
	store    *storage.Storage
	indexer  *fakeIndexer
	deriver  fakeDeriver
	issuer   *fakeIssuer
	notifier *fakeNotifier
	metrics  *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    newTestStorage(t),
		indexer:  newFakeIndexer(),
		deriver:  fakeDeriver{},
		issuer:   &fakeIssuer{},
		notifier: &fakeNotifier{},
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}

	log := discardLogger()
	ful := NewFulfiller(h.issuer, h.store, testCatalog(t), 1_500_000, h.notifier, log)
	h.rec = New(Deps{
		Deposits:   h.indexer,
		Classifier: NewClassifier(testPrice),
		Resolver:   NewResolver(h.indexer, h.deriver),
		Seen:       h.store,
		Ledger:     h.store,
		Fulfiller:  ful,
		Metrics:    h.metrics,
		Log:        log,
	}, "addr_watched", 20)
	return h
}

// payer registers tx as paid from addr whose stake address is identity
func (h *harness) payer(tx, addr, identity string) {
	h.indexer.pay(tx, addr)
	if identity != "" {
		h.deriver[addr] = identity
	}
}

func (h *harness) isSeen(t *testing.T, d ledger.Deposit) bool {
	t.Helper()
	seen, err := h.store.IsSeen(context.Background(), d.ID())
	require.NoError(t, err)
	return seen
}

func (h *harness) status(t *testing.T, identity string) storage.Status {
	t.Helper()
	st, err := h.store.Lookup(context.Background(), identity)
	require.NoError(t, err)
	return st
}
