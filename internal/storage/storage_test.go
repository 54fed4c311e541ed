package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeen_MarkOnce(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	seen, err := s.IsSeen(ctx, "tx#0")
	require.NoError(t, err)
	assert.False(t, seen)

	isNew, err := s.MarkSeen(ctx, "tx#0")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = s.MarkSeen(ctx, "tx#0")
	require.NoError(t, err)
	assert.False(t, isNew, "second mark must not insert")

	seen, err = s.IsSeen(ctx, "tx#0")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.IsSeen(ctx, "tx#1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s, err := New(path, 16)
	require.NoError(t, err)
	_, err = s.MarkSeen(ctx, "tx#7")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(path, 16)
	require.NoError(t, err)
	defer s.Close()

	seen, err := s.IsSeen(ctx, "tx#7")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_CacheEviction(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// more ids than the cache holds; evicted ids still resolve from the table
	for i := 0; i < 40; i++ {
		_, err := s.MarkSeen(ctx, fmt.Sprintf("tx#%d", i))
		require.NoError(t, err)
	}
	for i := 0; i < 40; i++ {
		seen, err := s.IsSeen(ctx, fmt.Sprintf("tx#%d", i))
		require.NoError(t, err)
		assert.True(t, seen, "tx#%d", i)
	}
}

func TestClaim_UniquePerIdentity(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	res, err := s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, Claimed, res)

	res, err = s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1q", DepositTx: "tx2"})
	require.NoError(t, err)
	assert.Equal(t, AlreadyClaimed, res)

	e, err := s.Get(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, "addr1p", e.PayerAddress)
	assert.Equal(t, "tx1", e.DepositTx)
	assert.True(t, e.Pending())
}

func TestClaim_UniquePerDepositTx(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	res, err := s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)
	require.Equal(t, Claimed, res)

	res, err = s.Claim(ctx, Claim{Identity: "stake1b", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)
	assert.Equal(t, AlreadyClaimed, res)

	_, err = s.Get(ctx, "stake1b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaim_Concurrent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const n = 16
	results := make([]ClaimResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Claim(ctx, Claim{
				Identity:     "stake1same",
				PayerAddress: "addr1p",
				DepositTx:    fmt.Sprintf("tx%d", i),
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	claimed := 0
	for _, r := range results {
		if r == Claimed {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed)
}

func TestMarkFulfilled_Idempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkFulfilled(ctx, "stake1a", "mint1", "design-3"))
	first, err := s.Get(ctx, "stake1a")
	require.NoError(t, err)

	require.NoError(t, s.MarkFulfilled(ctx, "stake1a", "mint1", "design-3"))
	second, err := s.Get(ctx, "stake1a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.NotNil(t, second.FulfillmentTx)
	assert.Equal(t, "mint1", *second.FulfillmentTx)
	require.NotNil(t, second.Payload)
	assert.Equal(t, "design-3", *second.Payload)
	assert.NotNil(t, second.FulfilledAt)
}

func TestMarkFulfilled_Conflict(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)
	require.NoError(t, s.MarkFulfilled(ctx, "stake1a", "mint1", "design-3"))

	err = s.MarkFulfilled(ctx, "stake1a", "mint2", "design-1")
	assert.ErrorIs(t, err, ErrAlreadyFulfilled)

	st, err := s.Lookup(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, "mint1", st.FulfillmentTx)
}

func TestMarkFulfilled_UnknownIdentity(t *testing.T) {
	s := newTestStorage(t)

	err := s.MarkFulfilled(context.Background(), "stake1nobody", "mint1", "design-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginAttempt_Lifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.BeginAttempt(ctx, "stake1nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)

	ok, err = s.BeginAttempt(ctx, "stake1a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.BeginAttempt(ctx, "stake1a")
	require.NoError(t, err)
	assert.False(t, ok, "an open attempt blocks another")

	e, err := s.Get(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, 1, e.Attempts)
	assert.True(t, e.AttemptOpen)
	assert.NotNil(t, e.AttemptedAt)

	require.NoError(t, s.EndAttempt(ctx, "stake1a"))
	assert.ErrorIs(t, s.EndAttempt(ctx, "stake1a"), ErrNoOpenAttempt)

	ok, err = s.BeginAttempt(ctx, "stake1a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.MarkFulfilled(ctx, "stake1a", "mint1", "design-1"))
	assert.ErrorIs(t, s.EndAttempt(ctx, "stake1a"), ErrNoOpenAttempt)

	ok, err = s.BeginAttempt(ctx, "stake1a")
	require.NoError(t, err)
	assert.False(t, ok, "fulfilled entitlements take no attempts")
}

func TestBeginAttempt_Concurrent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)

	const n = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.BeginAttempt(ctx, "stake1a")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
}

func TestLookup_Lifecycle(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	st, err := s.Lookup(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, Status{State: StateNone, Identity: "stake1a"}, st)

	_, err = s.Claim(ctx, Claim{Identity: "stake1a", PayerAddress: "addr1p", DepositTx: "tx1"})
	require.NoError(t, err)

	st, err = s.Lookup(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, Status{State: StatePending, Identity: "stake1a", DepositTx: "tx1"}, st)

	require.NoError(t, s.MarkFulfilled(ctx, "stake1a", "mint1", "design-2"))

	st, err = s.Lookup(ctx, "stake1a")
	require.NoError(t, err)
	assert.Equal(t, Status{
		State:         StateFulfilled,
		Identity:      "stake1a",
		DepositTx:     "tx1",
		FulfillmentTx: "mint1",
		Payload:       "design-2",
	}, st)
}

func TestListPendingAndStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for i, id := range []string{"stake1a", "stake1b", "stake1c"} {
		_, err := s.Claim(ctx, Claim{Identity: id, PayerAddress: "addr1p", DepositTx: fmt.Sprintf("tx%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkFulfilled(ctx, "stake1b", "mint1", "design-1"))
	_, err := s.MarkSeen(ctx, "tx0#0")
	require.NoError(t, err)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "stake1a", pending[0].Identity)
	assert.Equal(t, "stake1c", pending[1].Identity)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{SeenDeposits: 1, Pending: 2, Fulfilled: 1}, st)
}
