package blockfrost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suspectuso/drop-minter/internal/ledger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "test-project", 1000)
	c.backoff.Min = time.Millisecond
	c.backoff.Max = 5 * time.Millisecond
	return c
}

func TestListRecentDeposits(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-project", r.Header.Get("project_id"))

		switch r.URL.Path {
		case "/addresses/addr_test1xyz/transactions":
			assert.Equal(t, "desc", r.URL.Query().Get("order"))
			assert.Equal(t, "20", r.URL.Query().Get("count"))
			w.Write([]byte(`[
				{"tx_hash":"aa","tx_index":3,"block_height":120,"block_time":1700000100},
				{"tx_hash":"bb","tx_index":0,"block_height":110,"block_time":1700000000}
			]`))
		case "/txs/aa/utxos":
			w.Write([]byte(`{"hash":"aa",
				"inputs":[{"address":"addr_payer","tx_hash":"p","output_index":0}],
				"outputs":[
					{"address":"addr_payer","output_index":0,"amount":[{"unit":"lovelace","quantity":"5000000"}]},
					{"address":"addr_test1xyz","output_index":1,"amount":[{"unit":"lovelace","quantity":"1000000"}]}
				]}`))
		case "/txs/bb/utxos":
			w.Write([]byte(`{"hash":"bb",
				"inputs":[{"address":"addr_other","tx_hash":"q","output_index":1}],
				"outputs":[
					{"address":"addr_test1xyz","output_index":0,"amount":[{"unit":"lovelace","quantity":"2000000"},{"unit":"abc.def","quantity":"1"}]}
				]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	deps, err := c.ListRecentDeposits(context.Background(), "addr_test1xyz", 20)
	require.NoError(t, err)
	require.Len(t, deps, 2)

	assert.Equal(t, "aa#1", deps[0].ID())
	assert.Equal(t, []ledger.Amount{{Unit: "lovelace", Quantity: "1000000"}}, deps[0].Amounts)
	assert.Equal(t, "bb#0", deps[1].ID())
	assert.Len(t, deps[1].Amounts, 2)
}

func TestListRecentDeposits_IncludesSpentOutputs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/addresses/addr_w/transactions":
			// cc spent the deposit of aa before any listing
			w.Write([]byte(`[{"tx_hash":"cc"},{"tx_hash":"aa"}]`))
		case "/txs/cc/utxos":
			w.Write([]byte(`{"hash":"cc",
				"inputs":[{"address":"addr_w","tx_hash":"aa","output_index":0}],
				"outputs":[
					{"address":"addr_payer","output_index":0,"amount":[{"unit":"lovelace","quantity":"1500000"},{"unit":"policy.asset","quantity":"1"}]},
					{"address":"addr_w","output_index":1,"amount":[{"unit":"lovelace","quantity":"1000000"}]}
				]}`))
		case "/txs/aa/utxos":
			w.Write([]byte(`{"hash":"aa",
				"inputs":[{"address":"addr_payer","tx_hash":"p","output_index":0}],
				"outputs":[{"address":"addr_w","output_index":0,"amount":[{"unit":"lovelace","quantity":"1000000"}]}]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	deps, err := c.ListRecentDeposits(context.Background(), "addr_w", 10)
	require.NoError(t, err)

	// the spent deposit is listed; the wallet's own change is not
	require.Len(t, deps, 1)
	assert.Equal(t, "aa#0", deps[0].ID())
}

func TestGetTxUTXOs_Cached(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"hash":"cafe","inputs":[{"address":"addr_first","tx_hash":"p","output_index":0}],"outputs":[]}`))
	})

	for i := 0; i < 3; i++ {
		inputs, err := c.GetTransactionInputs(context.Background(), "cafe")
		require.NoError(t, err)
		require.Len(t, inputs, 1)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestListRecentDeposits_UnusedAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status_code":404,"error":"Not Found","message":"The requested component has not been found."}`))
	})

	deps, err := c.ListRecentDeposits(context.Background(), "addr1unused", 10)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestGetTransactionInputs_SkipsCollateralAndReference(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/txs/cafe/utxos", r.URL.Path)
		w.Write([]byte(`{"hash":"cafe","inputs":[
			{"address":"addr_ref","tx_hash":"r","output_index":0,"reference":true},
			{"address":"addr_first","tx_hash":"p","output_index":2},
			{"address":"addr_col","tx_hash":"c","output_index":0,"collateral":true},
			{"address":"addr_second","tx_hash":"q","output_index":0}
		],"outputs":[]}`))
	})

	inputs, err := c.GetTransactionInputs(context.Background(), "cafe")
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, "addr_first", inputs[0].Address)
	assert.Equal(t, "addr_second", inputs[1].Address)
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"is_healthy":true}`))
	})

	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRequest_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"status_code":403,"error":"Forbidden","message":"Invalid project token."}`))
	})

	_, err := c.GetTransactionInputs(context.Background(), "cafe")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "Invalid project token.", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoRequest_GivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListRecentDeposits(context.Background(), "addr1x", 5)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHealth_Unhealthy(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"is_healthy":false}`))
	})

	assert.Error(t, c.Health(context.Background()))
}
