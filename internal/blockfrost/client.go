package blockfrost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/suspectuso/drop-minter/internal/ledger"
)

const txCacheSize = 512

// Client is a Blockfrost HTTP client
type Client struct {
	baseURL    string
	projectID  string
	httpClient *http.Client
	limiter    *rate.Limiter

	// confirmed transactions never change
	txs *lru.Cache[string, *TxUTXOs]

	// Retry policy for 429 / 5xx / transport errors
	attempts int
	backoff  backoff.Backoff
}

// NewClient creates a new Blockfrost client limited to rps requests per second
func NewClient(baseURL, projectID string, rps float64) *Client {
	if rps <= 0 {
		rps = 10
	}
	txs, _ := lru.New[string, *TxUTXOs](txCacheSize)
	return &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		projectID: projectID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		txs:      txs,
		attempts: 3,
		backoff: backoff.Backoff{
			Min:    500 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	b := c.backoff
	b.Reset()

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		data, err := c.do(ctx, method, path)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if c.projectID != "" {
		req.Header.Set("project_id", c.projectID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.ErrorName = http.StatusText(resp.StatusCode)
			apiErr.Message = string(data)
		}
		apiErr.StatusCode = resp.StatusCode
		return nil, apiErr
	}

	return data, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Health checks the API is reachable and healthy
func (c *Client) Health(ctx context.Context) error {
	data, err := c.doRequest(ctx, http.MethodGet, "/health")
	if err != nil {
		return err
	}

	var h Health
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if !h.IsHealthy {
		return errors.New("blockfrost reports unhealthy")
	}
	return nil
}

// GetAddressTransactions returns the most recent transactions touching an
// address, newest first. Spent outputs are included.
func (c *Client) GetAddressTransactions(ctx context.Context, address string, count int) ([]AddressTransaction, error) {
	path := fmt.Sprintf("/addresses/%s/transactions?order=desc&count=%d", address, count)
	data, err := c.doRequest(ctx, http.MethodGet, path)
	if isNotFound(err) {
		// never used addresses are reported as 404
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var txs []AddressTransaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return txs, nil
}

// GetTxUTXOs returns the inputs and outputs of a transaction
func (c *Client) GetTxUTXOs(ctx context.Context, txHash string) (*TxUTXOs, error) {
	if tx, ok := c.txs.Get(txHash); ok {
		return tx, nil
	}

	data, err := c.doRequest(ctx, http.MethodGet, "/txs/"+txHash+"/utxos")
	if err != nil {
		return nil, err
	}

	var tx TxUTXOs
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	c.txs.Add(txHash, &tx)
	return &tx, nil
}

// ListRecentDeposits returns the outputs paid to address by its count most
// recent transactions, newest transaction first. Transactions that spend from
// address itself are the wallet's own and carry no deposits.
func (c *Client) ListRecentDeposits(ctx context.Context, address string, count int) ([]ledger.Deposit, error) {
	txs, err := c.GetAddressTransactions(ctx, address, count)
	if err != nil {
		return nil, err
	}

	var deposits []ledger.Deposit
	for _, t := range txs {
		tx, err := c.GetTxUTXOs(ctx, t.TxHash)
		if err != nil {
			return nil, fmt.Errorf("tx %s: %w", t.TxHash, err)
		}
		if tx.spendsFrom(address) {
			continue
		}

		for _, out := range tx.Outputs {
			if out.Address != address {
				continue
			}
			deposits = append(deposits, ledger.Deposit{
				TxHash:      t.TxHash,
				OutputIndex: out.OutputIndex,
				Amounts:     out.Amount,
			})
		}
	}
	return deposits, nil
}

// GetTransactionInputs returns the spending inputs of a transaction in ledger order.
// Collateral and reference inputs are left out.
func (c *Client) GetTransactionInputs(ctx context.Context, txHash string) ([]ledger.Input, error) {
	tx, err := c.GetTxUTXOs(ctx, txHash)
	if err != nil {
		return nil, err
	}

	var inputs []ledger.Input
	for _, in := range tx.Inputs {
		if in.Collateral || in.Reference {
			continue
		}
		inputs = append(inputs, ledger.Input{
			Address:     in.Address,
			TxHash:      in.TxHash,
			OutputIndex: in.OutputIndex,
		})
	}
	return inputs, nil
}

// BaseURL returns the API base URL for a network name
func BaseURL(network string) string {
	switch network {
	case "preprod":
		return "https://cardano-preprod.blockfrost.io/api/v0"
	case "preview":
		return "https://cardano-preview.blockfrost.io/api/v0"
	default:
		return "https://cardano-mainnet.blockfrost.io/api/v0"
	}
}
