package minter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// IssueRequest asks the minting service to mint one variant to an address
type IssueRequest struct {
	Address       string  `json:"address"`
	Variant       Variant `json:"variant"`
	CarryLovelace uint64  `json:"carry_lovelace"`
	PolicyKeyHash string  `json:"policy_key_hash"`
}

type issueResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
}

// Client talks to the external minting service, which builds, signs and
// submits the mint transaction.
type Client struct {
	baseURL       string
	token         string
	policyKeyHash string
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// NewClient creates a new minting service client
func NewClient(baseURL, token, policyKeyHash string) *Client {
	return &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		token:         token,
		policyKeyHash: policyKeyHash,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
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
		return nil, fmt.Errorf("minter error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// Issue mints variant to address and returns the submitted transaction hash.
// It is never retried here: a retry after an ambiguous failure could mint twice.
func (c *Client) Issue(ctx context.Context, req IssueRequest) (string, error) {
	if req.PolicyKeyHash == "" {
		req.PolicyKeyHash = c.policyKeyHash
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/mint", req)
	if err != nil {
		return "", err
	}

	var resp issueResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	if resp.Error != "" {
		return "", errors.New("minter: " + resp.Error)
	}
	if resp.TxHash == "" {
		return "", errors.New("minter: empty tx_hash in response")
	}

	return resp.TxHash, nil
}

// Health checks the minting service is reachable
func (c *Client) Health(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err
}
