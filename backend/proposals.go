package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/avocado-safe/avocado-core/pkg/logger"
)

const (
	defaultProposalsRetryMax     = 3
	defaultProposalsRetryWaitMin = 200 * time.Millisecond
	defaultProposalsRetryWaitMax = 2 * time.Second
)

// ProposalsClient talks to the multisig proposals REST API, which stores pending multisig
// transactions and aggregates their confirmations.
type ProposalsClient struct {
	baseURL string
	http    *retryablehttp.Client
	lggr    logger.Logger
}

// ProposalsOption configures a ProposalsClient.
type ProposalsOption func(*ProposalsClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ProposalsOption {
	return func(pc *ProposalsClient) {
		pc.http.HTTPClient = c
	}
}

// WithRetry sets the number of retries and the wait bounds between them.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) ProposalsOption {
	return func(pc *ProposalsClient) {
		pc.http.RetryMax = retryMax
		pc.http.RetryWaitMin = waitMin
		pc.http.RetryWaitMax = waitMax
	}
}

// NewProposalsClient returns a client for the proposals API at baseURL.
func NewProposalsClient(baseURL string, lggr logger.Logger, opts ...ProposalsOption) *ProposalsClient {
	lggr = lggr.Named("proposals")

	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultProposalsRetryMax
	rc.RetryWaitMin = defaultProposalsRetryWaitMin
	rc.RetryWaitMax = defaultProposalsRetryWaitMax
	rc.Logger = leveledLogger{lggr}

	pc := &ProposalsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
		lggr:    lggr,
	}
	for _, opt := range opts {
		opt(pc)
	}

	return pc
}

// Create stores a new proposal together with its first confirmation.
func (c *ProposalsClient) Create(ctx context.Context, safe common.Address, req CreateProposalRequest) (*Proposal, error) {
	var out Proposal
	if err := c.do(ctx, http.MethodPost, c.path(safe), nil, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Confirm adds a confirmation to an existing proposal and returns the updated proposal.
func (c *ProposalsClient) Confirm(ctx context.Context, safe common.Address, id string, req ConfirmProposalRequest) (*Proposal, error) {
	var out Proposal
	if err := c.do(ctx, http.MethodPost, c.path(safe, id, "confirmations"), nil, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Get returns the proposal with id.
func (c *ProposalsClient) Get(ctx context.Context, safe common.Address, id string) (*Proposal, error) {
	var out Proposal
	if err := c.do(ctx, http.MethodGet, c.path(safe, id), nil, nil, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// ListByNonce returns every proposal of the safe at a nonce on a chain. Execution and rejection
// proposals share a nonce.
func (c *ProposalsClient) ListByNonce(ctx context.Context, safe common.Address, chainID uint64, nonce int64) ([]Proposal, error) {
	q := url.Values{}
	q.Set("chain_id", strconv.FormatUint(chainID, 10))
	q.Set("nonce", strconv.FormatInt(nonce, 10))

	var out listProposalsResponse
	if err := c.do(ctx, http.MethodGet, c.path(safe), q, nil, &out); err != nil {
		return nil, err
	}

	return out.Data, nil
}

// Update records the outcome of a broadcast on a proposal.
func (c *ProposalsClient) Update(ctx context.Context, safe common.Address, id string, req UpdateProposalRequest) (*Proposal, error) {
	var out Proposal
	if err := c.do(ctx, http.MethodPatch, c.path(safe, id), nil, req, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *ProposalsClient) path(safe common.Address, elems ...string) string {
	p := c.baseURL + "/safes/" + safe.Hex() + "/transactions"
	for _, e := range elems {
		p += "/" + url.PathEscape(e)
	}

	return p
}

func (c *ProposalsClient) do(ctx context.Context, method, u string, q url.Values, body, out any) error {
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var raw any
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		raw = b
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, raw)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{Code: resp.StatusCode}
		if jerr := json.Unmarshal(b, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(b))
		}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}

		return fmt.Errorf("%s %s: %w", method, u, apiErr)
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	lggr logger.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...any) { l.lggr.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...any)  { l.lggr.Infow(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...any) { l.lggr.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...any)  { l.lggr.Warnw(msg, keysAndValues...) }
