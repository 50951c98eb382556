package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
)

// ClientConfig configures HTTPClient.
type ClientConfig struct {
	BaseURL            string
	APIKey             string
	VaultID            string
	Address            string
	Timeout            time.Duration
	ConfirmationBlocks int64
	ReadRetryMaxTime   time.Duration // 0 disables read retries
	Proxy              string
}

// HTTPClient implements Gateway against the ledger service's JSON API.
type HTTPClient struct {
	BaseURL            string
	APIKey             string
	VaultID            string
	Address            string
	ConfirmationBlocks int64
	ReadRetryMaxTime   time.Duration
	Client             *http.Client
}

// NewHTTPClient creates a client with optional proxy support.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	blocks := cfg.ConfirmationBlocks
	if blocks <= 0 {
		blocks = 10
	}
	return &HTTPClient{
		BaseURL:            strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:             cfg.APIKey,
		VaultID:            cfg.VaultID,
		Address:            cfg.Address,
		ConfirmationBlocks: blocks,
		ReadRetryMaxTime:   cfg.ReadRetryMaxTime,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *HTTPClient) Name() string { return "ledger-http" }

func (c *HTTPClient) GetVault(ctx context.Context) (model.Vault, error) {
	var v model.Vault
	err := c.read(ctx, "get vault", "/v1/vaults/"+url.PathEscape(c.VaultID), &v)
	return v, err
}

func (c *HTTPClient) GetPool(ctx context.Context, pair string) (model.Pool, error) {
	var p model.Pool
	err := c.read(ctx, "get pool", "/v1/pools/"+url.PathEscape(pair), &p)
	return p, err
}

type balanceEntry struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

func (c *HTTPClient) GetBalances(ctx context.Context) (model.Balances, error) {
	var entries []balanceEntry
	if err := c.read(ctx, "get balances", "/v1/addresses/"+url.PathEscape(c.Address)+"/balances", &entries); err != nil {
		return nil, err
	}
	balances := make(model.Balances, len(entries))
	for _, e := range entries {
		balances[e.Symbol] = balances.Get(e.Symbol).Add(e.Amount)
	}
	return balances, nil
}

func (c *HTTPClient) BlockHeight(ctx context.Context) (int64, error) {
	var tip struct {
		Height int64 `json:"height"`
	}
	err := c.read(ctx, "block height", "/v1/blocks/tip", &tip)
	return tip.Height, err
}

// Submit is never retried: a second submission could execute twice.
func (c *HTTPClient) Submit(ctx context.Context, op Operation) (string, error) {
	if op.Address == "" {
		op.Address = c.Address
	}
	body, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}
	var out struct {
		TxID string `json:"txid"`
	}
	if err := c.do(ctx, "submit "+string(op.Type), http.MethodPost, "/v1/transactions", body, &out); err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", &Error{Kind: KindUnknown, Op: "submit " + string(op.Type), Err: errors.New("empty txid in response")}
	}
	return out.TxID, nil
}

// PollConfirmation checks a transaction once. It reports TimedOut when the
// chain advanced more than ConfirmationBlocks past sinceBlockHeight without
// the transaction being included.
func (c *HTTPClient) PollConfirmation(ctx context.Context, txID string, sinceBlockHeight int64) (ConfirmStatus, error) {
	var tx struct {
		TxID        string `json:"txid"`
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
	}
	err := c.read(ctx, "get transaction", "/v1/transactions/"+url.PathEscape(txID), &tx)
	var le *Error
	switch {
	case err == nil && tx.Confirmed:
		return Confirmed, nil
	case err == nil, errors.As(err, &le) && le.Status == http.StatusNotFound:
		// not (yet) in a block
	default:
		return Pending, err
	}
	height, err := c.BlockHeight(ctx)
	if err != nil {
		return Pending, err
	}
	if height > sinceBlockHeight+c.ConfirmationBlocks {
		return TimedOut, nil
	}
	return Pending, nil
}

func (c *HTTPClient) read(ctx context.Context, op, path string, out any) error {
	if c.ReadRetryMaxTime <= 0 {
		return c.do(ctx, op, http.MethodGet, path, nil, out)
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.ReadRetryMaxTime
	return backoff.Retry(func() error {
		err := c.do(ctx, op, http.MethodGet, path, nil, out)
		if err != nil && IsServiceTimeout(err) {
			return err // Retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: classifyTransport(err), Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Kind:   classifyStatus(resp.StatusCode),
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", strings.TrimSpace(string(respBody))),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUnknown, Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classifyTransport(err error) ErrorKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindServiceTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindServiceTimeout
	}
	return KindUnknown
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout, status == http.StatusServiceUnavailable:
		return KindServiceTimeout
	case status >= 400 && status < 500:
		return KindRejected
	default:
		return KindUnknown
	}
}
