package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VaultKeeper/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(ClientConfig{
		BaseURL:            srv.URL + "/",
		APIKey:             "secret",
		VaultID:            "vault-1",
		Address:            "addr-1",
		Timeout:            2 * time.Second,
		ConfirmationBlocks: 5,
	})
}

func TestHTTPClient_GetVault(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vaults/vault-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"vault_id":"vault-1","state":"ACTIVE","collateral_ratio":"251.5","collateral_value":1000,
			"loan_amounts":[{"symbol":"DUSD","amount":"100"}]}`))
	}))

	v, err := c.GetVault(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.VaultActive, v.State)
	assert.True(t, v.CollateralRatio.Equal(decimal.RequireFromString("251.5")))
	assert.True(t, v.CollateralValue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, v.Loan("DUSD").Equal(decimal.NewFromInt(100)))
}

func TestHTTPClient_GetBalancesSumsDuplicates(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/addresses/addr-1/balances", r.URL.Path)
		w.Write([]byte(`[{"symbol":"DFI","amount":"1.5"},{"symbol":"DFI","amount":"0.5"},{"symbol":"GLD-DUSD","amount":"3"}]`))
	}))

	b, err := c.GetBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Get("DFI").Equal(decimal.NewFromInt(2)))
	assert.True(t, b.Get("GLD-DUSD").Equal(decimal.NewFromInt(3)))
	assert.True(t, b.Get("TSLA").IsZero())
}

func TestHTTPClient_SubmitSendsOperation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var op Operation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&op))
		assert.Equal(t, OpTakeLoan, op.Type)
		assert.Equal(t, "addr-1", op.Address)
		require.Len(t, op.Amounts, 1)
		w.Write([]byte(`{"txid":"abc"}`))
	}))

	txID, err := c.Submit(context.Background(), Operation{
		Type:    OpTakeLoan,
		VaultID: "vault-1",
		Amounts: []Amount{{Symbol: "DUSD", Amount: decimal.NewFromInt(10)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", txID)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusGatewayTimeout, KindServiceTimeout},
		{http.StatusServiceUnavailable, KindServiceTimeout},
		{http.StatusBadRequest, KindRejected},
		{http.StatusConflict, KindRejected},
		{http.StatusInternalServerError, KindUnknown},
	}
	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		_, err := c.Submit(context.Background(), Operation{Type: OpPaybackLoan})
		require.Error(t, err)
		assert.Equal(t, tt.want, KindOf(err), "status %d", tt.status)
		assert.Equal(t, tt.want == KindServiceTimeout, IsServiceTimeout(err))
	}
}

func TestHTTPClient_SlowServiceIsServiceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(ClientConfig{BaseURL: srv.URL, VaultID: "v", Timeout: 20 * time.Millisecond})

	_, err := c.GetVault(context.Background())
	require.Error(t, err)
	assert.True(t, IsServiceTimeout(err), "got %v", err)
}

func TestHTTPClient_ReadsRetryTimeouts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusGatewayTimeout)
			return
		}
		w.Write([]byte(`{"height":7}`))
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(ClientConfig{BaseURL: srv.URL, ReadRetryMaxTime: 10 * time.Second})

	h, err := c.BlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), h)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_SubmitIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusGatewayTimeout)
	}))
	t.Cleanup(srv.Close)
	c := NewHTTPClient(ClientConfig{BaseURL: srv.URL, ReadRetryMaxTime: 10 * time.Second})

	_, err := c.Submit(context.Background(), Operation{Type: OpAddLiquidity})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_PollConfirmation(t *testing.T) {
	var confirmed atomic.Bool
	var tip atomic.Int64
	tip.Store(100)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transactions/tx-1":
			if confirmed.Load() {
				w.Write([]byte(`{"txid":"tx-1","confirmed":true,"block_height":101}`))
				return
			}
			http.NotFound(w, r)
		case "/v1/blocks/tip":
			json.NewEncoder(w).Encode(map[string]int64{"height": tip.Load()})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	ctx := context.Background()

	status, err := c.PollConfirmation(ctx, "tx-1", 98)
	require.NoError(t, err)
	assert.Equal(t, Pending, status)

	tip.Store(104)
	status, err = c.PollConfirmation(ctx, "tx-1", 98)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, status)

	confirmed.Store(true)
	status, err = c.PollConfirmation(ctx, "tx-1", 98)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, status)
}
