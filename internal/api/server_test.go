package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/internal/engine"
	"github.com/nrbontha/spherepay/pkg/logger"
)

type fakeTransfers struct {
	created *domain.Transaction
	txns    map[int64]*domain.Transaction
	err     error
}

func (f *fakeTransfers) CreateTransaction(ctx context.Context, req engine.CreateRequest) (*domain.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.created, nil
}

func (f *fakeTransfers) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	txn, ok := f.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", domain.ErrNotFound, id)
	}
	return txn, nil
}

type fakeRateStore struct {
	recorded *domain.FxRate
	latest   *domain.FxRate
	err      error
}

func (f *fakeRateStore) RecordRate(ctx context.Context, pair, rate string, timestamp time.Time) (*domain.FxRate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.recorded, nil
}

func (f *fakeRateStore) LatestRate(ctx context.Context, base, quote string) (*domain.FxRate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.latest, nil
}

type fakePools struct {
	pools []domain.LiquidityPool
}

func (f *fakePools) ListPools(ctx context.Context) ([]domain.LiquidityPool, error) {
	return f.pools, nil
}

func newTestServer(t *testing.T, transfers TransferService, rates RateService, pools PoolService) *Server {
	t.Helper()
	return NewServer(Config{Port: "0"}, transfers, rates, pools, nil, logger.NewLogger("test"))
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestRecordRate(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	rates := &fakeRateStore{recorded: &domain.FxRate{
		ID:           1,
		CurrencyPair: "USD/EUR",
		Rate:         decimal.RequireFromString("0.92"),
		Timestamp:    now,
	}}
	s := newTestServer(t, &fakeTransfers{}, rates, &fakePools{})

	rec := doJSON(t, s, http.MethodPost, "/fx-rate", map[string]any{
		"pair":      "USD/EUR",
		"rate":      "0.92",
		"timestamp": now.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string       `json:"status"`
		Data   rateResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "USD/EUR", resp.Data.Pair)
	assert.Equal(t, "0.920000", resp.Data.Rate)
}

func TestRecordRateInvalidInput(t *testing.T) {
	rates := &fakeRateStore{err: fmt.Errorf("%w: rate must be positive", domain.ErrInvalidInput)}
	s := newTestServer(t, &fakeTransfers{}, rates, &fakePools{})

	rec := doJSON(t, s, http.MethodPost, "/fx-rate", map[string]any{
		"pair":      "USD/EUR",
		"rate":      "-1",
		"timestamp": time.Now().Format(time.RFC3339),
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordRateMissingBody(t *testing.T) {
	s := newTestServer(t, &fakeTransfers{}, &fakeRateStore{}, &fakePools{})
	rec := doJSON(t, s, http.MethodPost, "/fx-rate", map[string]any{"pair": "USD/EUR"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestRate(t *testing.T) {
	rates := &fakeRateStore{latest: &domain.FxRate{
		CurrencyPair: "USD/EUR",
		Rate:         decimal.RequireFromString("0.92"),
		Timestamp:    time.Now(),
	}}
	s := newTestServer(t, &fakeTransfers{}, rates, &fakePools{})

	rec := doJSON(t, s, http.MethodGet, "/fx-rate/USD-EUR", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "USD/EUR", resp.Pair)
}

func TestLatestRateNotFound(t *testing.T) {
	rates := &fakeRateStore{err: fmt.Errorf("%w: no rate for pair USD/EUR", domain.ErrNotFound)}
	s := newTestServer(t, &fakeTransfers{}, rates, &fakePools{})

	rec := doJSON(t, s, http.MethodGet, "/fx-rate/USD-EUR", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestRateMalformedPair(t *testing.T) {
	s := newTestServer(t, &fakeTransfers{}, &fakeRateStore{}, &fakePools{})
	rec := doJSON(t, s, http.MethodGet, "/fx-rate/USDEUR", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransfer(t *testing.T) {
	created := &domain.Transaction{
		ID:             7,
		SourceCurrency: "USD",
		TargetCurrency: "EUR",
		SourceAmount:   decimal.RequireFromString("1000"),
		TargetAmount:   decimal.RequireFromString("919.08"),
		FxRate:         decimal.RequireFromString("0.92"),
		Margin:         decimal.RequireFromString("0.001"),
		Revenue:        decimal.RequireFromString("0.92"),
		Status:         domain.StatusPending,
		CreatedAt:      time.Now(),
	}
	s := newTestServer(t, &fakeTransfers{created: created}, &fakeRateStore{}, &fakePools{})

	rec := doJSON(t, s, http.MethodPost, "/transfer", map[string]any{
		"source_currency": "USD",
		"target_currency": "EUR",
		"source_amount":   "1000",
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string           `json:"status"`
		Data   transferResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, int64(7), resp.Data.ID)
	assert.Equal(t, "919.080000", resp.Data.TargetAmount)
	assert.Equal(t, "PENDING", resp.Data.Status)
	assert.Nil(t, resp.Data.SettledAt)
}

func TestCreateTransferUnsupportedCurrency(t *testing.T) {
	transfers := &fakeTransfers{err: fmt.Errorf("%w: unsupported currency pair CAD/USD", domain.ErrInvalidInput)}
	s := newTestServer(t, transfers, &fakeRateStore{}, &fakePools{})

	rec := doJSON(t, s, http.MethodPost, "/transfer", map[string]any{
		"source_currency": "CAD",
		"target_currency": "USD",
		"source_amount":   "100",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTransferNoRate(t *testing.T) {
	transfers := &fakeTransfers{err: fmt.Errorf("%w: no rate for pair USD/EUR", domain.ErrNotFound)}
	s := newTestServer(t, transfers, &fakeRateStore{}, &fakePools{})

	rec := doJSON(t, s, http.MethodPost, "/transfer", map[string]any{
		"source_currency": "USD",
		"target_currency": "EUR",
		"source_amount":   "100",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransfer(t *testing.T) {
	settled := time.Now().UTC()
	transfers := &fakeTransfers{txns: map[int64]*domain.Transaction{
		7: {
			ID:             7,
			SourceCurrency: "USD",
			TargetCurrency: "EUR",
			SourceAmount:   decimal.RequireFromString("1000"),
			TargetAmount:   decimal.RequireFromString("919.08"),
			FxRate:         decimal.RequireFromString("0.92"),
			Margin:         decimal.RequireFromString("0.001"),
			Status:         domain.StatusCompleted,
			CreatedAt:      settled.Add(-10 * time.Second),
			SettledAt:      &settled,
		},
	}}
	s := newTestServer(t, transfers, &fakeRateStore{}, &fakePools{})

	rec := doJSON(t, s, http.MethodGet, "/transfer/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data transferResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "COMPLETED", resp.Data.Status)
	require.NotNil(t, resp.Data.SettledAt)
}

func TestGetTransferNotFound(t *testing.T) {
	s := newTestServer(t, &fakeTransfers{txns: map[int64]*domain.Transaction{}}, &fakeRateStore{}, &fakePools{})
	rec := doJSON(t, s, http.MethodGet, "/transfer/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTransferBadID(t *testing.T) {
	s := newTestServer(t, &fakeTransfers{}, &fakeRateStore{}, &fakePools{})
	rec := doJSON(t, s, http.MethodGet, "/transfer/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPools(t *testing.T) {
	pools := &fakePools{pools: []domain.LiquidityPool{
		{
			Currency:        "EUR",
			Balance:         decimal.RequireFromString("921658"),
			ReservedBalance: decimal.RequireFromString("919.08"),
			UpdatedAt:       time.Now(),
		},
	}}
	s := newTestServer(t, &fakeTransfers{}, &fakeRateStore{}, pools)

	rec := doJSON(t, s, http.MethodGet, "/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Pools []poolResponse `json:"pools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Pools, 1)
	assert.Equal(t, "920738.920000", resp.Pools[0].Available)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeTransfers{}, &fakeRateStore{}, &fakePools{})
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
