package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nrbontha/spherepay/internal/domain"
	"github.com/nrbontha/spherepay/internal/engine"
)

// Amounts and rates travel as strings on the wire to preserve decimal
// precision.

type recordRateRequest struct {
	Pair      string    `json:"pair" binding:"required"`
	Rate      string    `json:"rate" binding:"required"`
	Timestamp time.Time `json:"timestamp" binding:"required"`
}

type rateResponse struct {
	Pair      string    `json:"pair"`
	Rate      string    `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

type createTransferRequest struct {
	SourceCurrency string `json:"source_currency" binding:"required"`
	TargetCurrency string `json:"target_currency" binding:"required"`
	SourceAmount   string `json:"source_amount" binding:"required"`
}

type transferResponse struct {
	ID             int64      `json:"id"`
	SourceCurrency string     `json:"source_currency"`
	TargetCurrency string     `json:"target_currency"`
	SourceAmount   string     `json:"source_amount"`
	TargetAmount   string     `json:"target_amount"`
	FxRate         string     `json:"fx_rate"`
	Margin         string     `json:"margin"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	SettledAt      *time.Time `json:"settled_at"`
}

type poolResponse struct {
	Currency        string    `json:"currency"`
	Balance         string    `json:"balance"`
	ReservedBalance string    `json:"reserved_balance"`
	Available       string    `json:"available"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// handleRecordRate handles POST /fx-rate
func (s *Server) handleRecordRate(c *gin.Context) {
	var req recordRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	observation, err := s.rates.RecordRate(c.Request.Context(), req.Pair, req.Rate, req.Timestamp)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   toRateResponse(observation),
	})
}

// handleLatestRate handles GET /fx-rate/:pair where pair is "BASE-QUOTE"
func (s *Server) handleLatestRate(c *gin.Context) {
	base, quote, ok := strings.Cut(c.Param("pair"), "-")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pair must be formatted as BASE-QUOTE"})
		return
	}

	observation, err := s.rates.LatestRate(c.Request.Context(), base, quote)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRateResponse(observation))
}

// handleCreateTransfer handles POST /transfer. A successful response carries
// the PENDING record; settlement runs asynchronously and its outcome is
// visible through GET /transfer/:id.
func (s *Server) handleCreateTransfer(c *gin.Context) {
	var req createTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	txn, err := s.transfers.CreateTransaction(c.Request.Context(), engine.CreateRequest{
		SourceCurrency: req.SourceCurrency,
		TargetCurrency: req.TargetCurrency,
		SourceAmount:   req.SourceAmount,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   toTransferResponse(txn),
	})
}

// handleGetTransfer handles GET /transfer/:id
func (s *Server) handleGetTransfer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfer id must be an integer"})
		return
	}

	txn, err := s.transfers.GetTransaction(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   toTransferResponse(txn),
	})
}

// handleListPools handles GET /pools
func (s *Server) handleListPools(c *gin.Context) {
	pools, err := s.pools.ListPools(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}

	out := make([]poolResponse, 0, len(pools))
	for _, pool := range pools {
		out = append(out, poolResponse{
			Currency:        pool.Currency,
			Balance:         pool.Balance.StringFixed(domain.MoneyScale),
			ReservedBalance: pool.ReservedBalance.StringFixed(domain.MoneyScale),
			Available:       pool.Available().StringFixed(domain.MoneyScale),
			UpdatedAt:       pool.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"pools": out})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// writeError maps error kinds to HTTP statuses. Internal details are logged
// but not echoed back.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInsufficientLiquidity):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func toRateResponse(r *domain.FxRate) rateResponse {
	return rateResponse{
		Pair:      r.CurrencyPair,
		Rate:      r.Rate.StringFixed(domain.MoneyScale),
		Timestamp: r.Timestamp,
	}
}

func toTransferResponse(t *domain.Transaction) transferResponse {
	return transferResponse{
		ID:             t.ID,
		SourceCurrency: t.SourceCurrency,
		TargetCurrency: t.TargetCurrency,
		SourceAmount:   t.SourceAmount.StringFixed(domain.MoneyScale),
		TargetAmount:   t.TargetAmount.StringFixed(domain.MoneyScale),
		FxRate:         t.FxRate.StringFixed(domain.MoneyScale),
		Margin:         t.Margin.StringFixed(domain.MoneyScale),
		Status:         string(t.Status),
		CreatedAt:      t.CreatedAt,
		SettledAt:      t.SettledAt,
	}
}
