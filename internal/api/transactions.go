package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/questchain/node/extensions/transactions"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const (
	defaultTransactionPageSize = 100
	maxTransactionPageSize     = 100
)

type transactionResponse struct {
	Status      string             `json:"status,omitempty"`
	Error       string             `json:"error,omitempty"`
	Transaction *types.Transaction `json:"transaction"`
}

type transactionPage struct {
	Transactions []*types.Transaction `json:"transactions"`
	Total        int                  `json:"total"`
	Page         int                  `json:"page"`
	Limit        int                  `json:"limit"`
}

type hashRequest struct {
	TxHash string `json:"tx_hash"`
}

type confirmRequest struct {
	TxHash      string     `json:"tx_hash"`
	BlockHeight *int64     `json:"block_height"`
	Slot        int64      `json:"slot"`
	BlockTime   *time.Time `json:"block_time"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1, int(^uint(0)>>1))
	limit := queryInt(r, "limit", defaultTransactionPageSize, maxTransactionPageSize)

	list, total, err := s.transactions.List(r.Context(), page, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionPage{Transactions: nonNil(list), Total: total, Page: page, Limit: limit})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactions.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.transactions.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, transactionResponse{Status: "success", Transaction: tx})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Get(r.Context(), chi.URLParam(r, "txID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Transaction: tx})
}

func (s *Server) handleSetTransactionHash(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.transactions.SetHash(r.Context(), chi.URLParam(r, "txID"), req.TxHash)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.BlockHeight == nil {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, "block_height is required"))
		return
	}
	loc := types.BlockLocator{
		TxHash:      strings.TrimSpace(req.TxHash),
		BlockHeight: *req.BlockHeight,
		Slot:        req.Slot,
	}
	if req.BlockTime != nil {
		loc.BlockTime = req.BlockTime.UTC()
	}
	tx, err := s.transactions.Confirm(r.Context(), chi.URLParam(r, "txID"), loc)
	s.writeTransaction(w, r, tx, err)
}

// handleRetryTransaction answers 409 with the FAILED record once the retry
// budget is spent.
func (s *Server) handleRetryTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.transactions.Retry(r.Context(), chi.URLParam(r, "txID"))
	if errors.Is(err, errs.ErrRetryBudgetExhausted) && tx != nil {
		writeJSON(w, http.StatusConflict, transactionResponse{Error: transactions.MaxRetriesExceeded, Transaction: tx})
		return
	}
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleResubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tx, err := s.transactions.Resubmit(r.Context(), chi.URLParam(r, "txID"), req.TxHash)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleFailTransaction(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, "reason is required"))
		return
	}
	tx, err := s.transactions.Fail(r.Context(), chi.URLParam(r, "txID"), req.Reason)
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) writeTransaction(w http.ResponseWriter, r *http.Request, tx *types.Transaction, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Status: "success", Transaction: tx})
}
