package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

const (
	defaultSessionLimit = 10
	maxSessionLimit     = 100
)

type startSessionRequest struct {
	NFTPolicyID  string `json:"nft_policy_id"`
	NFTAssetName string `json:"nft_asset_name"`
}

type finalizeSessionRequest struct {
	FinalStats *types.StatSet `json:"final_stats"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

type sessionResponse struct {
	Status    string              `json:"status,omitempty"`
	Error     string              `json:"error,omitempty"`
	Session   *types.Session      `json:"session"`
	Signature *attestation.Result `json:"signature,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.NFTPolicyID) == "" || strings.TrimSpace(req.NFTAssetName) == "" {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, "missing required fields: nft_policy_id, nft_asset_name"))
		return
	}

	ctx := r.Context()
	player, err := s.players.GetByNFT(ctx, req.NFTPolicyID, req.NFTAssetName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.sessions.Start(ctx, player.ID)
	if errors.Is(err, errs.ErrSessionConflict) {
		active, lookupErr := s.sessions.ActiveForPlayer(ctx, player.ID)
		if lookupErr == nil {
			writeJSON(w, http.StatusConflict, sessionResponse{Error: "Player already in active session", Session: active})
			return
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Status: "success", Session: session})
}

func (s *Server) handleFinalizeSession(w http.ResponseWriter, r *http.Request) {
	var req finalizeSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.FinalStats == nil {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, "final_stats is required"))
		return
	}
	if err := req.FinalStats.Validate(); err != nil {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, err.Error()))
		return
	}

	res, err := s.sessions.Finalize(r.Context(), chi.URLParam(r, "sessionID"), *req.FinalStats)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: "success", Session: res.Session, Signature: res.Attestation})
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Complete(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: "success", Session: session})
}

func (s *Server) handleFailSession(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.sessions.Fail(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Status: "success", Session: session})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (s *Server) handleListPlayerSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultSessionLimit, maxSessionLimit)
	list, err := s.sessions.ListByPlayer(r.Context(), chi.URLParam(r, "playerID"), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": nonNil(list)})
}

func (s *Server) handleSessionTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.transactions.ListBySession(ctx, sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": nonNil(list)})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
