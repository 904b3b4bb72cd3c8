package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/questchain/node/extensions/players"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

type playerResponse struct {
	Status string        `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
	Player *types.Player `json:"player"`
}

func (s *Server) handleRegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var req players.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	player, err := s.players.Register(r.Context(), req)
	if errors.Is(err, errs.ErrPlayerExists) {
		existing, lookupErr := s.players.GetByWallet(r.Context(), req.WalletAddress)
		if lookupErr == nil {
			writeJSON(w, http.StatusConflict, playerResponse{Error: "Player already registered", Player: existing})
			return
		}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, playerResponse{Status: "success", Player: player})
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, err := s.players.GetByWallet(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, playerResponse{Player: player})
}
