package api

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/extensions/sessions"
	"github.com/questchain/node/extensions/transactions"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/types"
)

type statisticsResponse struct {
	Players struct {
		Total int `json:"total"`
	} `json:"players"`
	Sessions     *sessions.Statistics     `json:"sessions"`
	Transactions *transactions.Statistics `json:"transactions"`
}

// handleStatistics gathers the three counters concurrently.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var resp statisticsResponse
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := s.players.CountActive(ctx)
		resp.Players.Total = n
		return err
	})
	g.Go(func() error {
		stats, err := s.sessions.Statistics(ctx)
		resp.Sessions = stats
		return err
	})
	g.Go(func() error {
		stats, err := s.transactions.Statistics(ctx)
		resp.Transactions = stats
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type signRequest struct {
	Stats         *types.StatSet `json:"stats"`
	PlayerAddress string         `json:"player_address"`
	SessionID     *int64         `json:"session_id"`
	// Digest signs a precomputed 32-byte hash instead of stats.
	Digest string `json:"digest,omitempty"`
}

type signResponse struct {
	Status string `json:"status"`
	*attestation.Result
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if s.signer == nil || !s.signer.IsAvailable() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "Signing service not available. GAME_PRIVATE_KEY not configured.",
		})
		return
	}

	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		res *attestation.Result
		err error
	)
	switch {
	case strings.TrimSpace(req.Digest) != "":
		res, err = s.signer.SignDigestHex(req.Digest)
	case req.Stats == nil || strings.TrimSpace(req.PlayerAddress) == "" || req.SessionID == nil:
		err = errors.Wrap(errs.ErrInvalidArgument, "missing required fields: stats, player_address, session_id")
	default:
		res, err = s.signer.SignStats(*req.Stats, req.PlayerAddress, *req.SessionID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, signResponse{Status: "success", Result: res})
}

type verifyRequest struct {
	Hash      string `json:"hash"`
	Message   string `json:"message,omitempty"`
	Signature string `json:"signature"`
	PublicKey string `json:"public_key,omitempty"`
}

// handleVerify checks a signature against the given public key, or the node's
// own key when none is given. When message is set the hash must match it.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	publicKey := strings.TrimSpace(req.PublicKey)
	if publicKey == "" && s.signer != nil {
		publicKey = s.signer.PublicKeyHex()
	}
	if publicKey == "" {
		s.writeError(w, r, errors.Wrap(errs.ErrInvalidArgument, "public_key is required"))
		return
	}

	if _, err := attestation.DecodeSignature(req.Signature); err != nil {
		s.writeError(w, r, err)
		return
	}

	valid := attestation.VerifyHex(req.Hash, req.Signature, publicKey)
	if valid && req.Message != "" {
		msg, err := attestation.DecodeHex("message", req.Message)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		valid = attestation.VerifyHash(msg, req.Hash)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if s.poller == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "confirmation poller not configured"})
		return
	}
	report, err := s.poller.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type healthResponse struct {
	Status    string `json:"status"`
	Signing   bool   `json:"signing"`
	PublicKey string `json:"public_key,omitempty"`
	Poller    bool   `json:"poller"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Poller: s.poller != nil,
	}
	if s.signer != nil && s.signer.IsAvailable() {
		resp.Signing = true
		resp.PublicKey = s.signer.PublicKeyHex()
	}
	writeJSON(w, http.StatusOK, resp)
}
