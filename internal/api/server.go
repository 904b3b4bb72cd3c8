// Package api exposes the node over JSON/HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/extensions/players"
	"github.com/questchain/node/extensions/sessions"
	"github.com/questchain/node/extensions/settlement"
	"github.com/questchain/node/extensions/transactions"
	"github.com/questchain/node/internal/types"
)

// DefaultRequestTimeout bounds a single request.
const DefaultRequestTimeout = 30 * time.Second

// maxBodyBytes matches the 10kb JSON limit of the game client API.
const maxBodyBytes = 10 << 10

type Players interface {
	Register(ctx context.Context, req players.RegisterRequest) (*types.Player, error)
	GetByWallet(ctx context.Context, wallet string) (*types.Player, error)
	GetByNFT(ctx context.Context, policyID, assetName string) (*types.Player, error)
	CountActive(ctx context.Context) (int, error)
}

type Sessions interface {
	Start(ctx context.Context, playerID string) (*types.Session, error)
	Finalize(ctx context.Context, sessionID string, final types.StatSet) (*sessions.FinalizeResult, error)
	Complete(ctx context.Context, sessionID string) (*types.Session, error)
	Fail(ctx context.Context, sessionID, reason string) (*types.Session, error)
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	ActiveForPlayer(ctx context.Context, playerID string) (*types.Session, error)
	ListByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Session, error)
	Statistics(ctx context.Context) (*sessions.Statistics, error)
}

type Transactions interface {
	Create(ctx context.Context, req transactions.CreateRequest) (*types.Transaction, error)
	Get(ctx context.Context, id string) (*types.Transaction, error)
	List(ctx context.Context, page, limit int) ([]*types.Transaction, int, error)
	ListBySession(ctx context.Context, sessionID string) ([]*types.Transaction, error)
	SetHash(ctx context.Context, id, hash string) (*types.Transaction, error)
	Confirm(ctx context.Context, id string, loc types.BlockLocator) (*types.Transaction, error)
	Retry(ctx context.Context, id string) (*types.Transaction, error)
	Resubmit(ctx context.Context, id, hash string) (*types.Transaction, error)
	Fail(ctx context.Context, id, reason string) (*types.Transaction, error)
	Statistics(ctx context.Context) (*transactions.Statistics, error)
}

type Signer interface {
	IsAvailable() bool
	PublicKeyHex() string
	SignStats(stats types.StatSet, playerAddressHex string, sessionID int64) (*attestation.Result, error)
	SignDigestHex(digestHex string) (*attestation.Result, error)
}

// Poller triggers a confirmation poll on demand.
type Poller interface {
	RunOnce(ctx context.Context) (settlement.Report, error)
}

// Params wires the server. Poller may be nil when no indexer is configured.
type Params struct {
	Players        Players
	Sessions       Sessions
	Transactions   Transactions
	Signer         Signer
	Poller         Poller
	AccessToken    string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

type Server struct {
	players      Players
	sessions     Sessions
	transactions Transactions
	signer       Signer
	poller       Poller
	token        string
	timeout      time.Duration
	logger       *zap.Logger
}

func NewServer(p Params) *Server {
	s := &Server{
		players:      p.Players,
		sessions:     p.Sessions,
		transactions: p.Transactions,
		signer:       p.Signer,
		poller:       p.Poller,
		token:        p.AccessToken,
		timeout:      p.RequestTimeout,
		logger:       p.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultRequestTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("api")
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/api/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.requireToken)

		api.Post("/players/register", s.handleRegisterPlayer)
		api.Get("/players/{wallet}", s.handleGetPlayer)

		api.Route("/sessions", func(sr chi.Router) {
			sr.Post("/start", s.handleStartSession)
			sr.Get("/player/{playerID}", s.handleListPlayerSessions)
			sr.Get("/{sessionID}", s.handleGetSession)
			sr.Get("/{sessionID}/transactions", s.handleSessionTransactions)
			sr.Post("/{sessionID}/finalize", s.handleFinalizeSession)
			sr.Post("/{sessionID}/complete", s.handleCompleteSession)
			sr.Post("/{sessionID}/fail", s.handleFailSession)
		})

		api.Route("/transactions", func(tr chi.Router) {
			tr.Get("/", s.handleListTransactions)
			tr.Post("/", s.handleCreateTransaction)
			tr.Get("/{txID}", s.handleGetTransaction)
			tr.Post("/{txID}/hash", s.handleSetTransactionHash)
			tr.Post("/{txID}/confirm", s.handleConfirmTransaction)
			tr.Post("/{txID}/retry", s.handleRetryTransaction)
			tr.Post("/{txID}/resubmit", s.handleResubmitTransaction)
			tr.Post("/{txID}/fail", s.handleFailTransaction)
		})

		api.Get("/statistics", s.handleStatistics)
		api.Post("/sign", s.handleSign)
		api.Post("/verify", s.handleVerify)
		api.Post("/poll", s.handlePoll)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(started)))
	})
}
