// Package sessions implements the game session state machine:
//
//	ACTIVE → FINALIZING → COMPLETED
//	ACTIVE | FINALIZING → FAILED
//
// A player has at most one ACTIVE session; the store enforces that with a
// unique index so concurrent starts cannot both win. Finalization signs the
// final stats for the next session number and hands the attestation back to
// the caller, who submits it on chain.
package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/extensions/metrics"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/tracing"
	"github.com/questchain/node/internal/types"
)

// Store is the persistence the state machine needs. Callbacks run inside a
// store transaction and must not call back into the store.
type Store interface {
	CreateSession(ctx context.Context, playerID string, build func(p *types.Player) (*types.Session, error)) (*types.Session, error)
	UpdateSession(ctx context.Context, id string, fn func(session *types.Session, player *types.Player) error) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetActiveSession(ctx context.Context, playerID string) (*types.Session, error)
	ListSessionsByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Session, error)
	ListSessionsByStatus(ctx context.Context, status types.SessionStatus, limit int) ([]*types.Session, error)
	CountSessionsByStatus(ctx context.Context) (map[types.SessionStatus]int, error)
}

// Signer produces stat attestations. *attestation.Signer satisfies it.
type Signer interface {
	SignStats(stats types.StatSet, playerAddressHex string, sessionID int64) (*attestation.Result, error)
}

// Params configures a Service. Store and Signer are required.
type Params struct {
	Store   Store
	Signer  Signer
	Metrics metrics.MetricsRecorder
	Logger  *zap.Logger
	Clock   func() time.Time
}

// Service owns session transitions.
type Service struct {
	store   Store
	signer  Signer
	metrics metrics.MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(p Params) *Service {
	s := &Service{
		store:   p.Store,
		signer:  p.Signer,
		metrics: p.Metrics,
		logger:  p.Logger,
		now:     p.Clock,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoOpMetrics()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("sessions")
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// FinalizeResult is the finalized session and the attestation over its
// final stats.
type FinalizeResult struct {
	Session     *types.Session      `json:"session"`
	Attestation *attestation.Result `json:"signature"`
}

// Start opens a session for playerID, snapshotting the player's current
// stats. It fails with errs.ErrSessionConflict while another session of the
// player is ACTIVE.
func (s *Service) Start(ctx context.Context, playerID string) (_ *types.Session, err error) {
	ctx, end := tracing.TraceOp(ctx, tracing.OpSessionStart, attribute.String("player_id", playerID))
	defer func() { end(err) }()

	now := s.now()
	session, err := s.store.CreateSession(ctx, playerID, func(p *types.Player) (*types.Session, error) {
		p.IsPlaying = true
		p.LastPlayedAt = &now
		return &types.Session{
			ID:            uuid.NewString(),
			PlayerID:      p.ID,
			SessionNumber: p.SessionCounter,
			Status:        types.SessionActive,
			StartStats:    p.Stats,
			StartedAt:     now,
		}, nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrSessionConflict) {
			s.metrics.RecordSessionConflict(ctx)
		}
		return nil, err
	}

	s.metrics.RecordSessionStarted(ctx)
	s.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("player_id", session.PlayerID),
		zap.Int64("session_number", session.SessionNumber))
	return session, nil
}

// Finalize signs final for session_number+1, stores the attestation and moves
// the session to FINALIZING. In the same store transaction the player takes
// the final stats, stops playing and advances its session counter. A session
// that is not ACTIVE yields errs.ErrSessionNotActive and nothing is written.
func (s *Service) Finalize(ctx context.Context, sessionID string, final types.StatSet) (_ *FinalizeResult, err error) {
	ctx, end := tracing.TraceOp(ctx, tracing.OpSessionFinalize, attribute.String("session_id", sessionID))
	defer func() { end(err) }()

	var result *attestation.Result
	session, err := s.store.UpdateSession(ctx, sessionID, func(session *types.Session, player *types.Player) error {
		switch session.Status {
		case types.SessionActive:
		case types.SessionFinalizing, types.SessionCompleted, types.SessionFailed:
			return errors.Wrapf(errs.ErrSessionNotActive, "session %s is %s", session.ID, session.Status)
		default:
			return errors.Wrapf(errs.ErrSessionNotActive, "session %s is %s", session.ID, session.Status)
		}

		nextSession := session.SessionNumber + 1
		started := time.Now()
		res, err := s.signer.SignStats(final, player.WalletAddress, nextSession)
		if err != nil {
			s.metrics.RecordAttestationError(ctx, metrics.ClassifyError(err))
			return err
		}
		s.metrics.RecordAttestationSigned(ctx, time.Since(started))
		result = res

		now := s.now()
		endStats := final
		session.Status = types.SessionFinalizing
		session.EndStats = &endStats
		session.Signature = res.Signature
		session.Message = res.Message
		session.FinalizedAt = &now

		player.Stats = final
		player.SessionCounter = nextSession
		player.IsPlaying = false
		player.LastPlayedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSessionTransition(ctx, string(session.Status))
	s.logger.Info("session finalized",
		zap.String("session_id", session.ID),
		zap.String("player_id", session.PlayerID),
		zap.Stringer("final_stats", final),
		zap.String("hash", result.Hash))
	return &FinalizeResult{Session: session, Attestation: result}, nil
}

// Complete marks a FINALIZING session COMPLETED once its settlement
// transaction is confirmed.
func (s *Service) Complete(ctx context.Context, sessionID string) (_ *types.Session, err error) {
	ctx, end := tracing.TraceOp(ctx, tracing.OpSessionComplete, attribute.String("session_id", sessionID))
	defer func() { end(err) }()

	session, err := s.store.UpdateSession(ctx, sessionID, func(session *types.Session, _ *types.Player) error {
		switch session.Status {
		case types.SessionFinalizing:
		case types.SessionActive, types.SessionCompleted, types.SessionFailed:
			return transitionError(session, types.SessionCompleted)
		default:
			return transitionError(session, types.SessionCompleted)
		}
		now := s.now()
		session.Status = types.SessionCompleted
		session.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSessionTransition(ctx, string(session.Status))
	s.logger.Info("session completed", zap.String("session_id", session.ID))
	return session, nil
}

// Fail marks an ACTIVE or FINALIZING session FAILED. Failing an ACTIVE
// session also releases the player and retires its session number, so the
// next Start gets a strictly larger one.
func (s *Service) Fail(ctx context.Context, sessionID, reason string) (_ *types.Session, err error) {
	ctx, end := tracing.TraceOp(ctx, tracing.OpSessionFail, attribute.String("session_id", sessionID))
	defer func() { end(err) }()

	session, err := s.store.UpdateSession(ctx, sessionID, func(session *types.Session, player *types.Player) error {
		switch session.Status {
		case types.SessionActive:
			player.IsPlaying = false
			if player.SessionCounter <= session.SessionNumber {
				player.SessionCounter = session.SessionNumber + 1
			}
		case types.SessionFinalizing:
		case types.SessionCompleted, types.SessionFailed:
			return transitionError(session, types.SessionFailed)
		default:
			return transitionError(session, types.SessionFailed)
		}
		now := s.now()
		session.Status = types.SessionFailed
		session.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSessionTransition(ctx, string(session.Status))
	s.logger.Warn("session failed", zap.String("session_id", session.ID), zap.String("reason", reason))
	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ActiveForPlayer returns the player's ACTIVE session or errs.ErrSessionNotFound.
func (s *Service) ActiveForPlayer(ctx context.Context, playerID string) (*types.Session, error) {
	return s.store.GetActiveSession(ctx, playerID)
}

// ListByPlayer returns up to limit sessions, newest first. limit <= 0 means 10.
func (s *Service) ListByPlayer(ctx context.Context, playerID string, limit int) ([]*types.Session, error) {
	return s.store.ListSessionsByPlayer(ctx, playerID, limit)
}

// ListByStatus returns up to limit sessions in status. limit <= 0 means 100.
func (s *Service) ListByStatus(ctx context.Context, status types.SessionStatus, limit int) ([]*types.Session, error) {
	return s.store.ListSessionsByStatus(ctx, status, limit)
}

// Statistics counts sessions per status.
type Statistics struct {
	Total      int `json:"total"`
	Active     int `json:"active"`
	Finalizing int `json:"finalizing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.store.CountSessionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{
		Active:     counts[types.SessionActive],
		Finalizing: counts[types.SessionFinalizing],
		Completed:  counts[types.SessionCompleted],
		Failed:     counts[types.SessionFailed],
	}
	stats.Total = stats.Active + stats.Finalizing + stats.Completed + stats.Failed
	return stats, nil
}

func transitionError(session *types.Session, to types.SessionStatus) error {
	return errors.Wrapf(errs.ErrInvalidTransition, "session %s: %s → %s", session.ID, session.Status, to)
}
