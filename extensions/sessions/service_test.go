package sessions

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/storage"
	"github.com/questchain/node/internal/tracing"
	"github.com/questchain/node/internal/types"
)

const (
	testSeedHex   = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	testPlayerID  = "player-1"
	testWalletHex = "deadbeef"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// unavailableSigner mimics a node started without GAME_PRIVATE_KEY.
type unavailableSigner struct{}

func (unavailableSigner) SignStats(types.StatSet, string, int64) (*attestation.Result, error) {
	return nil, errs.ErrSigningUnavailable
}

func newTestSigner(t *testing.T) *attestation.Signer {
	t.Helper()
	seed, err := hex.DecodeString(testSeedHex)
	require.NoError(t, err)
	signer, err := attestation.NewSignerFromKey(ed25519.NewKeyFromSeed(seed), nil)
	require.NoError(t, err)
	return signer
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreatePlayer(context.Background(), &types.Player{
		ID:            testPlayerID,
		WalletAddress: testWalletHex,
		NFTPolicyID:   "policy",
		NFTAssetName:  "hero",
		Stats:         types.DefaultStats(),
		IsActive:      true,
	}))
	return s
}

func newTestService(t *testing.T, signer Signer) (*Service, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewService(Params{
		Store:  store,
		Signer: signer,
		Clock:  func() time.Time { return testNow },
	}), store
}

func TestStartSnapshotsPlayer(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, newTestSigner(t))

	session, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, session.Status)
	assert.Equal(t, int64(0), session.SessionNumber)
	assert.Equal(t, types.DefaultStats(), session.StartStats)
	assert.Equal(t, testNow, session.StartedAt)

	player, err := store.GetPlayer(ctx, testPlayerID)
	require.NoError(t, err)
	assert.True(t, player.IsPlaying)
	require.NotNil(t, player.LastPlayedAt)

	active, err := svc.ActiveForPlayer(ctx, testPlayerID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, active.ID)
}

func TestStartUnknownPlayer(t *testing.T) {
	svc, _ := newTestService(t, newTestSigner(t))
	_, err := svc.Start(context.Background(), "ghost")
	assert.ErrorIs(t, err, errs.ErrPlayerNotFound)
}

func TestSessionExclusivity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newTestSigner(t))

	first, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)

	_, err = svc.Start(ctx, testPlayerID)
	require.ErrorIs(t, err, errs.ErrSessionConflict)

	_, err = svc.Finalize(ctx, first.ID, types.DefaultStats())
	require.NoError(t, err)

	second, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Greater(t, second.SessionNumber, first.SessionNumber)
}

func TestConcurrentStart(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newTestSigner(t))

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Start(ctx, testPlayerID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if errors.Is(err, errs.ErrSessionConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, workers-1, conflicts)
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner(t)
	svc, store := newTestService(t, signer)

	session, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)

	final := types.StatSet{HP: 95, Exp: 40, Agility: 12, Strength: 11, Intelligence: 10, Speed: 13}
	res, err := svc.Finalize(ctx, session.ID, final)
	require.NoError(t, err)

	t.Run("session carries the attestation", func(t *testing.T) {
		assert.Equal(t, types.SessionFinalizing, res.Session.Status)
		require.NotNil(t, res.Session.EndStats)
		assert.Equal(t, final, *res.Session.EndStats)
		assert.Equal(t, res.Attestation.Signature, res.Session.Signature)
		assert.Equal(t, res.Attestation.Message, res.Session.Message)
		require.NotNil(t, res.Session.FinalizedAt)
	})

	t.Run("attestation is signed for the next session", func(t *testing.T) {
		want, err := attestation.Canonicalize(final, session.SessionNumber+1, testWalletHex)
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(want), res.Attestation.Message)
		assert.True(t, attestation.VerifyHex(res.Attestation.Hash, res.Attestation.Signature, signer.PublicKeyHex()))
	})

	t.Run("player advanced in the same step", func(t *testing.T) {
		player, err := store.GetPlayer(ctx, testPlayerID)
		require.NoError(t, err)
		assert.Equal(t, final, player.Stats)
		assert.Equal(t, session.SessionNumber+1, player.SessionCounter)
		assert.False(t, player.IsPlaying)
	})

	t.Run("second finalize is rejected", func(t *testing.T) {
		_, err := svc.Finalize(ctx, session.ID, final)
		assert.ErrorIs(t, err, errs.ErrSessionNotActive)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := svc.Finalize(ctx, "missing", final)
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	})
}

func TestFinalizeWithoutSigner(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, unavailableSigner{})

	session, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)

	_, err = svc.Finalize(ctx, session.ID, types.DefaultStats())
	require.ErrorIs(t, err, errs.ErrSigningUnavailable)

	// Nothing was written: the session is still ACTIVE and the player playing.
	got, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionActive, got.Status)
	player, err := store.GetPlayer(ctx, testPlayerID)
	require.NoError(t, err)
	assert.True(t, player.IsPlaying)
	assert.Equal(t, int64(0), player.SessionCounter)
}

func TestCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, newTestSigner(t))

	t.Run("complete requires finalizing", func(t *testing.T) {
		session, err := svc.Start(ctx, testPlayerID)
		require.NoError(t, err)

		_, err = svc.Complete(ctx, session.ID)
		require.ErrorIs(t, err, errs.ErrInvalidTransition)

		_, err = svc.Finalize(ctx, session.ID, types.DefaultStats())
		require.NoError(t, err)

		done, err := svc.Complete(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, types.SessionCompleted, done.Status)
		require.NotNil(t, done.EndedAt)

		_, err = svc.Fail(ctx, session.ID, "late")
		assert.ErrorIs(t, err, errs.ErrInvalidTransition)
	})

	t.Run("fail from active releases the player", func(t *testing.T) {
		session, err := svc.Start(ctx, testPlayerID)
		require.NoError(t, err)

		failed, err := svc.Fail(ctx, session.ID, "client disconnected")
		require.NoError(t, err)
		assert.Equal(t, types.SessionFailed, failed.Status)

		player, err := store.GetPlayer(ctx, testPlayerID)
		require.NoError(t, err)
		assert.False(t, player.IsPlaying)
		assert.Equal(t, session.SessionNumber+1, player.SessionCounter)

		next, err := svc.Start(ctx, testPlayerID)
		require.NoError(t, err)
		assert.Greater(t, next.SessionNumber, session.SessionNumber)
	})
}

func TestSessionNumbersIncreaseAcrossFailures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newTestSigner(t))

	var numbers []int64
	for i := 0; i < 3; i++ {
		session, err := svc.Start(ctx, testPlayerID)
		require.NoError(t, err)
		numbers = append(numbers, session.SessionNumber)
		_, err = svc.Fail(ctx, session.ID, "client crashed")
		require.NoError(t, err)
	}

	session, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, session.ID, types.DefaultStats())
	require.NoError(t, err)
	numbers = append(numbers, session.SessionNumber)

	session, err = svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	numbers = append(numbers, session.SessionNumber)

	assert.Equal(t, []int64{0, 1, 2, 3, 4}, numbers)
}

// spanRecorder is a tracer provider that keeps the names of started spans.
type spanRecorder struct {
	tracenoop.TracerProvider
	mu    sync.Mutex
	names []string
}

func (r *spanRecorder) Tracer(string, ...trace.TracerOption) trace.Tracer {
	return recordingTracer{rec: r}
}

func (r *spanRecorder) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

type recordingTracer struct {
	tracenoop.Tracer
	rec *spanRecorder
}

func (t recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	t.rec.mu.Lock()
	t.rec.names = append(t.rec.names, name)
	t.rec.mu.Unlock()
	return t.Tracer.Start(ctx, name, opts...)
}

func TestTransitionsAreTraced(t *testing.T) {
	rec := &spanRecorder{}
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(rec)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	svc, _ := newTestService(t, newTestSigner(t))

	first, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, first.ID, types.DefaultStats())
	require.NoError(t, err)
	_, err = svc.Complete(ctx, first.ID)
	require.NoError(t, err)

	second, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	_, err = svc.Fail(ctx, second.ID, "timeout")
	require.NoError(t, err)

	assert.Equal(t, []string{
		string(tracing.OpSessionStart),
		string(tracing.OpSessionFinalize),
		string(tracing.OpSessionComplete),
		string(tracing.OpSessionStart),
		string(tracing.OpSessionFail),
	}, rec.started())
}

func TestListingAndStatistics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, newTestSigner(t))

	first, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, first.ID, types.DefaultStats())
	require.NoError(t, err)
	_, err = svc.Complete(ctx, first.ID)
	require.NoError(t, err)

	second, err := svc.Start(ctx, testPlayerID)
	require.NoError(t, err)

	list, err := svc.ListByPlayer(ctx, testPlayerID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	active, err := svc.ListByStatus(ctx, types.SessionActive, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, Statistics{Total: 2, Active: 1, Completed: 1}, *stats)
}
