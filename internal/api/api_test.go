package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questchain/node/extensions/attestation"
	"github.com/questchain/node/extensions/players"
	"github.com/questchain/node/extensions/sessions"
	"github.com/questchain/node/extensions/settlement"
	"github.com/questchain/node/extensions/transactions"
	"github.com/questchain/node/internal/errs"
	"github.com/questchain/node/internal/storage"
	"github.com/questchain/node/internal/types"
)

const testToken = "secret-token"

type mockPoller struct {
	report settlement.Report
}

func (m *mockPoller) RunOnce(context.Context) (settlement.Report, error) {
	return m.report, nil
}

type testAPI struct {
	srv    *httptest.Server
	signer *attestation.Signer
}

func newTestAPI(t *testing.T, withSigner bool, poller Poller) *testAPI {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	signer := &attestation.Signer{}
	if withSigner {
		signer, err = attestation.NewSignerFromKey(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize)), nil)
		require.NoError(t, err)
	}

	params := Params{
		Players:      players.NewRegistry(store, nil),
		Sessions:     sessions.NewService(sessions.Params{Store: store, Signer: signer}),
		Transactions: transactions.NewTracker(transactions.Params{Store: store}),
		Signer:       signer,
		AccessToken:  testToken,
	}
	if poller != nil {
		params.Poller = poller
	}
	srv := httptest.NewServer(NewServer(params).Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, signer: signer}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set(AccessTokenHeader, testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *testAPI) register(t *testing.T, wallet, asset string) *types.Player {
	t.Helper()
	var resp playerResponse
	code := a.do(t, http.MethodPost, "/api/players/register", players.RegisterRequest{
		WalletAddress: wallet,
		NFTPolicyID:   "policy",
		NFTAssetName:  asset,
	}, &resp)
	require.Equal(t, http.StatusCreated, code)
	return resp.Player
}

func TestAccessToken(t *testing.T) {
	a := newTestAPI(t, false, nil)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing token", "/api/statistics", "", http.StatusNotFound},
		{"wrong token", "/api/statistics", "nope", http.StatusNotFound},
		{"header token", "/api/statistics", testToken, http.StatusOK},
		{"query token", "/api/statistics?token=" + testToken, "", http.StatusOK},
		{"health is public", "/api/health", "", http.StatusOK},
		{"unknown route", "/nothing", testToken, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, a.srv.URL+tt.path, nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set(AccessTokenHeader, tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusNotFound {
				var body errorBody
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, "Not Found", body.Error)
			}
		})
	}
}

func TestPlayerEndpoints(t *testing.T) {
	a := newTestAPI(t, true, nil)
	player := a.register(t, "deadbeef", "hero")
	assert.Equal(t, types.DefaultStats(), player.Stats)

	t.Run("duplicate returns the existing player", func(t *testing.T) {
		var resp playerResponse
		code := a.do(t, http.MethodPost, "/api/players/register", players.RegisterRequest{
			WalletAddress: "deadbeef", NFTPolicyID: "policy", NFTAssetName: "hero",
		}, &resp)
		assert.Equal(t, http.StatusConflict, code)
		require.NotNil(t, resp.Player)
		assert.Equal(t, player.ID, resp.Player.ID)
	})

	t.Run("missing fields", func(t *testing.T) {
		code := a.do(t, http.MethodPost, "/api/players/register", players.RegisterRequest{WalletAddress: "aa"}, nil)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("lookup by wallet", func(t *testing.T) {
		var resp playerResponse
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/players/deadbeef", nil, &resp))
		assert.Equal(t, player.ID, resp.Player.ID)

		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/players/cafe", nil, nil))
	})
}

func TestSessionFlow(t *testing.T) {
	a := newTestAPI(t, true, nil)
	player := a.register(t, "deadbeef", "hero")
	start := startSessionRequest{NFTPolicyID: "policy", NFTAssetName: "hero"}

	var started sessionResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/sessions/start", start, &started))
	session := started.Session
	assert.Equal(t, types.SessionActive, session.Status)

	t.Run("second start conflicts with the active session", func(t *testing.T) {
		var resp sessionResponse
		assert.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, "/api/sessions/start", start, &resp))
		require.NotNil(t, resp.Session)
		assert.Equal(t, session.ID, resp.Session.ID)
	})

	t.Run("unknown NFT", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/sessions/start",
			startSessionRequest{NFTPolicyID: "policy", NFTAssetName: "ghost"}, nil))
	})

	finalizePath := fmt.Sprintf("/api/sessions/%s/finalize", session.ID)

	t.Run("finalize rejects out of range stats", func(t *testing.T) {
		bad := types.StatSet{HP: types.MaxHP + 1}
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, finalizePath, finalizeSessionRequest{FinalStats: &bad}, nil))
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, finalizePath, map[string]any{}, nil))
	})

	final := types.StatSet{HP: 90, Exp: 25, Agility: 11, Strength: 12, Intelligence: 10, Speed: 14}
	var finalized sessionResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, finalizePath, finalizeSessionRequest{FinalStats: &final}, &finalized))
	require.NotNil(t, finalized.Signature)
	assert.Equal(t, types.SessionFinalizing, finalized.Session.Status)
	assert.True(t, attestation.VerifyHex(finalized.Signature.Hash, finalized.Signature.Signature, a.signer.PublicKeyHex()))

	t.Run("finalize twice is a bad request", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, finalizePath, finalizeSessionRequest{FinalStats: &final}, nil))
	})

	t.Run("settlement transaction completes the session", func(t *testing.T) {
		var created transactionResponse
		require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/transactions", transactions.CreateRequest{
			PlayerID:  player.ID,
			SessionID: &session.ID,
			Type:      types.TxTypeFinalizeSession,
			TxHash:    "abc123",
		}, &created))

		var linked map[string][]*types.Transaction
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/transactions", nil, &linked))
		require.Len(t, linked["transactions"], 1)

		var confirmed transactionResponse
		height := int64(1200)
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/transactions/"+created.Transaction.ID+"/confirm",
			confirmRequest{BlockHeight: &height, Slot: 5}, &confirmed))
		assert.Equal(t, types.TxConfirmed, confirmed.Transaction.Status)

		var done sessionResponse
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sessions/"+session.ID+"/complete", nil, &done))
		assert.Equal(t, types.SessionCompleted, done.Session.Status)
	})

	t.Run("lookups", func(t *testing.T) {
		var got sessionResponse
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/sessions/"+session.ID, nil, &got))
		assert.Equal(t, types.SessionCompleted, got.Session.Status)

		var list map[string][]*types.Session
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/sessions/player/"+player.ID+"?limit=5", nil, &list))
		assert.Len(t, list["sessions"], 1)

		assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/api/sessions/missing", nil, nil))
	})

	t.Run("statistics", func(t *testing.T) {
		var stats statisticsResponse
		require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/statistics", nil, &stats))
		assert.Equal(t, 1, stats.Players.Total)
		assert.Equal(t, 1, stats.Sessions.Completed)
		assert.Equal(t, 1, stats.Transactions.Confirmed)
	})
}

func TestFinalizeWithoutSigner(t *testing.T) {
	a := newTestAPI(t, false, nil)
	a.register(t, "deadbeef", "hero")

	var started sessionResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/sessions/start",
		startSessionRequest{NFTPolicyID: "policy", NFTAssetName: "hero"}, &started))

	stats := types.DefaultStats()
	code := a.do(t, http.MethodPost, "/api/sessions/"+started.Session.ID+"/finalize", finalizeSessionRequest{FinalStats: &stats}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestTransactionRetryBudget(t *testing.T) {
	a := newTestAPI(t, false, nil)
	player := a.register(t, "deadbeef", "hero")

	var created transactionResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/transactions",
		transactions.CreateRequest{PlayerID: player.ID, Type: types.TxTypeMintNFT, TxHash: "h"}, &created))
	retryPath := "/api/transactions/" + created.Transaction.ID + "/retry"

	for i := 1; i <= transactions.DefaultMaxRetries; i++ {
		var resp transactionResponse
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, retryPath, nil, &resp))
		assert.Equal(t, i, resp.Transaction.RetryCount)
	}

	var exhausted transactionResponse
	require.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, retryPath, nil, &exhausted))
	assert.Equal(t, types.TxFailed, exhausted.Transaction.Status)
	assert.Equal(t, transactions.MaxRetriesExceeded, exhausted.Error)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, retryPath, nil, nil))
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/api/transactions/missing/retry", nil, nil))

	var page transactionPage
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/api/transactions?page=1&limit=500", nil, &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, maxTransactionPageSize, page.Limit)
	assert.Len(t, page.Transactions, 1)

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/transactions",
		transactions.CreateRequest{PlayerID: player.ID, Type: "BURN"}, nil))
}

func TestSignAndVerify(t *testing.T) {
	t.Run("unavailable without keys", func(t *testing.T) {
		a := newTestAPI(t, false, nil)
		var body errorBody
		assert.Equal(t, http.StatusServiceUnavailable, a.do(t, http.MethodPost, "/api/sign", map[string]any{}, &body))
		assert.Contains(t, body.Error, "GAME_PRIVATE_KEY")
	})

	a := newTestAPI(t, true, nil)
	stats := types.DefaultStats()
	sessionID := int64(3)

	var signed signResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/sign",
		signRequest{Stats: &stats, PlayerAddress: "deadbeef", SessionID: &sessionID}, &signed))
	require.NotNil(t, signed.Result)
	assert.Equal(t, "success", signed.Status)

	want, err := attestation.Canonicalize(stats, sessionID, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%x", want), signed.Message)

	t.Run("missing fields", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/sign", signRequest{Stats: &stats}, nil))
	})

	t.Run("bad address", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/sign",
			signRequest{Stats: &stats, PlayerAddress: "xyz", SessionID: &sessionID}, nil))
	})

	t.Run("verify", func(t *testing.T) {
		var resp map[string]bool
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/verify",
			verifyRequest{Hash: signed.Hash, Message: signed.Message, Signature: signed.Signature}, &resp))
		assert.True(t, resp["valid"])

		tampered := fmt.Sprintf("%x", attestation.Hash([]byte("other")))
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/verify",
			verifyRequest{Hash: tampered, Signature: signed.Signature, PublicKey: signed.PublicKey}, &resp))
		assert.False(t, resp["valid"])
	})

	t.Run("verify rejects malformed signatures", func(t *testing.T) {
		var body errorBody
		require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/verify",
			verifyRequest{Hash: signed.Hash, Signature: signed.Signature[:64]}, &body))
		assert.Contains(t, body.Error, errs.ErrInvalidSignatureLength.Error())

		assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/api/verify",
			verifyRequest{Hash: signed.Hash, Signature: "not-hex"}, nil))
	})

	t.Run("verify accepts 0x prefixes", func(t *testing.T) {
		var resp map[string]bool
		require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/verify",
			verifyRequest{Hash: "0x" + signed.Hash, Signature: "0x" + signed.Signature}, &resp))
		assert.True(t, resp["valid"])
	})
}

func TestPollEndpoint(t *testing.T) {
	a := newTestAPI(t, false, nil)
	assert.Equal(t, http.StatusServiceUnavailable, a.do(t, http.MethodPost, "/api/poll", nil, nil))

	p := &mockPoller{report: settlement.Report{Checked: 2, Confirmed: 1}}
	a = newTestAPI(t, false, p)
	var report settlement.Report
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/api/poll", nil, &report))
	assert.Equal(t, p.report, report)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.Wrap(errs.ErrEncoding, "wallet"), http.StatusBadRequest},
		{errs.ErrInvalidDigestLength, http.StatusBadRequest},
		{errs.ErrSessionNotActive, http.StatusBadRequest},
		{errs.ErrInvalidTransition, http.StatusBadRequest},
		{errs.ErrSessionConflict, http.StatusConflict},
		{errs.ErrRetryBudgetExhausted, http.StatusConflict},
		{errs.ErrPlayerNotFound, http.StatusNotFound},
		{errs.ErrSigningUnavailable, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
