package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predmarket/internal/crypto"
	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/market"
	"github.com/alanyoungcy/predmarket/internal/server/handler"
	"github.com/alanyoungcy/predmarket/internal/service"
	"github.com/alanyoungcy/predmarket/internal/store/memory"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	clock    *testClock
	operator *crypto.Signer
	creator  *crypto.Signer
	alice    *crypto.Signer
	bob      *crypto.Signer
}

func newSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)))
	require.NoError(t, err)
	return s
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		operator: newSigner(t),
		creator:  newSigner(t),
		alice:    newSigner(t),
		bob:      newSigner(t),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	audit := memory.NewAuditStore()
	bus := memory.NewSignalBus()
	events := service.NewEventBroadcaster(bus, h.operator, nil, logger)
	markets := service.NewMarketService(store, nil, events, audit, market.NoFee{}, h.clock, logger)
	accounts := service.NewAccountService(store, audit, []domain.Identity{h.operator.Identity()}, logger)

	handlers := Handlers{
		Health:   handler.NewHealthHandler(map[string]handler.Check{"store": func(context.Context) error { return nil }}, logger),
		Markets:  handler.NewMarketHandler(markets, logger),
		Accounts: handler.NewAccountHandler(accounts, logger),
	}
	sec := Security{
		Verifier: crypto.NewAuthenticator(time.Minute, h.clock.Now),
		Replay:   memory.NewReplayGuard(),
	}
	cfg := Config{RequestTimeout: 5 * time.Second, MaxBodyBytes: 1 << 16}
	h.srv = httptest.NewServer(NewHandler(cfg, handlers, sec, nil, logger))
	t.Cleanup(h.srv.Close)
	return h
}

// signed sends a request signed by s and returns the status and raw body.
func (h *harness) signed(s *crypto.Signer, method, path string, body any) (int, []byte) {
	h.t.Helper()
	req := h.signedRequest(s, method, path, body)
	return h.do(req)
}

func (h *harness) signedRequest(s *crypto.Signer, method, path string, body any) *http.Request {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, bytes.NewReader(raw))
	require.NoError(h.t, err)
	headers, err := s.RequestHeaders(method, path, raw, h.clock.t)
	require.NoError(h.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (h *harness) get(path string) (int, []byte) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(h.t, err)
	return h.do(req)
}

func (h *harness) do(req *http.Request) (int, []byte) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	return decode[map[string]string](t, raw)["code"]
}

func (h *harness) fund(s *crypto.Signer, amount uint64) {
	h.t.Helper()
	status, raw := h.signed(h.operator, http.MethodPost,
		"/api/accounts/"+string(s.Identity())+"/credit", map[string]uint64{"amount": amount})
	require.Equal(h.t, http.StatusOK, status, string(raw))
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	for _, s := range []*crypto.Signer{h.creator, h.alice, h.bob} {
		h.fund(s, 10_000)
	}

	status, raw := h.signed(h.creator, http.MethodPost, "/api/markets", map[string]any{
		"market_id":         1,
		"question":          "Will the launch happen on schedule?",
		"resolution_time":   h.clock.t.Add(time.Hour),
		"initial_liquidity": 1000,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	created := decode[map[string]any](t, raw)
	assert.Equal(t, "open", created["status"])
	assert.EqualValues(t, 500, created["yes_pool"])

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets/1/predictions",
		map[string]any{"side": "YES", "amount": 100})
	require.Equal(t, http.StatusCreated, status, string(raw))
	placed := decode[map[string]any](t, raw)
	assert.EqualValues(t, 83, placed["position"].(map[string]any)["tokens_received"])

	status, raw = h.get("/api/markets/1/quote?side=YES&amount=100")
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.EqualValues(t, 85, decode[map[string]any](t, raw)["tokens_out"])

	status, raw = h.signed(h.bob, http.MethodPost, "/api/markets/1/predictions",
		map[string]any{"side": "NO", "amount": 100})
	require.Equal(t, http.StatusCreated, status, string(raw))

	status, raw = h.signed(h.creator, http.MethodPost, "/api/markets/1/resolve", map[string]string{"outcome": "YES"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "MarketNotExpired", errorCode(t, raw))

	h.clock.t = h.clock.t.Add(2 * time.Hour)

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets/1/resolve", map[string]string{"outcome": "YES"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Unauthorized", errorCode(t, raw))

	status, raw = h.signed(h.creator, http.MethodPost, "/api/markets/1/resolve", map[string]string{"outcome": "MAYBE"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "InvalidOutcome", errorCode(t, raw))

	status, raw = h.signed(h.creator, http.MethodPost, "/api/markets/1/resolve", map[string]string{"outcome": "YES"})
	require.Equal(t, http.StatusOK, status, string(raw))
	resolved := decode[map[string]any](t, raw)
	assert.Equal(t, "resolved", resolved["status"])
	assert.Equal(t, "YES", resolved["outcome"])

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets/1/claim", nil)
	require.Equal(t, http.StatusOK, status, string(raw))
	assert.EqualValues(t, 166, decode[map[string]any](t, raw)["reward"])

	status, raw = h.signed(h.bob, http.MethodPost, "/api/markets/1/claim", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PredictionLost", errorCode(t, raw))

	status, raw = h.get("/api/accounts/" + strings.ToLower(string(h.alice.Identity())))
	require.Equal(t, http.StatusOK, status)
	bal := decode[map[string]any](t, raw)
	assert.Equal(t, string(h.alice.Identity()), bal["identity"])
	assert.EqualValues(t, 10_000-100+166, bal["balance"])

	status, raw = h.get("/api/markets/1/positions")
	require.Equal(t, http.StatusOK, status)
	list := decode[struct {
		Positions []domain.Position `json:"positions"`
	}](t, raw)
	assert.Len(t, list.Positions, 2)

	status, raw = h.get("/api/markets/1/positions/" + string(h.alice.Identity()))
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decode[domain.Position](t, raw).Claimed)
}

func TestRejectsUnsignedAndReplayedRequests(t *testing.T) {
	h := newHarness(t)
	h.fund(h.alice, 100)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/markets/1/claim", nil)
	require.NoError(t, err)
	status, raw := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthenticated", errorCode(t, raw))

	body := map[string]any{"market_id": 5, "question": "Q?", "resolution_time": h.clock.t.Add(time.Hour)}
	first := h.signedRequest(h.alice, http.MethodPost, "/api/markets", body)
	replayed := first.Clone(context.Background())
	raw, err = json.Marshal(body)
	require.NoError(t, err)
	replayed.Body = io.NopCloser(bytes.NewReader(raw))

	status, _ = h.do(first)
	assert.Equal(t, http.StatusCreated, status)
	status, raw = h.do(replayed)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Replay", errorCode(t, raw))
}

func TestReencodedSignatureIsAReplay(t *testing.T) {
	h := newHarness(t)
	path := "/api/accounts/" + string(h.alice.Identity()) + "/credit"
	body := []byte(`{"amount":1000}`)
	headers, err := h.operator.RequestHeaders(http.MethodPost, path, body, h.clock.t)
	require.NoError(t, err)

	send := func(sig string) (int, []byte) {
		req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, bytes.NewReader(body))
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set(crypto.HeaderSignature, sig)
		return h.do(req)
	}

	orig := headers[crypto.HeaderSignature]
	status, raw := send(orig)
	require.Equal(t, http.StatusOK, status, string(raw))

	rawSig, err := hex.DecodeString(strings.TrimPrefix(orig, "0x"))
	require.NoError(t, err)
	shifted := append([]byte(nil), rawSig...)
	shifted[64] -= 27

	for name, sig := range map[string]string{
		"no prefix":           strings.TrimPrefix(orig, "0x"),
		"v as 0/1":            "0x" + hex.EncodeToString(shifted),
		"no prefix, v as 0/1": hex.EncodeToString(shifted),
	} {
		status, raw := send(sig)
		assert.Equal(t, http.StatusUnauthorized, status, name)
		assert.Equal(t, "Replay", errorCode(t, raw), name)
	}

	status, raw = h.get(path[:strings.LastIndex(path, "/")])
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1000, decode[map[string]any](t, raw)["balance"])
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)

	status, raw := h.get("/api/markets/abc")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidMarketId", errorCode(t, raw))

	status, raw = h.get("/api/markets/42")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "MarketNotFound", errorCode(t, raw))

	status, raw = h.signed(h.alice, http.MethodPost, "/api/accounts/"+string(h.alice.Identity())+"/credit",
		map[string]uint64{"amount": 5})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Unauthorized", errorCode(t, raw))

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets", map[string]any{
		"market_id": 1, "question": "Broke?", "resolution_time": h.clock.t.Add(time.Hour), "initial_liquidity": 50,
	})
	assert.Equal(t, http.StatusPaymentRequired, status)
	assert.Equal(t, "InsufficientFunds", errorCode(t, raw))

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets", map[string]any{
		"market_id": 2, "question": "", "resolution_time": h.clock.t.Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidQuestion", errorCode(t, raw))

	status, raw = h.signed(h.alice, http.MethodPost, "/api/markets", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "InvalidRequest", errorCode(t, raw))

	status, _ = h.get("/api/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/api/markets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), crypto.HeaderSignature)
}
