package crypto

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

func newTestSigner(t *testing.T) (*Signer, string) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(pk))
	s, err := NewSigner("0x" + keyHex)
	require.NoError(t, err)
	return s, keyHex
}

func TestSignAndRecoverText(t *testing.T) {
	s, _ := newTestSigner(t)
	sig, err := s.SignText([]byte("hello"))
	require.NoError(t, err)

	addr, err := RecoverText([]byte("hello"), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverText([]byte("hullo"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverText([]byte("hello"), "0x1234")
	require.Error(t, err)
}

func TestAuthenticatorVerify(t *testing.T) {
	s, _ := newTestSigner(t)
	now := time.Unix(1_800_000_000, 0)
	auth := NewAuthenticator(30*time.Second, func() time.Time { return now })
	body := []byte(`{"amount":10}`)

	h, err := s.RequestHeaders("POST", "/api/markets/1/predictions", body, now.Add(-5*time.Second))
	require.NoError(t, err)

	id, digest, err := auth.Verify(h[HeaderAddress], h[HeaderTimestamp], h[HeaderSignature], "POST", "/api/markets/1/predictions", body)
	require.NoError(t, err)
	assert.Equal(t, s.Identity(), id)
	assert.NotEmpty(t, digest)

	_, _, err = auth.Verify(h[HeaderAddress], h[HeaderTimestamp], h[HeaderSignature], "POST", "/api/markets/2/predictions", body)
	require.ErrorIs(t, err, domain.ErrUnauthenticated, "path is covered by the signature")

	_, _, err = auth.Verify(h[HeaderAddress], h[HeaderTimestamp], h[HeaderSignature], "POST", "/api/markets/1/predictions", []byte(`{"amount":11}`))
	require.ErrorIs(t, err, domain.ErrUnauthenticated, "body is covered by the signature")

	other, _ := newTestSigner(t)
	_, _, err = auth.Verify(other.Address().Hex(), h[HeaderTimestamp], h[HeaderSignature], "POST", "/api/markets/1/predictions", body)
	require.ErrorIs(t, err, domain.ErrUnauthenticated, "claimed address must match signer")

	stale, err := s.RequestHeaders("GET", "/x", nil, now.Add(-time.Minute))
	require.NoError(t, err)
	_, _, err = auth.Verify(stale[HeaderAddress], stale[HeaderTimestamp], stale[HeaderSignature], "GET", "/x", nil)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, _, err = auth.Verify("", "", "", "GET", "/x", nil)
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

// reencode rewrites a 0x-prefixed, V=27/28 signature into an equivalent
// encoding.
func reencode(t *testing.T, sig string, keepPrefix, shiftV bool) string {
	t.Helper()
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	if shiftV {
		raw[64] -= 27
	}
	out := hex.EncodeToString(raw)
	if keepPrefix {
		out = "0x" + out
	}
	return out
}

func TestVerifyDigestIgnoresSignatureEncoding(t *testing.T) {
	s, _ := newTestSigner(t)
	now := time.Unix(1_800_000_000, 0)
	auth := NewAuthenticator(30*time.Second, func() time.Time { return now })
	body := []byte(`{"amount":1000}`)
	path := "/api/accounts/x/credit"

	h, err := s.RequestHeaders("POST", path, body, now)
	require.NoError(t, err)
	_, want, err := auth.Verify(h[HeaderAddress], h[HeaderTimestamp], h[HeaderSignature], "POST", path, body)
	require.NoError(t, err)

	for _, tc := range []struct {
		name       string
		keepPrefix bool
		shiftV     bool
	}{
		{"no prefix", false, false},
		{"v as 0/1", true, true},
		{"no prefix, v as 0/1", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sig := reencode(t, h[HeaderSignature], tc.keepPrefix, tc.shiftV)
			_, got, err := auth.Verify(h[HeaderAddress], h[HeaderTimestamp], sig, "POST", path, body)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRecoverTextRejectsHighS(t *testing.T) {
	s, _ := newTestSigner(t)
	sig, err := s.SignText([]byte("hello"))
	require.NoError(t, err)
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)

	// (r, n-s) with the recovery bit flipped is the malleated twin.
	n := ethcrypto.S256().Params().N
	highS := new(big.Int).Sub(n, new(big.Int).SetBytes(raw[32:64]))
	highS.FillBytes(raw[32:64])
	raw[64] = 27 + (1 - (raw[64] - 27))

	_, err = RecoverText([]byte("hello"), "0x"+hex.EncodeToString(raw))
	require.Error(t, err)
}

func TestEnvelopeSignature(t *testing.T) {
	s, _ := newTestSigner(t)
	env := domain.EventEnvelope{
		ID:         "evt-1",
		Type:       domain.EventRewardClaimed,
		MarketID:   4,
		Actor:      "0xabc",
		OccurredAt: time.Date(2026, 2, 2, 2, 2, 2, 0, time.UTC),
		Payload:    json.RawMessage(`{"reward":135}`),
	}
	require.NoError(t, s.SignEnvelope(&env))
	require.NoError(t, VerifyEnvelope(env, s.Address()))

	tampered := env
	tampered.Payload = json.RawMessage(`{"reward":136}`)
	require.Error(t, VerifyEnvelope(tampered, s.Address()))
}

func TestSealAndLoadKey(t *testing.T) {
	s, keyHex := newTestSigner(t)

	doc, err := SealKey(keyHex, "correct horse")
	require.NoError(t, err)

	opened, err := OpenKey(doc, "correct horse")
	require.NoError(t, err)
	assert.Equal(t, keyHex, opened)

	_, err = OpenKey(doc, "wrong")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, doc, 0o600))
	loaded, err := LoadSigner(KeySource{File: path, Passphrase: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, s.Address(), loaded.Address())

	none, err := LoadSigner(KeySource{})
	require.NoError(t, err)
	assert.Nil(t, none)
}
