package crypto

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// Request authentication headers. The signature covers
// timestamp + method + path + body, signed with personal_sign by the key
// behind the claimed address.
const (
	HeaderAddress   = "X-PM-Address"
	HeaderTimestamp = "X-PM-Timestamp"
	HeaderSignature = "X-PM-Signature"
)

// RequestMessage builds the string a client signs for a request.
func RequestMessage(timestamp, method, path string, body []byte) []byte {
	return []byte(timestamp + method + path + string(body))
}

// RequestHeaders returns the authentication headers for a request signed by
// s at ts.
func (s *Signer) RequestHeaders(method, path string, body []byte, ts time.Time) (map[string]string, error) {
	stamp := strconv.FormatInt(ts.Unix(), 10)
	sig, err := s.SignText(RequestMessage(stamp, method, path, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: stamp,
		HeaderSignature: sig,
	}, nil
}

// Authenticator verifies signed requests and yields the caller identity.
type Authenticator struct {
	maxSkew time.Duration
	now     func() time.Time
}

// NewAuthenticator creates an Authenticator that accepts timestamps within
// maxSkew of now.
func NewAuthenticator(maxSkew time.Duration, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{maxSkew: maxSkew, now: now}
}

// Window is the span during which a signed request stays acceptable.
func (a *Authenticator) Window() time.Duration { return 2 * a.maxSkew }

// Verify checks the signature headers of a request. It returns the
// checksummed identity and a digest of the signed request suitable for
// replay detection.
func (a *Authenticator) Verify(address, timestamp, signature, method, path string, body []byte) (domain.Identity, string, error) {
	if address == "" || timestamp == "" || signature == "" {
		return "", "", fmt.Errorf("crypto/auth: missing signature headers: %w", domain.ErrUnauthenticated)
	}
	if !common.IsHexAddress(address) {
		return "", "", fmt.Errorf("crypto/auth: malformed address: %w", domain.ErrUnauthenticated)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("crypto/auth: malformed timestamp: %w", domain.ErrUnauthenticated)
	}
	skew := a.now().Sub(time.Unix(unix, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return "", "", fmt.Errorf("crypto/auth: timestamp outside %s window: %w", a.maxSkew, domain.ErrUnauthenticated)
	}

	msg := RequestMessage(timestamp, method, path, body)
	recovered, err := RecoverText(msg, signature)
	if err != nil {
		return "", "", fmt.Errorf("crypto/auth: %v: %w", err, domain.ErrUnauthenticated)
	}
	if recovered != common.HexToAddress(address) {
		return "", "", fmt.Errorf("crypto/auth: signature does not match %s: %w", address, domain.ErrUnauthenticated)
	}

	// The digest binds the signer to the signed message, not to the
	// signature's text, so re-encodings of one signature collide.
	digest := common.Bytes2Hex(ethcrypto.Keccak256(recovered.Bytes(), accounts.TextHash(msg)))
	return domain.Identity(recovered.Hex()), digest, nil
}
