package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// Signer produces EIP-191 personal-sign signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return newSignerFromKey(pk), nil
}

func newSignerFromKey(pk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address { return s.address }

// Identity returns the checksummed address as a market identity.
func (s *Signer) Identity() domain.Identity { return domain.Identity(s.address.Hex()) }

// SignText signs msg with the "\x19Ethereum Signed Message" prefix and
// returns the 65-byte signature as 0x-prefixed hex with V in {27, 28}.
func (s *Signer) SignText(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: sign: %w", errors.Join(domain.ErrSigningFailed, err))
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignEnvelope sets env.Signature to the signer's signature over the
// envelope digest.
func (s *Signer) SignEnvelope(env *domain.EventEnvelope) error {
	sig, err := s.SignText(EnvelopeDigest(*env))
	if err != nil {
		return err
	}
	env.Signature = sig
	return nil
}

// EnvelopeDigest is the keccak256 hash of every envelope field except the
// signature.
func EnvelopeDigest(env domain.EventEnvelope) []byte {
	return ethcrypto.Keccak256(
		[]byte(env.ID),
		[]byte(env.Type),
		[]byte(env.MarketID.String()),
		[]byte(env.Actor),
		[]byte(env.OccurredAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00")),
		env.Payload,
	)
}

// RecoverText returns the address that produced sigHex over msg.
func RecoverText(msg []byte, sigHex string) (common.Address, error) {
	sig, err := decodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// decodeSignature parses a 65-byte [R || S || V] signature, with or without
// the 0x prefix, and returns it with V as 0 or 1. High-S signatures are
// rejected so each signed message has exactly one accepted form.
func decodeSignature(sigHex string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return nil, fmt.Errorf("crypto/signer: signature is %d bytes, want %d", len(sig), ethcrypto.SignatureLength)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return nil, errors.New("crypto/signer: non-canonical signature values")
	}
	return sig, nil
}

// VerifyEnvelope checks that env was signed by signer.
func VerifyEnvelope(env domain.EventEnvelope, signer common.Address) error {
	if env.Signature == "" {
		return errors.New("crypto/signer: envelope is unsigned")
	}
	addr, err := RecoverText(EnvelopeDigest(env), env.Signature)
	if err != nil {
		return err
	}
	if addr != signer {
		return fmt.Errorf("crypto/signer: envelope signed by %s, want %s", addr.Hex(), signer.Hex())
	}
	return nil
}

// NormalizeIdentity checksums s when it is a hex address, so identities
// typed in any case match those recovered from signatures. Other values are
// returned unchanged.
func NormalizeIdentity(s string) domain.Identity {
	if common.IsHexAddress(s) {
		return domain.Identity(common.HexToAddress(s).Hex())
	}
	return domain.Identity(s)
}
