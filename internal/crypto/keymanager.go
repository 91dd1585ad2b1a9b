// Package crypto authenticates signed API requests, signs published events
// with the operator key, and stores that key encrypted at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltLen       = 16
	aesKeyLen     = 32
	sealedVersion = 1
)

// sealedKey is the on-disk format of an encrypted operator key.
type sealedKey struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource says where the operator key comes from. Hex wins over File.
type KeySource struct {
	Hex        string
	File       string
	Passphrase string
}

// Configured reports whether any key source is set.
func (k KeySource) Configured() bool { return k.Hex != "" || k.File != "" }

func aeadFor(passphrase string, salt []byte) (cipher.AEAD, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	block, err := aes.NewCipher(pbkdf2.Key([]byte(passphrase), salt, kdfIterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return aead, nil
}

// SealKey encrypts a hex private key under passphrase with PBKDF2-SHA256 and
// AES-256-GCM and returns the JSON document to store.
func SealKey(privateKeyHex, passphrase string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto: private key is %d bytes, want 32", len(raw))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	aead, err := aeadFor(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	enc := base64.StdEncoding
	return json.MarshalIndent(sealedKey{
		Version:    sealedVersion,
		Salt:       enc.EncodeToString(salt),
		Nonce:      enc.EncodeToString(nonce),
		Ciphertext: enc.EncodeToString(aead.Seal(nil, nonce, raw, nil)),
	}, "", "  ")
}

// OpenKey reverses SealKey and returns the private key as hex.
func OpenKey(doc []byte, passphrase string) (string, error) {
	var sk sealedKey
	if err := json.Unmarshal(doc, &sk); err != nil {
		return "", fmt.Errorf("crypto: parse sealed key: %w", err)
	}
	if sk.Version != sealedVersion {
		return "", fmt.Errorf("crypto: sealed key version %d not supported", sk.Version)
	}

	enc := base64.StdEncoding
	salt, err := enc.DecodeString(sk.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: salt: %w", err)
	}
	nonce, err := enc.DecodeString(sk.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	ct, err := enc.DecodeString(sk.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: ciphertext: %w", err)
	}

	aead, err := aeadFor(passphrase, salt)
	if err != nil {
		return "", err
	}
	raw, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: open sealed key (wrong passphrase?): %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// LoadSigner builds the operator Signer from src. It returns nil and no error
// when no source is configured, in which case events go out unsigned.
func LoadSigner(src KeySource) (*Signer, error) {
	switch {
	case src.Hex != "":
		return NewSigner(src.Hex)
	case src.File != "":
		doc, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		keyHex, err := OpenKey(doc, src.Passphrase)
		if err != nil {
			return nil, err
		}
		return NewSigner(keyHex)
	}
	return nil, nil
}
