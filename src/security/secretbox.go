package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// SealedPrefix marks a credential value produced by Seal.
const SealedPrefix = "enc:"

const nonceSize = 24

var (
	ErrMissingKey = errors.New("EXCHANGE_CREDENTIALS_KEY is not set")
	ErrBadKey     = errors.New("credentials key must be 32 bytes, base64 encoded")
	ErrOpen       = errors.New("sealed value could not be opened")
)

// ParseKey decodes a base64 secretbox key.
func ParseKey(encoded string) (*[32]byte, error) {
	if strings.TrimSpace(encoded) == "" {
		return nil, ErrMissingKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) != 32 {
		return nil, ErrBadKey
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// NewKey returns a fresh random key, base64 encoded.
func NewKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Seal encrypts plaintext and returns "enc:" followed by base64(nonce||box).
func Seal(key *[32]byte, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return SealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal.
func Open(key *[32]byte, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, SealedPrefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	out, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrOpen
	}
	return string(out), nil
}

// Reveal returns value unchanged unless it is sealed, in which case it is
// opened with the configured key.
func Reveal(cfg Config, value string) (string, error) {
	if !strings.HasPrefix(value, SealedPrefix) {
		return value, nil
	}
	key, err := ParseKey(cfg.ExchangeCRKey)
	if err != nil {
		return "", err
	}
	return Open(key, value)
}
