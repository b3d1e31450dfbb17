// Package seal protects OAuth tokens at rest. With a configured 32-byte key values are
// encrypted with AES-256-GCM; without one they are stored verbatim behind an explicit
// "plain:" tag so the degraded mode stays auditable.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/jw6ventures/taskcal/internal/apperr"
)

const (
	plainPrefix     = "plain:"
	encryptedPrefix = "enc:v1:"

	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Sealer seals and opens secrets. The zero value is not usable; call New.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a Sealer. An empty key selects plain mode.
func New(key string) (*Sealer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return &Sealer{}, nil
	}
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, apperr.Configuration("invalid token encryption key", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, apperr.Configuration("invalid token encryption key", err)
	}
	return &Sealer{aead: aead}, nil
}

// Encrypted reports whether a key is configured.
func (s *Sealer) Encrypted() bool {
	return s.aead != nil
}

// Seal returns the tagged, protected form of plaintext.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s.aead == nil {
		return plainPrefix + plaintext, nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	// GCM appends the tag to the ciphertext; the stored layout is nonce|tag|ciphertext.
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	buf := make([]byte, 0, nonceSize+tagSize+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, tag...)
	buf = append(buf, ct...)
	return encryptedPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Open reverses Seal. Encrypted values never fall back to being returned as-is.
func (s *Sealer) Open(sealed string) (string, error) {
	switch {
	case strings.HasPrefix(sealed, plainPrefix):
		return strings.TrimPrefix(sealed, plainPrefix), nil
	case strings.HasPrefix(sealed, encryptedPrefix):
		if s.aead == nil {
			return "", apperr.Configuration("encrypted secret found but no token encryption key is configured", nil)
		}
		buf, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, encryptedPrefix))
		if err != nil {
			return "", apperr.Configuration("malformed encrypted secret", err)
		}
		if len(buf) < nonceSize+tagSize {
			return "", apperr.Configuration("malformed encrypted secret", errors.New("payload too short"))
		}
		nonce := buf[:nonceSize]
		tag := buf[nonceSize : nonceSize+tagSize]
		ct := buf[nonceSize+tagSize:]

		joined := make([]byte, 0, len(ct)+tagSize)
		joined = append(joined, ct...)
		joined = append(joined, tag...)
		plain, err := s.aead.Open(nil, nonce, joined, nil)
		if err != nil {
			return "", apperr.Configuration("cannot decrypt secret with the configured key", err)
		}
		return string(plain), nil
	default:
		return "", apperr.Configuration("unrecognized sealed secret format", nil)
	}
}

func decodeKey(key string) ([]byte, error) {
	if raw, err := hex.DecodeString(key); err == nil && len(raw) == keySize {
		return raw, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(key); err == nil && len(raw) == keySize {
			return raw, nil
		}
	}
	return nil, apperr.Configuration(fmt.Sprintf("token encryption key must decode (hex or base64) to %d bytes", keySize), nil)
}
