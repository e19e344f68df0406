// Package token generates one-time account tokens and derives the
// fingerprints under which they are stored.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the number of random bytes in a raw token (256 bits).
const Size = 32

// Generator produces raw tokens.
type Generator struct {
	rand io.Reader
}

// NewGenerator returns a Generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewGeneratorWithReader returns a Generator reading entropy from r.
func NewGeneratorWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns a new hex-encoded raw token.
func (g *Generator) Generate() (string, error) {
	b := make([]byte, Size)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hasher derives the stored fingerprint of a raw token. With a pepper the
// fingerprint is an HMAC-SHA256, so a leaked table of fingerprints cannot be
// checked against guessed tokens without the key.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher. An empty pepper yields plain SHA-256.
func NewHasher(pepper string) *Hasher {
	h := &Hasher{}
	if pepper != "" {
		h.pepper = []byte(pepper)
	}
	return h
}

// Fingerprint returns the hex digest of raw.
func (h *Hasher) Fingerprint(raw string) string {
	if h.pepper == nil {
		sum := sha256.Sum256([]byte(raw))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// LooksValid reports whether raw has the shape of a generated token. It lets
// callers reject garbage before touching the store.
func LooksValid(raw string) bool {
	if len(raw) != 2*Size {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}
