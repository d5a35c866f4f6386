// Package identity turns face embeddings into anonymous member identifiers.
//
// An identifier is a keyed hash over a quantized, canonical encoding of the
// embedding. The salt never leaves the process and the embedding itself is
// never stored, so identifiers cannot be mapped back to a face.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/your-org/faceads/internal/config"
)

const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmBLAKE2b    = "blake2b"
)

var (
	ErrEmptyEmbedding   = errors.New("embedding is empty")
	ErrInvalidComponent = errors.New("embedding component is not finite")
)

// Deriver computes identifiers for one salt. It is safe for concurrent use.
type Deriver struct {
	salt      []byte
	scale     float64
	algorithm string
}

// New validates cfg and returns a Deriver.
func New(cfg config.IdentityConfig) (*Deriver, error) {
	if cfg.Salt == "" {
		return nil, config.ErrMissingSalt
	}
	if cfg.Precision < 0 || cfg.Precision > 6 {
		return nil, fmt.Errorf("precision must be between 0 and 6, got %d", cfg.Precision)
	}

	algo := cfg.Algorithm
	if algo == "" {
		algo = AlgorithmHMACSHA256
	}
	switch algo {
	case AlgorithmHMACSHA256:
	case AlgorithmBLAKE2b:
		if len(cfg.Salt) > blake2b.Size {
			return nil, fmt.Errorf("blake2b salt must be at most %d bytes, got %d", blake2b.Size, len(cfg.Salt))
		}
	default:
		return nil, fmt.Errorf("unknown identity algorithm %q", algo)
	}

	return &Deriver{
		salt:      []byte(cfg.Salt),
		scale:     math.Pow10(cfg.Precision),
		algorithm: algo,
	}, nil
}

// Derive returns the 64 character hex identifier for embedding.
func (d *Deriver) Derive(embedding []float32) (string, error) {
	payload, err := d.canonical(embedding)
	if err != nil {
		return "", err
	}

	mac, err := d.newHash()
	if err != nil {
		return "", err
	}
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (d *Deriver) newHash() (hash.Hash, error) {
	if d.algorithm == AlgorithmBLAKE2b {
		h, err := blake2b.New256(d.salt)
		if err != nil {
			return nil, fmt.Errorf("init blake2b: %w", err)
		}
		return h, nil
	}
	return hmac.New(sha256.New, d.salt), nil
}

// canonical encodes the embedding as its dimension followed by each
// component rounded to the configured precision, all as big-endian int32.
// Rounding absorbs float noise below the precision, and the integer form
// makes -0 and 0 encode identically.
func (d *Deriver) canonical(embedding []float32) ([]byte, error) {
	if len(embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}

	buf := make([]byte, 4+4*len(embedding))
	binary.BigEndian.PutUint32(buf, uint32(len(embedding)))

	for i, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("component %d: %w", i, ErrInvalidComponent)
		}
		q := math.Round(f * d.scale)
		if q > math.MaxInt32 || q < math.MinInt32 {
			return nil, fmt.Errorf("component %d out of range at precision: %w", i, ErrInvalidComponent)
		}
		binary.BigEndian.PutUint32(buf[4+4*i:], uint32(int32(q)))
	}
	return buf, nil
}
