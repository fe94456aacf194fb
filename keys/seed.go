package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// SeedSize is the length of every stored seed, whatever the algorithm.
const SeedSize = 32

// Seed is the stored form of a key pair: an algorithm and the bytes both
// halves are rebuilt from. Its string form is "<algorithm>:<hex>".
type Seed struct {
	Algorithm Algorithm
	Bytes     []byte
}

// GenerateSeed returns a fresh seed for alg. r defaults to crypto/rand.
func GenerateSeed(alg Algorithm, r io.Reader) (Seed, error) {
	if err := checkAlgorithm(alg); err != nil {
		return Seed{}, err
	}
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, SeedSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return Seed{}, err
	}
	return Seed{Algorithm: alg, Bytes: b}, nil
}

// ParseSeed parses "<algorithm>:<hex>". A bare hex string is an ed25519 seed.
func ParseSeed(s string) (Seed, error) {
	s = strings.TrimSpace(s)
	alg := Ed25519
	if a, rest, ok := strings.Cut(s, ":"); ok {
		alg, s = Algorithm(a), rest
	}
	if err := checkAlgorithm(alg); err != nil {
		return Seed{}, err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Seed{}, fmt.Errorf("keys: invalid seed hex: %w", err)
	}
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("keys: expected seed length of %d bytes, got %d", SeedSize, len(b))
	}
	return Seed{Algorithm: alg, Bytes: b}, nil
}

func checkAlgorithm(alg Algorithm) error {
	switch alg {
	case Ed25519, Dilithium3:
		return nil
	default:
		return fmt.Errorf("keys: unsupported algorithm %q", alg)
	}
}

func (s Seed) String() string {
	return string(s.Algorithm) + ":" + hex.EncodeToString(s.Bytes)
}

func (s Seed) KeyPair() (*KeyPair, error) {
	switch s.Algorithm {
	case Ed25519:
		return Ed25519FromSeed(s.Bytes)
	case Dilithium3:
		return Dilithium3FromSeed(s.Bytes)
	default:
		return nil, fmt.Errorf("keys: unsupported algorithm %q", s.Algorithm)
	}
}

// PublicKey returns the exported public key of the pair s rebuilds.
func (s Seed) PublicKey() (string, error) {
	kp, err := s.KeyPair()
	if err != nil {
		return "", err
	}
	return kp.ExportPublic(), nil
}

// Derive returns the seed for role. Derivation is deterministic, so one root
// seed can own many lists and domains and rebuild all of them.
func (s Seed) Derive(role string) (Seed, error) {
	if len(s.Bytes) != SeedSize {
		return Seed{}, fmt.Errorf("keys: root seed must be %d bytes", SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return Seed{}, err
	}
	h := sha256.New()
	_, _ = h.Write(s.Bytes)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("dweb-keys-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(s.Algorithm))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("role:" + role))
	return Seed{Algorithm: s.Algorithm, Bytes: h.Sum(nil)}, nil
}
