package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

type Algorithm string

const (
	Ed25519    Algorithm = "ed25519"
	Dilithium3 Algorithm = "dilithium3"
)

// ErrNoPrivateKey is returned when signing with a public-only KeyPair.
var ErrNoPrivateKey = errors.New("keys: key pair has no private key")

// KeyPair is a signing key. Exactly one algorithm's fields are set.
type KeyPair struct {
	alg Algorithm

	edPub  ed25519.PublicKey
	edPriv ed25519.PrivateKey

	dPub  *mode3.PublicKey
	dPriv *mode3.PrivateKey
}

// GenerateEd25519 returns a fresh ed25519 key pair. rand defaults to crypto/rand.
func GenerateEd25519(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &KeyPair{alg: Ed25519, edPub: pub, edPriv: priv}, nil
}

// Ed25519FromSeed returns the key pair for a 32-byte seed.
func Ed25519FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{alg: Ed25519, edPub: priv.Public().(ed25519.PublicKey), edPriv: priv}, nil
}

// Dilithium3FromSeed returns the key pair for a 32-byte seed.
func Dilithium3FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != mode3.SeedSize {
		return nil, fmt.Errorf("dilithium3 seed must be %d bytes, got %d", mode3.SeedSize, len(seed))
	}
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pub, priv := mode3.NewKeyFromSeed(&s)
	return &KeyPair{alg: Dilithium3, dPub: pub, dPriv: priv}, nil
}

// GenerateDilithium3 returns a fresh dilithium3 key pair. rand defaults to crypto/rand.
func GenerateDilithium3(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := mode3.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &KeyPair{alg: Dilithium3, dPub: pub, dPriv: priv}, nil
}

func (k *KeyPair) Algorithm() Algorithm { return k.alg }

// HasPrivate reports whether k can sign.
func (k *KeyPair) HasPrivate() bool {
	if k == nil {
		return false
	}
	return k.edPriv != nil || k.dPriv != nil
}

// Public returns a copy of k without private material.
func (k *KeyPair) Public() *KeyPair {
	return &KeyPair{alg: k.alg, edPub: k.edPub, dPub: k.dPub}
}

// Sign signs message. ed25519 signs sha256(message); dilithium3 signs
// sha3-256(message).
func (k *KeyPair) Sign(message []byte) ([]byte, error) {
	if !k.HasPrivate() {
		return nil, ErrNoPrivateKey
	}
	switch k.alg {
	case Ed25519:
		return signEd25519(message, k.edPriv), nil
	case Dilithium3:
		return signDilithium3(message, k.dPriv)
	default:
		return nil, fmt.Errorf("keys: unsupported algorithm %q", k.alg)
	}
}

// Verify reports whether sig is k's signature over message.
func (k *KeyPair) Verify(message, sig []byte) bool {
	if k == nil {
		return false
	}
	switch k.alg {
	case Ed25519:
		return verifyEd25519(message, sig, k.edPub)
	case Dilithium3:
		return verifyDilithium3(message, sig, k.dPub)
	default:
		return false
	}
}

// Verify checks sig against an exported public key string.
func Verify(publicKey string, message, sig []byte) bool {
	k, err := ParseKeyPair(publicKey)
	if err != nil {
		return false
	}
	return k.Verify(message, sig)
}
