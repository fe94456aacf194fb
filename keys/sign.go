package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Hash names the digest a key pair signs in place of the raw message.
type Hash string

const (
	SHA256  Hash = "sha256"
	SHA512  Hash = "sha512"
	SHA3256 Hash = "sha3-256"
)

// HashFor returns the digest alg signs.
func HashFor(alg Algorithm) Hash {
	if alg == Dilithium3 {
		return SHA3256
	}
	return SHA256
}

func (h Hash) Sum(message []byte) ([]byte, error) {
	switch h {
	case SHA256:
		s := sha256.Sum256(message)
		return s[:], nil
	case SHA512:
		s := sha512.Sum512(message)
		return s[:], nil
	case SHA3256:
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash %q", string(h))
	}
}

func signEd25519(message []byte, priv ed25519.PrivateKey) []byte {
	digest, _ := SHA256.Sum(message)
	return ed25519.Sign(priv, digest)
}

func verifyEd25519(message, sig []byte, pub ed25519.PublicKey) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	digest, _ := SHA256.Sum(message)
	return ed25519.Verify(pub, digest, sig)
}

func signDilithium3(message []byte, priv *mode3.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, ErrNoPrivateKey
	}
	digest, err := HashFor(Dilithium3).Sum(message)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, digest, sig)
	return sig, nil
}

func verifyDilithium3(message, sig []byte, pub *mode3.PublicKey) bool {
	if pub == nil || len(sig) != mode3.SignatureSize {
		return false
	}
	digest, err := HashFor(Dilithium3).Sum(message)
	return err == nil && mode3.Verify(pub, digest, sig)
}
