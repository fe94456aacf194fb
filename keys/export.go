package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

const (
	prefixEd25519Seed    = "ed25519-seed"
	prefixDilithium3Priv = "dilithium3-private"
)

// ExportEd25519Public encodes an Ed25519 public key into its exported string.
func ExportEd25519Public(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return string(Ed25519) + ":" + base64.StdEncoding.EncodeToString(pub), nil
}

// ExportPublic returns the public key string other parties verify against.
func (k *KeyPair) ExportPublic() string {
	switch k.alg {
	case Ed25519:
		s, err := ExportEd25519Public(k.edPub)
		if err != nil {
			return ""
		}
		return s
	case Dilithium3:
		b, err := k.dPub.MarshalBinary()
		if err != nil {
			return ""
		}
		return string(Dilithium3) + ":" + base64.StdEncoding.EncodeToString(b)
	default:
		return ""
	}
}

// ExportPrivate returns a string that ParseKeyPair turns back into k,
// including the private key.
func (k *KeyPair) ExportPrivate() (string, error) {
	if !k.HasPrivate() {
		return "", ErrNoPrivateKey
	}
	switch k.alg {
	case Ed25519:
		return prefixEd25519Seed + ":" + base64.StdEncoding.EncodeToString(k.edPriv.Seed()), nil
	case Dilithium3:
		b, err := k.dPriv.MarshalBinary()
		if err != nil {
			return "", err
		}
		return prefixDilithium3Priv + ":" + base64.StdEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("keys: unsupported algorithm %q", k.alg)
	}
}

// ParseKeyPair parses an exported public or private key string.
func ParseKeyPair(s string) (*KeyPair, error) {
	kind, enc, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || enc == "" {
		return nil, fmt.Errorf("keys: malformed key %q", s)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, fmt.Errorf("keys: invalid key base64: %w", err)
	}
	switch kind {
	case string(Ed25519):
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("keys: invalid ed25519 public key length %d", len(raw))
		}
		return &KeyPair{alg: Ed25519, edPub: ed25519.PublicKey(raw)}, nil
	case prefixEd25519Seed:
		return Ed25519FromSeed(raw)
	case string(Dilithium3):
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
		return &KeyPair{alg: Dilithium3, dPub: &pk}, nil
	case prefixDilithium3Priv:
		var sk mode3.PrivateKey
		if err := sk.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("keys: invalid dilithium3 private key: %w", err)
		}
		pk, ok := sk.Public().(*mode3.PublicKey)
		if !ok {
			return nil, fmt.Errorf("keys: dilithium3 private key has no public key")
		}
		return &KeyPair{alg: Dilithium3, dPub: pk, dPriv: &sk}, nil
	default:
		return nil, fmt.Errorf("keys: unsupported key type %q", kind)
	}
}
