// Package acl provides access-control handles for encrypted records.
//
// A handle is an age X25519 key. Its ID is the age recipient ("age1...") and
// is stored in the clear next to the ciphertext, so a reader can find the
// matching identity in its Keyring. A handle built from a recipient alone can
// encrypt but not decrypt.
package acl

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"filippo.io/age"
)

var (
	// ErrNoIdentity is returned when decrypting with an encrypt-only handle.
	ErrNoIdentity = errors.New("acl: handle has no identity")
	// ErrNotReader is returned when no handle in a keyring matches.
	ErrNotReader = errors.New("acl: no matching identity")
)

type AccessControl struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
}

// Generate returns a new handle able to encrypt and decrypt.
func Generate() (*AccessControl, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("acl: generating identity: %w", err)
	}
	return &AccessControl{recipient: identity.Recipient(), identity: identity}, nil
}

// Parse accepts an age identity ("AGE-SECRET-KEY-1...") or recipient ("age1...").
func Parse(s string) (*AccessControl, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "AGE-SECRET-KEY-") {
		identity, err := age.ParseX25519Identity(s)
		if err != nil {
			return nil, fmt.Errorf("acl: parsing identity: %w", err)
		}
		return &AccessControl{recipient: identity.Recipient(), identity: identity}, nil
	}
	recipient, err := age.ParseX25519Recipient(s)
	if err != nil {
		return nil, fmt.Errorf("acl: parsing recipient: %w", err)
	}
	return &AccessControl{recipient: recipient}, nil
}

// ID identifies the handle inside encrypted records.
func (a *AccessControl) ID() string { return a.recipient.String() }

// CanDecrypt reports whether the handle holds the identity.
func (a *AccessControl) CanDecrypt() bool { return a.identity != nil }

// Export returns the identity string, or the recipient for encrypt-only handles.
func (a *AccessControl) Export() string {
	if a.identity != nil {
		return a.identity.String()
	}
	return a.ID()
}

// Encrypt returns base64(age ciphertext) of plaintext.
func (a *AccessControl) Encrypt(plaintext []byte) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, a.recipient)
	if err != nil {
		return "", fmt.Errorf("acl: creating encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", fmt.Errorf("acl: writing plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("acl: finalizing encryption: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decrypt reverses Encrypt.
func (a *AccessControl) Decrypt(ciphertext string) ([]byte, error) {
	if a.identity == nil {
		return nil, ErrNoIdentity
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("acl: decoding base64 ciphertext: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), a.identity)
	if err != nil {
		return nil, fmt.Errorf("acl: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("acl: reading plaintext: %w", err)
	}
	return plaintext, nil
}

// Keyring holds the handles a client can decrypt with, by ID.
type Keyring struct {
	mu   sync.RWMutex
	byID map[string]*AccessControl
}

func NewKeyring(handles ...*AccessControl) *Keyring {
	k := &Keyring{byID: map[string]*AccessControl{}}
	for _, h := range handles {
		k.Add(h)
	}
	return k
}

func (k *Keyring) Add(h *AccessControl) {
	if h == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID[h.ID()] = h
}

// Decrypt tries every handle named in ids.
func (k *Keyring) Decrypt(ids []string, ciphertext string) ([]byte, error) {
	if k == nil {
		return nil, ErrNotReader
	}
	var lastErr error = ErrNotReader
	for _, id := range ids {
		k.mu.RLock()
		h := k.byID[id]
		k.mu.RUnlock()
		if h == nil || !h.CanDecrypt() {
			continue
		}
		plaintext, err := h.Decrypt(ciphertext)
		if err == nil {
			return plaintext, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
