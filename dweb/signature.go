package dweb

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/e-e-e/dweb-transport/keys"
	"github.com/e-e-e/dweb-transport/storage"
)

const SignatureTag = "sig"

// SignatureHolder is a record that signs with its own key and decides which
// signatures it trusts.
type SignatureHolder interface {
	Record
	KeyPair() *keys.KeyPair
	VerifySignature(sig *Signature) bool
}

// Signature binds a date and a target URL set to a signer's public key.
// It is immutable once created.
type Signature struct {
	SmartDict

	date      time.Time
	target    []string
	signature []byte
	signedBy  string

	targetMu sync.Mutex
	fetched  Record
}

func (c *Client) newSignature() *Signature {
	s := &Signature{}
	s.init(c, SignatureTag, s)
	return s
}

// SignableString is the exact text a Signature signs.
func SignableString(date time.Time, urls []string) string {
	return formatTime(date) + " " + strings.Join(urls, ",")
}

// Sign signs urls with holder's key. holder is stored first when it is not
// stored yet. A zero at means now.
func (c *Client) Sign(ctx context.Context, holder SignatureHolder, urls []string, at time.Time) (*Signature, error) {
	const op = "signature.sign"
	kp := holder.KeyPair()
	if !kp.HasPrivate() {
		return nil, newError(KindForbidden, op, "signer has no private key")
	}
	if !holder.Dict().Stored() {
		if _, err := holder.Store(ctx); err != nil {
			return nil, err
		}
	}
	if at.IsZero() {
		at = c.now()
	}
	at = at.UTC()
	raw, err := kp.Sign([]byte(SignableString(at, urls)))
	if err != nil {
		return nil, wrapError(KindCoding, op, "signing", err)
	}
	s := c.newSignature()
	s.date = at
	s.target = append([]string(nil), urls...)
	s.signature = raw
	s.signedBy = kp.ExportPublic()
	return s, nil
}

func (s *Signature) Date() time.Time { return s.date }

// Target returns the signed URL set.
func (s *Signature) Target() []string { return append([]string(nil), s.target...) }

func (s *Signature) SignedBy() string { return s.signedBy }

func (s *Signature) Bytes() []byte { return append([]byte(nil), s.signature...) }

func (s *Signature) Fields() Fields {
	f := s.SmartDict.Fields()
	f["date"] = s.date
	f["urls"] = s.Target()
	f["signature"] = base64.StdEncoding.EncodeToString(s.signature)
	f["signedby"] = s.signedBy
	return f
}

func (s *Signature) ApplyField(name string, value any) error {
	switch name {
	case "date":
		t, err := parseTime(value)
		if err != nil {
			return err
		}
		s.date = t.UTC()
	case "urls":
		s.target = toStrings(value)
	case "signature":
		switch x := value.(type) {
		case []byte:
			s.signature = append([]byte(nil), x...)
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return err
			}
			s.signature = b
		default:
			return newError(KindCoding, "signature.apply", "signature is not a string")
		}
	case "signedby":
		s.signedBy, _ = value.(string)
	default:
		return s.SmartDict.ApplyField(name, value)
	}
	return nil
}

// VerifySelf checks the signature using only the embedded public key.
func (s *Signature) VerifySelf() bool {
	if s.signedBy == "" || len(s.signature) == 0 {
		return false
	}
	return keys.Verify(s.signedBy, []byte(SignableString(s.date, s.target)), s.signature)
}

// Verify asks holder whether it trusts s.
func (s *Signature) Verify(holder SignatureHolder) bool {
	return holder.VerifySignature(s)
}

// FetchTarget fetches the signed record once and caches it.
func (s *Signature) FetchTarget(ctx context.Context) (Record, error) {
	s.targetMu.Lock()
	defer s.targetMu.Unlock()
	if s.fetched != nil {
		return s.fetched, nil
	}
	r, err := s.client.Fetch(ctx, s.target)
	if err != nil {
		return nil, err
	}
	s.fetched = r
	return r, nil
}

// Entry is the list-transport form of s.
func (s *Signature) Entry() storage.ListEntry {
	return storage.ListEntry{
		Date:      formatTime(s.date),
		URLs:      s.Target(),
		Signature: base64.StdEncoding.EncodeToString(s.signature),
		SignedBy:  s.signedBy,
	}
}

// SignatureFromEntry rebuilds a Signature from a list entry.
func (c *Client) SignatureFromEntry(e storage.ListEntry) (*Signature, error) {
	s := c.newSignature()
	for name, v := range map[string]any{
		"date":      e.Date,
		"urls":      e.URLs,
		"signature": e.Signature,
		"signedby":  e.SignedBy,
	} {
		if err := s.ApplyField(name, v); err != nil {
			return nil, wrapError(KindCoding, "signature.entry", "field "+name, err)
		}
	}
	return s, nil
}

// FilterDuplicates keeps the first signature per target URL set, in order.
func FilterDuplicates(sigs []*Signature) []*Signature {
	seen := make(map[string]struct{}, len(sigs))
	out := make([]*Signature, 0, len(sigs))
	for _, s := range sigs {
		k := targetKey(s.target)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

func targetKey(urls []string) string {
	sorted := append([]string(nil), urls...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
