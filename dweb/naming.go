package dweb

import (
	"context"
	"sync"
	"time"

	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/keys"
)

// Nameable is a record that sits at a path in a Domain tree.
type Nameable interface {
	Record
	FullName() string
	SetFullName(name string)
	Expires() time.Time
	SetExpires(t time.Time)
}

// Signable is a record that signs its own name fields.
type Signable interface {
	Record
	SignWith(kp *keys.KeyPair, at time.Time) (*Signature, error)
	Signatures() []*Signature
	// VerifySignature checks sig cryptographically against the current
	// name fields.
	VerifySignature(sig *Signature) bool
	VerifyOwnSignatures() bool
}

// Resolver is a record that can look up a path below itself.
type Resolver interface {
	Resolve(ctx context.Context, path string) (Record, error)
}

type tableEntry interface {
	Nameable
	Signable
	expired(now time.Time) bool
	signedByOneOf(keys []string) bool
}

// signedName is the name, expiry and signature state shared by Name and
// Domain. signed returns the fields a signature covers.
type signedName struct {
	nameClient *Client
	signed     func() Fields

	nameMu     sync.Mutex
	fullName   string
	expires    time.Time
	signatures []*Signature
}

func (n *signedName) bindName(c *Client, signed func() Fields) {
	n.nameClient = c
	n.signed = signed
}

func (n *signedName) FullName() string {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	return n.fullName
}

// SetFullName renames the record. Existing signatures cover the old name and
// are dropped.
func (n *signedName) SetFullName(name string) {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	if name != n.fullName {
		n.signatures = nil
	}
	n.fullName = name
}

// Expires is zero when the record never expires.
func (n *signedName) Expires() time.Time {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	return n.expires
}

func (n *signedName) SetExpires(t time.Time) {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	if !t.Equal(n.expires) {
		n.signatures = nil
	}
	n.expires = t.UTC()
}

func (n *signedName) expired(now time.Time) bool {
	exp := n.Expires()
	return !exp.IsZero() && !now.Before(exp)
}

func (n *signedName) Signatures() []*Signature {
	n.nameMu.Lock()
	defer n.nameMu.Unlock()
	return append([]*Signature(nil), n.signatures...)
}

func (n *signedName) expiresValue() string {
	exp := n.Expires()
	if exp.IsZero() {
		return ""
	}
	return formatTime(exp)
}

// nameSignable is canonical JSON: encoding/json sorts map keys.
func nameSignable(date time.Time, signed Fields) ([]byte, error) {
	v, err := encodeValue(map[string]any{"date": formatTime(date), "signed": map[string]any(signed)})
	if err != nil {
		return nil, err
	}
	return codec.JSON.Marshal(v.(map[string]any))
}

// SignWith signs the name fields with kp and keeps the signature.
func (n *signedName) SignWith(kp *keys.KeyPair, at time.Time) (*Signature, error) {
	const op = "name.sign"
	if !kp.HasPrivate() {
		return nil, newError(KindForbidden, op, "signer has no private key")
	}
	if at.IsZero() {
		at = n.nameClient.now()
	}
	at = at.UTC()
	msg, err := nameSignable(at, n.signed())
	if err != nil {
		return nil, err
	}
	raw, err := kp.Sign(msg)
	if err != nil {
		return nil, wrapError(KindCoding, op, "signing", err)
	}
	s := n.nameClient.newSignature()
	s.date = at
	s.signature = raw
	s.signedBy = kp.ExportPublic()

	n.nameMu.Lock()
	n.signatures = append(n.signatures, s)
	n.nameMu.Unlock()
	return s, nil
}

func (n *signedName) VerifySignature(sig *Signature) bool {
	if sig == nil || sig.signedBy == "" {
		return false
	}
	msg, err := nameSignable(sig.date, n.signed())
	if err != nil {
		return false
	}
	return keys.Verify(sig.signedBy, msg, sig.signature)
}

// VerifyOwnSignatures reports whether the record is signed and every
// signature covers its current fields.
func (n *signedName) VerifyOwnSignatures() bool {
	sigs := n.Signatures()
	if len(sigs) == 0 {
		return false
	}
	for _, s := range sigs {
		if !n.VerifySignature(s) {
			return false
		}
	}
	return true
}

// signedByOneOf reports whether some valid signature was made by one of keys.
func (n *signedName) signedByOneOf(keys []string) bool {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	for _, s := range n.Signatures() {
		if _, ok := allowed[s.signedBy]; ok && n.VerifySignature(s) {
			return true
		}
	}
	return false
}

func (n *signedName) nameFields(f Fields) {
	if fn := n.FullName(); fn != "" {
		f["fullname"] = fn
	}
	if exp := n.expiresValue(); exp != "" {
		f["expires"] = exp
	}
	if sigs := n.Signatures(); len(sigs) > 0 {
		f["signatures"] = encodeSignatures(sigs)
	}
}

// applyNameField handles the shared fields and reports whether name was one.
func (n *signedName) applyNameField(name string, value any) (bool, error) {
	switch name {
	case "fullname":
		s, _ := value.(string)
		n.nameMu.Lock()
		n.fullName = s
		n.nameMu.Unlock()
	case "expires":
		t, err := parseTime(value)
		if err != nil {
			if s, ok := value.(string); !ok || s != "" {
				return true, err
			}
		}
		n.nameMu.Lock()
		n.expires = t.UTC()
		n.nameMu.Unlock()
	case "signatures":
		sigs, err := decodeSignatures(n.nameClient, value)
		if err != nil {
			return true, err
		}
		n.nameMu.Lock()
		n.signatures = sigs
		n.nameMu.Unlock()
	default:
		return false, nil
	}
	return true, nil
}

func encodeSignatures(sigs []*Signature) []any {
	out := make([]any, len(sigs))
	for i, s := range sigs {
		e := s.Entry()
		out[i] = map[string]any{"date": e.Date, "urls": stringsToAny(e.URLs), "signature": e.Signature, "signedby": e.SignedBy}
	}
	return out
}

func decodeSignatures(c *Client, value any) ([]*Signature, error) {
	raw, _ := value.([]any)
	sigs := make([]*Signature, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, newError(KindCoding, "signature.decode", "signature is not a map")
		}
		s := c.newSignature()
		for _, k := range sortedKeys(m) {
			if err := s.ApplyField(k, m[k]); err != nil {
				return nil, err
			}
		}
		sigs = append(sigs, s)
	}
	return sigs, nil
}

const NameTag = "name"

// Name is a leaf entry of a Domain pointing at content.
type Name struct {
	SmartDict
	signedName

	target []string

	targetMu sync.Mutex
	fetched  Record
}

func (c *Client) newName() *Name {
	n := &Name{}
	n.init(c, NameTag, n)
	n.bindName(c, n.signedFields)
	return n
}

// NewName returns an unsigned Name pointing at target.
func (c *Client) NewName(target []string) *Name {
	n := c.newName()
	n.target = append([]string(nil), target...)
	return n
}

func (n *Name) Target() []string { return append([]string(nil), n.target...) }

func (n *Name) signedFields() Fields {
	return Fields{
		"urls":     n.Target(),
		"fullname": n.FullName(),
		"expires":  n.expiresValue(),
	}
}

func (n *Name) Fields() Fields {
	f := n.SmartDict.Fields()
	f["urls"] = n.Target()
	n.nameFields(f)
	return f
}

func (n *Name) ApplyField(name string, value any) error {
	if ok, err := n.applyNameField(name, value); ok {
		return err
	}
	if name == "urls" {
		n.target = toStrings(value)
		return nil
	}
	return n.SmartDict.ApplyField(name, value)
}

// FetchTarget fetches the named record once and caches it.
func (n *Name) FetchTarget(ctx context.Context) (Record, error) {
	n.targetMu.Lock()
	defer n.targetMu.Unlock()
	if n.fetched != nil {
		return n.fetched, nil
	}
	r, err := n.client.Fetch(ctx, n.target)
	if err != nil {
		return nil, err
	}
	n.fetched = r
	return r, nil
}

// Resolve returns the target for an empty path and otherwise resolves path
// inside the target.
func (n *Name) Resolve(ctx context.Context, path string) (Record, error) {
	r, err := n.FetchTarget(ctx)
	if err != nil {
		return nil, err
	}
	if len(splitPath(path)) == 0 {
		return r, nil
	}
	res, ok := r.(Resolver)
	if !ok {
		return nil, newError(KindResolution, "name.resolve", "cannot resolve "+quote(path)+" below "+quote(n.FullName()))
	}
	return res.Resolve(ctx, path)
}
