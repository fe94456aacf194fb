package dweb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/keys"
)

const DomainTag = "domain"

// DomainOptions configure a master Domain.
type DomainOptions struct {
	// AllowUnsafeStore permits the private key in an unencrypted record.
	AllowUnsafeStore bool
	// Expires is zero for a domain that never expires.
	Expires time.Time
}

// Domain is a subtree of names kept in a table replicated across every
// backend. Entries are Names or child Domains signed by one of the domain's
// keys.
type Domain struct {
	SmartDict
	signedName
	opts DomainOptions

	domMu     sync.Mutex
	keypair   *keys.KeyPair
	keys      []string
	tableURLs []string

	cache *cache.Cache
}

func (c *Client) newDomain() *Domain {
	d := &Domain{cache: cache.New(c.cacheTTL, 2*c.cacheTTL)}
	d.init(c, DomainTag, d)
	d.bindName(c, d.signedFields)
	return d
}

// NewDomain returns a master domain named fullName. A nil kp generates an
// ed25519 key. Its only authorised key is its own and its table lives at
// one location per backend.
func (c *Client) NewDomain(kp *keys.KeyPair, fullName string, opts DomainOptions) (*Domain, error) {
	if kp == nil {
		var err error
		if kp, err = keys.GenerateEd25519(nil); err != nil {
			return nil, err
		}
	}
	d := c.newDomain()
	d.opts = opts
	d.keypair = kp
	pub := kp.ExportPublic()
	d.keys = []string{pub}
	d.tableURLs = c.transport.TableLocations(cidutil.TableName(pub))
	d.fullName = fullName
	if !opts.Expires.IsZero() {
		d.expires = opts.Expires.UTC()
	}
	return d, nil
}

// OpenDomain fetches a stored domain.
func (c *Client) OpenDomain(ctx context.Context, urls []string) (*Domain, error) {
	return FetchAs[*Domain](ctx, c, urls)
}

func (d *Domain) KeyPair() *keys.KeyPair {
	d.domMu.Lock()
	defer d.domMu.Unlock()
	return d.keypair
}

func (d *Domain) IsMaster() bool { return d.KeyPair().HasPrivate() }

// Keys returns the public keys whose signatures the domain accepts.
func (d *Domain) Keys() []string {
	d.domMu.Lock()
	defer d.domMu.Unlock()
	return append([]string(nil), d.keys...)
}

// AddKey authorises another signer. Signatures over the domain's own fields
// are dropped since they no longer cover the key set.
func (d *Domain) AddKey(pub string) {
	d.domMu.Lock()
	for _, k := range d.keys {
		if k == pub {
			d.domMu.Unlock()
			return
		}
	}
	d.keys = append(d.keys, pub)
	d.domMu.Unlock()

	d.nameMu.Lock()
	d.signatures = nil
	d.nameMu.Unlock()
}

// TableURLs returns the replica locations of the domain's table.
func (d *Domain) TableURLs() []string {
	d.domMu.Lock()
	defer d.domMu.Unlock()
	return append([]string(nil), d.tableURLs...)
}

func (d *Domain) signedFields() Fields {
	return Fields{
		"tablepublicurls": d.TableURLs(),
		"fullname":        d.FullName(),
		"keys":            d.Keys(),
		"expires":         d.expiresValue(),
	}
}

func (d *Domain) Fields() Fields {
	f := d.SmartDict.Fields()
	if kp := d.KeyPair(); kp != nil {
		f["keypair"] = kp.ExportPublic()
		if kp.HasPrivate() && (d.opts.AllowUnsafeStore || d.ACL() != nil) {
			if priv, err := kp.ExportPrivate(); err == nil {
				f["keypair"] = priv
			}
		}
	}
	f["keys"] = d.Keys()
	f["tablepublicurls"] = d.TableURLs()
	d.nameFields(f)
	return f
}

// PublicFields never carries private key material.
func (d *Domain) PublicFields() Fields {
	f := d.Fields()
	if kp := d.KeyPair(); kp != nil {
		f["keypair"] = kp.ExportPublic()
	}
	return f
}

func (d *Domain) ApplyField(name string, value any) error {
	if ok, err := d.applyNameField(name, value); ok {
		return err
	}
	switch name {
	case "keypair":
		var kp *keys.KeyPair
		switch x := value.(type) {
		case *keys.KeyPair:
			kp = x
		case string:
			var err error
			if kp, err = keys.ParseKeyPair(x); err != nil {
				return err
			}
		default:
			return newError(KindCoding, "domain.apply", "keypair is not a string")
		}
		d.domMu.Lock()
		d.keypair = kp
		d.domMu.Unlock()
	case "keys":
		d.domMu.Lock()
		d.keys = toStrings(value)
		d.domMu.Unlock()
	case "tablepublicurls":
		d.domMu.Lock()
		d.tableURLs = toStrings(value)
		d.domMu.Unlock()
	default:
		return d.SmartDict.ApplyField(name, value)
	}
	return nil
}

func (d *Domain) Store(ctx context.Context) ([]string, error) {
	if d.IsMaster() && d.ACL() == nil && !d.opts.AllowUnsafeStore && !d.Stored() {
		d.client.log.Warn("storing master domain without its private key; set an access control or allow unsafe store to keep it",
			zap.String("domain", d.FullName()))
	}
	return d.SmartDict.Store(ctx)
}

// Register signs target into the domain under segment. A target that is not
// a Name or Domain is stored and wrapped in a new Name.
func (d *Domain) Register(ctx context.Context, segment string, target Record) (Nameable, error) {
	const op = "domain.register"
	kp := d.KeyPair()
	if !kp.HasPrivate() {
		return nil, newError(KindForbidden, op, "domain is not a master")
	}
	if segment == "" {
		return nil, newError(KindCoding, op, "empty segment")
	}
	if target == nil {
		return nil, newError(KindCoding, op, "nothing to register")
	}
	child, ok := target.(tableEntry)
	if !ok {
		urls, err := target.Store(ctx)
		if err != nil {
			return nil, err
		}
		child = d.client.NewName(urls)
	}
	child.SetFullName(d.FullName() + "/" + segment)
	if _, err := child.SignWith(kp, time.Time{}); err != nil {
		return nil, err
	}
	if !d.Verify(segment, child) {
		return nil, newError(KindCoding, op, "new signature on "+quote(segment)+" does not verify")
	}
	data, err := child.Dict().encode(encodeOptions{publicOnly: true, noEncrypt: true})
	if err != nil {
		return nil, err
	}
	if err := d.client.transport.TableSet(ctx, d.TableURLs(), segment, data); err != nil {
		return nil, wrapError(KindTransport, op, "publishing "+quote(segment), err)
	}
	d.remember(segment, child)
	return child, nil
}

// Verify reports whether child is a valid entry for segment: signed by one of
// the domain's keys and named for that position.
func (d *Domain) Verify(segment string, child Nameable) bool {
	if child == nil || child.FullName() != d.FullName()+"/"+segment {
		return false
	}
	e, ok := child.(tableEntry)
	return ok && e.signedByOneOf(d.Keys())
}

func (d *Domain) remember(segment string, n tableEntry) {
	ttl := d.client.cacheTTL
	if exp := n.Expires(); !exp.IsZero() {
		if until := exp.Sub(d.client.now()); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		d.cache.Delete(segment)
		return
	}
	d.cache.Set(segment, n, ttl)
}

// Forget drops segment from the local cache.
func (d *Domain) Forget(segment string) { d.cache.Delete(segment) }

// Get returns the entry for segment, or nil when no replica has a live one.
//
// Every replica is asked. Replicas that fail are logged and ignored; of the
// answers, the one whose earliest signature is newest wins, ties going to the
// lexicographically smaller signer key.
func (d *Domain) Get(ctx context.Context, segment string) (Nameable, error) {
	now := d.client.now()
	if v, ok := d.cache.Get(segment); ok {
		if e := v.(tableEntry); !e.expired(now) {
			return e, nil
		}
		d.cache.Delete(segment)
	}
	locs := d.TableURLs()
	answers := make([]tableEntry, len(locs))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for i, loc := range locs {
		wg.Add(1)
		go func(i int, loc string) {
			defer wg.Done()
			data, err := d.client.transport.TableGet(ctx, loc, segment)
			if isNotFound(err) {
				return
			}
			var entry tableEntry
			if err == nil {
				var rec Record
				if rec, err = d.client.Decode(data, nil); err == nil {
					var ok bool
					if entry, ok = rec.(tableEntry); !ok {
						err = newError(KindForbiddenType, "domain.get", rec.Dict().Table()+" is not a name")
					}
				}
			}
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, fmt.Errorf("%s: %w", loc, err))
				mu.Unlock()
				return
			}
			if entry.expired(now) {
				d.client.log.Debug("discarding expired entry", zap.String("location", loc), zap.String("name", entry.FullName()))
				return
			}
			answers[i] = entry
		}(i, loc)
	}
	wg.Wait()
	if err := merr.ErrorOrNil(); err != nil {
		d.client.log.Warn("table replicas unavailable", zap.String("domain", d.FullName()), zap.String("segment", segment), zap.Error(err))
	}
	best := newestEntry(answers)
	if best == nil {
		return nil, nil
	}
	d.remember(segment, best)
	return best, nil
}

func newestEntry(entries []tableEntry) tableEntry {
	var (
		best    tableEntry
		bestSig *Signature
	)
	for _, e := range entries {
		if e == nil {
			continue
		}
		s := earliestSignature(e.Signatures())
		if best == nil || newerSignature(s, bestSig) {
			best, bestSig = e, s
		}
	}
	return best
}

// newerSignature reports whether a beats b: a later date, or on equal dates
// the smaller signer key. Unsigned entries lose.
func newerSignature(a, b *Signature) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	case !a.Date().Equal(b.Date()):
		return a.Date().After(b.Date())
	default:
		return a.SignedBy() < b.SignedBy()
	}
}

func earliestSignature(sigs []*Signature) *Signature {
	var first *Signature
	for _, s := range sigs {
		if first == nil || s.Date().Before(first.Date()) {
			first = s
		}
	}
	return first
}

// GetMany looks up several segments concurrently. Absent segments are left
// out of the result.
func (d *Domain) GetMany(ctx context.Context, segments []string) (map[string]Nameable, error) {
	out := make(map[string]Nameable, len(segments))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, seg := range segments {
		wg.Add(1)
		go func(seg string) {
			defer wg.Done()
			n, err := d.Get(ctx, seg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				merr = multierror.Append(merr, err)
				return
			}
			if n != nil {
				out[seg] = n
			}
		}(seg)
	}
	wg.Wait()
	return out, merr.ErrorOrNil()
}

// Resolve looks up path by longest prefix. The entry found for the longest
// registered prefix resolves whatever remains of the path. A path with no
// registered prefix yields nil and no error.
func (d *Domain) Resolve(ctx context.Context, path string) (Record, error) {
	const op = "domain.resolve"
	segs := splitPath(path)
	if len(segs) == 0 {
		return d, nil
	}
	var remainder []string
	for len(segs) > 0 {
		key := strings.Join(segs, "/")
		n, err := d.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if n == nil {
			remainder = append([]string{segs[len(segs)-1]}, remainder...)
			segs = segs[:len(segs)-1]
			continue
		}
		if !d.Verify(key, n) {
			d.Forget(key)
			return nil, newError(KindResolution, op, quote(key)+" in "+quote(d.FullName())+" failed verification")
		}
		if len(remainder) == 0 {
			return n, nil
		}
		rest := strings.Join(remainder, "/")
		r, ok := n.(Resolver)
		if !ok {
			return nil, newError(KindResolution, op, "cannot resolve "+quote(rest)+" below "+quote(n.FullName()))
		}
		return r.Resolve(ctx, rest)
	}
	return nil, nil
}

// Segments returns every key held by any replica of the domain table,
// sorted. Entries are not fetched or verified.
func (d *Domain) Segments(ctx context.Context) ([]string, error) {
	keySet := map[string]struct{}{}
	var answered bool
	for _, loc := range d.TableURLs() {
		ks, err := d.client.transport.TableKeys(ctx, loc)
		if err != nil {
			d.client.log.Debug("table keys unavailable", zap.String("location", loc), zap.Error(err))
			continue
		}
		answered = true
		for _, k := range ks {
			keySet[k] = struct{}{}
		}
	}
	if !answered {
		return nil, newError(KindTransport, "domain.segments", "no replica of "+quote(d.FullName())+" answered")
	}
	segs := make([]string, 0, len(keySet))
	for k := range keySet {
		segs = append(segs, k)
	}
	sort.Strings(segs)
	return segs, nil
}

// Printable renders the domain tree as indented text, one entry per line.
func (d *Domain) Printable(ctx context.Context) (string, error) {
	var b strings.Builder
	if err := d.printTo(ctx, &b, 0, map[string]bool{}); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Domain) printTo(ctx context.Context, b *strings.Builder, depth int, seen map[string]bool) error {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(b, "%s%s (domain)\n", indent, d.FullName())
	locs := d.TableURLs()
	if len(locs) == 0 || seen[locs[0]] {
		return nil
	}
	seen[locs[0]] = true

	segs, err := d.Segments(ctx)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		n, err := d.Get(ctx, seg)
		if err != nil {
			return err
		}
		switch x := n.(type) {
		case nil:
		case *Domain:
			if err := x.printTo(ctx, b, depth+1, seen); err != nil {
				return err
			}
		case *Name:
			fmt.Fprintf(b, "%s  %s -> %s\n", indent, x.FullName(), strings.Join(x.Target(), " "))
		default:
			fmt.Fprintf(b, "%s  %s (%s)\n", indent, x.FullName(), x.Dict().Table())
		}
	}
	return nil
}
