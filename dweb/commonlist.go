package dweb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/keys"
	"github.com/e-e-e/dweb-transport/storage"
)

const CommonListTag = "cl"

type ListOptions struct {
	// DontStoreMaster keeps the master copy local; Store then only publishes
	// the public mirror.
	DontStoreMaster bool
	// AllowUnsafeStore permits the private key in an unencrypted record.
	AllowUnsafeStore bool
}

// CommonList is a signed append-only list of references.
//
// A master list holds the private key and may append. Storing a master also
// publishes a public mirror carrying only the public key; entries are
// appended at the mirror's URLs, so anyone holding those URLs can read and
// verify the list but never append to it.
type CommonList struct {
	SmartDict
	opts ListOptions

	listMu     sync.Mutex
	keypair    *keys.KeyPair
	publicURLs []string
	sigs       []*Signature
}

func (c *Client) newCommonList() *CommonList {
	l := &CommonList{}
	l.init(c, CommonListTag, l)
	return l
}

// NewCommonList returns an unstored master list. A nil kp generates an
// ed25519 key.
func (c *Client) NewCommonList(kp *keys.KeyPair, opts ListOptions) (*CommonList, error) {
	if kp == nil {
		var err error
		if kp, err = keys.GenerateEd25519(nil); err != nil {
			return nil, err
		}
	}
	l := c.newCommonList()
	l.keypair = kp
	l.opts = opts
	return l, nil
}

// OpenCommonList fetches a list from its master or public URLs.
func (c *Client) OpenCommonList(ctx context.Context, urls []string) (*CommonList, error) {
	return FetchAs[*CommonList](ctx, c, urls)
}

func (l *CommonList) KeyPair() *keys.KeyPair {
	l.listMu.Lock()
	defer l.listMu.Unlock()
	return l.keypair
}

// IsMaster reports whether the list holds its private key.
func (l *CommonList) IsMaster() bool { return l.KeyPair().HasPrivate() }

// PublicURLs returns the URLs entries are appended at: the mirror's for a
// master, the list's own otherwise.
func (l *CommonList) PublicURLs() []string {
	l.listMu.Lock()
	pu := append([]string(nil), l.publicURLs...)
	master := l.keypair.HasPrivate()
	l.listMu.Unlock()
	if master || len(pu) > 0 {
		return pu
	}
	return l.URLs()
}

// Signatures returns the in-memory entries in append order.
func (l *CommonList) Signatures() []*Signature {
	l.listMu.Lock()
	defer l.listMu.Unlock()
	return append([]*Signature(nil), l.sigs...)
}

func (l *CommonList) Fields() Fields {
	f := l.SmartDict.Fields()
	l.listMu.Lock()
	defer l.listMu.Unlock()
	if l.keypair != nil {
		f["keypair"] = l.keypair.ExportPublic()
		if l.keypair.HasPrivate() && (l.opts.AllowUnsafeStore || l.ACL() != nil) {
			if priv, err := l.keypair.ExportPrivate(); err == nil {
				f["keypair"] = priv
			}
		}
	}
	if len(l.publicURLs) > 0 {
		f["publicurls"] = append([]string(nil), l.publicURLs...)
	}
	return f
}

// PublicFields never carries private key material.
func (l *CommonList) PublicFields() Fields {
	f := l.Fields()
	if kp := l.KeyPair(); kp != nil {
		f["keypair"] = kp.ExportPublic()
	}
	return f
}

func (l *CommonList) ApplyField(name string, value any) error {
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
			return newError(KindCoding, "commonlist.apply", "keypair is not a string")
		}
		l.listMu.Lock()
		l.keypair = kp
		l.listMu.Unlock()
	case "publicurls":
		l.listMu.Lock()
		l.publicURLs = toStrings(value)
		l.listMu.Unlock()
	default:
		return l.SmartDict.ApplyField(name, value)
	}
	return nil
}

// Store publishes the public mirror when the list is a master without one,
// then stores the list itself unless DontStoreMaster is set.
func (l *CommonList) Store(ctx context.Context) ([]string, error) {
	if err := l.ensureMirror(); err != nil {
		return nil, err
	}
	if l.opts.DontStoreMaster {
		return l.URLs(), nil
	}
	if l.IsMaster() && l.ACL() == nil && !l.opts.AllowUnsafeStore && !l.Stored() {
		l.client.log.Warn("storing master list without its private key; set an access control or allow unsafe store to keep it",
			zap.String("key", l.KeyPair().ExportPublic()))
	}
	return l.SmartDict.Store(ctx)
}

// ensureMirror addresses the mirror synchronously and writes it in the
// background; fetches of the mirror's URLs wait for that write.
func (l *CommonList) ensureMirror() error {
	l.listMu.Lock()
	defer l.listMu.Unlock()
	if !l.keypair.HasPrivate() || len(l.publicURLs) > 0 {
		return nil
	}
	mirror := l.client.newCommonList()
	mirror.keypair = l.keypair.Public()
	data, err := mirror.encode(encodeOptions{})
	if err != nil {
		return err
	}
	urls, err := l.client.transport.Address(data)
	if err != nil {
		return wrapError(KindTransport, "commonlist.store", "addressing public mirror", err)
	}
	l.publicURLs = urls
	l.client.background("commonlist.mirror", urls, func(ctx context.Context) error {
		_, err := l.client.transport.Store(ctx, data)
		return err
	})
	return nil
}

// Append stores obj when needed and appends a signed reference to it.
func (l *CommonList) Append(ctx context.Context, obj Record) (*Signature, error) {
	const op = "commonlist.append"
	if !l.IsMaster() {
		return nil, newError(KindForbidden, op, "list is not a master")
	}
	if obj == nil {
		return nil, newError(KindCoding, op, "nothing to append")
	}
	urls, err := obj.Store(ctx)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, newError(KindCoding, op, "object has no address")
	}
	return l.AppendURLs(ctx, urls)
}

// AppendURLs appends a signed reference to content already stored at urls.
// The entry is visible in Signatures before the durable append completes.
func (l *CommonList) AppendURLs(ctx context.Context, urls []string) (*Signature, error) {
	const op = "commonlist.append"
	if !l.IsMaster() {
		return nil, newError(KindForbidden, op, "list is not a master")
	}
	if len(urls) == 0 {
		return nil, newError(KindCoding, op, "nothing to append")
	}
	if _, err := l.Store(ctx); err != nil {
		return nil, err
	}
	sig, err := l.client.Sign(ctx, l, urls, time.Time{})
	if err != nil {
		return nil, err
	}
	l.listMu.Lock()
	l.sigs = append(l.sigs, sig)
	l.listMu.Unlock()

	if err := l.client.transport.ListAppend(ctx, l.PublicURLs(), sig.Entry()); err != nil {
		return sig, wrapError(KindTransport, op, "recording entry", err)
	}
	return sig, nil
}

// VerifySignature trusts signatures made with this list's key only.
func (l *CommonList) VerifySignature(sig *Signature) bool {
	kp := l.KeyPair()
	if kp == nil || sig.SignedBy() != kp.ExportPublic() {
		return false
	}
	return sig.VerifySelf()
}

// publicAddress returns the URLs entries live at. A master that has not been
// stored yet addresses its mirror first, since that depends only on the key.
func (l *CommonList) publicAddress(op string) ([]string, error) {
	if err := l.ensureMirror(); err != nil {
		return nil, err
	}
	pu := l.PublicURLs()
	if len(pu) == 0 {
		return nil, newError(KindCoding, op, "list has no public address")
	}
	return pu, nil
}

func (l *CommonList) entrySignature(e storage.ListEntry) (*Signature, bool) {
	sig, err := l.client.SignatureFromEntry(e)
	if err != nil || !sig.Verify(l) {
		l.client.log.Warn("dropping unverifiable list entry",
			zap.Strings("list", l.PublicURLs()), zap.String("signedby", e.SignedBy), zap.Error(err))
		return nil, false
	}
	return sig, true
}

// FetchList replaces the in-memory entries with the durable list. Entries that
// do not verify against the list's key are dropped.
func (l *CommonList) FetchList(ctx context.Context) ([]*Signature, error) {
	pu, err := l.publicAddress("commonlist.fetchlist")
	if err != nil {
		return nil, err
	}
	if err := l.client.awaitPending(ctx, pu); err != nil {
		return nil, wrapError(KindTransport, "commonlist.fetchlist", "waiting for mirror", err)
	}
	entries, err := l.client.transport.ListFetch(ctx, pu)
	if err != nil {
		return nil, wrapError(KindTransport, "commonlist.fetchlist", "fetching entries", err)
	}
	sigs := make([]*Signature, 0, len(entries))
	for _, e := range entries {
		if sig, ok := l.entrySignature(e); ok {
			sigs = append(sigs, sig)
		}
	}
	l.listMu.Lock()
	l.sigs = sigs
	l.listMu.Unlock()
	return append([]*Signature(nil), sigs...), nil
}

// FetchElements fetches the list and then every distinct target, in list
// order. Targets that cannot be fetched are logged and left out.
func (l *CommonList) FetchElements(ctx context.Context) ([]Record, error) {
	sigs, err := l.FetchList(ctx)
	if err != nil {
		return nil, err
	}
	sigs = FilterDuplicates(sigs)
	got := make([]Record, len(sigs))
	var wg sync.WaitGroup
	for i, s := range sigs {
		wg.Add(1)
		go func(i int, s *Signature) {
			defer wg.Done()
			r, err := s.FetchTarget(ctx)
			if err != nil {
				l.client.log.Warn("list element unavailable", zap.Strings("urls", s.Target()), zap.Error(err))
				return
			}
			got[i] = r
		}(i, s)
	}
	wg.Wait()
	out := make([]Record, 0, len(got))
	for _, r := range got {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// Subscribe appends each newly recorded entry to the in-memory list and passes
// it to fn, until ctx is done.
func (l *CommonList) Subscribe(ctx context.Context, fn func(*Signature)) error {
	pu, err := l.publicAddress("commonlist.subscribe")
	if err != nil {
		return err
	}
	err = l.client.transport.ListSubscribe(ctx, pu, func(e storage.ListEntry) {
		sig, ok := l.entrySignature(e)
		if !ok {
			return
		}
		l.listMu.Lock()
		l.sigs = append(l.sigs, sig)
		l.listMu.Unlock()
		if fn != nil {
			fn(sig)
		}
	})
	if err != nil {
		return wrapError(KindTransport, "commonlist.subscribe", "subscribing", err)
	}
	return nil
}
