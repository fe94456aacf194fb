package dweb

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/keys"
)

const SmartDictTag = "sd"

// Fields is a record's field map as it is encoded and decoded.
type Fields map[string]any

// Record is implemented by every type the Registry can build.
//
// Fields returns the storable fields without the type tag; names starting
// with "_" are dropped at encode time. ApplyField is the single write path for
// fields, so types can normalise values as they arrive.
type Record interface {
	Dict() *SmartDict
	Fields() Fields
	ApplyField(name string, value any) error
	Store(ctx context.Context) ([]string, error)
}

// publicFielder is implemented by records that hold material which must not
// appear in a published index entry.
type publicFielder interface {
	PublicFields() Fields
}

// SmartDict is the base record: a tagged field map with a content address.
// Other record types embed it.
type SmartDict struct {
	client *Client
	self   Record
	table  string

	mu     sync.RWMutex
	fields Fields
	urls   []string
	acl    *acl.AccessControl

	storeMu sync.Mutex
}

// NewSmartDict returns an unstored generic record holding fields.
func (c *Client) NewSmartDict(fields Fields) *SmartDict {
	d := &SmartDict{}
	d.init(c, SmartDictTag, d)
	for k, v := range fields {
		d.fields[k] = v
	}
	return d
}

func (d *SmartDict) init(c *Client, table string, self Record) {
	d.client = c
	d.table = table
	d.self = self
	d.fields = Fields{}
}

func (d *SmartDict) Dict() *SmartDict { return d }

func (d *SmartDict) Client() *Client { return d.client }

// Table returns the record's type tag.
func (d *SmartDict) Table() string { return d.table }

// URLs returns the content address, or nil before the first store.
func (d *SmartDict) URLs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.urls...)
}

func (d *SmartDict) Stored() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.urls) > 0
}

func (d *SmartDict) setURLs(urls []string) {
	d.mu.Lock()
	d.urls = append([]string(nil), urls...)
	d.mu.Unlock()
}

func (d *SmartDict) Get(name string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.fields[name]
	return v, ok
}

// Set writes one field through the record's ApplyField.
func (d *SmartDict) Set(name string, value any) error {
	return d.self.ApplyField(name, value)
}

// Fields returns a copy of the generic fields.
func (d *SmartDict) Fields() Fields {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(Fields, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

func (d *SmartDict) ApplyField(name string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fields[name] = value
	return nil
}

// SetACL attaches an access-control handle; the next store encrypts the
// record with it.
func (d *SmartDict) SetACL(a *acl.AccessControl) {
	d.mu.Lock()
	d.acl = a
	d.mu.Unlock()
}

func (d *SmartDict) ACL() *acl.AccessControl {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.acl
}

// keyHolder is implemented by records that carry a key pair.
type keyHolder interface {
	KeyPair() *keys.KeyPair
}

// Copy returns an unstored record of the same type holding the same fields,
// key pair and access-control handle. Nested values are shared.
func (d *SmartDict) Copy() (Record, error) {
	const op = "copy"
	rec, err := d.client.instantiate(op, d.table)
	if err != nil {
		return nil, err
	}
	fields := d.self.Fields()
	if kh, ok := d.self.(keyHolder); ok && kh.KeyPair() != nil {
		fields["keypair"] = kh.KeyPair()
	}
	for _, k := range sortedKeys(fields) {
		if err := rec.ApplyField(k, fields[k]); err != nil {
			return nil, wrapError(KindCoding, op, "field "+k, err)
		}
	}
	rec.Dict().SetACL(d.ACL())
	return rec, nil
}

// Store persists the record and assigns its content address. A stored record
// is not written again.
func (d *SmartDict) Store(ctx context.Context) ([]string, error) {
	d.storeMu.Lock()
	defer d.storeMu.Unlock()
	if urls := d.URLs(); len(urls) > 0 {
		return urls, nil
	}
	data, err := d.encode(encodeOptions{})
	if err != nil {
		return nil, err
	}
	urls, err := d.client.transport.Store(ctx, data)
	if err != nil {
		return nil, wrapError(KindTransport, d.table+".store", "persisting record", err)
	}
	d.setURLs(urls)
	return urls, nil
}

type encodeOptions struct {
	// publicOnly encodes PublicFields when the record has them.
	publicOnly bool
	noEncrypt  bool
}

func (d *SmartDict) encode(opts encodeOptions) ([]byte, error) {
	op := d.table + ".encode"
	var fields Fields
	if pf, ok := d.self.(publicFielder); ok && opts.publicOnly {
		fields = pf.PublicFields()
	} else {
		fields = d.self.Fields()
	}
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if strings.HasPrefix(k, "_") {
			continue
		}
		ev, err := encodeValue(v)
		if err != nil {
			return nil, wrapError(KindCoding, op, "field "+k, err)
		}
		out[k] = ev
	}
	out["table"] = d.table
	data, err := d.client.codec.Marshal(out)
	if err != nil {
		return nil, wrapError(KindCoding, op, "marshal", err)
	}

	a := d.ACL()
	if a == nil || opts.noEncrypt {
		return data, nil
	}
	ct, err := a.Encrypt(data)
	if err != nil {
		return nil, wrapError(KindEncryption, op, "encrypting record", err)
	}
	data, err = d.client.codec.Marshal(map[string]any{
		"encrypted": ct,
		"acl":       []any{a.ID()},
		"table":     d.table,
	})
	if err != nil {
		return nil, wrapError(KindCoding, op, "marshal encrypted wrapper", err)
	}
	return data, nil
}

// encodeValue turns in-memory values into codec-neutral ones: records become
// their URLs, times become RFC 3339 strings and bytes become base64.
func encodeValue(v any) (any, error) {
	switch x := v.(type) {
	case Record:
		urls := x.Dict().URLs()
		if len(urls) == 0 {
			return nil, newError(KindCoding, "encode", "nested "+x.Dict().Table()+" record is not stored")
		}
		return stringsToAny(urls), nil
	case []Record:
		out := make([]any, len(x))
		for i, r := range x {
			e, err := encodeValue(r)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case time.Time:
		return formatTime(x), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	case []string:
		return stringsToAny(x), nil
	case Fields:
		return encodeValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ev, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, newError(KindCoding, "parse", "date is not a string")
	}
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// toStrings accepts the shapes a URL set takes in memory or after decoding.
func toStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case Record:
		return x.Dict().URLs()
	default:
		return nil
	}
}

func sortedKeys(f Fields) []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
