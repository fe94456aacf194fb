package dweb

import (
	"context"

	"go.uber.org/zap"

	"github.com/e-e-e/dweb-transport/storage"
)

// Fetch retrieves the record stored at urls and rebuilds it as the type its
// tag names.
func (c *Client) Fetch(ctx context.Context, urls []string) (Record, error) {
	if len(urls) == 0 {
		return nil, newError(KindCoding, "fetch", "no urls")
	}
	if err := c.awaitPending(ctx, urls); err != nil {
		return nil, wrapError(KindTransport, "fetch", "waiting for pending store", err)
	}
	data, err := c.transport.Fetch(ctx, urls)
	if err != nil {
		return nil, wrapError(KindTransport, "fetch", "fetching "+urls[0], err)
	}
	return c.Decode(data, urls)
}

// FetchAs fetches urls and requires the record to be a T.
func FetchAs[T Record](ctx context.Context, c *Client, urls []string) (T, error) {
	var zero T
	r, err := c.Fetch(ctx, urls)
	if err != nil {
		return zero, err
	}
	t, ok := r.(T)
	if !ok {
		return zero, newError(KindForbiddenType, "fetch", "record is a "+r.Dict().Table())
	}
	return t, nil
}

// Decode rebuilds a record from its encoding. urls becomes its content address
// and may be nil for data that was not read from content storage.
func (c *Client) Decode(data []byte, urls []string) (Record, error) {
	const op = "decode"
	fields, err := c.codec.Unmarshal(data)
	if err != nil {
		return nil, wrapError(KindCoding, op, "unmarshal", err)
	}
	if ct, wrapped := fields["encrypted"]; wrapped {
		ids := toStrings(fields["acl"])
		s, _ := ct.(string)
		plain, err := c.keyring.Decrypt(ids, s)
		if err != nil {
			c.log.Debug("cannot decrypt record", zap.Strings("acl", ids), zap.Strings("urls", urls), zap.Error(err))
			return nil, wrapError(KindDecryption, op, "no readable access-control handle", err)
		}
		fields, err = c.codec.Unmarshal(plain)
		if err != nil {
			return nil, wrapError(KindDecryption, op, "unmarshal decrypted record", err)
		}
		if _, still := fields["encrypted"]; still {
			return nil, newError(KindDecryption, op, "record is still encrypted after decryption")
		}
	}

	tag, _ := fields["table"].(string)
	rec, err := c.instantiate(op, tag)
	if err != nil {
		return nil, err
	}
	delete(fields, "table")
	for _, k := range sortedKeys(fields) {
		if err := rec.ApplyField(k, fields[k]); err != nil {
			return nil, wrapError(KindCoding, op, "field "+k, err)
		}
	}
	rec.Dict().setURLs(urls)
	return rec, nil
}

// instantiate builds an empty record for tag through the registry.
func (c *Client) instantiate(op, tag string) (Record, error) {
	factory, ok := c.registry.Lookup(tag)
	if !ok {
		return nil, newError(KindUnknownType, op, "unregistered type tag "+quote(tag))
	}
	rec, ok := factory(c).(Record)
	if !ok || rec == nil {
		return nil, newError(KindForbiddenType, op, "type tag "+quote(tag)+" does not build a record")
	}
	return rec, nil
}

func isNotFound(err error) bool { return storage.IsNotFound(err) }

func quote(s string) string { return "\"" + s + "\"" }
