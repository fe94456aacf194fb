package dweb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/keys"
)

func TestSmartDictRoundTrip(t *testing.T) {
	for _, name := range codec.Names() {
		t.Run(name, func(t *testing.T) {
			env := newEnv(t)
			cd, err := codec.ByName(name)
			require.NoError(t, err)
			c := NewClient(env.tr, Options{Codec: cd})
			ctx := context.Background()

			inner := c.NewSmartDict(Fields{"k": "inner"})
			_, err = inner.Store(ctx)
			require.NoError(t, err)

			d := c.NewSmartDict(Fields{
				"v":        1,
				"title":    "hello",
				"tags":     []string{"a", "b"},
				"child":    inner,
				"_private": "never stored",
			})
			urls, err := d.Store(ctx)
			require.NoError(t, err)
			require.NotEmpty(t, urls)

			got, err := c.Fetch(ctx, urls)
			require.NoError(t, err)
			sd, ok := got.(*SmartDict)
			require.True(t, ok)
			assert.Equal(t, urls, sd.URLs())

			v, _ := sd.Get("v")
			assert.Equal(t, int64(1), v)
			title, _ := sd.Get("title")
			assert.Equal(t, "hello", title)
			tags, _ := sd.Get("tags")
			assert.Equal(t, []any{"a", "b"}, tags)
			child, _ := sd.Get("child")
			assert.Equal(t, inner.URLs(), toStrings(child))
			_, ok = sd.Get("_private")
			assert.False(t, ok)
			assert.True(t, sd.Match(Fields{"v": 1, "title": "hello"}))
		})
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	d := env.client.NewSmartDict(Fields{"v": 1})

	first, err := d.Store(ctx)
	require.NoError(t, err)
	puts := env.mems["mem"].Puts()

	second, err := d.Store(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, puts, env.mems["mem"].Puts())
}

func TestStoreRejectsUnstoredNestedRecord(t *testing.T) {
	env := newEnv(t)
	inner := env.client.NewSmartDict(Fields{"k": "v"})
	outer := env.client.NewSmartDict(Fields{"child": inner})

	_, err := outer.Store(context.Background())
	assert.True(t, IsKind(err, KindCoding), "got %v", err)
	assert.False(t, outer.Stored())
}

func TestMatch(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	d := env.client.NewSmartDict(Fields{"v": 2, "name": "x"})
	urls, err := d.Store(ctx)
	require.NoError(t, err)

	assert.True(t, d.Match(nil))
	assert.True(t, d.Match(Fields{"v": int64(2)}))
	assert.False(t, d.Match(Fields{"v": 3}))
	assert.False(t, d.Match(Fields{"missing": 1}))
	assert.True(t, d.Match(Fields{".instanceof": SmartDictTag}))
	assert.False(t, d.Match(Fields{".instanceof": CommonListTag}))
	b := env.client.NewBlock([]byte("x"))
	assert.True(t, b.Match(Fields{".instanceof": StructuredBlockTag}))
	assert.True(t, b.Match(Fields{".instanceof": SmartDictTag}), "every record is a SmartDict")
	assert.True(t, b.Match(Fields{".instanceof": env.client.NewSmartDict(nil)}))
	assert.False(t, b.Match(Fields{".instanceof": NameTag}))
	assert.True(t, d.Match(Fields{".instanceof": env.client.NewSmartDict(nil)}))
	assert.True(t, d.Match(Fields{"_urls": []string{"elsewhere:x", urls[0]}}))
	assert.False(t, d.Match(Fields{"_urls": []string{"elsewhere:x"}}))
	assert.False(t, d.Match(Fields{"_publicurls": urls}))
}

func TestCopyIsUnstored(t *testing.T) {
	env := newEnv(t)
	d := env.client.NewSmartDict(Fields{"v": 1})
	_, err := d.Store(context.Background())
	require.NoError(t, err)

	cp, err := d.Copy()
	require.NoError(t, err)
	assert.False(t, cp.Dict().Stored())
	assert.Equal(t, SmartDictTag, cp.Dict().Table())
	v, ok := cp.Dict().Get("v")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCopyKeepsRecordType(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	b := env.client.NewBlock([]byte("x"))
	_, err := b.Store(ctx)
	require.NoError(t, err)
	cp, err := b.Copy()
	require.NoError(t, err)
	cb, ok := cp.(*StructuredBlock)
	require.True(t, ok, "got %T", cp)
	assert.Equal(t, StructuredBlockTag, cb.Table())
	assert.False(t, cb.Stored())
	content, err := cb.Content(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), content)

	kp, err := keys.GenerateEd25519(nil)
	require.NoError(t, err)
	n := env.client.NewName([]string{"mem:target"})
	n.SetFullName("root/x")
	_, err = n.SignWith(kp, time.Time{})
	require.NoError(t, err)
	cp, err = n.Copy()
	require.NoError(t, err)
	cn, ok := cp.(*Name)
	require.True(t, ok, "got %T", cp)
	assert.Equal(t, NameTag, cn.Table())
	assert.Equal(t, "root/x", cn.FullName())
	assert.Equal(t, n.Target(), cn.Target())
	assert.True(t, cn.VerifyOwnSignatures())

	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	cp, err = l.Copy()
	require.NoError(t, err)
	cl, ok := cp.(*CommonList)
	require.True(t, ok, "got %T", cp)
	assert.True(t, cl.IsMaster())
	assert.Equal(t, l.KeyPair().ExportPublic(), cl.KeyPair().ExportPublic())
}

func TestEncryptedRecord(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	handle, err := acl.Generate()
	require.NoError(t, err)

	d := env.client.NewSmartDict(Fields{"secret": "top-secret-value"})
	d.SetACL(handle)
	urls, err := d.Store(ctx)
	require.NoError(t, err)

	raw, err := env.tr.Fetch(ctx, urls)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "top-secret-value")

	_, err = env.client.Fetch(ctx, urls)
	assert.True(t, IsKind(err, KindDecryption), "got %v", err)

	reader := NewClient(env.tr, Options{Keyring: acl.NewKeyring(handle)})
	got, err := reader.Fetch(ctx, urls)
	require.NoError(t, err)
	secret, _ := got.Dict().Get("secret")
	assert.Equal(t, "top-secret-value", secret)
}

func TestDoublyEncryptedRecordFails(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	handle, err := acl.Generate()
	require.NoError(t, err)

	wrap := func(plain []byte) []byte {
		ct, err := handle.Encrypt(plain)
		require.NoError(t, err)
		out, err := codec.JSON.Marshal(map[string]any{"encrypted": ct, "acl": []any{handle.ID()}, "table": SmartDictTag})
		require.NoError(t, err)
		return out
	}
	inner, err := codec.JSON.Marshal(map[string]any{"v": 1, "table": SmartDictTag})
	require.NoError(t, err)
	urls, err := env.tr.Store(ctx, wrap(wrap(inner)))
	require.NoError(t, err)

	reader := NewClient(env.tr, Options{Keyring: acl.NewKeyring(handle)})
	_, err = reader.Fetch(ctx, urls)
	assert.True(t, IsKind(err, KindDecryption), "got %v", err)
}

func TestFetchRejectsUnknownAndForbiddenTypes(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	unknown, err := env.tr.Store(ctx, []byte(`{"table":"nope","v":1}`))
	require.NoError(t, err)
	_, err = env.client.Fetch(ctx, unknown)
	assert.True(t, IsKind(err, KindUnknownType), "got %v", err)

	reg := DefaultRegistry()
	reg.MustRegister("bad", func(*Client) any { return "not a record" })
	c := NewClient(env.tr, Options{Registry: reg})
	bad, err := env.tr.Store(ctx, []byte(`{"table":"bad"}`))
	require.NoError(t, err)
	_, err = c.Fetch(ctx, bad)
	assert.True(t, IsKind(err, KindForbiddenType), "got %v", err)
}

func TestFetchMissing(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	other := newEnv(t)
	urls, err := other.tr.Store(ctx, []byte(`{"table":"sd"}`))
	require.NoError(t, err)

	_, err = env.client.Fetch(ctx, urls)
	assert.True(t, IsKind(err, KindTransport), "got %v", err)
	assert.True(t, isNotFound(err))
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{CommonListTag, DomainTag, NameTag, StructuredBlockTag, SmartDictTag, SignatureTag}, r.Tags())
	assert.Error(t, r.Register(SmartDictTag, func(*Client) any { return nil }))
	assert.Error(t, r.Register("", func(*Client) any { return nil }))
	assert.Error(t, r.Register("x", nil))
	assert.Panics(t, func() { r.MustRegister(NameTag, func(*Client) any { return nil }) })
}
