package dweb

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/keys"
)

func TestCommonListAppendAndFetchElements(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	assert.True(t, l.IsMaster())

	o := env.client.NewSmartDict(Fields{"v": 1})
	oURLs, err := o.Store(ctx)
	require.NoError(t, err)

	sig, err := l.Append(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, oURLs, sig.Target())
	assert.Len(t, l.Signatures(), 1)
	require.NotEmpty(t, l.PublicURLs())
	assert.NotEqual(t, l.URLs(), l.PublicURLs())

	pub, err := env.client.OpenCommonList(ctx, l.PublicURLs())
	require.NoError(t, err)
	assert.False(t, pub.IsMaster())
	assert.Equal(t, l.KeyPair().ExportPublic(), pub.KeyPair().ExportPublic())
	assert.Equal(t, l.PublicURLs(), pub.PublicURLs())

	elems, err := pub.FetchElements(ctx)
	require.NoError(t, err)
	require.Len(t, elems, 1)
	v, _ := elems[0].Dict().Get("v")
	assert.Equal(t, int64(1), v)
	assert.Equal(t, oURLs, elems[0].Dict().URLs())
}

func TestNonMasterAppendIsForbidden(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	_, err = l.Append(ctx, env.client.NewSmartDict(Fields{"v": 1}))
	require.NoError(t, err)

	pub, err := env.client.OpenCommonList(ctx, l.PublicURLs())
	require.NoError(t, err)
	_, err = pub.FetchList(ctx)
	require.NoError(t, err)
	before := pub.Signatures()

	_, err = pub.Append(ctx, env.client.NewSmartDict(Fields{"v": 2}))
	assert.True(t, IsKind(err, KindForbidden), "got %v", err)
	_, err = pub.AppendURLs(ctx, []string{"mem:x"})
	assert.True(t, IsKind(err, KindForbidden), "got %v", err)
	assert.Equal(t, before, pub.Signatures())
}

func TestAppendRejectsEmptyTarget(t *testing.T) {
	env := newEnv(t)
	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)

	_, err = l.Append(context.Background(), nil)
	assert.True(t, IsKind(err, KindCoding), "got %v", err)
	_, err = l.AppendURLs(context.Background(), nil)
	assert.True(t, IsKind(err, KindCoding), "got %v", err)
	assert.Empty(t, l.Signatures())
}

func TestDontStoreMaster(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	l, err := env.client.NewCommonList(nil, ListOptions{DontStoreMaster: true})
	require.NoError(t, err)

	urls, err := l.Store(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)
	assert.False(t, l.Stored())
	require.NotEmpty(t, l.PublicURLs())

	_, err = l.Append(ctx, env.client.NewSmartDict(Fields{"v": 3}))
	require.NoError(t, err)

	pub, err := env.client.OpenCommonList(ctx, l.PublicURLs())
	require.NoError(t, err)
	sigs, err := pub.FetchList(ctx)
	require.NoError(t, err)
	assert.Len(t, sigs, 1)
}

func TestPrivateKeyNeverStoredByDefault(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	urls, err := l.Store(ctx)
	require.NoError(t, err)
	raw, err := env.tr.Fetch(ctx, urls)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "seed")

	got, err := env.client.OpenCommonList(ctx, urls)
	require.NoError(t, err)
	assert.False(t, got.IsMaster())

	unsafe, err := env.client.NewCommonList(nil, ListOptions{AllowUnsafeStore: true})
	require.NoError(t, err)
	urls, err = unsafe.Store(ctx)
	require.NoError(t, err)
	got, err = env.client.OpenCommonList(ctx, urls)
	require.NoError(t, err)
	assert.True(t, got.IsMaster())
	assert.Equal(t, unsafe.PublicURLs(), got.PublicURLs())
}

func TestEncryptedMasterKeepsKey(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	handle, err := acl.Generate()
	require.NoError(t, err)
	c := NewClient(env.tr, Options{Keyring: acl.NewKeyring(handle)})

	l, err := c.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	l.SetACL(handle)
	urls, err := l.Store(ctx)
	require.NoError(t, err)
	c.Wait()

	got, err := c.OpenCommonList(ctx, urls)
	require.NoError(t, err)
	assert.True(t, got.IsMaster())

	// The mirror is public.
	pub, err := env.client.OpenCommonList(ctx, l.PublicURLs())
	require.NoError(t, err)
	assert.False(t, pub.IsMaster())
}

func TestFetchListDropsForgedEntries(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	_, err = l.Append(ctx, env.client.NewSmartDict(Fields{"v": 1}))
	require.NoError(t, err)

	other, err := keys.GenerateEd25519(nil)
	require.NoError(t, err)
	intruder, err := env.client.NewCommonList(other, ListOptions{DontStoreMaster: true})
	require.NoError(t, err)
	forged, err := env.client.Sign(ctx, intruder, []string{"mem:x"}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, env.tr.ListAppend(ctx, l.PublicURLs(), forged.Entry()))

	sigs, err := l.FetchList(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, l.KeyPair().ExportPublic(), sigs[0].SignedBy())
}

func TestFetchElementsSkipsMissingTargets(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)

	missing := newEnv(t)
	gone, err := missing.tr.Store(ctx, []byte(`{"table":"sd","v":0}`))
	require.NoError(t, err)
	_, err = l.AppendURLs(ctx, gone)
	require.NoError(t, err)
	_, err = l.Append(ctx, env.client.NewSmartDict(Fields{"v": 1}))
	require.NoError(t, err)
	_, err = l.AppendURLs(ctx, gone)
	require.NoError(t, err)

	elems, err := l.FetchElements(ctx)
	require.NoError(t, err)
	require.Len(t, elems, 1)
	v, _ := elems[0].Dict().Get("v")
	assert.Equal(t, int64(1), v)
}

func TestSubscribe(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	_, err = l.Store(ctx)
	require.NoError(t, err)

	pub, err := env.client.OpenCommonList(ctx, l.PublicURLs())
	require.NoError(t, err)
	got := make(chan *Signature, 4)
	require.NoError(t, pub.Subscribe(ctx, func(s *Signature) { got <- s }))

	sig, err := l.Append(ctx, env.client.NewSmartDict(Fields{"v": 9}))
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, sig.Target(), s.Target())
		assert.Len(t, pub.Signatures(), 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}

func TestReopenedMasterReadsItsList(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	o := storedDict(t, env.client, Fields{"v": 1})
	_, err = l.Append(ctx, o)
	require.NoError(t, err)

	// same key, new session, never stored
	again, err := env.client.NewCommonList(l.KeyPair(), ListOptions{})
	require.NoError(t, err)

	sigs, err := again.FetchList(ctx)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, o.URLs(), sigs[0].Target())
	assert.Equal(t, l.PublicURLs(), again.PublicURLs())

	elems, err := again.FetchElements(ctx)
	require.NoError(t, err)
	assert.Len(t, elems, 1)

	fresh, err := env.client.NewCommonList(l.KeyPair(), ListOptions{})
	require.NoError(t, err)
	got := make(chan *Signature, 4)
	require.NoError(t, fresh.Subscribe(ctx, func(s *Signature) { got <- s }))
	sig, err := l.Append(ctx, env.client.NewSmartDict(Fields{"v": 2}))
	require.NoError(t, err)
	select {
	case s := <-got:
		assert.Equal(t, sig.Target(), s.Target())
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}

func TestSecurityWarningOnUnsafeStore(t *testing.T) {
	env := newEnv(t)
	l, err := env.client.NewCommonList(nil, ListOptions{})
	require.NoError(t, err)
	f := l.Fields()
	assert.True(t, strings.HasPrefix(f["keypair"].(string), "ed25519:"))

	unsafe, err := env.client.NewCommonList(nil, ListOptions{AllowUnsafeStore: true})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(unsafe.Fields()["keypair"].(string), "ed25519-seed:"))
	assert.True(t, strings.HasPrefix(unsafe.PublicFields()["keypair"].(string), "ed25519:"))
}
