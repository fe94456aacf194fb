package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	assert.True(t, a.CanDecrypt())

	ct, err := a.Encrypt([]byte(`{"v":1}`))
	require.NoError(t, err)
	pt, err := a.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), pt)
}

func TestRecipientOnlyCannotDecrypt(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)

	enc, err := Parse(a.ID())
	require.NoError(t, err)
	assert.False(t, enc.CanDecrypt())
	assert.Equal(t, a.ID(), enc.ID())

	ct, err := enc.Encrypt([]byte("secret"))
	require.NoError(t, err)
	_, err = enc.Decrypt(ct)
	assert.ErrorIs(t, err, ErrNoIdentity)

	pt, err := a.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(pt))
}

func TestParseIdentityRoundTrip(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Parse(a.Export())
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.True(t, b.CanDecrypt())

	_, err = Parse("not a key")
	assert.Error(t, err)
}

func TestKeyring(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	ct, err := a.Encrypt([]byte("x"))
	require.NoError(t, err)

	_, err = NewKeyring(other).Decrypt([]string{a.ID()}, ct)
	assert.ErrorIs(t, err, ErrNotReader)

	pt, err := NewKeyring(other, a).Decrypt([]string{a.ID()}, ct)
	require.NoError(t, err)
	assert.Equal(t, "x", string(pt))

	// a handle listed under the wrong id fails to decrypt
	_, err = NewKeyring(other).Decrypt([]string{other.ID()}, ct)
	assert.Error(t, err)
}
