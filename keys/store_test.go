package keys

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed(t *testing.T, alg Algorithm) Seed {
	t.Helper()
	s, err := GenerateSeed(alg, &deterministicReader{b: 1})
	require.NoError(t, err)
	return s
}

func TestKeyStoreRootAndRole(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	require.NoError(t, err)

	seed := testSeed(t, Ed25519)
	pub, path, err := ks.Init("alice", seed, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ks.Dir, "alice", "root.key"), path)

	_, _, err = ks.Init("alice", seed, false)
	assert.ErrorIs(t, err, fs.ErrExist, "refuses to overwrite")
	_, _, err = ks.Init("alice", seed, true)
	assert.NoError(t, err)

	rolePub, _, err := ks.Derive("alice", "domain", false)
	require.NoError(t, err)
	assert.NotEqual(t, pub, rolePub)

	kp, err := ks.KeyPair("alice", "")
	require.NoError(t, err)
	assert.Equal(t, pub, kp.ExportPublic())
	assert.True(t, kp.HasPrivate())

	got, err := ks.PublicKey("alice", "domain")
	require.NoError(t, err)
	assert.Equal(t, rolePub, got)

	entries, err := ks.List()
	require.NoError(t, err)
	assert.Equal(t, []KeyEntry{{Name: "alice", Algorithm: Ed25519, Roles: []string{"domain"}}}, entries)

	_, err = ks.KeyPair("bad name", "")
	assert.Error(t, err)
	_, err = ks.KeyPair("alice", "no/such")
	assert.Error(t, err)
}

func TestKeyStoreFileFormat(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	require.NoError(t, err)

	seed := testSeed(t, Dilithium3)
	_, path, err := ks.Init("bob", seed, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, seed.String()+"\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeyStoreSigner(t *testing.T) {
	ks, err := OpenKeyStore(t.TempDir())
	require.NoError(t, err)
	seed := testSeed(t, Ed25519)
	pub, path, err := ks.Init("alice", seed, false)
	require.NoError(t, err)
	rolePub, _, err := ks.Derive("alice", "lists", false)
	require.NoError(t, err)

	cases := []struct {
		name string
		spec SignerSpec
		want string
	}{
		{"seed", SignerSpec{SeedHex: seed.String()}, pub},
		{"bare hex", SignerSpec{SeedHex: seed.String()[len("ed25519:"):]}, pub},
		{"file", SignerSpec{KeyFile: path}, pub},
		{"name", SignerSpec{Name: "alice"}, pub},
		{"role", SignerSpec{Name: "alice", Role: "lists"}, rolePub},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kp, err := ks.Signer(tc.spec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, kp.ExportPublic())
		})
	}

	_, err = ks.Signer(SignerSpec{})
	assert.ErrorIs(t, err, ErrNoSigner)
}

func TestKeyStoreListSkipsStrays(t *testing.T) {
	dir := t.TempDir()
	ks, err := OpenKeyStore(dir)
	require.NoError(t, err)

	entries, err := ks.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o600))
	_, _, err = ks.Init("carol", testSeed(t, Ed25519), false)
	require.NoError(t, err)

	entries, err = ks.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].Name)
	assert.Empty(t, entries[0].Roles)
}

func TestCheckName(t *testing.T) {
	assert.NoError(t, CheckName("alice_2-x"))
	assert.Error(t, CheckName(""))
	assert.Error(t, CheckName("a b"))
	assert.Error(t, CheckRole("../x"))
}
