package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestEd25519SignsSHA256Digest(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	kp, err := Ed25519FromSeed(seed)
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	digest := sha256.Sum256(msg)
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	assert.True(t, ed25519.Verify(pub, digest[:], sig))
}

func TestDilithium3SignsSHA3Digest(t *testing.T) {
	kp, err := GenerateDilithium3(&deterministicReader{})
	require.NoError(t, err)

	msg := []byte("hello")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	require.Len(t, sig, mode3.SignatureSize)

	digest, err := SHA3256.Sum(msg)
	require.NoError(t, err)
	assert.True(t, mode3.Verify(kp.dPub, digest, sig))
}

func TestHash(t *testing.T) {
	assert.Equal(t, SHA256, HashFor(Ed25519))
	assert.Equal(t, SHA3256, HashFor(Dilithium3))
	for h, n := range map[Hash]int{SHA256: 32, SHA512: 64, SHA3256: 32} {
		d, err := h.Sum([]byte("x"))
		require.NoError(t, err)
		assert.Len(t, d, n, string(h))
	}
	_, err := Hash("md5").Sum(nil)
	assert.Error(t, err)
}

func TestKeyPairSignVerify(t *testing.T) {
	ed, err := GenerateEd25519(&deterministicReader{})
	require.NoError(t, err)
	dil, err := GenerateDilithium3(&deterministicReader{b: 7})
	require.NoError(t, err)

	for _, kp := range []*KeyPair{ed, dil} {
		t.Run(string(kp.Algorithm()), func(t *testing.T) {
			msg := []byte("2020-01-01T00:00:00Z a:bafy")
			sig, err := kp.Sign(msg)
			require.NoError(t, err)

			assert.True(t, kp.Verify(msg, sig))
			assert.True(t, Verify(kp.ExportPublic(), msg, sig), "verifies from exported key alone")

			tampered := append([]byte(nil), msg...)
			tampered[0] ^= 1
			assert.False(t, kp.Verify(tampered, sig))

			pub := kp.Public()
			assert.False(t, pub.HasPrivate())
			assert.True(t, pub.Verify(msg, sig))
			_, err = pub.Sign(msg)
			assert.ErrorIs(t, err, ErrNoPrivateKey)
		})
	}
}

func TestExportParseRoundTrip(t *testing.T) {
	ed, err := GenerateEd25519(&deterministicReader{})
	require.NoError(t, err)
	dil, err := GenerateDilithium3(&deterministicReader{b: 3})
	require.NoError(t, err)

	for _, kp := range []*KeyPair{ed, dil} {
		t.Run(string(kp.Algorithm()), func(t *testing.T) {
			pub, err := ParseKeyPair(kp.ExportPublic())
			require.NoError(t, err)
			assert.False(t, pub.HasPrivate())
			assert.Equal(t, kp.ExportPublic(), pub.ExportPublic())

			priv, err := kp.ExportPrivate()
			require.NoError(t, err)
			back, err := ParseKeyPair(priv)
			require.NoError(t, err)
			assert.True(t, back.HasPrivate())
			assert.Equal(t, kp.ExportPublic(), back.ExportPublic())

			sig, err := back.Sign([]byte("m"))
			require.NoError(t, err)
			assert.True(t, kp.Verify([]byte("m"), sig))
		})
	}
}

func TestParseKeyPairRejects(t *testing.T) {
	for _, s := range []string{"", "ed25519", "ed25519:!!!", "ed25519:AAAA", "rsa:AAAA"} {
		_, err := ParseKeyPair(s)
		assert.Error(t, err, s)
	}
}
