package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/storage/registry"

	_ "github.com/e-e-e/dweb-transport/storage/localfs"
	_ "github.com/e-e-e/dweb-transport/storage/memory"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
write_policy: all
timeout: 1500ms
cache_ttl: 5m
codec: cbor
log:
  level: debug
  development: true
backends:
  - name: memory
  - name: localfs
    id: disk
    config:
      dir: /tmp/x
`))
	require.NoError(t, err)
	assert.Equal(t, "all", cfg.WritePolicy)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.True(t, cfg.Log.Development)
	require.Len(t, cfg.Backends, 2)
	assert.Equal(t, "memory", cfg.Backends[0].URLName())
	assert.Equal(t, "disk", cfg.Backends[1].URLName())
	assert.Equal(t, "/tmp/x", cfg.Backends[1].Config["dir"])
}

func TestLoadAcceptsJSON(t *testing.T) {
	cfg, err := Load(strings.NewReader(`{"write_policy":"first","backends":[{"name":"memory"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.WritePolicy)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(strings.NewReader("backends: [{name: memory}]\nbogus: 1\n"))
	assert.Error(t, err)

	_, err = Load(strings.NewReader(""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	mem := []BackendConfig{{Name: "memory"}}
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"minimal", Config{Backends: mem}, true},
		{"no backends", Config{}, false},
		{"missing name", Config{Backends: []BackendConfig{{ID: "x"}}}, false},
		{"duplicate id", Config{Backends: []BackendConfig{{Name: "memory"}, {Name: "localfs", ID: "memory"}}}, false},
		{"id with colon", Config{Backends: []BackendConfig{{Name: "memory", ID: "a:b"}}}, false},
		{"bad policy", Config{Backends: mem, WritePolicy: "some"}, false},
		{"negative timeout", Config{Backends: mem, Timeout: -time.Second}, false},
		{"bad codec", Config{Backends: mem, Codec: "xml"}, false},
		{"bad level", Config{Backends: mem, Log: LogConfig{Level: "loud"}}, false},
		{"all", Config{Backends: mem, WritePolicy: "all", Codec: "msgpack", Log: LogConfig{Level: "warn"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile("")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "dweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backends: [{name: memory}]\n"), 0o644))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Backends, 1)
}

func TestLogger(t *testing.T) {
	log, err := Config{Log: LogConfig{Level: "error"}}.Logger()
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))

	log, err = Config{Log: LogConfig{Development: true}}.Logger()
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestKeyring(t *testing.T) {
	a, err := acl.Generate()
	require.NoError(t, err)
	b, err := acl.Generate()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ids.age")
	require.NoError(t, os.WriteFile(path, []byte("# reader\n"+b.Export()+"\n\n"), 0o600))

	kr, err := Config{ACL: ACLConfig{Identities: []string{a.Export()}, IdentityFiles: []string{path}}}.Keyring()
	require.NoError(t, err)
	for _, h := range []*acl.AccessControl{a, b} {
		ct, err := h.Encrypt([]byte("x"))
		require.NoError(t, err)
		pt, err := kr.Decrypt([]string{h.ID()}, ct)
		require.NoError(t, err)
		assert.Equal(t, "x", string(pt))
	}

	_, err = Config{ACL: ACLConfig{Identities: []string{"nonsense"}}}.Keyring()
	assert.Error(t, err)
}

func TestOpenPreferredFirst(t *testing.T) {
	cfg := Config{Backends: []BackendConfig{
		{Name: "memory", ID: "one"},
		{Name: "memory", ID: "two"},
		{Name: "localfs", ID: "disk", Config: map[string]string{"dir": t.TempDir()}},
	}}
	tr, closeFn, err := cfg.Open(registry.UsageCLI, "disk", zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.Equal(t, []string{"disk", "one", "two"}, tr.Names())

	_, _, err = cfg.Open(registry.UsageCLI, "absent", zap.NewNop())
	assert.Error(t, err)

	_, _, err = Config{Backends: []BackendConfig{{Name: "localfs"}}}.Open(registry.UsageCLI, "", zap.NewNop())
	assert.Error(t, err, "localfs without dir")

	_, _, err = Config{Backends: []BackendConfig{{Name: "unregistered"}}}.Open(registry.UsageCLI, "", zap.NewNop())
	assert.Error(t, err)
}

func TestOpenNode(t *testing.T) {
	cfg := Config{
		WritePolicy: "all",
		Codec:       "msgpack",
		Log:         LogConfig{Level: "error"},
		Backends: []BackendConfig{
			{Name: "memory"},
			{Name: "localfs", Config: map[string]string{"dir": t.TempDir()}},
		},
	}
	node, err := cfg.OpenNode(registry.UsageCLI, "")
	require.NoError(t, err)
	defer node.Close()

	ctx := context.Background()
	d := node.Client.NewSmartDict(map[string]any{"v": 1})
	urls, err := d.Store(ctx)
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	raw, err := node.Transport.Fetch(ctx, urls[1:])
	require.NoError(t, err)
	fields, err := codec.Msgpack.Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fields["v"])

	got, err := node.Client.Fetch(ctx, urls)
	require.NoError(t, err)
	v, _ := got.Dict().Get("v")
	assert.Equal(t, int64(1), v)
}
