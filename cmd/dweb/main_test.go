package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e-e-e/dweb-transport/keys"
)

const aliceSeed = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type cli struct {
	t      *testing.T
	config string
	keys   string
}

func alicePub(t *testing.T) string {
	t.Helper()
	seed, err := keys.ParseSeed(aliceSeed)
	require.NoError(t, err)
	pub, err := seed.PublicKey()
	require.NoError(t, err)
	return pub
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "dweb.yaml")
	yaml := "log:\n  level: error\nbackends:\n  - name: localfs\n    config:\n      dir: " + filepath.Join(dir, "store") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(yaml), 0o644))
	return &cli{t: t, config: cfg, keys: filepath.Join(dir, "keys")}
}

func (c *cli) run(args ...string) (string, string, int) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config", c.config, "--keys-dir", c.keys}, args...)
	code := run(context.Background(), full, &out, &errOut)
	return out.String(), errOut.String(), code
}

// ok runs args and returns trimmed stdout, failing the test on a non-zero exit.
func (c *cli) ok(args ...string) string {
	c.t.Helper()
	out, errOut, code := c.run(args...)
	require.Equal(c.t, 0, code, "dweb %s: %s", strings.Join(args, " "), errOut)
	return strings.TrimSpace(out)
}

func (c *cli) writeFile(name string, data []byte) string {
	c.t.Helper()
	path := filepath.Join(c.t.TempDir(), name)
	require.NoError(c.t, os.WriteFile(path, data, 0o644))
	return path
}

func TestKeysCommands(t *testing.T) {
	c := newCLI(t)

	out := c.ok("keys", "init", "--name", "alice", "--seed-hex", aliceSeed)
	alice := alicePub(t)
	assert.Contains(t, out, "Created root key: "+alice)

	assert.Equal(t, alice, c.ok("keys", "export", "--name", "alice"))

	out = c.ok("keys", "derive", "--from", "alice", "--role", "lists")
	assert.Contains(t, out, "Created role key: ed25519:")

	out = c.ok("keys", "list")
	assert.Contains(t, out, "alice (ed25519)\n  - lists")

	out = c.ok("keys", "init", "--name", "pq", "--alg", "dilithium3")
	assert.Contains(t, out, "Created root key: dilithium3:")

	// existing keys are kept unless forced
	_, _, code := c.run("keys", "init", "--name", "alice", "--seed-hex", aliceSeed)
	assert.Equal(t, 1, code)
	c.ok("keys", "init", "--name", "alice", "--seed-hex", aliceSeed, "--force")
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)
	for _, args := range [][]string{
		{"keys", "init"},
		{"keys", "derive", "--from", "alice"},
		{"keys", "export", "--bogus"},
		{"get"},
		{"list", "append", "local:x"},
		{"domain", "new", "--signer", "alice"},
	} {
		_, errOut, code := c.run(args...)
		assert.Equal(t, 2, code, "dweb %s", strings.Join(args, " "))
		assert.Contains(t, errOut, "Error:")
	}
}

func TestPutGet(t *testing.T) {
	c := newCLI(t)
	data := make([]byte, 40*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := c.writeFile("data.bin", data)

	urls := c.ok("put", "--min-chunk", "1024", "--max-chunk", "8192", path)
	require.True(t, strings.HasPrefix(urls, "localfs:"), urls)

	out, errOut, code := c.run("get", urls)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, data, []byte(out))

	// chunked puts of the same bytes address the same block
	assert.Equal(t, urls, c.ok("put", "--min-chunk", "1024", "--max-chunk", "8192", path))

	raw := c.ok("put", "--raw", c.writeFile("hello.txt", []byte("hello dweb")))
	out, _, code = c.run("get", raw)
	require.Equal(t, 0, code)
	assert.Equal(t, "hello dweb", out)

	_, _, code = c.run("get", "localfs:bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy")
	assert.Equal(t, 1, code)
}

func TestListCommands(t *testing.T) {
	c := newCLI(t)
	c.ok("keys", "init", "--name", "alice", "--seed-hex", aliceSeed)

	list := c.ok("list", "create", "--signer", "alice")
	require.NotEmpty(t, list)
	// the list is derived from the key
	assert.Equal(t, list, c.ok("list", "create", "--signer", "alice"))

	first := c.ok("put", "--raw", c.writeFile("a.txt", []byte("first")))
	second := c.ok("put", "--raw", c.writeFile("b.txt", []byte("second")))
	c.ok("list", "append", "--signer", "alice", first)
	c.ok("list", "append", "--signer", "alice", second)
	c.ok("list", "append", "--signer", "alice", first)

	out := c.ok("list", "fetch", list)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], first)
	assert.Contains(t, lines[1], second)
	assert.Contains(t, lines[0], alicePub(t))

	out = c.ok("list", "fetch", "--unique", list)
	assert.Len(t, strings.Split(out, "\n"), 2)

	// a different key cannot append to alice's list
	c.ok("keys", "init", "--name", "bob")
	bobList := c.ok("list", "create", "--signer", "bob")
	assert.NotEqual(t, list, bobList)
}

func TestDomainCommands(t *testing.T) {
	c := newCLI(t)
	c.ok("keys", "init", "--name", "alice", "--seed-hex", aliceSeed)
	c.ok("keys", "derive", "--from", "alice", "--role", "docs")

	root := c.ok("domain", "new", "--name", "root", "--signer", "alice")
	docs := c.ok("domain", "new", "--name", "docs", "--signer", "alice", "--signer-role", "docs")
	readme := c.ok("put", "--raw", c.writeFile("readme.txt", []byte("read me")))

	out := c.ok("domain", "register", "--name", "root", "--signer", "alice", "docs", docs)
	assert.Equal(t, "Registered: root/docs", out)
	out = c.ok("domain", "register", "--name", "root/docs", "--signer", "alice", "--signer-role", "docs", "readme", readme)
	assert.Equal(t, "Registered: root/docs/readme", out)

	assert.Equal(t, "read me", c.ok("domain", "resolve", root, "docs/readme"))
	assert.Equal(t, readme, c.ok("domain", "resolve", "--urls", root, "docs/readme"))

	_, _, code := c.run("domain", "resolve", root, "missing")
	assert.Equal(t, 1, code)

	printed := c.ok("domain", "print", root)
	assert.Contains(t, printed, "root (domain)")
	assert.Contains(t, printed, "root/docs (domain)")
	assert.Contains(t, printed, "root/docs/readme -> "+readme)
}

func TestExportImport(t *testing.T) {
	src := newCLI(t)
	data := make([]byte, 24*1024)
	_, err := rand.Read(data)
	require.NoError(t, err)
	urls := src.ok("put", "--min-chunk", "1024", "--max-chunk", "4096", src.writeFile("data.bin", data))

	bundlePath := filepath.Join(t.TempDir(), "tree.tar")
	src.ok("export", "--zstd", "-o", bundlePath, urls)

	dst := newCLI(t)
	_, _, code := dst.run("get", urls)
	require.Equal(t, 1, code)

	dst.ok("import", bundlePath)
	out, errOut, code := dst.run("get", urls)
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, data, []byte(out))
}

func TestExportImportListAndDomain(t *testing.T) {
	src := newCLI(t)
	src.ok("keys", "init", "--name", "alice", "--seed-hex", aliceSeed)
	list := src.ok("list", "create", "--signer", "alice")
	item := src.ok("put", "--raw", src.writeFile("a.txt", []byte("item")))
	src.ok("list", "append", "--signer", "alice", item)

	root := src.ok("domain", "new", "--name", "root", "--signer", "alice")
	readme := src.ok("put", "--raw", src.writeFile("readme.txt", []byte("read me")))
	src.ok("domain", "register", "--name", "root", "--signer", "alice", "readme", readme)

	bundlePath := filepath.Join(t.TempDir(), "all.tar")
	src.ok("export", "-o", bundlePath, list, root)

	dst := newCLI(t)
	out := dst.ok("import", bundlePath)
	assert.Contains(t, out, root)

	entries := dst.ok("list", "fetch", list)
	assert.Contains(t, entries, item)
	assert.Equal(t, "item", dst.ok("get", item))
	assert.Equal(t, "read me", dst.ok("domain", "resolve", root, "readme"))
}
