package ipfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
	"github.com/e-e-e/dweb-transport/storage/localfs"
)

// Backend keeps content blocks in a local Kubo repository, driven through the
// "ipfs" CLI, so published blocks are served by the node like any other IPFS
// content. Kubo has no append-only lists or signed tables, so those live in a
// localfs store alongside.
//
// Blocks are put as CIDv1 raw sha2-256, the same address cidutil computes, and
// every read is checked against its CID. No daemon is needed: the CLI works on
// the repository directly when none is running.
type Backend struct {
	kubo kubo

	*localfs.Backend
}

var _ storage.Backend = (*Backend)(nil)

type Options struct {
	// Bin is the path to the ipfs binary. If empty, "ipfs" is used.
	Bin string
	// Repo sets IPFS_PATH for every command. If empty, the process
	// environment decides.
	Repo string
	// Dir holds lists and tables.
	Dir string
}

// blockPut pins the address format to what cidutil computes.
var blockPut = []string{
	"block", "put", "--quiet",
	"--format=raw", "--mhtype=sha2-256", "--mhlen=32", "--cid-version=1",
	"/dev/stdin",
}

func New(opts Options) (*Backend, error) {
	if opts.Dir == "" {
		return nil, errors.New("ipfs: a directory for lists and tables is required")
	}
	meta, err := localfs.New(opts.Dir)
	if err != nil {
		return nil, err
	}
	k := kubo{bin: opts.Bin}
	if k.bin == "" {
		k.bin = "ipfs"
	}
	if opts.Repo != "" {
		k.env = append(os.Environ(), "IPFS_PATH="+opts.Repo)
	}
	return &Backend{kubo: k, Backend: meta}, nil
}

func (b *Backend) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	out, err := b.kubo.run(ctx, data, blockPut...)
	if err != nil {
		return cid.Undef, err
	}
	got, err := cid.Decode(strings.TrimSpace(string(out)))
	if err != nil {
		return cid.Undef, fmt.Errorf("ipfs: block put printed %q: %w", out, err)
	}
	if !got.Equals(want) {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return want, nil
}

func (b *Backend) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	out, err := b.kubo.run(ctx, nil, "block", "get", id.String())
	if err != nil {
		return nil, err
	}
	if err := storage.Verify(id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Has only consults the local repository.
func (b *Backend) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := b.kubo.run(ctx, nil, "block", "stat", "--offline", id.String())
	return err == nil
}
