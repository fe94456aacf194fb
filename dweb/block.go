package dweb

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/restic/chunker"
	"go.uber.org/zap"
)

const StructuredBlockTag = "sb"

// Link is a named reference from a block to a child block.
type Link struct {
	Name string
	URLs []string

	block *StructuredBlock
}

// StructuredBlock holds either raw data or an ordered set of named links to
// child blocks, plus any signatures made over it.
type StructuredBlock struct {
	SmartDict

	blockMu  sync.Mutex
	data     []byte
	hasData  bool
	links    []*Link
	sigs     []*Signature
	earliest *time.Time
}

func (c *Client) newBlock() *StructuredBlock {
	b := &StructuredBlock{}
	b.init(c, StructuredBlockTag, b)
	return b
}

// NewBlock returns an unstored leaf block holding data.
func (c *Client) NewBlock(data []byte) *StructuredBlock {
	b := c.newBlock()
	b.data = append([]byte{}, data...)
	b.hasData = true
	return b
}

// NewLinkBlock returns an unstored block with no data; add children with AddLink.
func (c *Client) NewLinkBlock() *StructuredBlock { return c.newBlock() }

func (b *StructuredBlock) Fields() Fields {
	f := b.SmartDict.Fields()
	b.blockMu.Lock()
	defer b.blockMu.Unlock()
	if b.hasData {
		f["data"] = base64.StdEncoding.EncodeToString(b.data)
	}
	if len(b.links) > 0 {
		links := make([]any, len(b.links))
		for i, l := range b.links {
			links[i] = map[string]any{"name": l.Name, "urls": stringsToAny(l.URLs)}
		}
		f["links"] = links
	}
	if len(b.sigs) > 0 {
		f["signatures"] = encodeSignatures(b.sigs)
	}
	return f
}

// ApplyField records links unresolved; children are fetched by LoadLinks or
// on first use.
func (b *StructuredBlock) ApplyField(name string, value any) error {
	switch name {
	case "data":
		var data []byte
		switch x := value.(type) {
		case []byte:
			data = append([]byte{}, x...)
		case string:
			var err error
			if data, err = base64.StdEncoding.DecodeString(x); err != nil {
				return err
			}
		default:
			return newError(KindCoding, "block.apply", "data is not a string")
		}
		b.blockMu.Lock()
		b.data, b.hasData = data, true
		b.blockMu.Unlock()
	case "links":
		raw, _ := value.([]any)
		links := make([]*Link, 0, len(raw))
		for _, r := range raw {
			m, ok := r.(map[string]any)
			if !ok {
				return newError(KindCoding, "block.apply", "link is not a map")
			}
			name, _ := m["name"].(string)
			links = append(links, &Link{Name: name, URLs: toStrings(m["urls"])})
		}
		b.blockMu.Lock()
		b.links = links
		b.blockMu.Unlock()
	case "signatures":
		sigs, err := decodeSignatures(b.client, value)
		if err != nil {
			return err
		}
		b.blockMu.Lock()
		b.sigs = sigs
		b.earliest = nil
		b.blockMu.Unlock()
	default:
		return b.SmartDict.ApplyField(name, value)
	}
	return nil
}

// AddLink links a stored child under name.
func (b *StructuredBlock) AddLink(name string, child *StructuredBlock) error {
	urls := child.URLs()
	if len(urls) == 0 {
		return newError(KindCoding, "block.addlink", "child "+quote(name)+" is not stored")
	}
	b.blockMu.Lock()
	b.links = append(b.links, &Link{Name: name, URLs: urls, block: child})
	b.blockMu.Unlock()
	return nil
}

// AddLinkURLs links the block stored at urls under name.
func (b *StructuredBlock) AddLinkURLs(name string, urls []string) error {
	if len(urls) == 0 {
		return newError(KindCoding, "block.addlink", "link "+quote(name)+" has no urls")
	}
	b.blockMu.Lock()
	b.links = append(b.links, &Link{Name: name, URLs: append([]string(nil), urls...)})
	b.blockMu.Unlock()
	return nil
}

func (b *StructuredBlock) Links() []Link {
	b.blockMu.Lock()
	defer b.blockMu.Unlock()
	out := make([]Link, len(b.links))
	for i, l := range b.links {
		out[i] = Link{Name: l.Name, URLs: append([]string(nil), l.URLs...)}
	}
	return out
}

func (b *StructuredBlock) child(ctx context.Context, l *Link) (*StructuredBlock, error) {
	b.blockMu.Lock()
	c := l.block
	b.blockMu.Unlock()
	if c != nil {
		return c, nil
	}
	c, err := FetchAs[*StructuredBlock](ctx, b.client, l.URLs)
	if err != nil {
		return nil, err
	}
	b.blockMu.Lock()
	l.block = c
	b.blockMu.Unlock()
	return c, nil
}

// LoadLinks fetches every child concurrently.
func (b *StructuredBlock) LoadLinks(ctx context.Context) error {
	b.blockMu.Lock()
	links := append([]*Link(nil), b.links...)
	b.blockMu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		merr *multierror.Error
	)
	for _, l := range links {
		wg.Add(1)
		go func(l *Link) {
			defer wg.Done()
			if _, err := b.child(ctx, l); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
			}
		}(l)
	}
	wg.Wait()
	return merr.ErrorOrNil()
}

// Content returns the block's data, or the concatenated content of its
// children in link order.
func (b *StructuredBlock) Content(ctx context.Context) ([]byte, error) {
	b.blockMu.Lock()
	if b.hasData {
		data := append([]byte{}, b.data...)
		b.blockMu.Unlock()
		return data, nil
	}
	links := append([]*Link(nil), b.links...)
	b.blockMu.Unlock()

	if len(links) == 0 {
		b.client.log.Error("block has neither data nor links", zap.Strings("urls", b.URLs()))
		return nil, newError(KindCoding, "block.content", "block has neither data nor links")
	}
	var buf bytes.Buffer
	for _, l := range links {
		c, err := b.child(ctx, l)
		if err != nil {
			return nil, err
		}
		data, err := c.Content(ctx)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (b *StructuredBlock) link(name string) *Link {
	b.blockMu.Lock()
	defer b.blockMu.Unlock()
	for _, l := range b.links {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// FollowPath walks segments through named links and calls fn on the block
// they end at.
func (b *StructuredBlock) FollowPath(ctx context.Context, segments []string, fn func(*StructuredBlock) error) error {
	if len(segments) == 0 {
		return fn(b)
	}
	l := b.link(segments[0])
	if l == nil {
		return newError(KindResolution, "block.followpath", "no link "+quote(segments[0]))
	}
	c, err := b.child(ctx, l)
	if err != nil {
		return err
	}
	return c.FollowPath(ctx, segments[1:], fn)
}

// Resolve returns the block at a "/"-separated path below b.
func (b *StructuredBlock) Resolve(ctx context.Context, path string) (Record, error) {
	var found *StructuredBlock
	err := b.FollowPath(ctx, splitPath(path), func(sb *StructuredBlock) error {
		found = sb
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (b *StructuredBlock) Signatures() []*Signature {
	b.blockMu.Lock()
	defer b.blockMu.Unlock()
	return append([]*Signature(nil), b.sigs...)
}

func (b *StructuredBlock) AddSignature(s *Signature) {
	b.blockMu.Lock()
	b.sigs = append(b.sigs, s)
	b.earliest = nil
	b.blockMu.Unlock()
}

// EarliestDate is the oldest signature date; ok is false when unsigned.
func (b *StructuredBlock) EarliestDate() (time.Time, bool) {
	b.blockMu.Lock()
	defer b.blockMu.Unlock()
	if b.earliest == nil {
		if len(b.sigs) == 0 {
			return time.Time{}, false
		}
		t := b.sigs[0].Date()
		for _, s := range b.sigs[1:] {
			if s.Date().Before(t) {
				t = s.Date()
			}
		}
		b.earliest = &t
	}
	return *b.earliest, true
}

// Compare orders blocks by EarliestDate. Unsigned blocks sort last.
func Compare(a, b *StructuredBlock) int {
	ta, oka := a.EarliestDate()
	tb, okb := b.EarliestDate()
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return 1
	case !okb:
		return -1
	}
	return ta.Compare(tb)
}

func SortByDate(blocks []*StructuredBlock) {
	sort.SliceStable(blocks, func(i, j int) bool { return Compare(blocks[i], blocks[j]) < 0 })
}

// ChunkOptions bound the chunk sizes of NewBlockFromReader.
type ChunkOptions struct {
	MinSize uint
	MaxSize uint
}

// chunkPolynomial is fixed so the same content always splits the same way.
const chunkPolynomial = chunker.Pol(0x3DA3358B4DC173)

// NewBlockFromReader splits r into content-defined chunks, stores each as a
// leaf block and returns an unstored block linking them as "0", "1", ...
func (c *Client) NewBlockFromReader(ctx context.Context, r io.Reader, opts ChunkOptions) (*StructuredBlock, error) {
	if opts.MinSize == 0 {
		opts.MinSize = chunker.MinSize
	}
	if opts.MaxSize == 0 {
		opts.MaxSize = chunker.MaxSize
	}
	ch := chunker.NewWithBoundaries(r, chunkPolynomial, opts.MinSize, opts.MaxSize)
	buf := make([]byte, opts.MaxSize)
	parent := c.NewLinkBlock()
	for i := 0; ; i++ {
		chunk, err := ch.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapError(KindCoding, "block.fromreader", "chunking", err)
		}
		leaf := c.NewBlock(chunk.Data)
		if _, err := leaf.Store(ctx); err != nil {
			return nil, err
		}
		if err := parent.AddLink(strconv.Itoa(i), leaf); err != nil {
			return nil, err
		}
	}
	if len(parent.Links()) == 0 {
		return c.NewBlock(nil), nil
	}
	return parent, nil
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
