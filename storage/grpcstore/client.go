package grpcstore

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

// Client is a storage.Backend served by a remote Store. The service has no
// push channel, so ListSubscribe polls ListFetch.
type Client struct {
	cc  *grpc.ClientConn
	rpc StoreClient

	// Timeout bounds each RPC when non-zero.
	Timeout time.Duration
	// PollInterval defaults to storage.DefaultPollInterval.
	PollInterval time.Duration
}

var _ storage.Backend = (*Client)(nil)

type DialOptions struct {
	Timeout     time.Duration
	MaxMsgBytes int
}

// Dial connects without transport security. The daemon is meant for a
// trusted network or a local socket.
func Dial(target string, opts DialOptions) (*Client, error) {
	dopts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if n := opts.MaxMsgBytes; n > 0 {
		dopts = append(dopts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(n), grpc.MaxCallSendMsgSize(n)))
	}
	ctx, cancel := withTimeout(context.Background(), opts.Timeout)
	defer cancel()

	cc, err := grpc.DialContext(ctx, target, dopts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, rpc: NewStoreClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// call runs one RPC under the client timeout and maps status codes back to
// storage errors.
func call[In, Out any](ctx context.Context, c *Client, fn func(context.Context, In, ...grpc.CallOption) (Out, error), in In) (Out, error) {
	ctx, cancel := withTimeout(ctx, c.Timeout)
	defer cancel()
	out, err := fn(ctx, in)
	return out, mapRPC(err)
}

func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	want, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	reply, err := call(ctx, c, c.rpc.Put, wrapperspb.Bytes(data))
	if err != nil {
		return cid.Undef, err
	}
	got, err := cid.Decode(reply.GetValue())
	if err != nil {
		return cid.Undef, storage.ErrInvalidCID
	}
	if got != want {
		return cid.Undef, storage.ErrCIDMismatch
	}
	return got, nil
}

func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	reply, err := call(ctx, c, c.rpc.Get, wrapperspb.String(id.String()))
	if err != nil {
		return nil, err
	}
	if err := storage.Verify(id, reply.GetValue()); err != nil {
		return nil, err
	}
	return reply.GetValue(), nil
}

func (c *Client) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	reply, err := call(ctx, c, c.rpc.Has, wrapperspb.String(id.String()))
	return err == nil && reply.GetValue()
}

func (c *Client) ListAppend(ctx context.Context, list string, entry storage.ListEntry) error {
	_, err := call(ctx, c, c.rpc.ListAppend, appendRequest(list, entry))
	return err
}

func (c *Client) ListFetch(ctx context.Context, list string) ([]storage.ListEntry, error) {
	reply, err := call(ctx, c, c.rpc.ListFetch, request("list", list))
	if err != nil {
		return nil, err
	}
	entries := make([]storage.ListEntry, len(reply.GetValues()))
	for i, v := range reply.GetValues() {
		if entries[i], err = entryFromStruct(v.GetStructValue()); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (c *Client) ListSubscribe(ctx context.Context, list string, fn func(storage.ListEntry)) error {
	return storage.PollSubscribe(ctx, c, list, c.PollInterval, fn)
}

func (c *Client) TableGet(ctx context.Context, table, key string) ([]byte, error) {
	reply, err := call(ctx, c, c.rpc.TableGet, tableRequest(table, key))
	if err != nil {
		return nil, err
	}
	return reply.GetValue(), nil
}

func (c *Client) TableSet(ctx context.Context, table, key string, value []byte) error {
	_, err := call(ctx, c, c.rpc.TableSet, tableSetRequest(table, key, value))
	return err
}

func (c *Client) TableKeys(ctx context.Context, table string) ([]string, error) {
	reply, err := call(ctx, c, c.rpc.TableKeys, request("table", table))
	if err != nil {
		return nil, err
	}
	return stringValues(reply), nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func stringValues(l *structpb.ListValue) []string {
	out := make([]string, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}
