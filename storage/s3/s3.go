// Package s3 stores blocks, lists and tables in an S3-compatible bucket.
//
// S3 has no append, so each list entry is its own object named by append time;
// ListObjects returns keys in lexicographic order, which is append order.
package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/e-e-e/dweb-transport/cidutil"
	"github.com/e-e-e/dweb-transport/storage"
)

type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	Location  string `json:"location" yaml:"location"`
	AccessKey string `json:"accessKey" yaml:"accessKey"`
	Secret    string `json:"secret" yaml:"secret"`
	UseSSL    bool   `json:"useSsl" yaml:"useSsl"`

	// PollInterval is the ListSubscribe polling period.
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
}

type Backend struct {
	c      *minio.Client
	bucket string
	poll   time.Duration

	mu   sync.Mutex
	last int64
}

var _ storage.Backend = (*Backend)(nil)

func checkBucket(ctx context.Context, c *minio.Client, bucket string, location string) error {
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return c.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: location})
}

func New(ctx context.Context, config Config) (*Backend, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, fmt.Errorf("s3: endpoint and bucket are required")
	}
	c, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.Secret, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if err := checkBucket(ctx, c, config.Bucket, config.Location); err != nil {
		return nil, err
	}
	return &Backend{c: c, bucket: config.Bucket, poll: config.PollInterval}, nil
}

func blockKey(id cid.Cid) string { return "blocks/" + id.String() }

func listPrefix(list string) string { return "lists/" + list + "/" }

// listKey orders entries by a strictly increasing nanosecond stamp.
func listKey(list string, stamp int64) string {
	return fmt.Sprintf("%s%020d", listPrefix(list), stamp)
}

func tablePrefix(table string) string { return "tables/" + table + "/" }

func tableKey(table, key string) string {
	return tablePrefix(table) + hex.EncodeToString([]byte(key))
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Backend) get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.c.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Backend) put(ctx context.Context, key string, b []byte) error {
	_, err := s.c.PutObject(ctx, s.bucket, key, bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{})
	return err
}

func (s *Backend) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	id, err := cidutil.CIDv1RawSHA256CID(data)
	if err != nil {
		return cid.Undef, err
	}
	if s.Has(ctx, id) {
		return id, nil
	}
	if err := s.put(ctx, blockKey(id), data); err != nil {
		return cid.Undef, err
	}
	return id, nil
}

func (s *Backend) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := s.get(ctx, blockKey(id))
	if err != nil {
		return nil, err
	}
	if err := storage.Verify(id, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Backend) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := s.c.StatObject(ctx, s.bucket, blockKey(id), minio.StatObjectOptions{})
	return err == nil
}

func (s *Backend) stamp() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

func (s *Backend) ListAppend(ctx context.Context, list string, entry storage.ListEntry) error {
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.put(ctx, listKey(list, s.stamp()), b)
}

func (s *Backend) keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for obj := range s.c.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, obj.Key)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Backend) ListFetch(ctx context.Context, list string) ([]storage.ListEntry, error) {
	if !storage.ValidName(list) {
		return nil, storage.ErrInvalidName
	}
	keys, err := s.keys(ctx, listPrefix(list))
	if err != nil {
		return nil, err
	}
	out := make([]storage.ListEntry, 0, len(keys))
	for _, k := range keys {
		b, err := s.get(ctx, k)
		if err != nil {
			return nil, err
		}
		var e storage.ListEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("s3: list %s entry %s: %w", list, k, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Backend) ListSubscribe(ctx context.Context, list string, fn func(storage.ListEntry)) error {
	if !storage.ValidName(list) {
		return storage.ErrInvalidName
	}
	return storage.PollSubscribe(ctx, s, list, s.poll, fn)
}

func (s *Backend) TableGet(ctx context.Context, table, key string) ([]byte, error) {
	if !storage.ValidName(table) || key == "" {
		return nil, storage.ErrInvalidName
	}
	return s.get(ctx, tableKey(table, key))
}

func (s *Backend) TableSet(ctx context.Context, table, key string, value []byte) error {
	if !storage.ValidName(table) || key == "" {
		return storage.ErrInvalidName
	}
	return s.put(ctx, tableKey(table, key), value)
}

func (s *Backend) TableKeys(ctx context.Context, table string) ([]string, error) {
	if !storage.ValidName(table) {
		return nil, storage.ErrInvalidName
	}
	objs, err := s.keys(ctx, tablePrefix(table))
	if err != nil {
		return nil, err
	}
	return decodeTableKeys(table, objs), nil
}

func decodeTableKeys(table string, objs []string) []string {
	keys := make([]string, 0, len(objs))
	for _, o := range objs {
		k, err := hex.DecodeString(strings.TrimPrefix(o, tablePrefix(table)))
		if err != nil {
			continue
		}
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}
