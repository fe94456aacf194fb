// Package config loads node configuration and opens what it describes: the
// storage backends behind a transport, the logger and the client options.
//
// Configuration is YAML (JSON is accepted, being YAML). Backends are opened
// through storage/registry, so binaries must blank-import the backend
// packages they support.
//
// Example:
//
//	write_policy: all
//	timeout: 10s
//	cache_ttl: 5m
//	codec: cbor
//	log:
//	  level: debug
//	backends:
//	  - name: localfs
//	    config: {dir: /var/lib/dweb}
//	  - name: grpc
//	    id: peer1
//	    config: {target: "peer1:7450"}
//	acl:
//	  identity_files: [/etc/dweb/reader.age]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/e-e-e/dweb-transport/acl"
	"github.com/e-e-e/dweb-transport/codec"
	"github.com/e-e-e/dweb-transport/dweb"
	"github.com/e-e-e/dweb-transport/storage/registry"
	"github.com/e-e-e/dweb-transport/transport"
)

// EnvConfig names the environment variable holding the default config path.
const EnvConfig = "DWEB_CONFIG"

type Config struct {
	// WritePolicy is "first" (default) or "all".
	WritePolicy string          `yaml:"write_policy,omitempty"`
	Backends    []BackendConfig `yaml:"backends"`

	// Timeout bounds each backend call; zero means no timeout.
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
	Codec    string        `yaml:"codec,omitempty"`

	Log LogConfig `yaml:"log,omitempty"`
	ACL ACLConfig `yaml:"acl,omitempty"`
}

type BackendConfig struct {
	// Name is the registry backend to open (e.g. "localfs", "grpc", "s3").
	Name string `yaml:"name"`
	// ID is the name the backend has in URLs. If empty, Name is used.
	ID     string            `yaml:"id,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

// URLName is the backend's name in content URLs and table locations.
func (b BackendConfig) URLName() string {
	if b.ID != "" {
		return b.ID
	}
	return b.Name
}

type LogConfig struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

// ACLConfig lists the age identities the node decrypts records with.
type ACLConfig struct {
	Identities    []string `yaml:"identities,omitempty"`
	IdentityFiles []string `yaml:"identity_files,omitempty"`
}

// Default is a single localfs backend under dir.
func Default(dir string) Config {
	return Config{
		Backends: []BackendConfig{{Name: "localfs", Config: map[string]string{"dir": dir}}},
	}
}

func Load(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, errors.New("config: empty configuration")
		}
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(bytes.NewReader(b))
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Backends) == 0 {
		return errors.New("config: at least one backend is required")
	}
	seen := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return errors.New("config: backend name is required")
		}
		id := b.URLName()
		if strings.ContainsAny(id, ":/") {
			return fmt.Errorf("config: backend id %q must not contain ':' or '/'", id)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("config: duplicate backend id %q", id)
		}
		seen[id] = struct{}{}
	}
	switch transport.WritePolicy(c.WritePolicy) {
	case "", transport.WriteFirst, transport.WriteAll:
	default:
		return fmt.Errorf("config: invalid write_policy %q", c.WritePolicy)
	}
	if c.Timeout < 0 || c.CacheTTL < 0 {
		return errors.New("config: durations must not be negative")
	}
	if _, err := codec.ByName(c.Codec); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("config: log level: %w", err)
		}
	}
	return nil
}

// Logger builds the configured zap logger.
func (c Config) Logger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Log.Level != "" {
		lvl, err := zap.ParseAtomicLevel(c.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("config: log level: %w", err)
		}
		zc.Level = lvl
	}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

// Keyring loads the configured identities.
func (c Config) Keyring() (*acl.Keyring, error) {
	kr := acl.NewKeyring()
	for _, s := range c.ACL.Identities {
		h, err := acl.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("config: acl identity: %w", err)
		}
		kr.Add(h)
	}
	for _, path := range c.ACL.IdentityFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: acl identity file: %w", err)
		}
		for _, line := range strings.Split(string(b), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			h, err := acl.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("config: %s: %w", path, err)
			}
			kr.Add(h)
		}
	}
	return kr, nil
}

// Open opens every backend and returns the transport over them.
//
// If preferred is non-empty, that backend (by name or id) is moved first, and
// so receives writes under the "first" policy.
func (c Config) Open(usage registry.Usage, preferred string, log *zap.Logger) (*transport.Transports, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	ordered := append([]BackendConfig(nil), c.Backends...)
	if preferred != "" {
		idx := -1
		for i := range ordered {
			if ordered[i].Name == preferred || ordered[i].ID == preferred {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil, fmt.Errorf("config: preferred backend %q not found", preferred)
		}
		if idx != 0 {
			b := ordered[idx]
			copy(ordered[1:idx+1], ordered[0:idx])
			ordered[0] = b
		}
	}

	named := make([]transport.Named, 0, len(ordered))
	closers := make([]func() error, 0, len(ordered))
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	for _, b := range ordered {
		backend, closeFn, err := registry.Open(b.Name, usage, b.Config)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("config: backend %q: %w", b.URLName(), err)
		}
		named = append(named, transport.Named{Name: b.URLName(), Backend: backend})
		if closeFn != nil {
			closers = append(closers, closeFn)
		}
	}

	t, err := transport.New(named, transport.Options{
		WritePolicy: transport.WritePolicy(c.WritePolicy),
		Timeout:     c.Timeout,
		Logger:      log,
	})
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}
	return t, closeAll, nil
}

// ClientOptions returns the dweb options this config selects.
func (c Config) ClientOptions(log *zap.Logger) (dweb.Options, error) {
	cd, err := codec.ByName(c.Codec)
	if err != nil {
		return dweb.Options{}, fmt.Errorf("config: %w", err)
	}
	kr, err := c.Keyring()
	if err != nil {
		return dweb.Options{}, err
	}
	return dweb.Options{Codec: cd, Logger: log, Keyring: kr, CacheTTL: c.CacheTTL}, nil
}

// Node is an opened configuration.
type Node struct {
	Config    Config
	Logger    *zap.Logger
	Transport *transport.Transports
	Client    *dweb.Client

	closeBackends func() error
}

// OpenNode builds the logger, transport and client together.
func (c Config) OpenNode(usage registry.Usage, preferred string) (*Node, error) {
	log, err := c.Logger()
	if err != nil {
		return nil, err
	}
	t, closeFn, err := c.Open(usage, preferred, log)
	if err != nil {
		return nil, err
	}
	opts, err := c.ClientOptions(log)
	if err != nil {
		_ = closeFn()
		return nil, err
	}
	return &Node{
		Config:        c,
		Logger:        log,
		Transport:     t,
		Client:        dweb.NewClient(t, opts),
		closeBackends: closeFn,
	}, nil
}

// Close waits for background stores, then closes the backends.
func (n *Node) Close() error {
	n.Client.Wait()
	err := n.closeBackends()
	_ = n.Logger.Sync()
	return err
}
