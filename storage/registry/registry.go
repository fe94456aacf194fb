// Package registry links storage backends into binaries at build time.
//
// A backend package registers itself from init() and a binary enables it with
// a blank import. Each registration names the config keys it reads, so a
// typo in a config file fails at open instead of being silently ignored.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/e-e-e/dweb-transport/storage"
)

// Usage restricts which programs accept a backend.
type Usage uint8

const (
	// UsageCLI backends are available to the dweb CLI.
	UsageCLI Usage = 1 << iota
	// UsageDaemon backends can be served by dwebd.
	UsageDaemon
)

func (u Usage) allows(want Usage) bool { return u&want != 0 }

func (u Usage) String() string {
	var parts []string
	if u&UsageCLI != 0 {
		parts = append(parts, "cli")
	}
	if u&UsageDaemon != 0 {
		parts = append(parts, "daemon")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Key is one config key a backend reads.
type Key struct {
	Name     string
	Required bool
	Default  string
	Help     string
}

type Backend struct {
	Name        string
	Description string
	Usage       Usage
	ConfigKeys  []Key

	// Open constructs the backend. cfg holds only declared keys, with
	// defaults filled in. The returned close function may be nil.
	Open func(cfg Config) (storage.Backend, func() error, error)
}

// Describe renders the backend and its keys for help output.
func (b Backend) Describe() string {
	var sb strings.Builder
	sb.WriteString(b.Name)
	if b.Description != "" {
		sb.WriteString("\t" + b.Description)
	}
	for _, k := range b.ConfigKeys {
		sb.WriteString("\n    " + k.Name)
		switch {
		case k.Required:
			sb.WriteString(" (required)")
		case k.Default != "":
			sb.WriteString(" (default " + k.Default + ")")
		}
		if k.Help != "" {
			sb.WriteString(": " + k.Help)
		}
	}
	return sb.String()
}

// config checks raw against the declared keys.
func (b Backend) config(raw map[string]string) (Config, error) {
	known := make(map[string]Key, len(b.ConfigKeys))
	for _, k := range b.ConfigKeys {
		known[k.Name] = k
	}
	var unknown []string
	for name := range raw {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Config{}, fmt.Errorf("%s: unknown config keys %s", b.Name, strings.Join(unknown, ", "))
	}
	cfg := Config{backend: b.Name, values: make(map[string]string, len(b.ConfigKeys))}
	for _, k := range b.ConfigKeys {
		v := strings.TrimSpace(raw[k.Name])
		if v == "" {
			if k.Required {
				return Config{}, fmt.Errorf("%s: missing config key %q", b.Name, k.Name)
			}
			v = k.Default
		}
		cfg.values[k.Name] = v
	}
	return cfg, nil
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

func Register(b Backend) error {
	switch {
	case b.Name == "":
		return fmt.Errorf("registry: backend name is required")
	case b.Open == nil:
		return fmt.Errorf("registry: backend %q missing Open", b.Name)
	case b.Usage == 0:
		return fmt.Errorf("registry: backend %q missing Usage", b.Name)
	}
	seen := map[string]bool{}
	for _, k := range b.ConfigKeys {
		if k.Name == "" || seen[k.Name] {
			return fmt.Errorf("registry: backend %q has an empty or repeated config key", b.Name)
		}
		seen[k.Name] = true
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("registry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, len(bs))
	for i, b := range bs {
		n[i] = b.Name
	}
	return n
}

// Lookup returns the named backend regardless of usage.
func Lookup(name string) (Backend, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// Open validates cfg and opens the named backend if usage allows it.
func Open(name string, usage Usage, cfg map[string]string) (storage.Backend, func() error, error) {
	b, ok := Lookup(name)
	if !ok {
		return nil, nil, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("backend %q not supported in this binary", name)
	}
	c, err := b.config(cfg)
	if err != nil {
		return nil, nil, err
	}
	return b.Open(c)
}
