package dweb

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an empty instance for a type tag, bound to c.
//
// It returns any so that a registry populated from untrusted configuration
// cannot make Fetch hand out something that is not a Record.
type Factory func(c *Client) any

// Registry maps type tags to factories. It is filled once at startup and then
// only read by Fetch.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// DefaultRegistry returns a registry holding every built-in record type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(SmartDictTag, func(c *Client) any { return c.NewSmartDict(nil) })
	r.MustRegister(SignatureTag, func(c *Client) any { return c.newSignature() })
	r.MustRegister(CommonListTag, func(c *Client) any { return c.newCommonList() })
	r.MustRegister(StructuredBlockTag, func(c *Client) any { return c.newBlock() })
	r.MustRegister(NameTag, func(c *Client) any { return c.newName() })
	r.MustRegister(DomainTag, func(c *Client) any { return c.newDomain() })
	return r
}

func (r *Registry) Register(tag string, f Factory) error {
	if tag == "" {
		return fmt.Errorf("dweb: empty type tag")
	}
	if f == nil {
		return fmt.Errorf("dweb: nil factory for %q", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[tag]; dup {
		return fmt.Errorf("dweb: type tag %q already registered", tag)
	}
	r.factories[tag] = f
	return nil
}

func (r *Registry) MustRegister(tag string, f Factory) {
	if err := r.Register(tag, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(tag string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[tag]
	return f, ok
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
