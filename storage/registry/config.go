package registry

import (
	"fmt"
	"strconv"
	"time"
)

// Config is a validated backend config. Lookups of undeclared keys return
// the zero value.
type Config struct {
	backend string
	values  map[string]string
}

// NewConfig builds a Config without validation, for tests and direct use.
func NewConfig(backend string, values map[string]string) Config {
	return Config{backend: backend, values: values}
}

func (c Config) String(key string) string { return c.values[key] }

func (c Config) Duration(key string) (time.Duration, error) {
	s := c.values[key]
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", c.backend, key, err)
	}
	return d, nil
}

func (c Config) Bool(key string) (bool, error) {
	s := c.values[key]
	if s == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("%s: %s: %w", c.backend, key, err)
	}
	return v, nil
}

func (c Config) Int(key string) (int, error) {
	s := c.values[key]
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %s: %w", c.backend, key, err)
	}
	return v, nil
}
