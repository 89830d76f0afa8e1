// Package storeregistry lets storage backends register themselves so
// binaries can select one by name.
package storeregistry

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"xdao.co/kel/storage"
)

// Options carries backend settings keyed by option name. Option names are
// global across backends and double as flag names ("sqlite-path").
type Options map[string]string

// Backend is a build-time plugin that can open a storage.Store.
//
// Backends typically register themselves in init():
//
//	storeregistry.MustRegister(storeregistry.Backend{ ... })
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Options documents the option names Open reads.
	Options map[string]string

	// Open constructs the store from opts.
	Open func(opts Options) (storage.Store, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("storeregistry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("storeregistry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("storeregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("storeregistry: backend %q already registered", b.Name)
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

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

type optionValue struct {
	opts Options
	key  string
}

func (v optionValue) String() string {
	if v.opts == nil {
		return ""
	}
	return v.opts[v.key]
}

func (v optionValue) Set(s string) error {
	v.opts[v.key] = s
	return nil
}

// RegisterFlags registers one flag per option of every backend matching
// usage. Parsed values are written into opts, so values loaded from a
// config file act as defaults that flags override.
func RegisterFlags(fs *flag.FlagSet, usage Usage, opts Options) {
	seen := map[string]bool{}
	for _, b := range List(usage) {
		keys := make([]string, 0, len(b.Options))
		for k := range b.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			fs.Var(optionValue{opts: opts, key: k}, k, b.Options[k]+" (for --backend="+b.Name+")")
		}
	}
}

// Open opens the named backend if it exists and matches usage.
func Open(name string, usage Usage, opts Options) (storage.Store, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}
	if !b.Usage.allows(usage) {
		return nil, fmt.Errorf("backend %q not supported in this binary", name)
	}
	if opts == nil {
		opts = Options{}
	}
	return b.Open(opts)
}
