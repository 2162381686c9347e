package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/record"
)

// ErrSchemaNotFound is returned for lookups of an unregistered schema.
var ErrSchemaNotFound = errors.New("schema not found")

// SchemaEntry is a registered schema together with the shape resolver
// shared by every job that uses it.
type SchemaEntry struct {
	Name     string
	Path     string // source file, empty when registered from code
	Schema   *copybook.Schema
	Resolver *record.Resolver
}

// LoadOptions adjusts schemas as they are registered.
type LoadOptions struct {
	// Charset, when set, replaces the charset of every schema.
	Charset string
	// CacheLimit bounds each schema's resolution cache.
	CacheLimit int
}

var (
	registry   = make(map[string]*SchemaEntry)
	registryMu sync.RWMutex
)

// Register adds a schema under its name.
// Panics if a schema with the same name is already registered.
func Register(s *copybook.Schema) {
	if err := register(&SchemaEntry{Name: s.Name, Schema: s}, LoadOptions{}); err != nil {
		panic(err)
	}
}

func register(e *SchemaEntry, opts LoadOptions) error {
	if e.Name == "" {
		return fmt.Errorf("schema from %q has no name", e.Path)
	}
	if opts.Charset != "" {
		cs, err := copybook.LookupCharset(opts.Charset)
		if err != nil {
			return err
		}
		e.Schema = e.Schema.WithCharset(cs)
	}
	e.Resolver = record.NewResolver(e.Schema, opts.CacheLimit)

	registryMu.Lock()
	defer registryMu.Unlock()

	if prev, exists := registry[e.Name]; exists {
		return fmt.Errorf("schema already registered: %s (from %q, now %q)", e.Name, prev.Path, e.Path)
	}
	registry[e.Name] = e
	return nil
}

// LoadFile parses a schema file and registers it.
func LoadFile(path string, opts LoadOptions) (*SchemaEntry, error) {
	s, err := copybook.LoadFile(path)
	if err != nil {
		return nil, err
	}
	e := &SchemaEntry{Name: s.Name, Path: path, Schema: s}
	if err := register(e, opts); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadDir registers every *.yaml, *.yml and *.json file in dir, in name
// order. A missing directory registers nothing.
func LoadDir(dir string, opts LoadOptions) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read schema dir: %w", err)
	}

	n := 0
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(de.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		if _, err := LoadFile(filepath.Join(dir, de.Name()), opts); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Get returns a schema entry by name.
// Returns false if not found.
func Get(name string) (*SchemaEntry, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	e, ok := registry[name]
	return e, ok
}

// Lookup is Get with an error wrapping ErrSchemaNotFound.
func Lookup(name string) (*SchemaEntry, error) {
	e, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, name)
	}
	return e, nil
}

// All returns all registered schemas sorted by name.
func All() []*SchemaEntry {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*SchemaEntry, 0, len(registry))
	for _, e := range registry {
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// SchemaCount returns the number of registered schemas.
func SchemaCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered schemas.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*SchemaEntry)
}
