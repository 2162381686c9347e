package record

import (
	"sync"
	"sync/atomic"

	"github.com/JonMunkholm/copybook/internal/copybook"
)

// DefaultCacheLimit bounds the number of distinct prefixes a Resolver
// remembers.
const DefaultCacheLimit = 4096

// Resolver selects the shape of a record from its discriminator prefix.
// Resolutions, including misses, are cached by prefix. Shapes never change,
// so entries are never invalidated; once the cache is full new prefixes are
// evaluated every time.
//
// A Resolver is safe for concurrent use and may be shared by readers.
type Resolver struct {
	schema *copybook.Schema
	limit  int

	mu    sync.RWMutex
	cache map[string]*copybook.Shape

	hits  atomic.Int64
	evals atomic.Int64
}

// ResolverStats reports cache effectiveness.
type ResolverStats struct {
	Hits        int64 `json:"hits"`        // lookups answered from the cache
	Evaluations int64 `json:"evaluations"` // discriminator patterns evaluated
	Entries     int   `json:"entries"`
}

// NewResolver returns a resolver over the schema's shapes. A limit of zero
// or less uses DefaultCacheLimit.
func NewResolver(s *copybook.Schema, limit int) *Resolver {
	if limit <= 0 {
		limit = DefaultCacheLimit
	}
	return &Resolver{
		schema: s,
		limit:  limit,
		cache:  make(map[string]*copybook.Shape),
	}
}

// Schema returns the schema the resolver was built from.
func (r *Resolver) Schema() *copybook.Schema { return r.schema }

// Default returns the first declared shape.
func (r *Resolver) Default() *copybook.Shape { return r.schema.Default() }

// HasMultipleShapes reports whether records must be discriminated.
func (r *Resolver) HasMultipleShapes() bool { return r.schema.MultiShape() }

// ResolveByDiscriminator returns the first shape, in declaration order,
// whose pattern matches the charset-decoded prefix in full.
func (r *Resolver) ResolveByDiscriminator(prefix []byte) (*copybook.Shape, bool) {
	r.mu.RLock()
	sh, cached := r.cache[string(prefix)]
	r.mu.RUnlock()
	if cached {
		r.hits.Add(1)
		return sh, sh != nil
	}

	sh = r.evaluate(prefix)

	r.mu.Lock()
	if len(r.cache) < r.limit {
		r.cache[string(prefix)] = sh
	}
	r.mu.Unlock()
	return sh, sh != nil
}

func (r *Resolver) evaluate(prefix []byte) *copybook.Shape {
	text, err := r.schema.Charset.Decode(prefix)
	if err != nil {
		return nil
	}
	for _, sh := range r.schema.Shapes {
		r.evals.Add(1)
		if sh.Matches(text) {
			return sh
		}
	}
	return nil
}

// ResolveByID returns the shape with the given name, or failing that the
// shape whose discriminator pattern is literally id.
func (r *Resolver) ResolveByID(id string) (*copybook.Shape, bool) {
	if sh, ok := r.schema.Shape(id); ok {
		return sh, true
	}
	for _, sh := range r.schema.Shapes {
		if sh.Discriminator != "" && sh.Discriminator == id {
			return sh, true
		}
	}
	return nil, false
}

// Prefix extracts the discriminator bytes from a record body. ok is false
// when the body is too short.
func (r *Resolver) Prefix(body []byte) ([]byte, bool) {
	end := r.schema.DiscriminatorOffset + r.schema.DiscriminatorLength
	if len(body) < end {
		return nil, false
	}
	return body[r.schema.DiscriminatorOffset:end], true
}

// Stats returns a snapshot of the cache counters.
func (r *Resolver) Stats() ResolverStats {
	r.mu.RLock()
	n := len(r.cache)
	r.mu.RUnlock()
	return ResolverStats{
		Hits:        r.hits.Load(),
		Evaluations: r.evals.Load(),
		Entries:     n,
	}
}
