package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/record"
)

// SchemaSummary is one entry of the schema listing.
type SchemaSummary struct {
	Name    string   `json:"name"`
	Path    string   `json:"path,omitempty"`
	Charset string   `json:"charset"`
	Shapes  []string `json:"shapes"`
}

// SchemaDetail is the full layout of one schema.
type SchemaDetail struct {
	SchemaSummary
	Discriminator *DiscriminatorInfo   `json:"discriminator,omitempty"`
	Layout        []core.ShapeLayout   `json:"layout"`
	Resolver      record.ResolverStats `json:"resolver"`
}

// DiscriminatorInfo locates the prefix used to pick a record shape.
type DiscriminatorInfo struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

func summarize(e *core.SchemaEntry) SchemaSummary {
	shapes := make([]string, len(e.Schema.Shapes))
	for i, sh := range e.Schema.Shapes {
		shapes[i] = sh.Name
	}
	return SchemaSummary{
		Name:    e.Name,
		Path:    e.Path,
		Charset: e.Schema.CharsetName,
		Shapes:  shapes,
	}
}

// handleHealth reports liveness plus a few numbers useful to operators.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"schemas":  core.SchemaCount(),
		"database": s.db != nil,
		"jobs":     s.service.Limiter().Status(),
	})
}

// handleListSchemas returns all registered schemas.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	entries := core.All()
	out := make([]SchemaSummary, len(entries))
	for i, e := range entries {
		out[i] = summarize(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetSchema returns one schema's layout with offsets and sizes.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	e, err := core.Lookup(chi.URLParam(r, "schema"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	detail := SchemaDetail{
		SchemaSummary: summarize(e),
		Layout:        core.Layout(e.Schema),
		Resolver:      e.Resolver.Stats(),
	}
	if e.Schema.MultiShape() {
		detail.Discriminator = &DiscriminatorInfo{
			Offset: e.Schema.DiscriminatorOffset,
			Length: e.Schema.DiscriminatorLength,
		}
	}
	writeJSON(w, http.StatusOK, detail)
}
