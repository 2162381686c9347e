package web

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/logging"
	"github.com/JonMunkholm/copybook/internal/record"
)

// Trailer names set after a decode stream finishes.
const (
	trailerRecords = "X-Copybook-Records"
	trailerFailed  = "X-Copybook-Failed"
)

// handleDecode streams the request body through the schema and writes one
// JSON object per record. Memory use does not depend on the input size.
//
// Query parameters:
//   - policy: abort (default from config) or skip
//
// Errors found before the first record is written produce a normal error
// response. Later errors end the stream with an {"error":...} object, since
// the status line is already sent.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "schema")
	policy := core.FailurePolicy(r.URL.Query().Get("policy"))

	out := &trackingWriter{w: w}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Trailer", trailerRecords+", "+trailerFailed)

	ctx := WithRequestMetadata(r.Context(), r)
	res, err := s.service.RunJob(ctx, core.JobRequest{
		Schema: name,
		Source: r.Header.Get("X-Source-Name"),
		Input:  r.Body,
		Size:   r.ContentLength,
		Sink:   core.NewJSONLinesSink(out),
		Policy: policy,
	})

	if err != nil && !out.written {
		w.Header().Del("Trailer")
		s.respondError(w, r, err)
		return
	}
	if err != nil {
		msg := core.MapError(err)
		logging.FromContext(r.Context()).Warn("decode stream failed", "schema", name, "code", msg.Code, "error", err)
		json.NewEncoder(w).Encode(ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code})
	}
	if res != nil {
		w.Header().Set(trailerRecords, strconv.Itoa(res.Records))
		w.Header().Set(trailerFailed, strconv.Itoa(res.Failed))
	}
}

// trackingWriter records whether anything reached the client.
type trackingWriter struct {
	w       http.ResponseWriter
	written bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.written = true
	}
	return t.w.Write(p)
}

// handleEncode reads JSON records and returns their binary encoding. The
// output is buffered so a bad record yields an error response instead of a
// truncated file.
func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	e, err := core.Lookup(chi.URLParam(r, "schema"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Jobs.MaxInputSize)

	var (
		buf   bytes.Buffer
		count int
	)
	err = s.service.Limiter().Run(r.Context(), func(context.Context) error {
		wr, err := record.NewWriter(&buf, e.Schema, s.service.Config().RecordOptions(e)...)
		if err != nil {
			return err
		}
		if err := core.ReadJSONLines(r.Body, e.Resolver, wr.Write); err != nil {
			return err
		}
		count = wr.Count()
		return nil
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set(trailerRecords, strconv.Itoa(count))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
