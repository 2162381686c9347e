package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/logging"
)

// handleLoad spools the request body to a temporary file and starts a
// background job copying its records into Postgres. It responds with the
// job id; follow the job with /api/jobs/{jobID}/events.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.respondError(w, r, core.ErrNoDatabase)
		return
	}
	name := chi.URLParam(r, "schema")
	if _, err := core.Lookup(name); err != nil {
		s.respondError(w, r, err)
		return
	}

	f, size, err := spool(http.MaxBytesReader(w, r.Body, s.cfg.Jobs.MaxInputSize))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	jobID, err := s.service.StartJob(ctx, core.JobRequest{
		Schema: name,
		Source: r.Header.Get("X-Source-Name"),
		Input:  f,
		Size:   size,
		Sink:   core.NewPostgresSink(s.db, s.cfg.Database.Table, s.cfg.Jobs.BatchSize),
		Policy: core.FailurePolicy(r.URL.Query().Get("policy")),
	})
	if err != nil {
		removeSpool(f)
		s.respondError(w, r, err)
		return
	}

	go func() {
		defer removeSpool(f)
		if _, err := s.service.JobResult(context.Background(), jobID); err != nil {
			logging.FromContext(ctx).Warn("wait for job", "job_id", jobID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// spool copies body into a temporary file positioned at its start.
func spool(body io.Reader) (*os.File, int64, error) {
	f, err := os.CreateTemp("", "copybook-load-*")
	if err != nil {
		return nil, 0, fmt.Errorf("spool input: %w", err)
	}
	n, err := io.Copy(f, body)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		removeSpool(f)
		return nil, 0, fmt.Errorf("spool input: %w", err)
	}
	return f, n, nil
}

func removeSpool(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// handleListJobs returns the progress of every tracked job.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Jobs())
}

// handleJobStatus returns job slot usage.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Limiter().Status())
}

// handleJobProgress returns a job's current progress.
func (s *Server) handleJobProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.JobProgress(chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleJobEvents streams job progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter; the event id is
// the number of records processed.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	lastEventID := -1
	if v := r.URL.Query().Get("lastEventId"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(jobID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			processed := progress.Records + progress.Failed
			if processed <= lastEventID && !progress.Phase.Done() {
				continue
			}
			lastEventID = processed

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", processed, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleJobResult waits for a job to finish and returns its result.
func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.JobResult(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCancelJob cancels a running job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelJob(chi.URLParam(r, "jobID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
