package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/logging"
	"github.com/JonMunkholm/copybook/internal/record"
)

var (
	// ErrJobNotFound is returned for an unknown or expired job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoDatabase is returned when a database load is requested but no
	// database is configured.
	ErrNoDatabase = errors.New("no database configured")
)

// JobRetention is how long a finished job stays queryable.
var JobRetention = 10 * time.Minute

// SinkCloseTimeout bounds the final flush of a sink, which runs even when
// the job's context has been cancelled.
var SinkCloseTimeout = 30 * time.Second

// Service runs decode jobs against registered schemas.
type Service struct {
	cfg     ServiceConfig
	limiter *JobLimiter

	mu   sync.RWMutex
	jobs map[string]*activeJob
}

type activeJob struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	progress  JobProgress
	result    *JobResult
	listeners []chan JobProgress
}

// NewService creates a new Service instance.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		cfg:     cfg,
		limiter: NewJobLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		jobs:    make(map[string]*activeJob),
	}
}

// Config returns the settings applied to every job.
func (s *Service) Config() ServiceConfig { return s.cfg }

// Limiter returns the job limiter, for status reporting and shutdown.
func (s *Service) Limiter() *JobLimiter { return s.limiter }

// RunJob decodes req.Input and sends every record to req.Sink, blocking
// until the input is exhausted or the job fails.
//
// The returned result is non-nil whenever the job started, also on error,
// so callers can report how far it got. Returns ErrTooManyJobs if no slot
// frees up in time.
func (s *Service) RunJob(ctx context.Context, req JobRequest) (*JobResult, error) {
	job, entry, policy, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	job.cancel = cancel
	s.track(job)

	return s.run(ctx, job, entry, policy, req)
}

// StartJob runs a job in the background and returns its id immediately.
// req.Input must stay readable until the job finishes; use JobResult or
// SubscribeProgress to follow it. The job keeps ctx's values but not its
// cancellation; stop it with CancelJob.
func (s *Service) StartJob(ctx context.Context, req JobRequest) (string, error) {
	job, entry, policy, err := s.prepare(req)
	if err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	job.cancel = cancel
	s.track(job)

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in job",
					"job_id", job.id,
					"schema", req.Schema,
					"panic", r,
				)
				job.finish(&JobResult{JobID: job.id, Schema: req.Schema, Error: fmt.Sprintf("internal error: %v", r)}, PhaseFailed)
				s.cleanup(job.id, JobRetention)
			}
		}()
		s.run(jobCtx, job, entry, policy, req)
	}()

	return job.id, nil
}

func (s *Service) prepare(req JobRequest) (*activeJob, *SchemaEntry, FailurePolicy, error) {
	entry, err := Lookup(req.Schema)
	if err != nil {
		return nil, nil, "", err
	}
	if req.Input == nil || req.Sink == nil {
		return nil, nil, "", fmt.Errorf("job for %s: input and sink are required", req.Schema)
	}
	policy := s.cfg.Policy
	if req.Policy != "" {
		if policy, err = ParseFailurePolicy(string(req.Policy)); err != nil {
			return nil, nil, "", err
		}
	}

	id := uuid.New().String()
	job := &activeJob{
		id:   id,
		done: make(chan struct{}),
		progress: JobProgress{
			JobID:      id,
			Schema:     req.Schema,
			Source:     req.Source,
			Phase:      PhaseStarting,
			BytesTotal: req.Size,
		},
	}
	return job, entry, policy, nil
}

func (s *Service) track(job *activeJob) {
	s.mu.Lock()
	s.jobs[job.id] = job
	s.mu.Unlock()
}

// run is the decode loop shared by RunJob and StartJob.
func (s *Service) run(ctx context.Context, job *activeJob, entry *SchemaEntry, policy FailurePolicy, req JobRequest) (*JobResult, error) {
	start := time.Now()
	ctx = logging.ContextWithJobID(ctx, job.id)
	log := logging.WithFields(ctx,
		"schema", req.Schema,
		"source", req.Source,
		"framing", s.cfg.Framing.String(),
		"policy", string(policy),
	)
	if attrs := JobOriginFromContext(ctx).logAttrs(); len(attrs) > 0 {
		log = log.With(attrs...)
	}
	log.Info("job started")

	result := &JobResult{
		JobID:  job.id,
		Schema: req.Schema,
		Source: req.Source,
		Shapes: make(map[string]int),
	}
	input := WrapForStreaming(req.Input, req.Size, s.cfg.MaxInputSize)

	report := func(phase JobPhase) {
		p := job.update(func(p *JobProgress) {
			p.Phase = phase
			p.Records = result.Records
			p.Failed = result.Failed
			p.BytesRead = input.BytesRead()
		})
		if req.Progress != nil {
			req.Progress(p)
		}
	}

	err := s.decode(ctx, entry, policy, req, input, result, report, log)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SinkCloseTimeout)
	defer cancel()
	if cerr := req.Sink.Close(closeCtx); cerr != nil && err == nil {
		err = fmt.Errorf("close sink: %w", cerr)
	}

	result.BytesRead = input.BytesRead()
	result.Duration = time.Since(start)
	result.Resolver = entry.Resolver.Stats()

	phase := PhaseComplete
	if err != nil {
		result.Error = err.Error()
		phase = PhaseFailed
		if errors.Is(err, context.Canceled) {
			phase = PhaseCancelled
		}
		log.Warn("job failed",
			"records", result.Records,
			"failed", result.Failed,
			"code", MapError(err).Code,
			"error", err,
		)
	} else {
		log.Info("job completed",
			"records", result.Records,
			"failed", result.Failed,
			"bytes", result.BytesRead,
			"duration", result.Duration,
		)
	}

	report(phase)
	job.finish(result, phase)
	s.cleanup(job.id, JobRetention)

	if err != nil {
		return result, fmt.Errorf("job %s: %w", job.id, err)
	}
	return result, nil
}

func (s *Service) decode(
	ctx context.Context,
	entry *SchemaEntry,
	policy FailurePolicy,
	req JobRequest,
	input io.Reader,
	result *JobResult,
	report func(JobPhase),
	log *slog.Logger,
) error {
	rd, err := record.NewReader(input, entry.Schema, s.cfg.RecordOptions(entry)...)
	if err != nil {
		return err
	}
	if js, ok := req.Sink.(JobStarter); ok {
		js.StartJob(result.JobID)
	}
	report(PhaseDecoding)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			report(PhaseFlushing)
			return nil
		}
		if err != nil {
			if policy == PolicySkip && rd.Resumable() && skippable(err) {
				result.Failed++
				code := MapError(err).Code
				if len(result.FailedRecords) < MaxFailedRecords {
					result.FailedRecords = append(result.FailedRecords, FailedRecord{
						Number: rd.Count(),
						Code:   code,
						Reason: err.Error(),
					})
				}
				log.Debug("record skipped", "record", rd.Count(), "code", code, "error", err)
				continue
			}
			return err
		}

		if err := req.Sink.Write(ctx, rec); err != nil {
			return fmt.Errorf("record %d: %w", rec.Number, err)
		}
		result.Records++
		result.Shapes[rec.Name()]++

		if result.Records%ProgressInterval == 0 {
			report(PhaseDecoding)
		}
	}
}

// skippable reports whether a record-level error leaves the rest of the
// stream usable. Framing and length errors never do.
func skippable(err error) bool {
	var (
		fp  *codec.FieldParsingError
		ut  *codec.UnexpectedFieldTypeError
		dep *record.DependencyError
	)
	return errors.As(err, &fp) || errors.As(err, &ut) || errors.As(err, &dep)
}

// SubscribeProgress returns a channel that receives progress updates.
// The channel is closed when the job completes.
func (s *Service) SubscribeProgress(jobID string) (<-chan JobProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobProgress, 10)

	job.mu.Lock()
	defer job.mu.Unlock()
	ch <- job.progress
	if job.result != nil {
		close(ch)
		return ch, nil
	}
	job.listeners = append(job.listeners, ch)
	return ch, nil
}

// CancelJob cancels a running job.
func (s *Service) CancelJob(jobID string) error {
	job, err := s.job(jobID)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

// JobResult returns the result of a job, blocking until it completes or
// ctx ends.
func (s *Service) JobResult(ctx context.Context, jobID string) (*JobResult, error) {
	job, err := s.job(jobID)
	if err != nil {
		return nil, err
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.result, nil
}

// JobProgress returns the current progress without blocking.
func (s *Service) JobProgress(jobID string) (JobProgress, error) {
	job, err := s.job(jobID)
	if err != nil {
		return JobProgress{}, err
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress, nil
}

// Jobs returns the progress of every tracked job, sorted by id.
func (s *Service) Jobs() []JobProgress {
	s.mu.RLock()
	jobs := make([]*activeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	out := make([]JobProgress, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		out = append(out, j.progress)
		j.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out
}

func (s *Service) job(jobID string) (*activeJob, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// cleanup removes the job from tracking after a delay.
func (s *Service) cleanup(jobID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// update applies fn to the job's progress and sends the new state to all
// listeners. Slow listeners miss intermediate updates.
func (j *activeJob) update(fn func(*JobProgress)) JobProgress {
	j.mu.Lock()
	defer j.mu.Unlock()

	fn(&j.progress)
	for _, ch := range j.listeners {
		select {
		case ch <- j.progress:
		default:
		}
	}
	return j.progress
}

// finish stores the result, closes listener channels and releases waiters.
// Only the first call has an effect.
func (j *activeJob) finish(result *JobResult, phase JobPhase) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.result != nil {
		return
	}
	j.result = result
	j.progress.Phase = phase
	if result.Error != "" {
		j.progress.Error = result.Error
	}
	for _, ch := range j.listeners {
		close(ch)
	}
	j.listeners = nil
	close(j.done)
}
