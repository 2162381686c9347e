package core

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/copybook/internal/record"
)

// FailurePolicy decides what a job does with a record that fails to decode.
type FailurePolicy string

const (
	// PolicyAbort stops the job at the first failure.
	PolicyAbort FailurePolicy = "abort"
	// PolicySkip counts the failed record and continues when the stream can
	// be resumed at the next record. Framing errors still abort.
	PolicySkip FailurePolicy = "skip"
)

// ParseFailurePolicy accepts "abort" or "skip". Empty selects abort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicySkip:
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q (want abort or skip)", s)
	}
}

// JobPhase indicates the current stage of a job.
type JobPhase string

const (
	PhaseStarting  JobPhase = "starting"
	PhaseDecoding  JobPhase = "decoding"
	PhaseFlushing  JobPhase = "flushing"
	PhaseComplete  JobPhase = "complete"
	PhaseFailed    JobPhase = "failed"
	PhaseCancelled JobPhase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p JobPhase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// JobProgress represents the current state of a job.
type JobProgress struct {
	JobID      string   `json:"job_id"`
	Schema     string   `json:"schema"`
	Source     string   `json:"source,omitempty"`
	Phase      JobPhase `json:"phase"`
	Records    int      `json:"records"`
	Failed     int      `json:"failed"`
	BytesRead  int64    `json:"bytes_read"`
	BytesTotal int64    `json:"bytes_total,omitempty"`
	Error      string   `json:"error,omitempty"` // Non-empty if Phase is PhaseFailed
}

// Percent returns byte-based progress (0-100), or 0 when the input size is
// unknown.
func (p JobProgress) Percent() int {
	if p.BytesTotal <= 0 {
		return 0
	}
	pct := int(p.BytesRead * 100 / p.BytesTotal)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// FailedRecord describes a record skipped under PolicySkip.
type FailedRecord struct {
	Number int    `json:"number"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// MaxFailedRecords caps the failures kept in a JobResult; later ones are
// only counted.
const MaxFailedRecords = 100

// JobResult contains the final result of a job.
type JobResult struct {
	JobID         string               `json:"job_id"`
	Schema        string               `json:"schema"`
	Source        string               `json:"source,omitempty"`
	Records       int                  `json:"records"` // records handed to the sink
	Failed        int                  `json:"failed"`
	FailedRecords []FailedRecord       `json:"failed_records,omitempty"`
	Shapes        map[string]int       `json:"shapes,omitempty"` // records per shape name
	BytesRead     int64                `json:"bytes_read"`
	Duration      time.Duration        `json:"duration"`
	Resolver      record.ResolverStats `json:"resolver"`
	Error         string               `json:"error,omitempty"` // Non-empty if the job failed
}

// ProgressCallback is called periodically while a job runs.
type ProgressCallback func(JobProgress)

// JobRequest describes one decode job.
type JobRequest struct {
	// Schema is the registered schema name.
	Schema string
	// Source labels the input in logs and results, e.g. a file name.
	Source string
	Input  io.Reader
	// Size is the input length when known, for progress reporting.
	Size int64
	Sink Sink
	// Policy overrides the service default when set.
	Policy FailurePolicy
	// Progress, if set, receives updates every ProgressInterval records and
	// once at the end.
	Progress ProgressCallback
}

// ProgressInterval is the number of records between progress callbacks.
const ProgressInterval = 1000
