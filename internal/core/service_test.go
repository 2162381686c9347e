package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/record"
)

// memorySink keeps records in memory.
type memorySink struct {
	mu      sync.Mutex
	recs    []*record.Record
	jobID   string
	closed  bool
	failAt  int
	failErr error
}

func (s *memorySink) StartJob(jobID string) { s.jobID = jobID }

func (s *memorySink) Write(_ context.Context, rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt > 0 && len(s.recs)+1 == s.failAt {
		return s.failErr
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// corruptMiddle breaks the QTY sign nibble of the second widget frame.
func corruptMiddle(data []byte) []byte {
	out := append([]byte(nil), data...)
	out[widgetFrameSize+9] = 0x55
	return out
}

func TestService_RunJob_JSONLines(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := encodeWidgets(t, e, widget("W001", 1), widget("W002", 20), widget("W003", 300))

	var out bytes.Buffer
	sink := NewJSONLinesSink(&out)
	var updates []JobProgress

	svc := NewService(prefixedConfig())
	res, err := svc.RunJob(context.Background(), JobRequest{
		Schema:   "widgets",
		Source:   "widgets.dat",
		Input:    bytes.NewReader(data),
		Size:     int64(len(data)),
		Sink:     sink,
		Progress: func(p JobProgress) { updates = append(updates, p) },
	})
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	if res.Records != 3 || res.Failed != 0 {
		t.Errorf("Records, Failed = %d, %d, want 3, 0", res.Records, res.Failed)
	}
	if res.Shapes["widget"] != 3 {
		t.Errorf("Shapes = %v, want widget:3", res.Shapes)
	}
	if res.BytesRead != int64(len(data)) {
		t.Errorf("BytesRead = %d, want %d", res.BytesRead, len(data))
	}
	if res.JobID == "" || res.Error != "" {
		t.Errorf("JobID = %q, Error = %q", res.JobID, res.Error)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || sink.Count() != 3 {
		t.Fatalf("got %d lines (count %d), want 3", len(lines), sink.Count())
	}
	want := `{"shape":"widget","number":2,"fields":{"ID":"W002","QTY":"20","TAG":"abcd"}}`
	if lines[1] != want {
		t.Errorf("line 2 = %s\nwant     %s", lines[1], want)
	}

	if len(updates) == 0 || updates[len(updates)-1].Phase != PhaseComplete {
		t.Fatalf("last progress = %+v, want phase complete", updates)
	}
	if last := updates[len(updates)-1]; last.Percent() != 100 {
		t.Errorf("Percent = %d, want 100", last.Percent())
	}

	p, err := svc.JobProgress(res.JobID)
	if err != nil || p.Phase != PhaseComplete || p.Records != 3 {
		t.Errorf("JobProgress = %+v, %v", p, err)
	}
}

func TestService_RunJob_SkipPolicy(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := corruptMiddle(encodeWidgets(t, e, widget("W001", 1), widget("W002", 2), widget("W003", 3)))

	sink := &memorySink{}
	svc := NewService(prefixedConfig())
	res, err := svc.RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  bytes.NewReader(data),
		Sink:   sink,
		Policy: PolicySkip,
	})
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	if res.Records != 2 || res.Failed != 1 {
		t.Errorf("Records, Failed = %d, %d, want 2, 1", res.Records, res.Failed)
	}
	if len(res.FailedRecords) != 1 {
		t.Fatalf("FailedRecords = %v, want one entry", res.FailedRecords)
	}
	if fr := res.FailedRecords[0]; fr.Number != 2 || fr.Code != "FLD001" {
		t.Errorf("FailedRecords[0] = %+v, want record 2 with FLD001", fr)
	}
	if sink.jobID != res.JobID {
		t.Errorf("sink job id = %q, want %q", sink.jobID, res.JobID)
	}
	if got := sink.recs[1].Number; got != 3 {
		t.Errorf("second kept record Number = %d, want 3", got)
	}
}

func TestService_RunJob_AbortPolicy(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := corruptMiddle(encodeWidgets(t, e, widget("W001", 1), widget("W002", 2), widget("W003", 3)))

	sink := &memorySink{}
	svc := NewService(prefixedConfig())
	res, err := svc.RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  bytes.NewReader(data),
		Sink:   sink,
	})

	var fpe *codec.FieldParsingError
	if !errors.As(err, &fpe) {
		t.Fatalf("RunJob error = %v, want FieldParsingError", err)
	}
	if got := MapError(err).Code; got != "FLD001" {
		t.Errorf("MapError code = %s, want FLD001", got)
	}
	if res == nil || res.Records != 1 || res.Error == "" {
		t.Fatalf("result = %+v, want 1 record and an error", res)
	}
	if !sink.closed {
		t.Error("sink not closed after failure")
	}

	p, _ := svc.JobProgress(res.JobID)
	if p.Phase != PhaseFailed {
		t.Errorf("Phase = %s, want failed", p.Phase)
	}
}

func TestService_RunJob_SkipNeedsFraming(t *testing.T) {
	e := registerFixture(t, widgetSchema)

	var buf bytes.Buffer
	w, err := record.NewWriter(&buf, e.Schema)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range []*record.Record{widget("W001", 1), widget("W002", 2)} {
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	data := buf.Bytes()
	data[5] = 0x15 // first record's QTY sign nibble

	cfg := DefaultServiceConfig()
	cfg.Policy = PolicySkip
	res, err := NewService(cfg).RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  bytes.NewReader(data),
		Sink:   &memorySink{},
	})
	if err == nil {
		t.Fatal("RunJob succeeded, want fixed framing to abort despite skip policy")
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}
}

func TestService_RunJob_SinkError(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := encodeWidgets(t, e, widget("W001", 1), widget("W002", 2))

	boom := errors.New("disk full")
	_, err := NewService(prefixedConfig()).RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  bytes.NewReader(data),
		Sink:   &memorySink{failAt: 2, failErr: boom},
		Policy: PolicySkip,
	})
	if !errors.Is(err, boom) {
		t.Errorf("RunJob error = %v, want sink error regardless of policy", err)
	}
}

func TestService_RunJob_InputTooLarge(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := encodeWidgets(t, e, widget("W001", 1), widget("W002", 2), widget("W003", 3))

	cfg := prefixedConfig()
	cfg.MaxInputSize = widgetFrameSize + 3
	_, err := NewService(cfg).RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  bytes.NewReader(data),
		Sink:   &memorySink{},
	})
	if !errors.Is(err, ErrInputTooLarge) {
		t.Errorf("RunJob error = %v, want ErrInputTooLarge", err)
	}
}

func TestService_RunJob_Errors(t *testing.T) {
	registerFixture(t, widgetSchema)
	svc := NewService(prefixedConfig())

	tests := []struct {
		name string
		req  JobRequest
		want error
	}{
		{
			name: "unknown schema",
			req:  JobRequest{Schema: "gadgets", Input: strings.NewReader(""), Sink: &memorySink{}},
			want: ErrSchemaNotFound,
		},
		{
			name: "missing sink",
			req:  JobRequest{Schema: "widgets", Input: strings.NewReader("")},
		},
		{
			name: "bad policy",
			req:  JobRequest{Schema: "widgets", Input: strings.NewReader(""), Sink: &memorySink{}, Policy: "retry"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.RunJob(context.Background(), tt.req)
			if err == nil {
				t.Fatal("RunJob succeeded, want error")
			}
			if res != nil {
				t.Errorf("result = %+v, want nil before the job starts", res)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_RunJob_EmptyInput(t *testing.T) {
	registerFixture(t, widgetSchema)

	res, err := NewService(prefixedConfig()).RunJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  strings.NewReader(""),
		Sink:   &memorySink{},
	})
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if res.Records != 0 {
		t.Errorf("Records = %d, want 0", res.Records)
	}
}

func TestService_StartJob_Cancel(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	frame := encodeWidgets(t, e, widget("W001", 1))

	pr, pw := io.Pipe()
	defer pr.Close()

	svc := NewService(prefixedConfig())
	id, err := svc.StartJob(context.Background(), JobRequest{
		Schema: "widgets",
		Input:  pr,
		Sink:   &memorySink{},
	})
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}
	if err := svc.CancelJob(id); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	go func() {
		pw.Write(frame)
		pw.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.JobResult(ctx, id)
	if err != nil {
		t.Fatalf("JobResult failed: %v", err)
	}
	if !strings.Contains(res.Error, context.Canceled.Error()) {
		t.Errorf("Error = %q, want cancellation", res.Error)
	}

	p, _ := svc.JobProgress(id)
	if p.Phase != PhaseCancelled {
		t.Errorf("Phase = %s, want cancelled", p.Phase)
	}
	if svc.Limiter().ActiveCount() != 0 {
		// Release runs after finish; give it a moment.
		time.Sleep(50 * time.Millisecond)
		if n := svc.Limiter().ActiveCount(); n != 0 {
			t.Errorf("ActiveCount = %d, want 0", n)
		}
	}
}

func TestService_StartJob_Busy(t *testing.T) {
	registerFixture(t, widgetSchema)

	cfg := prefixedConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxWait = 10 * time.Millisecond
	svc := NewService(cfg)

	pr, pw := io.Pipe()
	id, err := svc.StartJob(context.Background(), JobRequest{Schema: "widgets", Input: pr, Sink: &memorySink{}})
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}

	_, err = svc.RunJob(context.Background(), JobRequest{Schema: "widgets", Input: strings.NewReader(""), Sink: &memorySink{}})
	if !errors.Is(err, ErrTooManyJobs) {
		t.Errorf("RunJob error = %v, want ErrTooManyJobs", err)
	}

	pw.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := svc.JobResult(ctx, id); err != nil {
		t.Fatalf("JobResult failed: %v", err)
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	e := registerFixture(t, widgetSchema)
	data := encodeWidgets(t, e, widget("W001", 1))

	pr, pw := io.Pipe()
	svc := NewService(prefixedConfig())
	id, err := svc.StartJob(context.Background(), JobRequest{Schema: "widgets", Input: pr, Sink: &memorySink{}})
	if err != nil {
		t.Fatalf("StartJob failed: %v", err)
	}

	ch, err := svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress failed: %v", err)
	}
	go func() {
		pw.Write(data)
		pw.Close()
	}()

	var last JobProgress
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case p, ok := <-ch:
			if !ok {
				done = true
				break
			}
			last = p
		case <-timeout:
			t.Fatal("progress channel not closed")
		}
	}
	if last.Phase != PhaseComplete || last.Records != 1 {
		t.Errorf("last progress = %+v, want complete with 1 record", last)
	}

	// Subscribing to a finished job yields its final state.
	ch, err = svc.SubscribeProgress(id)
	if err != nil {
		t.Fatalf("SubscribeProgress after finish failed: %v", err)
	}
	if p := <-ch; !p.Phase.Done() {
		t.Errorf("Phase = %s, want terminal", p.Phase)
	}
	if _, ok := <-ch; ok {
		t.Error("channel for finished job not closed")
	}

	if jobs := svc.Jobs(); len(jobs) != 1 || jobs[0].JobID != id {
		t.Errorf("Jobs = %+v, want the one job", jobs)
	}
}

func TestService_UnknownJob(t *testing.T) {
	svc := NewService(DefaultServiceConfig())

	if err := svc.CancelJob("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("CancelJob = %v, want ErrJobNotFound", err)
	}
	if _, err := svc.JobProgress("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("JobProgress = %v, want ErrJobNotFound", err)
	}
	if _, err := svc.SubscribeProgress("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("SubscribeProgress = %v, want ErrJobNotFound", err)
	}
}
