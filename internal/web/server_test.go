package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/copybook/internal/codec"
	"github.com/JonMunkholm/copybook/internal/config"
	"github.com/JonMunkholm/copybook/internal/copybook"
	"github.com/JonMunkholm/copybook/internal/core"
	"github.com/JonMunkholm/copybook/internal/record"
)

const widgetSchema = `
name: widgets
charset: ISO-8859-1
records:
  - name: widget
    fields:
      - {name: ID, type: alpha, size: 4}
      - {name: QTY, type: packed, size: 3}
`

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Table: "copybook_records"},
		Codec:    config.CodecConfig{Framing: "prefixed", HeaderWidth: 4},
		Jobs: config.JobConfig{
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			MaxInputSize:  1 << 20,
			Timeout:       time.Minute,
			FailurePolicy: "abort",
			BatchSize:     100,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, db core.DBTX) *Server {
	t.Helper()
	core.Clear()
	t.Cleanup(core.Clear)
	core.Register(copybook.MustParse(widgetSchema))

	sc := core.DefaultServiceConfig()
	sc.Framing = record.FramingPrefixed
	sc.MaxInputSize = cfg.Jobs.MaxInputSize
	sc.MaxConcurrent = cfg.Jobs.MaxConcurrent
	sc.MaxWait = cfg.Jobs.MaxWaitTime

	s := NewServer(core.NewService(sc), cfg, db)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

// widgetData encodes widgets with 4-byte length prefixes.
func widgetData(t *testing.T, ids ...string) []byte {
	t.Helper()
	e, _ := core.Get("widgets")
	var buf bytes.Buffer
	w, err := record.NewWriter(&buf, e.Schema, record.WithPrefixedFraming(4, false))
	if err != nil {
		t.Fatal(err)
	}
	for i, id := range ids {
		rec := &record.Record{Values: record.Values{id, codec.DecimalFromInt64(int64(i+1), 0)}}
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func do(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body %q: %v", rec.Body.String(), err)
	}
	return er
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(s, http.MethodGet, "/healthz", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["schemas"] != float64(1) || body["database"] != false {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}

func TestSchemas(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	rec := do(s, http.MethodGet, "/api/schemas", nil)
	var list []SchemaSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Name != "widgets" || list[0].Charset != "ISO-8859-1" {
		t.Errorf("list = %+v", list)
	}

	rec = do(s, http.MethodGet, "/api/schemas/widgets", nil)
	var detail SchemaDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Layout) != 1 || detail.Layout[0].Size != 6 || len(detail.Layout[0].Fields) != 2 {
		t.Errorf("layout = %+v", detail.Layout)
	}
	if detail.Discriminator != nil {
		t.Error("single-shape schema should have no discriminator")
	}

	rec = do(s, http.MethodGet, "/api/schemas/gadgets", nil)
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "SCH002" {
		t.Errorf("unknown schema = %d %s", rec.Code, rec.Body.String())
	}
}

func TestDecode(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(s, http.MethodPost, "/api/decode/widgets", widgetData(t, "A001", "A002"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), rec.Body.String())
	}
	if want := `{"shape":"widget","number":2,"fields":{"ID":"A002","QTY":"2"}}`; lines[1] != want {
		t.Errorf("line 2 = %s, want %s", lines[1], want)
	}
	if got := rec.Result().Trailer.Get(trailerRecords); got != "2" {
		t.Errorf("records trailer = %q, want 2", got)
	}
}

func TestDecode_ErrorBeforeOutput(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	data := widgetData(t, "A001")
	data[len(data)-1] = 0x15 // bad sign nibble

	rec := do(s, http.MethodPost, "/api/decode/widgets", data)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if code := decodeError(t, rec).Code; code != "FLD001" {
		t.Errorf("code = %s, want FLD001", code)
	}
}

func TestDecode_SkipPolicy(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	data := widgetData(t, "A001", "A002", "A003")
	data[4+6+4+5] = 0x25 // second record's sign nibble

	rec := do(s, http.MethodPost, "/api/decode/widgets?policy=skip", data)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	res := rec.Result()
	if res.Trailer.Get(trailerRecords) != "2" || res.Trailer.Get(trailerFailed) != "1" {
		t.Errorf("trailers = %v, want 2 records 1 failed", res.Trailer)
	}
}

func TestEncode(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	body := `{"fields":{"ID":"A001","QTY":"1"}}
{"fields":{"ID":"A002","QTY":2}}`

	rec := do(s, http.MethodPost, "/api/encode/widgets", []byte(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if want := widgetData(t, "A001", "A002"); !bytes.Equal(rec.Body.Bytes(), want) {
		t.Errorf("body = % X\nwant   % X", rec.Body.Bytes(), want)
	}

	rec = do(s, http.MethodPost, "/api/encode/widgets", []byte(`{"fields":{"NOPE":1}}`))
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "VAL003" {
		t.Errorf("bad json = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(s, http.MethodPost, "/api/encode/widgets", []byte(`{"fields":{"QTY":"1000"}}`))
	if rec.Code != http.StatusUnprocessableEntity || decodeError(t, rec).Code != "VAL002" {
		t.Errorf("overflow = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEncode_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.Jobs.MaxInputSize = 10
	s := newTestServer(t, cfg, nil)

	rec := do(s, http.MethodPost, "/api/encode/widgets", []byte(`{"fields":{"ID":"A001","QTY":"1"}}`))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413: %s", rec.Code, rec.Body.String())
	}
}

// fakeDB collects copied rows.
type fakeDB struct {
	mu   sync.Mutex
	rows int
}

func (f *fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, src pgx.CopyFromSource) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for src.Next() {
		n++
	}
	f.rows += int(n)
	return n, src.Err()
}

func TestLoad(t *testing.T) {
	db := &fakeDB{}
	s := newTestServer(t, testConfig(), db)

	rec := do(s, http.MethodPost, "/api/load/widgets", widgetData(t, "A001", "A002", "A003"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	json.Unmarshal(rec.Body.Bytes(), &started)
	jobID := started["job_id"]
	if jobID == "" {
		t.Fatalf("no job id in %s", rec.Body.String())
	}

	rec = do(s, http.MethodGet, "/api/jobs/"+jobID+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d: %s", rec.Code, rec.Body.String())
	}
	var res core.JobResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Records != 3 || res.Error != "" {
		t.Errorf("result = %+v", res)
	}
	db.mu.Lock()
	if db.rows != 6 {
		t.Errorf("copied rows = %d, want 6", db.rows)
	}
	db.mu.Unlock()

	rec = do(s, http.MethodGet, "/api/jobs/"+jobID, nil)
	var p core.JobProgress
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.Phase != core.PhaseComplete {
		t.Errorf("phase = %s, want complete", p.Phase)
	}

	rec = do(s, http.MethodGet, "/api/jobs/"+jobID+"/events", nil)
	if !strings.Contains(rec.Body.String(), "event: complete") {
		t.Errorf("events = %q, want a complete event", rec.Body.String())
	}
}

func TestLoad_NoDatabase(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rec := do(s, http.MethodPost, "/api/load/widgets", widgetData(t, "A001"))

	if rec.Code != http.StatusNotImplemented || decodeError(t, rec).Code != "DB004" {
		t.Errorf("status = %d %s", rec.Code, rec.Body.String())
	}
}

func TestJobs_Unknown(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	for _, path := range []string{"/api/jobs/nope", "/api/jobs/nope/result"} {
		rec := do(s, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound || decodeError(t, rec).Code != "JOB005" {
			t.Errorf("GET %s = %d %s", path, rec.Code, rec.Body.String())
		}
	}
	rec := do(s, http.MethodPost, "/api/jobs/nope/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel = %d, want 404", rec.Code)
	}

	rec = do(s, http.MethodGet, "/api/jobs/status", nil)
	var st core.JobLimiterStatus
	json.Unmarshal(rec.Body.Bytes(), &st)
	if st.MaxConcurrent != 2 {
		t.Errorf("status = %+v, want max 2", st)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	s := newTestServer(t, cfg, nil)

	if rec := do(s, http.MethodGet, "/api/schemas", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("without key = %d, want 401", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200 without key", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/schemas", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key = %d, want 200", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, JobLimit: 1}
	s := newTestServer(t, cfg, nil)

	body := []byte(`{"fields":{"ID":"A001","QTY":"1"}}`)
	if rec := do(s, http.MethodPost, "/api/encode/widgets", body); rec.Code != http.StatusOK {
		t.Fatalf("first = %d", rec.Code)
	}
	rec := do(s, http.MethodPost, "/api/encode/widgets", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if rec := do(s, http.MethodGet, "/api/schemas", nil); rec.Code != http.StatusOK {
		t.Errorf("lookup after job limit = %d, want 200", rec.Code)
	}
}
