package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/stimforge/internal/queue"
)

func newTestServer(q *queue.Queue) *Server {
	return New(Config{Listen: "localhost:0"}, q, NewEventHub(16), nil)
}

func writeSourceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.funscript")
	if err := os.WriteFile(path, []byte(`{"actions":[{"at":0,"pos":0},{"at":500,"pos":100}]}`), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func submitBody(source string) string {
	b, _ := json.Marshal(SubmitRunRequest{Source: source})
	return string(b)
}

func TestHandleHealthz(t *testing.T) {
	q := queue.New(0)
	q.Enqueue("/media/a.funscript")
	q.Enqueue("/media/b.funscript")
	server := newTestServer(q)
	server.config.Token = "secret"

	rr := do(t, server, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" || resp.QueueDepth != 2 {
		t.Fatalf("unexpected healthz response: %+v", resp)
	}
}

func TestHandleSubmitRun(t *testing.T) {
	q := queue.New(0)
	server := newTestServer(q)
	source := writeSourceFile(t)

	rr := do(t, server, http.MethodPost, "/runs", submitBody(source))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp SubmitRunResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "queued" || resp.Source != source {
		t.Fatalf("unexpected submit response: %+v", resp)
	}

	rr = do(t, server, http.MethodGet, "/runs/"+resp.JobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var job queue.Job
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.ID != resp.JobID || job.Status != queue.StatusQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	events := server.events.SnapshotSince(0)
	if len(events) != 1 || events[0].Type != "job.queued" || events[0].Subject != resp.JobID {
		t.Fatalf("expected one job.queued event, got %+v", events)
	}
}

func TestHandleSubmitRunRejects(t *testing.T) {
	source := writeSourceFile(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"empty source", `{"source":"  "}`, http.StatusBadRequest},
		{"relative source", submitBody("clip.funscript"), http.StatusBadRequest},
		{"missing file", submitBody(filepath.Join(t.TempDir(), "nope.funscript")), http.StatusBadRequest},
		{"directory", submitBody(filepath.Dir(source)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.New(0)
			rr := do(t, newTestServer(q), http.MethodPost, "/runs", tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if q.Depth() != 0 {
				t.Fatalf("rejected request must not enqueue")
			}
		})
	}
}

func TestHandleSubmitRunQueueFull(t *testing.T) {
	q := queue.New(1)
	q.Enqueue("/media/a.funscript")
	rr := do(t, newTestServer(q), http.MethodPost, "/runs", submitBody(writeSourceFile(t)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHandleGetRunNotFound(t *testing.T) {
	rr := do(t, newTestServer(queue.New(0)), http.MethodGet, "/runs/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestHandleCancelRun(t *testing.T) {
	q := queue.New(0)
	server := newTestServer(q)
	job, _ := q.Enqueue("/media/a.funscript")

	rr := do(t, server, http.MethodPost, "/runs/"+job.ID+"/cancel", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	var got queue.Job
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if got.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled job, got %+v", got)
	}

	rr = do(t, server, http.MethodPost, "/runs/"+job.ID+"/cancel", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/runs/missing/cancel", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	q := queue.New(0)
	server := newTestServer(q)
	server.config.Token = "test-key-123"
	body := submitBody(writeSourceFile(t))

	cases := []struct {
		name   string
		header []string
		want   int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", []string{"Authorization", "Basic abc"}, http.StatusUnauthorized},
		{"wrong token", []string{"Authorization", "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", []string{"Authorization", "Bearer test-key-123"}, http.StatusAccepted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, server, http.MethodPost, "/runs", body, tc.header...)
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(w *streamWriter, substr string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), substr) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestHandleEventsReplaysAndFilters(t *testing.T) {
	server := newTestServer(queue.New(0))
	server.events.Publish("job.queued", "job-a", map[string]any{"id": "job-a"})
	server.events.Publish("job.queued", "job-b", map[string]any{"id": "job-b"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?subject=job-a", nil).WithContext(ctx)
	w := newStreamWriter()

	done := make(chan struct{})
	go func() {
		server.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	if !waitFor(w, `data: {"id":"job-a"}`) {
		t.Fatalf("expected buffered job-a event, got: %q", w.String())
	}
	server.events.Publish("job.running", "job-a", map[string]any{"id": "job-a", "n": 2})
	if !waitFor(w, "event: job.running\n") {
		t.Fatalf("expected live event, got: %q", w.String())
	}
	if strings.Contains(w.String(), "job-b") {
		t.Fatalf("stream leaked another subject: %q", w.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}
