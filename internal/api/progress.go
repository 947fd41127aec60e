package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/stimforge/internal/pipeline"
	"github.com/mattjoyce/stimforge/internal/queue"
)

// Event is one progress update. Subject is the job or run ID it concerns.
type Event struct {
	ID      int64
	Type    string
	Subject string
	At      time.Time
	Data    []byte // JSON payload
}

// EventHub is an in-memory pub/sub with a small ring buffer for late clients.
type EventHub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewEventHub(capacity int) *EventHub {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventHub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and fans it out. Slow subscribers miss events
// rather than block the run.
func (h *EventHub) Publish(eventType, subject string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	ev := Event{
		ID:      h.nextID.Add(1),
		Type:    eventType,
		Subject: subject,
		At:      time.Now().UTC(),
		Data:    payload,
	}
	h.push(ev)
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// NotifyJob publishes a job snapshot as "job.<status>".
func (h *EventHub) NotifyJob(job *queue.Job) {
	h.Publish("job."+string(job.Status), job.ID, job)
}

func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
func (h *EventHub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *EventHub) push(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}

// Recorder wraps next so that run provenance is also published as
// "run.started", "channel.<outcome>" and "run.<status>" events. next may be
// nil.
func (h *EventHub) Recorder(next pipeline.Recorder) pipeline.Recorder {
	return &hubRecorder{hub: h, next: next}
}

type hubRecorder struct {
	hub  *EventHub
	next pipeline.Recorder
}

func (r *hubRecorder) StartRun(ctx context.Context, info pipeline.RunInfo) error {
	r.hub.Publish("run.started", info.ID, info)
	if r.next == nil {
		return nil
	}
	return r.next.StartRun(ctx, info)
}

func (r *hubRecorder) RecordChannel(ctx context.Context, rec pipeline.ChannelRecord) error {
	r.hub.Publish("channel."+string(rec.Outcome), rec.RunID, rec)
	if r.next == nil {
		return nil
	}
	return r.next.RecordChannel(ctx, rec)
}

func (r *hubRecorder) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, errMsg string) error {
	r.hub.Publish("run."+string(status), runID, map[string]string{"run_id": runID, "status": string(status), "error": errMsg})
	if r.next == nil {
		return nil
	}
	return r.next.FinishRun(ctx, runID, status, errMsg)
}
