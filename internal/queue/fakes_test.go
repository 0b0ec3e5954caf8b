package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type recordingHandler struct {
	mu        sync.Mutex
	processed []JobDescriptor
	abandoned []JobDescriptor
	starts    []time.Time
	active    atomic.Int32
	maxActive atomic.Int32
	hold      time.Duration
	err       error
	done      chan struct{}
}

func newRecordingHandler(hold time.Duration) *recordingHandler {
	return &recordingHandler{hold: hold, done: make(chan struct{}, 64)}
}

func (h *recordingHandler) Process(_ context.Context, job JobDescriptor) error {
	n := h.active.Add(1)
	for {
		m := h.maxActive.Load()
		if n <= m || h.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	h.mu.Lock()
	h.starts = append(h.starts, time.Now())
	h.mu.Unlock()

	time.Sleep(h.hold)

	h.mu.Lock()
	h.processed = append(h.processed, job)
	h.mu.Unlock()

	h.active.Add(-1)
	h.done <- struct{}{}
	return h.err
}

func (h *recordingHandler) Abandon(_ context.Context, job JobDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abandoned = append(h.abandoned, job)
}

func (h *recordingHandler) snapshot() (processed, abandoned []JobDescriptor, starts []time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]JobDescriptor(nil), h.processed...),
		append([]JobDescriptor(nil), h.abandoned...),
		append([]time.Time(nil), h.starts...)
}

func job(id string) JobDescriptor {
	return JobDescriptor{
		Identity:      "5511999998888@c.us",
		StagingRef:    id + ".jpg",
		CorrelationID: id,
		SubmittedAt:   time.Now(),
	}
}
