// Package broadcast fans job messages out to connected observers.
//
// The hub buffers nothing for absent observers: a subscriber only sees
// messages published after it joined, plus whatever snapshot it was handed
// at subscription time. Each subscriber has a bounded queue; one that falls
// behind is closed rather than skipped, so delivered messages for a job
// always arrive in publication order without gaps.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hlspackager/internal/metrics"
	"hlspackager/internal/models"
)

const (
	defaultBufferSize = 64
	mirrorTimeout     = 2 * time.Second
)

// Mirror receives a copy of every published message, for example to relay
// it to other processes.
type Mirror interface {
	Mirror(ctx context.Context, msg models.PushMessage) error
}

// Hub is the process-wide publish/subscribe bus.
type Hub struct {
	logger     *slog.Logger
	bufferSize int
	mirrors    []Mirror

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub. bufferSize <= 0 selects the default.
func NewHub(logger *slog.Logger, bufferSize int, mirrors ...Mirror) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Hub{
		logger:     logger.With("component", "broadcast"),
		bufferSize: bufferSize,
		mirrors:    mirrors,
		subs:       make(map[*Subscription]struct{}),
	}
}

// Subscription is one observer's queue of pending messages.
type Subscription struct {
	hub   *Hub
	jobID string

	mu     sync.Mutex
	closed bool
	ch     chan models.PushMessage
}

// Subscribe registers an observer. A non-empty jobID restricts job messages
// to that job. When snapshot is non-nil its result is queued first, computed
// while no publish can interleave, so later messages never predate it.
func (h *Hub) Subscribe(jobID string, snapshot func() models.PushMessage) *Subscription {
	sub := &Subscription{
		hub:   h,
		jobID: jobID,
		ch:    make(chan models.PushMessage, h.bufferSize),
	}

	h.mu.Lock()
	if snapshot != nil {
		sub.ch <- snapshot()
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	metrics.ObserversConnected.Inc()
	return sub
}

// Publish delivers msg to every matching subscriber without blocking.
func (h *Hub) Publish(msg models.PushMessage) {
	var slow []*Subscription

	h.mu.RLock()
	for sub := range h.subs {
		if !sub.wants(msg) {
			continue
		}
		if !sub.Send(msg) {
			slow = append(slow, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range slow {
		h.logger.Warn("dropping slow observer", "job_filter", sub.jobID)
		metrics.ObserversDropped.Inc()
		sub.Close()
	}

	if msg.Type == models.MessageJob {
		h.mirror(msg)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) mirror(msg models.PushMessage) {
	for _, m := range h.mirrors {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := m.Mirror(ctx, msg); err != nil {
			metrics.MirrorErrors.Inc()
			h.logger.Warn("mirror publish failed", "error", err)
		}
		cancel()
	}
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	delete(h.subs, sub)
	return true
}

func (s *Subscription) wants(msg models.PushMessage) bool {
	if s.jobID == "" || msg.Type != models.MessageJob || msg.Job == nil {
		return true
	}
	return msg.Job.ID == s.jobID
}

// Messages is closed once the subscription ends.
func (s *Subscription) Messages() <-chan models.PushMessage {
	return s.ch
}

// JobID returns the job filter, empty for all jobs.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Send queues msg for this subscriber only. It reports false when the
// subscription is closed or its queue is full.
func (s *Subscription) Send(msg models.PushMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	removed := s.hub.remove(s)

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()

	if removed {
		metrics.ObserversConnected.Dec()
	}
}
