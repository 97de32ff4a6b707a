package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published while an audit run progresses.
const (
	KindRunStarted       = "run.started"
	KindFileScanned      = "file.scanned"
	KindFileFailed       = "file.failed"
	KindRecordClassified = "record.classified"
	KindRunFinished      = "run.finished"
)

// RunEvent describes one progress step of an audit run for live consumers
// (SSE clients rendering a spinner or a filling table).
type RunEvent struct {
	Kind        string    `json:"kind"`
	RunID       string    `json:"run_id"`
	PrincipalID string    `json:"principal_id,omitempty"`
	FileID      string    `json:"file_id,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	RiskLevel   string    `json:"risk_level,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Score       int       `json:"score,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Stream fan-outs run events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan RunEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan RunEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan RunEvent {
	ch := make(chan RunEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt RunEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking the run.
		}
	}
}
