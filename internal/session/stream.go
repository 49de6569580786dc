package session

import (
	"sync"
	"sync/atomic"
)

// StreamObserver receives part emissions in order. A re-emission of a part id
// is an update to the same part, never a duplicate.
type StreamObserver func(part *Part)

// Stream is the push-model observable for one in-flight assistant turn.
// Single producer (the agent loop), at most a handful of observers; a small
// buffered queue decouples emission from delivery and blocks the producer
// when full.
type Stream struct {
	sessionID string
	messageID string

	mu        sync.Mutex
	observers []StreamObserver
	queue     chan *Part
	done      chan struct{}
	complete  chan struct{}
	closeOnce sync.Once

	cancelled atomic.Bool
}

const streamQueueSize = 64

// NewStream creates a stream scoped to one assistant message.
func NewStream(sessionID, messageID string) *Stream {
	s := &Stream{
		sessionID: sessionID,
		messageID: messageID,
		queue:     make(chan *Part, streamQueueSize),
		done:      make(chan struct{}),
		complete:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// SessionID returns the owning session id.
func (s *Stream) SessionID() string { return s.sessionID }

// MessageID returns the owning message id.
func (s *Stream) MessageID() string { return s.messageID }

// Subscribe registers an observer. Observers registered after emissions only
// see subsequent parts.
func (s *Stream) Subscribe(observer StreamObserver) {
	if observer == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, observer)
	s.mu.Unlock()
}

// Emit pushes a part to the stream. Parts with the wrong session or message
// scope are dropped; each emitted part is a defensive clone so later mutation
// of the live part does not race with delivery. Blocks when the queue is full
// (backpressure by design of the single-subscriber channel).
func (s *Stream) Emit(part *Part) {
	if part == nil || part.SessionID != s.sessionID || part.MessageID != s.messageID {
		return
	}
	select {
	case <-s.done:
		return
	default:
	}
	s.queue <- part.Clone()
}

func (s *Stream) pump() {
	for {
		select {
		case part := <-s.queue:
			s.deliver(part)
		case <-s.done:
			// Drain whatever was queued before the close.
			for {
				select {
				case part := <-s.queue:
					s.deliver(part)
				default:
					close(s.complete)
					return
				}
			}
		}
	}
}

func (s *Stream) deliver(part *Part) {
	s.mu.Lock()
	observers := append([]StreamObserver(nil), s.observers...)
	s.mu.Unlock()
	for _, observer := range observers {
		observer(part)
	}
}

// Cancel flags the stream as cancelled. The agent loop checks the flag at
// every cooperative point.
func (s *Stream) Cancel() {
	s.cancelled.Store(true)
}

// Cancelled reports whether STOP was observed for this turn.
func (s *Stream) Cancelled() bool {
	return s.cancelled.Load()
}

// Complete closes the stream after delivering all queued parts. Idempotent.
func (s *Stream) Complete() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once all queued parts have been delivered after Complete.
func (s *Stream) Done() <-chan struct{} {
	return s.complete
}
