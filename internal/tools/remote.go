package tools

import (
	"context"
	"sync"

	"scout/internal/logging"
)

// RemoteReply is the IDE host's answer to one TOOL_CALL envelope.
type RemoteReply struct {
	CallID        string `json:"callId"`
	Success       bool   `json:"success"`
	Result        string `json:"result"`
	ExecutionTime int64  `json:"executionTime,omitempty"`
	Error         string `json:"error,omitempty"`
}

// RemoteTransport sends a tool-call envelope to the IDE host. Implemented by
// the channel server; a nil transport makes every REMOTE dispatch fail fast.
type RemoteTransport interface {
	SendToolCall(ctx context.Context, sessionID, callID, toolName string, params map[string]any) error
}

// PendingCalls correlates in-flight REMOTE dispatches with their replies by
// callId. Replies for unknown ids are rejected; duplicates are idempotent,
// first wins.
type PendingCalls struct {
	mu     sync.Mutex
	calls  map[string]chan RemoteReply
	logger logging.Logger
}

// NewPendingCalls creates an empty correlation table.
func NewPendingCalls() *PendingCalls {
	return &PendingCalls{
		calls:  make(map[string]chan RemoteReply),
		logger: logging.NewComponentLogger("PendingCalls"),
	}
}

// Register opens a reply slot for callID. The returned channel receives at
// most one reply.
func (p *PendingCalls) Register(callID string) <-chan RemoteReply {
	ch := make(chan RemoteReply, 1)
	p.mu.Lock()
	p.calls[callID] = ch
	p.mu.Unlock()
	return ch
}

// Resolve delivers a reply. Returns false for unknown or already-resolved
// call ids.
func (p *PendingCalls) Resolve(reply RemoteReply) bool {
	p.mu.Lock()
	ch, ok := p.calls[reply.CallID]
	if ok {
		delete(p.calls, reply.CallID)
	}
	p.mu.Unlock()
	if !ok {
		p.logger.Warn("Dropping reply for unknown callId %s", reply.CallID)
		return false
	}
	ch <- reply
	return true
}

// Discard removes a pending slot without delivering; used on timeout and
// cancellation so a late reply is rejected instead of leaking.
func (p *PendingCalls) Discard(callID string) {
	p.mu.Lock()
	delete(p.calls, callID)
	p.mu.Unlock()
}
