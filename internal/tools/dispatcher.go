package tools

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// DispatcherConfig bounds dispatch behaviour.
type DispatcherConfig struct {
	// LocalConcurrency caps simultaneously running LOCAL tools.
	LocalConcurrency int
	// RemoteTimeout bounds the wait for a correlated REMOTE reply.
	RemoteTimeout time.Duration
}

// Dispatch is one tool invocation request.
type Dispatch struct {
	SessionID string
	CallID    string
	ToolName  string
	Params    map[string]any
	Project   Project
}

// Dispatcher resolves, validates and executes tool calls. LOCAL tools run in
// process under a weighted semaphore; REMOTE tools are enveloped to the IDE
// host and awaited by callId.
type Dispatcher struct {
	registry  *Registry
	pending   *PendingCalls
	transport RemoteTransport
	pool      *semaphore.Weighted
	config    DispatcherConfig
	logger    logging.Logger
}

// NewDispatcher wires the dispatch plane. transport may be nil when no IDE
// channel is connected; REMOTE dispatches then fail immediately.
func NewDispatcher(registry *Registry, pending *PendingCalls, transport RemoteTransport, config DispatcherConfig) *Dispatcher {
	if config.LocalConcurrency <= 0 {
		config.LocalConcurrency = 4
	}
	if config.RemoteTimeout <= 0 {
		config.RemoteTimeout = 60 * time.Second
	}
	return &Dispatcher{
		registry:  registry,
		pending:   pending,
		transport: transport,
		pool:      semaphore.NewWeighted(int64(config.LocalConcurrency)),
		config:    config,
		logger:    logging.NewComponentLogger("ToolDispatcher"),
	}
}

// SetTransport binds the IDE channel once a client connects.
func (d *Dispatcher) SetTransport(transport RemoteTransport) {
	d.transport = transport
}

// Pending exposes the correlation table for the channel server.
func (d *Dispatcher) Pending() *PendingCalls { return d.pending }

// Execute runs one tool call to completion and wraps the outcome. Returned
// errors are classified: UnknownTool, InvalidArgument, Timeout, Cancelled.
// A tool that ran but failed produces a Result with Success=false and a nil
// error; the caller surfaces it to the model rather than retrying.
func (d *Dispatcher) Execute(ctx context.Context, req Dispatch) (*Result, error) {
	tool := d.registry.Get(req.ToolName)
	if tool == nil {
		return nil, scouterrors.New(scouterrors.KindUnknownTool,
			fmt.Sprintf("unknown tool %q", req.ToolName))
	}

	validated, err := ValidateParams(tool.Schema(), req.Params)
	if err != nil {
		return nil, err
	}

	if tool.ExecutionMode(validated) == ModeRemote {
		return d.executeRemote(ctx, req, validated)
	}
	return d.executeLocal(ctx, tool, req, validated)
}

func (d *Dispatcher) executeLocal(ctx context.Context, tool Tool, req Dispatch, params map[string]any) (*Result, error) {
	if err := d.pool.Acquire(ctx, 1); err != nil {
		return nil, scouterrors.New(scouterrors.KindCancelled, "cancelled while queued for worker pool")
	}
	defer d.pool.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, scouterrors.New(scouterrors.KindCancelled, "cancelled before tool start")
	}

	start := time.Now()
	output, err := tool.Execute(ctx, req.Project, params)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			return nil, scouterrors.New(scouterrors.KindCancelled, "tool cancelled")
		}
		d.logger.Warn("Tool %s failed in %dms: %v", req.ToolName, elapsed, err)
		return &Result{Success: false, Error: err.Error(), ExecutionTimeMs: elapsed}, nil
	}
	return &Result{Success: true, Result: output, ExecutionTimeMs: elapsed}, nil
}

func (d *Dispatcher) executeRemote(ctx context.Context, req Dispatch, params map[string]any) (*Result, error) {
	if d.transport == nil {
		return nil, scouterrors.New(scouterrors.KindTransient, "no IDE channel connected for remote tool")
	}

	replies := d.pending.Register(req.CallID)
	start := time.Now()
	if err := d.transport.SendToolCall(ctx, req.SessionID, req.CallID, req.ToolName, params); err != nil {
		d.pending.Discard(req.CallID)
		return nil, scouterrors.Wrap(scouterrors.KindTransient, "send tool call envelope", err)
	}

	timer := time.NewTimer(d.config.RemoteTimeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		elapsed := reply.ExecutionTime
		if elapsed == 0 {
			elapsed = time.Since(start).Milliseconds()
		}
		if !reply.Success {
			return &Result{Success: false, Error: reply.Error, ExecutionTimeMs: elapsed}, nil
		}
		return &Result{Success: true, Result: reply.Result, ExecutionTimeMs: elapsed}, nil
	case <-timer.C:
		// The remote work is not aborted; a late reply is discarded.
		d.pending.Discard(req.CallID)
		return nil, scouterrors.New(scouterrors.KindTimeout,
			fmt.Sprintf("remote tool %s timed out after %s", req.ToolName, d.config.RemoteTimeout))
	case <-ctx.Done():
		d.pending.Discard(req.CallID)
		return nil, scouterrors.New(scouterrors.KindCancelled, "cancelled while awaiting tool reply")
	}
}
