package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	scouterrors "scout/internal/errors"
	"scout/internal/id"
	"scout/internal/llm"
	"scout/internal/logging"
	"scout/internal/session"
	"scout/internal/tools"
)

// Config bounds one interactive turn.
type Config struct {
	// MaxIterations caps reason-act cycles per turn.
	MaxIterations int
	// MaxRetries bounds transient LLM retries per request.
	MaxRetries int
	// RetryBase and RetryMax shape the retry backoff curve.
	RetryBase time.Duration
	RetryMax  time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 30 * time.Second
	}
}

// Request is one user turn.
type Request struct {
	SessionID   string
	ProjectKey  string
	ProjectRoot string
	UserInput   string
}

// Runner drives the reason-act loop for interactive sessions.
type Runner struct {
	sessions  *session.Store
	gateway   llm.StreamingClient
	registry  *tools.Registry
	subtasks  *SubTaskExecutor
	compactor *Compactor
	config    Config
	logger    logging.Logger

	mu          sync.Mutex
	active      map[string]*turnHandle
	compactions map[string]*CompactionResult
}

type turnHandle struct {
	cancel context.CancelFunc
	stream *session.Stream
}

// NewRunner wires the loop.
func NewRunner(sessions *session.Store, gateway llm.StreamingClient, registry *tools.Registry, subtasks *SubTaskExecutor, compactor *Compactor, config Config) *Runner {
	config.applyDefaults()
	return &Runner{
		sessions:    sessions,
		gateway:     gateway,
		registry:    registry,
		subtasks:    subtasks,
		compactor:   compactor,
		config:      config,
		logger:      logging.NewComponentLogger("AgentLoop"),
		active:      make(map[string]*turnHandle),
		compactions: make(map[string]*CompactionResult),
	}
}

// Stop cancels the session's in-flight turn, if any.
func (r *Runner) Stop(sessionID string) bool {
	r.mu.Lock()
	handle, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	handle.stream.Cancel()
	handle.cancel()
	return true
}

// Process runs one user turn to completion and returns the appended
// assistant message. The observer sees every part emission, including
// re-emissions as tool parts change state. Exactly one turn runs per
// session; a concurrent call fails with SessionBusy.
func (r *Runner) Process(ctx context.Context, req Request, observer session.StreamObserver) (*session.Message, error) {
	sess, err := r.sessions.GetOrCreate(req.SessionID, req.ProjectKey)
	if err != nil {
		return nil, err
	}
	if err := r.sessions.MarkBusy(sess.ID); err != nil {
		return nil, err
	}
	defer r.sessions.MarkIdle(sess.ID)

	userMessage := session.NewMessage(id.NewMessageID(), sess.ID, session.RoleUser)
	userPart := session.NewUserPart(id.NewPartID(), userMessage.ID, sess.ID, req.UserInput)
	if err := userMessage.AppendPart(userPart); err != nil {
		return nil, err
	}
	if err := r.sessions.Append(sess.ID, userMessage); err != nil {
		return nil, err
	}
	if observer != nil {
		observer(userPart.Clone())
	}

	assistant := session.NewMessage(id.NewMessageID(), sess.ID, session.RoleAssistant)
	stream := session.NewStream(sess.ID, assistant.ID)
	if observer != nil {
		stream.Subscribe(observer)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.active[sess.ID] = &turnHandle{cancel: cancel, stream: stream}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, sess.ID)
		r.mu.Unlock()
		stream.Complete()
		<-stream.Done()
	}()

	err = r.runTurn(turnCtx, sess.ID, req, assistant, stream)

	// A cancelled turn still finishes with a text part saying so, otherwise
	// the persisted record would just stop mid-stream.
	if scouterrors.IsKind(err, scouterrors.KindCancelled) {
		note := session.NewTextPart(id.NewPartID(), assistant.ID, sess.ID,
			"Turn cancelled by stop request.")
		if appendErr := assistant.AppendPart(note); appendErr == nil {
			stream.Emit(note)
		}
	}

	// The turn's output is part of the record even when it ended early.
	if appendErr := r.sessions.Append(sess.ID, assistant); appendErr != nil {
		r.logger.Error("Append assistant message: %v", appendErr)
	}
	if persistErr := r.sessions.Persist(sess.ID); persistErr != nil {
		r.logger.Warn("Persist after turn: %v", persistErr)
	}
	if err != nil {
		return nil, err
	}
	return assistant, nil
}

// runTurn executes reason-act cycles until the model answers without a tool
// call.
func (r *Runner) runTurn(ctx context.Context, sessionID string, req Request, assistant *session.Message, stream *session.Stream) error {
	for iteration := 0; iteration < r.config.MaxIterations; iteration++ {
		if stream.Cancelled() || ctx.Err() != nil {
			return scouterrors.New(scouterrors.KindCancelled, "turn cancelled")
		}

		prompt, err := r.assemblePrompt(ctx, sessionID, assistant, stream)
		if err != nil {
			return err
		}

		envelopes, err := r.streamWithRetry(ctx, sessionID, prompt, assistant, stream)
		if err != nil {
			return err
		}
		if len(envelopes) == 0 {
			return nil
		}

		for _, envelope := range envelopes {
			if err := r.runTool(ctx, sessionID, req, assistant, stream, envelope); err != nil {
				return err
			}
		}
	}
	return scouterrors.New(scouterrors.KindTransient,
		fmt.Sprintf("turn exceeded %d iterations without a terminal answer", r.config.MaxIterations))
}

// assemblePrompt renders history plus the in-progress assistant message,
// compacting first when over budget.
func (r *Runner) assemblePrompt(ctx context.Context, sessionID string, assistant *session.Message, stream *session.Stream) ([]llm.Message, error) {
	history, err := r.sessions.Messages(sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	compaction := r.compactions[sessionID]
	r.mu.Unlock()

	view := append(append([]*session.Message(nil), history...), assistant)
	prompt := BuildPrompt(r.registry.Describe(), view, compaction)

	if r.compactor != nil && r.compactor.NeedsCompaction(prompt) {
		result, compactErr := r.compactor.Compact(ctx, history)
		if compactErr != nil {
			r.logger.Warn("Compaction failed, continuing uncompacted: %v", compactErr)
			return prompt, nil
		}
		r.mu.Lock()
		r.compactions[sessionID] = result
		r.mu.Unlock()

		notice := session.NewTextPart(id.NewPartID(), assistant.ID, sessionID,
			fmt.Sprintf("Compacted earlier conversation into a summary (%d messages folded).", result.KeepFrom))
		if err := assistant.AppendPart(notice); err == nil {
			stream.Emit(notice)
		}
		prompt = BuildPrompt(r.registry.Describe(), view, result)
	}
	return prompt, nil
}

// streamWithRetry performs one streaming completion, lexing output into
// parts. Transient failures are retried with backoff while the session is
// flagged RETRY; already-emitted parts stay in place and the next attempt
// continues after them.
func (r *Runner) streamWithRetry(ctx context.Context, sessionID string, prompt []llm.Message, assistant *session.Message, stream *session.Stream) ([]ToolEnvelope, error) {
	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			r.sessions.MarkRetry(sessionID)
			delay := scouterrors.Backoff(attempt, r.config.RetryBase, r.config.RetryMax)
			r.logger.Info("Retrying model request for %s (attempt %d) after %s", sessionID, attempt, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, scouterrors.New(scouterrors.KindCancelled, "turn cancelled")
			}
		}

		envelopes, err := r.streamOnce(ctx, prompt, assistant, stream)
		if err == nil {
			return envelopes, nil
		}
		if stream.Cancelled() || scouterrors.IsKind(err, scouterrors.KindCancelled) {
			return nil, scouterrors.New(scouterrors.KindCancelled, "turn cancelled")
		}
		if !scouterrors.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, scouterrors.Wrap(scouterrors.KindLLMUnavailable, "model unavailable after retries", lastErr)
}

func (r *Runner) streamOnce(ctx context.Context, prompt []llm.Message, assistant *session.Message, stream *session.Stream) ([]ToolEnvelope, error) {
	var envelopes []ToolEnvelope
	var textPart, reasoningPart *session.Part

	closeOpenParts := func() {
		textPart, reasoningPart = nil, nil
	}

	lexer := NewLexer(LexerSink{
		OnText: func(delta string) {
			reasoningPart = nil
			if textPart == nil {
				textPart = session.NewTextPart(id.NewPartID(), assistant.ID, stream.SessionID(), "")
				if err := assistant.AppendPart(textPart); err != nil {
					return
				}
			}
			textPart.Text += delta
			textPart.UpdatedTime = time.Now()
			stream.Emit(textPart)
		},
		OnReasoning: func(delta string) {
			textPart = nil
			if reasoningPart == nil {
				reasoningPart = session.NewReasoningPart(id.NewPartID(), assistant.ID, stream.SessionID(), "")
				if err := assistant.AppendPart(reasoningPart); err != nil {
					return
				}
			}
			reasoningPart.Text += delta
			reasoningPart.UpdatedTime = time.Now()
			stream.Emit(reasoningPart)
		},
		OnToolCall: func(envelope ToolEnvelope) {
			closeOpenParts()
			envelopes = append(envelopes, envelope)
		},
	})

	_, err := r.gateway.StreamComplete(ctx, llm.CompletionRequest{
		Messages:    prompt,
		Temperature: 0.2,
	}, llm.StreamCallbacks{
		OnContentDelta: func(delta llm.ContentDelta) {
			if delta.Final {
				lexer.Finish()
				return
			}
			lexer.Feed(delta.Delta)
		},
	})
	if err != nil {
		return nil, err
	}
	return envelopes, nil
}

// runTool emits the TOOL part through its state machine and executes the
// call in a sub-session. Tool failures become part state, not turn errors;
// only cancellation aborts the turn.
func (r *Runner) runTool(ctx context.Context, sessionID string, req Request, assistant *session.Message, stream *session.Stream, envelope ToolEnvelope) error {
	toolPart := session.NewToolPart(id.NewPartID(), assistant.ID, sessionID,
		id.NewCallID(), envelope.ToolName, envelope.Parameters)
	if err := assistant.AppendPart(toolPart); err != nil {
		return err
	}
	stream.Emit(toolPart)

	if stream.Cancelled() || ctx.Err() != nil {
		_ = toolPart.TransitionTool(session.ToolRunning, "", "")
		_ = toolPart.TransitionTool(session.ToolError, "", "cancelled")
		stream.Emit(toolPart)
		return scouterrors.New(scouterrors.KindCancelled, "turn cancelled")
	}

	if err := toolPart.TransitionTool(session.ToolRunning, "", ""); err != nil {
		return err
	}
	stream.Emit(toolPart)

	result, err := r.subtasks.Run(ctx, tools.Dispatch{
		SessionID: sessionID,
		CallID:    toolPart.CallID,
		ToolName:  envelope.ToolName,
		Params:    envelope.Parameters,
		Project:   tools.Project{Key: req.ProjectKey, Root: req.ProjectRoot},
	})
	switch {
	case err != nil && scouterrors.IsKind(err, scouterrors.KindCancelled):
		_ = toolPart.TransitionTool(session.ToolError, "", "cancelled")
		stream.Emit(toolPart)
		return scouterrors.New(scouterrors.KindCancelled, "turn cancelled")
	case err != nil:
		// Dispatch-level failure: surfaced to the model, never retried here.
		_ = toolPart.TransitionTool(session.ToolError, "", err.Error())
	case result.Success:
		_ = toolPart.TransitionTool(session.ToolCompleted, result.Result, "")
	default:
		_ = toolPart.TransitionTool(session.ToolError, "", result.Error)
	}
	stream.Emit(toolPart)

	if persistErr := r.sessions.Persist(sessionID); persistErr != nil {
		r.logger.Warn("Persist after tool part: %v", persistErr)
	}
	return nil
}
