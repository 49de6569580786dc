package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scouterrors "scout/internal/errors"
	"scout/internal/llm"
	"scout/internal/session"
	"scout/internal/tools"
)

type stubTool struct {
	name    string
	execute func(ctx context.Context, params map[string]any) (string, error)
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() tools.Schema {
	return tools.Schema{"relativePath": tools.StringSpec("path", false)}
}
func (s *stubTool) Returns() string                                    { return "text" }
func (s *stubTool) ExecutionMode(map[string]any) tools.ExecutionMode   { return tools.ModeLocal }
func (s *stubTool) Execute(ctx context.Context, _ tools.Project, params map[string]any) (string, error) {
	if s.execute != nil {
		return s.execute(ctx, params)
	}
	return "stub result", nil
}

type capturedParts struct {
	mu    sync.Mutex
	parts []*session.Part
}

func (c *capturedParts) observer(part *session.Part) {
	c.mu.Lock()
	c.parts = append(c.parts, part)
	c.mu.Unlock()
}

func (c *capturedParts) byType(partType session.PartType) []*session.Part {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*session.Part
	for _, part := range c.parts {
		if part.Type == partType {
			out = append(out, part)
		}
	}
	return out
}

func newTestRunner(t *testing.T, gateway llm.StreamingClient, toolList ...tools.Tool) (*Runner, *session.Store) {
	t.Helper()
	registry := tools.NewRegistry()
	for _, tool := range toolList {
		registry.Register(tool)
	}
	dispatcher := tools.NewDispatcher(registry, tools.NewPendingCalls(), nil, tools.DispatcherConfig{
		LocalConcurrency: 2,
		RemoteTimeout:    time.Second,
	})
	sessions := session.NewStore(t.TempDir())
	runner := NewRunner(sessions, gateway, registry,
		NewSubTaskExecutor(dispatcher, 2000),
		NewCompactor(gateway, CompactorConfig{TokenBudget: 1 << 20, Retention: 6}),
		Config{MaxIterations: 10, MaxRetries: 2, RetryBase: time.Millisecond, RetryMax: 5 * time.Millisecond})
	return runner, sessions
}

func TestProcessHappyPathWithToolCall(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`<thinking>need the file</thinking>{"toolName": "read_file", "parameters": {"relativePath": "main.go"}}`).
		Respond("The file defines the entry point.")
	mock.StreamChunks = 7

	runner, sessions := newTestRunner(t, mock, &stubTool{name: "read_file"})
	capture := &capturedParts{}

	message, err := runner.Process(context.Background(),
		Request{ProjectKey: "proj", UserInput: "what does main.go do?"}, capture.observer)
	require.NoError(t, err)
	require.NotNil(t, message)

	// Terminal part is the final text.
	terminal := message.TerminalPart()
	require.NotNil(t, terminal)
	assert.Equal(t, "The file defines the entry point.", terminal.Text)

	// Tool part went PENDING -> RUNNING -> COMPLETED in emission order.
	toolEmissions := capture.byType(session.PartTool)
	require.Len(t, toolEmissions, 3)
	assert.Equal(t, session.ToolPending, toolEmissions[0].State)
	assert.Equal(t, session.ToolRunning, toolEmissions[1].State)
	assert.Equal(t, session.ToolCompleted, toolEmissions[2].State)
	assert.Equal(t, "stub result", toolEmissions[2].Result)

	// Session is idle again with user + assistant appended.
	sess, err := sessions.GetOrCreate(message.SessionID, "proj")
	require.NoError(t, err)
	assert.Equal(t, session.StatusIdle, sess.Status)
	messages, err := sessions.Messages(message.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, session.RoleUser, messages[0].Role)
	assert.Equal(t, session.RoleAssistant, messages[1].Role)
}

func TestToolResultFedBackToModel(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`{"toolName": "read_file", "parameters": {}}`).
		Respond("done")

	runner, _ := newTestRunner(t, mock, &stubTool{name: "read_file",
		execute: func(context.Context, map[string]any) (string, error) { return "FILE-CONTENTS", nil }})

	_, err := runner.Process(context.Background(), Request{ProjectKey: "p", UserInput: "q"}, nil)
	require.NoError(t, err)

	requests := mock.Requests()
	require.Len(t, requests, 2)
	var sawResult bool
	for _, m := range requests[1].Messages {
		if m.Role == "user" && strings.Contains(m.Content, "read_file") && strings.Contains(m.Content, "FILE-CONTENTS") {
			sawResult = true
		}
	}
	assert.True(t, sawResult, "second request should carry the tool result")
}

func TestToolErrorSurfacedNotRetried(t *testing.T) {
	calls := 0
	mock := llm.NewMockClient().
		Respond(`{"toolName": "fragile", "parameters": {}}`).
		Respond("recovered gracefully")

	runner, _ := newTestRunner(t, mock, &stubTool{name: "fragile",
		execute: func(context.Context, map[string]any) (string, error) {
			calls++
			return "", assert.AnError
		}})
	capture := &capturedParts{}

	message, err := runner.Process(context.Background(), Request{ProjectKey: "p", UserInput: "q"}, capture.observer)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "failed tool must not be retried")

	toolEmissions := capture.byType(session.PartTool)
	last := toolEmissions[len(toolEmissions)-1]
	assert.Equal(t, session.ToolError, last.State)
	assert.NotEmpty(t, last.Error)
	assert.Equal(t, "recovered gracefully", message.TerminalPart().Text)
}

func TestUnknownToolBecomesErrorPart(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`{"toolName": "no_such_tool", "parameters": {}}`).
		Respond("ok then")

	runner, _ := newTestRunner(t, mock)
	capture := &capturedParts{}
	_, err := runner.Process(context.Background(), Request{ProjectKey: "p", UserInput: "q"}, capture.observer)
	require.NoError(t, err)

	toolEmissions := capture.byType(session.PartTool)
	require.NotEmpty(t, toolEmissions)
	last := toolEmissions[len(toolEmissions)-1]
	assert.Equal(t, session.ToolError, last.State)
	assert.Contains(t, last.Error, "no_such_tool")
}

func TestSessionBusyRejectsConcurrentTurn(t *testing.T) {
	release := make(chan struct{})
	slow := &stubTool{name: "slow", execute: func(ctx context.Context, _ map[string]any) (string, error) {
		<-release
		return "done", nil
	}}
	mock := llm.NewMockClient().
		Respond(`{"toolName": "slow", "parameters": {}}`).
		Respond("finished")

	runner, sessions := newTestRunner(t, mock, slow)
	sess, err := sessions.GetOrCreate("", "p")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Process(context.Background(),
			Request{SessionID: sess.ID, ProjectKey: "p", UserInput: "first"}, nil)
		done <- err
	}()

	// Wait until the first turn holds the latch.
	require.Eventually(t, func() bool {
		current, _ := sessions.GetOrCreate(sess.ID, "p")
		return current.Status == session.StatusBusy
	}, time.Second, 5*time.Millisecond)

	_, err = runner.Process(context.Background(),
		Request{SessionID: sess.ID, ProjectKey: "p", UserInput: "second"}, nil)
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindSessionBusy))

	close(release)
	require.NoError(t, <-done)
}

func TestStopCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	slow := &stubTool{name: "slow", execute: func(ctx context.Context, _ map[string]any) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	mock := llm.NewMockClient().
		Respond(`{"toolName": "slow", "parameters": {}}`).
		Respond("never reached")

	runner, sessions := newTestRunner(t, mock, slow)
	sess, err := sessions.GetOrCreate("", "p")
	require.NoError(t, err)

	capture := &capturedParts{}
	done := make(chan error, 1)
	go func() {
		_, err := runner.Process(context.Background(),
			Request{SessionID: sess.ID, ProjectKey: "p", UserInput: "q"}, capture.observer)
		done <- err
	}()
	<-started
	assert.True(t, runner.Stop(sess.ID))

	err = <-done
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindCancelled))

	// The cancelled RUNNING tool part ends as ERROR "cancelled".
	toolEmissions := capture.byType(session.PartTool)
	require.NotEmpty(t, toolEmissions)
	last := toolEmissions[len(toolEmissions)-1]
	assert.Equal(t, session.ToolError, last.State)
	assert.Equal(t, "cancelled", last.Error)

	// The persisted assistant message ends with a text part noting the
	// cancellation, not mid-stream on the dead tool call.
	messages, err := sessions.Messages(sess.ID)
	require.NoError(t, err)
	assistant := messages[len(messages)-1]
	require.Equal(t, session.RoleAssistant, assistant.Role)
	terminal := assistant.TerminalPart()
	require.NotNil(t, terminal)
	assert.Contains(t, terminal.Text, "cancelled")

	// Latch released.
	current, _ := sessions.GetOrCreate(sess.ID, "p")
	assert.Equal(t, session.StatusIdle, current.Status)
}

func TestTransientLLMFailureRetriesAndResumes(t *testing.T) {
	mock := llm.NewMockClient().
		FailWith(scouterrors.NewTransientError(assert.AnError, "blip")).
		Respond("final answer")

	runner, _ := newTestRunner(t, mock)
	message, err := runner.Process(context.Background(), Request{ProjectKey: "p", UserInput: "q"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "final answer", message.TerminalPart().Text)
}

func TestLLMUnavailableAfterRetries(t *testing.T) {
	mock := llm.NewMockClient()
	for i := 0; i < 5; i++ {
		mock.FailWith(scouterrors.NewTransientError(assert.AnError, "down"))
	}

	runner, sessions := newTestRunner(t, mock)
	sess, _ := sessions.GetOrCreate("", "p")
	_, err := runner.Process(context.Background(),
		Request{SessionID: sess.ID, ProjectKey: "p", UserInput: "q"}, nil)
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindLLMUnavailable))

	current, _ := sessions.GetOrCreate(sess.ID, "p")
	assert.Equal(t, session.StatusIdle, current.Status)
}

func TestReasoningExcludedFromPrompts(t *testing.T) {
	mock := llm.NewMockClient().
		Respond(`<thinking>PRIVATE</thinking>{"toolName": "read_file", "parameters": {}}`).
		Respond("answer")

	runner, _ := newTestRunner(t, mock, &stubTool{name: "read_file"})
	_, err := runner.Process(context.Background(), Request{ProjectKey: "p", UserInput: "q"}, nil)
	require.NoError(t, err)

	for _, request := range mock.Requests() {
		for _, m := range request.Messages {
			assert.NotContains(t, m.Content, "PRIVATE")
		}
	}
}
