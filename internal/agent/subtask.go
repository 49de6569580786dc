package agent

import (
	"context"

	tokenutil "scout/internal/shared/token"
	"scout/internal/tools"
)

// SubTaskExecutor runs one tool call in a transient sub-session: the call
// sees only its parameters and the project identity, and only a bounded
// summary of its output reaches the parent turn.
type SubTaskExecutor struct {
	dispatcher *tools.Dispatcher
	// resultMax caps the tokens surfaced into the parent session.
	resultMax int
}

// NewSubTaskExecutor builds the executor; resultMax <= 0 applies the
// default bound.
func NewSubTaskExecutor(dispatcher *tools.Dispatcher, resultMax int) *SubTaskExecutor {
	if resultMax <= 0 {
		resultMax = 2000
	}
	return &SubTaskExecutor{dispatcher: dispatcher, resultMax: resultMax}
}

// Run executes the dispatch and clamps its output to the token bound so one
// tool cannot inflate the parent context. Dispatch-level errors pass through
// for the caller to classify.
func (e *SubTaskExecutor) Run(ctx context.Context, dispatch tools.Dispatch) (*tools.Result, error) {
	result, err := e.dispatcher.Execute(ctx, dispatch)
	if err != nil {
		return nil, err
	}
	result.Result = tokenutil.TruncateToTokens(result.Result, e.resultMax)
	result.Error = tokenutil.TruncateToTokens(result.Error, e.resultMax)
	return result, nil
}
