package builtin

import (
	"context"
	"fmt"

	"scout/internal/tools"
)

// CallChainTool resolves caller/callee chains for a method. The structural
// index lives in the IDE host, so execution is always REMOTE.
type CallChainTool struct{}

func (t *CallChainTool) Name() string { return "call_chain" }

func (t *CallChainTool) Description() string {
	return "Resolve the call chain of a method: who calls it, what it calls, or both, up to a given depth."
}

func (t *CallChainTool) Schema() tools.Schema {
	return tools.Schema{
		"method":        tools.StringSpec("Fully qualified method to analyse", true),
		"direction":     tools.StringSpec("Chain direction", true).WithEnum("callers", "callees", "both"),
		"depth":         tools.NumberSpec("Maximum chain depth", false).WithDefault(float64(3)),
		"includeSource": tools.BooleanSpec("Include source snippets for each hop", false).WithDefault(false),
	}
}

func (t *CallChainTool) Returns() string {
	return "A tree of call relationships, one hop per line."
}

func (t *CallChainTool) ExecutionMode(map[string]any) tools.ExecutionMode { return tools.ModeRemote }

func (t *CallChainTool) Execute(ctx context.Context, project tools.Project, params map[string]any) (string, error) {
	return "", fmt.Errorf("call_chain executes on the IDE host")
}
