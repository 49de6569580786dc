package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"scout/internal/tools"
)

// maxReadBytes caps how much of a file one call returns.
const maxReadBytes = 256 * 1024

// ReadFileTool returns file contents, optionally a line range.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file in the project. Optionally restrict to a 1-based line range."
}

func (t *ReadFileTool) Schema() tools.Schema {
	return tools.Schema{
		"relativePath": tools.StringSpec("Path relative to the project root", true),
		"startLine":    tools.NumberSpec("First line to include, 1-based", false),
		"endLine":      tools.NumberSpec("Last line to include, inclusive", false),
	}
}

func (t *ReadFileTool) Returns() string {
	return "The file contents with line numbers."
}

func (t *ReadFileTool) ExecutionMode(map[string]any) tools.ExecutionMode { return tools.ModeLocal }

func (t *ReadFileTool) Execute(ctx context.Context, project tools.Project, params map[string]any) (string, error) {
	path, err := resolvePath(project, stringParam(params, "relativePath"))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", stringParam(params, "relativePath"), err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	lines := strings.Split(string(data), "\n")
	start := intParam(params, "startLine", 1)
	end := intParam(params, "endLine", len(lines))
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("invalid line range %d..%d for %d lines", start, end, len(lines))
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, lines[i-1])
	}
	return b.String(), nil
}
