package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"scout/internal/tools"
)

// ApplyChangeTool edits project files: with searchContent it replaces the
// unique occurrence, without it the file is created.
type ApplyChangeTool struct{}

func (t *ApplyChangeTool) Name() string { return "apply_change" }

func (t *ApplyChangeTool) Description() string {
	return "Apply a change to a file. Empty searchContent creates the file; otherwise searchContent must match exactly once and is replaced by replaceContent."
}

func (t *ApplyChangeTool) Schema() tools.Schema {
	return tools.Schema{
		"relativePath":   tools.StringSpec("File to create or modify", true),
		"searchContent":  tools.StringSpec("Exact content to replace; empty to create a new file", false),
		"replaceContent": tools.StringSpec("Content to write", true),
		"description":    tools.StringSpec("Short description of the change", false),
	}
}

func (t *ApplyChangeTool) Returns() string {
	return "A summary of the applied change with added/removed character counts."
}

func (t *ApplyChangeTool) ExecutionMode(map[string]any) tools.ExecutionMode { return tools.ModeLocal }

func (t *ApplyChangeTool) Execute(ctx context.Context, project tools.Project, params map[string]any) (string, error) {
	relative := stringParam(params, "relativePath")
	path, err := resolvePath(project, relative)
	if err != nil {
		return "", err
	}
	search := stringParam(params, "searchContent")
	replace := stringParam(params, "replaceContent")

	if search == "" {
		if _, statErr := os.Stat(path); statErr == nil {
			return "", fmt.Errorf("%s already exists; provide searchContent to modify it", relative)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("create parent dir: %w", err)
		}
		if err := os.WriteFile(path, []byte(replace), 0644); err != nil {
			return "", fmt.Errorf("create %s: %w", relative, err)
		}
		return fmt.Sprintf("Created %s (%d bytes)", relative, len(replace)), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", relative, err)
	}
	content := string(data)

	switch count := strings.Count(content, search); {
	case count == 0:
		return "", fmt.Errorf("searchContent not found in %s", relative)
	case count > 1:
		return "", fmt.Errorf("searchContent matches %d times in %s; it must be unique", count, relative)
	}

	updated := strings.Replace(content, search, replace, 1)
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", relative, err)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(content, updated, false)
	added, removed := 0, 0
	for _, diff := range diffs {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			added += len(diff.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(diff.Text)
		}
	}
	return fmt.Sprintf("Modified %s: +%d/-%d characters", relative, added, removed), nil
}
