// Package builtin provides the core tool set: file reading, grep, file
// lookup, call-chain inspection and content edits, all scoped to one
// project root.
package builtin

import (
	"fmt"
	"path/filepath"
	"strings"

	"scout/internal/tools"
)

// resolvePath joins a relative path against the project root and rejects
// escapes.
func resolvePath(project tools.Project, relative string) (string, error) {
	if relative == "" {
		return "", fmt.Errorf("relative path is empty")
	}
	cleaned := filepath.Clean(relative)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("path %q escapes the project root", relative)
	}
	return filepath.Join(project.Root, cleaned), nil
}

func intParam(params map[string]any, name string, fallback int) int {
	if raw, ok := params[name]; ok {
		if f, ok := raw.(float64); ok {
			return int(f)
		}
	}
	return fallback
}

func stringParam(params map[string]any, name string) string {
	if raw, ok := params[name]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

func boolParam(params map[string]any, name string, fallback bool) bool {
	if raw, ok := params[name]; ok {
		if b, ok := raw.(bool); ok {
			return b
		}
	}
	return fallback
}
