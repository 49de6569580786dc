package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scout/internal/tools"
)

// maxFindResults caps find_file output.
const maxFindResults = 100

// FindFileTool locates files by name pattern.
type FindFileTool struct{}

func (t *FindFileTool) Name() string { return "find_file" }

func (t *FindFileTool) Description() string {
	return "Find files whose name matches a substring or glob pattern."
}

func (t *FindFileTool) Schema() tools.Schema {
	return tools.Schema{
		"pattern":     tools.StringSpec("Substring or glob matched against file names", true),
		"filePattern": tools.StringSpec("Additional glob filter, e.g. *.go", false),
	}
}

func (t *FindFileTool) Returns() string {
	return "Matching paths relative to the project root, one per line."
}

func (t *FindFileTool) ExecutionMode(map[string]any) tools.ExecutionMode { return tools.ModeLocal }

func (t *FindFileTool) Execute(ctx context.Context, project tools.Project, params map[string]any) (string, error) {
	pattern := stringParam(params, "pattern")
	filePattern := stringParam(params, "filePattern")

	var matches []string
	err := filepath.WalkDir(project.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		name := d.Name()
		if !nameMatches(name, pattern) {
			return nil
		}
		if filePattern != "" {
			if ok, _ := filepath.Match(filePattern, name); !ok {
				return nil
			}
		}
		relative, relErr := filepath.Rel(project.Root, path)
		if relErr != nil {
			relative = path
		}
		matches = append(matches, relative)
		if len(matches) >= maxFindResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "No files found.", nil
	}
	return fmt.Sprintf("%d files:\n%s", len(matches), strings.Join(matches, "\n")), nil
}

func nameMatches(name, pattern string) bool {
	if strings.ContainsAny(pattern, "*?[") {
		ok, _ := filepath.Match(pattern, name)
		return ok
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(pattern))
}
