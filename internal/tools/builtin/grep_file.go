package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"scout/internal/tools"
)

// GrepFileTool searches file contents by literal or regex pattern.
type GrepFileTool struct{}

func (t *GrepFileTool) Name() string { return "grep_file" }

func (t *GrepFileTool) Description() string {
	return "Search file contents for a pattern. Searches one file when relativePath is given, otherwise the whole project."
}

func (t *GrepFileTool) Schema() tools.Schema {
	return tools.Schema{
		"pattern":       tools.StringSpec("Text or regular expression to search for", true),
		"relativePath":  tools.StringSpec("Restrict the search to this file", false),
		"regex":         tools.BooleanSpec("Treat pattern as a regular expression", false).WithDefault(false),
		"caseSensitive": tools.BooleanSpec("Match case exactly", false).WithDefault(false),
		"contextLines":  tools.NumberSpec("Lines of context around each match", false).WithDefault(float64(0)),
		"limit":         tools.NumberSpec("Maximum number of matches", false).WithDefault(float64(50)),
	}
}

func (t *GrepFileTool) Returns() string {
	return "Matching lines as path:lineNumber: text, with optional context."
}

func (t *GrepFileTool) ExecutionMode(map[string]any) tools.ExecutionMode { return tools.ModeLocal }

func (t *GrepFileTool) Execute(ctx context.Context, project tools.Project, params map[string]any) (string, error) {
	pattern := stringParam(params, "pattern")
	useRegex := boolParam(params, "regex", false)
	caseSensitive := boolParam(params, "caseSensitive", false)
	contextLines := intParam(params, "contextLines", 0)
	limit := intParam(params, "limit", 50)
	if limit <= 0 {
		limit = 50
	}

	var matcher func(line string) bool
	if useRegex {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return "", fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		matcher = re.MatchString
	} else {
		needle := pattern
		if !caseSensitive {
			needle = strings.ToLower(needle)
			matcher = func(line string) bool { return strings.Contains(strings.ToLower(line), needle) }
		} else {
			matcher = func(line string) bool { return strings.Contains(line, needle) }
		}
	}

	var files []string
	if relative := stringParam(params, "relativePath"); relative != "" {
		path, err := resolvePath(project, relative)
		if err != nil {
			return "", err
		}
		files = []string{path}
	} else {
		if err := filepath.WalkDir(project.Root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			files = append(files, path)
			return nil
		}); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	total := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		total += grepOne(path, project.Root, matcher, contextLines, limit-total, &b)
		if total >= limit {
			break
		}
	}
	if total == 0 {
		return "No matches found.", nil
	}
	return b.String(), nil
}

func grepOne(path, root string, matcher func(string) bool, contextLines, budget int, out *strings.Builder) int {
	if budget <= 0 {
		return 0
	}
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	relative, err := filepath.Rel(root, path)
	if err != nil {
		relative = path
	}

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	found := 0
	for i, line := range lines {
		if !matcher(line) {
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i + contextLines
		if end >= len(lines) {
			end = len(lines) - 1
		}
		for j := start; j <= end; j++ {
			marker := "-"
			if j == i {
				marker = ":"
			}
			fmt.Fprintf(out, "%s:%d%s %s\n", relative, j+1, marker, lines[j])
		}
		found++
		if found >= budget {
			break
		}
	}
	return found
}

func skipDir(name string) bool {
	switch name {
	case ".git", "node_modules", "vendor", "target", "build", ".idea", "dist":
		return true
	}
	return false
}
