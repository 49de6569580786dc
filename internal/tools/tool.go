// Package tools is the dispatch plane: a named registry of tools, parameter
// validation with primitive coercion, and a dispatcher that runs LOCAL tools
// on a bounded worker pool and forwards REMOTE tools to the IDE host over
// the bidirectional channel.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	scouterrors "scout/internal/errors"
)

// ExecutionMode says where a tool runs.
type ExecutionMode string

const (
	ModeLocal  ExecutionMode = "LOCAL"
	ModeRemote ExecutionMode = "REMOTE"
)

// ParamType is the declared type of one tool parameter.
type ParamType string

const (
	StringParam  ParamType = "string"
	NumberParam  ParamType = "number"
	BooleanParam ParamType = "boolean"
)

// ParamSpec declares one parameter.
type ParamSpec struct {
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// Schema maps parameter name to its spec.
type Schema map[string]*ParamSpec

// Project identifies the codebase a tool operates on.
type Project struct {
	Key  string
	Root string
}

// Result is the outcome of one tool execution.
type Result struct {
	Success         bool   `json:"success"`
	Result          string `json:"result"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
}

// Tool is one registered capability. Execute is only called for LOCAL
// tools; REMOTE tools are declared here for cataloguing and validation but
// run on the IDE host.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Returns() string
	ExecutionMode(params map[string]any) ExecutionMode
	Execute(ctx context.Context, project Project, params map[string]any) (string, error)
}

// StringSpec builds a string parameter.
func StringSpec(description string, required bool) *ParamSpec {
	return &ParamSpec{Type: StringParam, Description: description, Required: required}
}

// NumberSpec builds a numeric parameter.
func NumberSpec(description string, required bool) *ParamSpec {
	return &ParamSpec{Type: NumberParam, Description: description, Required: required}
}

// BooleanSpec builds a boolean parameter.
func BooleanSpec(description string, required bool) *ParamSpec {
	return &ParamSpec{Type: BooleanParam, Description: description, Required: required}
}

// WithDefault sets the default applied when the parameter is absent.
func (p *ParamSpec) WithDefault(value any) *ParamSpec {
	p.Default = value
	return p
}

// WithEnum constrains a string parameter to the listed values.
func (p *ParamSpec) WithEnum(values ...string) *ParamSpec {
	p.Enum = values
	return p
}

// ValidateParams checks required presence and coerces primitives in place:
// numeric strings become numbers, "true"/"false" become booleans, numbers
// render to strings where a string is declared. Unknown parameters are
// dropped. The returned map is a new, validated copy.
func ValidateParams(schema Schema, params map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(schema))
	for name, spec := range schema {
		raw, present := params[name]
		if !present || raw == nil {
			if spec.Required {
				return nil, scouterrors.New(scouterrors.KindInvalidArgument,
					fmt.Sprintf("missing required parameter %q", name))
			}
			if spec.Default != nil {
				validated[name] = spec.Default
			}
			continue
		}
		coerced, err := coerce(name, spec, raw)
		if err != nil {
			return nil, err
		}
		validated[name] = coerced
	}
	return validated, nil
}

func coerce(name string, spec *ParamSpec, raw any) (any, error) {
	switch spec.Type {
	case StringParam:
		switch v := raw.(type) {
		case string:
			if len(spec.Enum) > 0 && !containsString(spec.Enum, v) {
				return nil, scouterrors.New(scouterrors.KindInvalidArgument,
					fmt.Sprintf("parameter %q must be one of [%s]", name, strings.Join(spec.Enum, ", ")))
			}
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	case NumberParam:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return parsed, nil
			}
		}
	case BooleanParam:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	}
	return nil, scouterrors.New(scouterrors.KindInvalidArgument,
		fmt.Sprintf("parameter %q has wrong type: expected %s, got %T", name, spec.Type, raw))
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// RenderCatalog formats the registered tools for the system prompt: name,
// description, parameters with types, and the return shape.
func RenderCatalog(list []Tool) string {
	var b strings.Builder
	for _, tool := range list {
		fmt.Fprintf(&b, "### %s\n%s\n", tool.Name(), tool.Description())
		schema := tool.Schema()
		names := make([]string, 0, len(schema))
		for name := range schema {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := schema[name]
			requiredMark := ""
			if spec.Required {
				requiredMark = ", required"
			}
			fmt.Fprintf(&b, "- %s (%s%s): %s\n", name, spec.Type, requiredMark, spec.Description)
		}
		if returns := tool.Returns(); returns != "" {
			fmt.Fprintf(&b, "Returns: %s\n", returns)
		}
		b.WriteString("\n")
	}
	return b.String()
}
