package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	scouterrors "scout/internal/errors"
)

func TestValidateParamsCoercesPrimitives(t *testing.T) {
	schema := Schema{
		"count":   NumberSpec("n", true),
		"enabled": BooleanSpec("b", true),
		"name":    StringSpec("s", true),
	}
	validated, err := ValidateParams(schema, map[string]any{
		"count":   "42",
		"enabled": "true",
		"name":    "x",
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, validated["count"])
	assert.Equal(t, true, validated["enabled"])
	assert.Equal(t, "x", validated["name"])
}

func TestValidateParamsMissingRequired(t *testing.T) {
	schema := Schema{"name": StringSpec("s", true)}
	_, err := ValidateParams(schema, map[string]any{})
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindInvalidArgument))
	assert.Contains(t, err.Error(), "name")
}

func TestValidateParamsWrongType(t *testing.T) {
	schema := Schema{"count": NumberSpec("n", true)}
	_, err := ValidateParams(schema, map[string]any{"count": "not-a-number"})
	require.Error(t, err)
	assert.True(t, scouterrors.IsKind(err, scouterrors.KindInvalidArgument))
}

func TestValidateParamsAppliesDefaults(t *testing.T) {
	schema := Schema{"limit": NumberSpec("n", false).WithDefault(float64(50))}
	validated, err := ValidateParams(schema, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, validated["limit"])
}

func TestValidateParamsDropsUnknown(t *testing.T) {
	schema := Schema{"name": StringSpec("s", false)}
	validated, err := ValidateParams(schema, map[string]any{"name": "x", "extra": 1})
	require.NoError(t, err)
	_, present := validated["extra"]
	assert.False(t, present)
}

func TestValidateParamsEnum(t *testing.T) {
	schema := Schema{"direction": StringSpec("d", true).WithEnum("callers", "callees", "both")}
	_, err := ValidateParams(schema, map[string]any{"direction": "sideways"})
	require.Error(t, err)

	validated, err := ValidateParams(schema, map[string]any{"direction": "both"})
	require.NoError(t, err)
	assert.Equal(t, "both", validated["direction"])
}

type fakeTool struct {
	name string
	mode ExecutionMode
	fn   func(ctx context.Context, project Project, params map[string]any) (string, error)
}

func (f *fakeTool) Name() string                             { return f.name }
func (f *fakeTool) Description() string                      { return "fake tool " + f.name }
func (f *fakeTool) Schema() Schema                           { return Schema{} }
func (f *fakeTool) Returns() string                          { return "text" }
func (f *fakeTool) ExecutionMode(map[string]any) ExecutionMode { return f.mode }
func (f *fakeTool) Execute(ctx context.Context, project Project, params map[string]any) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, project, params)
	}
	return "ok", nil
}

func TestRegistryReplaceIsIdempotent(t *testing.T) {
	registry := NewRegistry()
	first := &fakeTool{name: "dup"}
	second := &fakeTool{name: "dup"}
	registry.Register(first)
	registry.Register(second)

	assert.Len(t, registry.List(), 1)
	assert.Same(t, Tool(second), registry.Get("dup"))
}

func TestRegistryListSorted(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "zeta"})
	registry.Register(&fakeTool{name: "alpha"})

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name())
	assert.Equal(t, "zeta", list[1].Name())
}

func TestRenderCatalogIncludesSchemas(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "sample"})
	catalog := registry.Describe()
	assert.Contains(t, catalog, "### sample")
	assert.Contains(t, catalog, "fake tool sample")
}
