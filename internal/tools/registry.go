package tools

import (
	"sort"
	"sync"

	"scout/internal/logging"
)

// Registry holds the named tool set. Read-mostly: registration happens at
// startup, lookups happen on every dispatch.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
	logger logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Tool),
		logger: logging.NewComponentLogger("ToolRegistry"),
	}
}

// Register adds a tool. Idempotent by name; re-registration replaces.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[tool.Name()]; exists {
		r.logger.Debug("Replacing tool registration: %s", tool.Name())
	}
	r.byName[tool.Name()] = tool
}

// Get resolves a tool by name; nil when unknown.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// List returns every registered tool, sorted by name for stable catalogs.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Tool, 0, len(r.byName))
	for _, tool := range r.byName {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Describe renders the full catalog for prompt assembly.
func (r *Registry) Describe() string {
	return RenderCatalog(r.List())
}
