package builtin

import "scout/internal/tools"

// RegisterAll installs the core tool set into the registry.
func RegisterAll(registry *tools.Registry) {
	registry.Register(&ReadFileTool{})
	registry.Register(&GrepFileTool{})
	registry.Register(&FindFileTool{})
	registry.Register(&CallChainTool{})
	registry.Register(&ApplyChangeTool{})
}
