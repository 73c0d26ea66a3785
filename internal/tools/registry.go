// Package tools keeps the registry of named tools the agent may invoke.
// Execution happens on the backend; the server only announces the registry
// at connect time and gates approvals in the orchestrator.
package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aurelia-labs/voiceorb/internal/realtime"
)

// Registry is a mutex-guarded name-to-descriptor map.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]realtime.ToolDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]realtime.ToolDescriptor)}
}

// Register adds or replaces a tool descriptor.
func (r *Registry) Register(tool realtime.ToolDescriptor) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	tool.Name = name
	r.mu.Lock()
	r.tools[name] = tool
	r.mu.Unlock()
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (realtime.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []realtime.ToolDescriptor {
	r.mu.RLock()
	out := make([]realtime.ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
