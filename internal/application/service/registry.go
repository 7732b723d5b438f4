package service

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
)

var _ output.ToolRegistry = (*ToolRegistryImpl)(nil)

// parameterAcceptor is implemented by tools that can report which argument
// names their callable decodes.
type parameterAcceptor interface {
	AcceptedParameters() []string
}

type ToolRegistryImpl struct {
	mu    sync.RWMutex
	tools map[entity.ToolName]output.ToolPort
}

func NewToolRegistry() *ToolRegistryImpl {
	return &ToolRegistryImpl{
		tools: make(map[entity.ToolName]output.ToolPort),
	}
}

// Register adds a tool under its declaration name. It rejects duplicates
// and declarations whose parameters the callable would not accept.
func (r *ToolRegistryImpl) Register(tool output.ToolPort) error {
	decl := tool.Declaration()
	if decl.Name == "" {
		return fmt.Errorf("tool declaration has empty name")
	}
	if err := checkDeclaration(tool, decl); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[decl.Name]; exists {
		return fmt.Errorf("tool %q already registered", decl.Name)
	}
	r.tools[decl.Name] = tool
	return nil
}

func checkDeclaration(tool output.ToolPort, decl entity.ToolDefinition) error {
	declared := decl.ParameterNames()
	for _, req := range decl.RequiredParameters() {
		if !slices.Contains(declared, req) {
			return fmt.Errorf("tool %q: required parameter %q is not declared", decl.Name, req)
		}
	}

	acceptor, ok := tool.(parameterAcceptor)
	if !ok {
		return nil
	}
	accepted := acceptor.AcceptedParameters()
	for _, name := range declared {
		if !slices.Contains(accepted, name) {
			return fmt.Errorf("tool %q: declared parameter %q is not accepted by the callable", decl.Name, name)
		}
	}
	return nil
}

func (r *ToolRegistryImpl) Get(name entity.ToolName) (output.ToolPort, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns tools sorted by name so declarations are stable across requests.
func (r *ToolRegistryImpl) All() []output.ToolPort {
	r.mu.RLock()
	result := make([]output.ToolPort, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

func (r *ToolRegistryImpl) Definitions() []entity.ToolDefinition {
	tools := r.All()
	result := make([]entity.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		result = append(result, tool.Declaration())
	}
	return result
}
