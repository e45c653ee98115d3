package tool

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/llm"
)

// Registry 工具注册中心。名称在同一调用上下文内唯一。
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry 创建注册中心
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册工具，重名报错
func (r *Registry) Register(t *Tool) error {
	if t == nil || strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	r.logger.Info("tool registered", zap.String("name", t.Name))
	return nil
}

// Get 按名取出工具
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List 按注册顺序返回全部工具
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Select 按白名单过滤，名单为空时返回全部
func (r *Registry) Select(names []string) []*Tool {
	if len(names) == 0 {
		return r.List()
	}
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[strings.TrimSpace(n)] = struct{}{}
	}
	var out []*Tool
	for _, t := range r.List() {
		if _, ok := allowed[t.Name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Schemas 转换为 LLM 工具描述
func Schemas(tools []*Tool) []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(tools))
	for _, t := range tools {
		out = append(out, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.ArgsSchema,
		})
	}
	return out
}

// RenderDescriptions 渲染工具说明文本，供 ReAct 提示词使用
func RenderDescriptions(tools []*Tool) string {
	parts := make([]string, 0, len(tools))
	for _, t := range tools {
		entry := fmt.Sprintf("%s: %s", t.Name, t.Description)
		if len(t.ArgsSchema) > 0 {
			entry += fmt.Sprintf(" | Args: %s", string(t.ArgsSchema))
		}
		parts = append(parts, entry)
	}
	return strings.Join(parts, "\n--\n")
}

// Names 逗号分隔的工具名列表
func Names(tools []*Tool) string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}
