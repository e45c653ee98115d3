package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// ErrorKind 工具失败分类
type ErrorKind string

const (
	ErrKindSelection  ErrorKind = "selection"  // 无匹配或相似度不足
	ErrKindValidation ErrorKind = "validation" // 参数不符合 schema
	ErrKindExecution  ErrorKind = "execution"  // 工具体执行失败
	ErrKindLimit      ErrorKind = "limit"      // 使用次数达到上限
)

// UsageError 工具使用错误，携带分类
type UsageError struct {
	Kind    ErrorKind
	Tool    string
	Message string
}

func (e *UsageError) Error() string { return e.Message }

// EnvVar 工具声明的环境变量依赖
type EnvVar struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}

// RunFunc 工具体签名
type RunFunc func(ctx context.Context, args map[string]any) (any, error)

// RunResult 异步执行结果
type RunResult struct {
	Value any
	Err   error
}

// Tool 把可调用体包装成带 schema 的工具。
// 调用计数只增不减；达到 MaxUsageCount 后调用失败且不执行工具体。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ArgsSchema  json.RawMessage `json:"args_schema,omitempty"`

	Run      RunFunc `json:"-"`
	RunAsync func(ctx context.Context, args map[string]any) <-chan RunResult `json:"-"`

	// MaxUsageCount 为 0 表示不限
	MaxUsageCount int `json:"max_usage_count,omitempty"`

	// ResultAsAnswer 为 true 时，执行器将以本工具输出作为最终答案短路返回
	ResultAsAnswer bool `json:"result_as_answer,omitempty"`

	// ShouldCache 决定结果是否写入缓存，nil 表示总是缓存
	ShouldCache func(args map[string]any, result any) bool `json:"-"`

	EnvVars []EnvVar `json:"env_vars,omitempty"`

	mu         sync.Mutex
	usageCount int
}

// UsageCount 返回当前调用计数
func (t *Tool) UsageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usageCount
}

// AtUsageLimit 判断是否已达上限
func (t *Tool) AtUsageLimit() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.MaxUsageCount > 0 && t.usageCount >= t.MaxUsageCount
}

// Invoke 执行工具体并递增计数。达到上限时返回 limit 错误且不执行。
func (t *Tool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	t.mu.Lock()
	if t.MaxUsageCount > 0 && t.usageCount >= t.MaxUsageCount {
		t.mu.Unlock()
		return nil, &UsageError{
			Kind: ErrKindLimit,
			Tool: t.Name,
			Message: fmt.Sprintf("Tool '%s' has reached its usage limit of %d times and cannot be used anymore.",
				sanitizeToolName(t.Name), t.MaxUsageCount),
		}
	}
	t.usageCount++
	t.mu.Unlock()

	if t.Run == nil {
		return nil, &UsageError{Kind: ErrKindExecution, Tool: t.Name, Message: fmt.Sprintf("tool %q has no run function", t.Name)}
	}
	return t.Run(ctx, args)
}

// InvokeAsync 异步执行。未提供 RunAsync 时包装同步路径。
func (t *Tool) InvokeAsync(ctx context.Context, args map[string]any) <-chan RunResult {
	if t.RunAsync != nil {
		t.mu.Lock()
		if t.MaxUsageCount > 0 && t.usageCount >= t.MaxUsageCount {
			t.mu.Unlock()
			ch := make(chan RunResult, 1)
			ch <- RunResult{Err: &UsageError{Kind: ErrKindLimit, Tool: t.Name, Message: fmt.Sprintf("Tool '%s' has reached its usage limit of %d times and cannot be used anymore.", sanitizeToolName(t.Name), t.MaxUsageCount)}}
			close(ch)
			return ch
		}
		t.usageCount++
		t.mu.Unlock()
		return t.RunAsync(ctx, args)
	}
	ch := make(chan RunResult, 1)
	go func() {
		v, err := t.Invoke(ctx, args)
		ch <- RunResult{Value: v, Err: err}
		close(ch)
	}()
	return ch
}

// FirstSchemaField 返回参数 schema 中声明的第一个属性名。
// ReAct 输入不是合法 JSON 时，整段文本绑定到这个字段。
func (t *Tool) FirstSchemaField() string {
	if len(t.ArgsSchema) == 0 {
		return ""
	}
	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(t.ArgsSchema, &schema); err != nil || len(schema.Properties) == 0 {
		return ""
	}
	// map 不保序，按属性名在原始 schema 里出现的位置取最早的一个
	raw := string(t.ArgsSchema)
	first, firstIdx := "", len(raw)
	for name := range schema.Properties {
		if idx := strings.Index(raw, `"`+name+`"`); idx >= 0 && idx < firstIdx {
			first, firstIdx = name, idx
		}
	}
	return first
}

// ValidateArgs 按 schema 的 required 列表做轻量校验
func (t *Tool) ValidateArgs(args map[string]any) error {
	if len(t.ArgsSchema) == 0 {
		return nil
	}
	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(t.ArgsSchema, &schema); err != nil {
		return nil
	}
	for _, field := range schema.Required {
		if _, ok := args[field]; !ok {
			return &UsageError{
				Kind:    ErrKindValidation,
				Tool:    t.Name,
				Message: fmt.Sprintf("missing required argument %q for tool %q", field, t.Name),
			}
		}
	}
	return nil
}
