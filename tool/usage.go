package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/events"
	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/tool/cache"
)

// similarityThreshold 模糊匹配接受阈值，严格大于才命中
const similarityThreshold = 0.85

// openaiBiggerModels 这些模型解析能力更强，给更少的解析重试
var openaiBiggerModels = map[string]struct{}{
	"gpt-4": {}, "gpt-4o": {}, "o1-preview": {}, "o1-mini": {}, "o1": {}, "o3": {}, "o3-mini": {},
}

// Request 一次工具调用请求
type Request struct {
	Name   string
	Args   map[string]any
	CallID string
}

// Result 一次工具调用的观察结果。
// 失败同样以文本返回给推理循环，ErrKind 标记分类。
type Result struct {
	Output        string
	IsFinalAnswer bool
	FromCache     bool
	ErrKind       ErrorKind
}

// lastCall 重复调用检测的记录
type lastCall struct {
	name string
	args string
}

// UsageEngine 管理一次 Agent 任务内的工具使用生命周期：
// 选择（模糊匹配）→ 清理 → 校验 → 执行 → 缓存 → 发事件。
type UsageEngine struct {
	tools        []*Tool
	cache        cache.Cache
	bus          *events.Bus
	logger       *zap.Logger
	descriptions string
	names        string

	// MaxParsingAttempts 解析失败的最大重试次数
	MaxParsingAttempts int
	// RememberFormatAfterUsages 每隔多少次工具调用追加一次格式提醒
	RememberFormatAfterUsages int

	last      *lastCall
	usedTools int
}

// NewUsageEngine 创建使用引擎。解析预算随模型能力调整。
func NewUsageEngine(tools []*Tool, c cache.Cache, bus *events.Bus, model string, logger *zap.Logger) *UsageEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxParsing, rememberAfter := 3, 3
	if _, ok := openaiBiggerModels[model]; ok {
		maxParsing, rememberAfter = 2, 4
	}
	return &UsageEngine{
		tools:                     tools,
		cache:                     c,
		bus:                       bus,
		logger:                    logger.With(zap.String("component", "tool_usage")),
		descriptions:              RenderDescriptions(tools),
		names:                     Names(tools),
		MaxParsingAttempts:        maxParsing,
		RememberFormatAfterUsages: rememberAfter,
	}
}

// Tools 返回引擎持有的工具集
func (e *UsageEngine) Tools() []*Tool { return e.tools }

// Descriptions 渲染好的工具说明
func (e *UsageEngine) Descriptions() string { return e.descriptions }

// ToolNames 逗号分隔的工具名
func (e *UsageEngine) ToolNames() string { return e.names }

// UsedTools 本任务内工具调用次数
func (e *UsageEngine) UsedTools() int { return e.usedTools }

// Use 执行一次完整的工具使用。任何失败都转成观察文本，循环可以继续。
func (e *UsageEngine) Use(ctx context.Context, req Request) Result {
	argsJSON, _ := json.Marshal(req.Args)
	e.emitStarted(ctx, req.Name, string(argsJSON))
	started := time.Now()

	// 选择
	selected, err := e.selectTool(req.Name)
	if err != nil {
		var ue *UsageError
		if u, ok := err.(*UsageError); ok {
			ue = u
		} else {
			ue = &UsageError{Kind: ErrKindSelection, Tool: req.Name, Message: err.Error()}
		}
		return e.fail(ctx, req.Name, ue)
	}

	// 重复调用检测：同名同参直接返回合成观察，不再执行
	if e.isRepeated(selected.Name, string(argsJSON)) {
		obs := fmt.Sprintf(
			"I just used the %s tool with the same input. I need to try a different approach or use a different tool.",
			selected.Name)
		e.emitFinished(ctx, selected.Name, time.Since(started), false)
		return Result{Output: e.formatResult(obs), IsFinalAnswer: selected.ResultAsAnswer}
	}

	args := CleanArgs(req.Args)

	// 校验
	if err := selected.ValidateArgs(args); err != nil {
		ue := err.(*UsageError)
		return e.fail(ctx, selected.Name, ue)
	}

	// 缓存读取
	key := cache.Key(sanitizeToolName(selected.Name), args)
	if e.cache != nil {
		if cached, ok := e.cache.Read(ctx, key); ok {
			e.remember(selected.Name, string(argsJSON))
			e.emitFinished(ctx, selected.Name, time.Since(started), true)
			metrics.ToolExecutionsTotal.WithLabelValues(selected.Name, "cache_hit").Inc()
			return Result{
				Output:        e.formatResult(cached),
				IsFinalAnswer: selected.ResultAsAnswer,
				FromCache:     true,
			}
		}
	}

	// 执行（含使用上限检查）
	value, err := selected.Invoke(ctx, args)
	if err != nil {
		if ue, ok := err.(*UsageError); ok {
			return e.fail(ctx, selected.Name, ue)
		}
		return e.fail(ctx, selected.Name, &UsageError{
			Kind:    ErrKindExecution,
			Tool:    selected.Name,
			Message: fmt.Sprintf("Tool execution error: %s", err),
		})
	}

	output := stringify(value)

	// 缓存写入
	if e.cache != nil {
		shouldCache := selected.ShouldCache == nil || selected.ShouldCache(args, value)
		if shouldCache {
			e.cache.Write(ctx, key, output)
		}
	}

	e.remember(selected.Name, string(argsJSON))
	duration := time.Since(started)
	e.emitFinished(ctx, selected.Name, duration, false)
	metrics.ToolExecutionsTotal.WithLabelValues(selected.Name, "ok").Inc()
	metrics.ToolDuration.WithLabelValues(selected.Name).Observe(duration.Seconds())

	return Result{Output: e.formatResult(output), IsFinalAnswer: selected.ResultAsAnswer}
}

// selectTool 精确匹配优先，否则取相似度最高且严格大于阈值的工具
func (e *UsageEngine) selectTool(name string) (*Tool, error) {
	sanitized := sanitizeToolName(name)

	for _, t := range e.tools {
		if sanitizeToolName(t.Name) == sanitized {
			return t, nil
		}
	}

	var best *Tool
	bestRatio := 0.0
	for _, t := range e.tools {
		ratio := similarityRatio(sanitizeToolName(t.Name), sanitized)
		if ratio > bestRatio {
			bestRatio = ratio
			best = t
		}
	}
	if bestRatio > similarityThreshold && best != nil {
		return best, nil
	}

	var msg string
	if strings.TrimSpace(name) == "" {
		msg = fmt.Sprintf("I forgot the Action name, these are the only available Actions: %s", e.descriptions)
	} else {
		msg = fmt.Sprintf("Action '%s' doesn't exist, these are the only available Actions:\n%s", name, e.descriptions)
	}
	return nil, &UsageError{Kind: ErrKindSelection, Tool: name, Message: msg}
}

func (e *UsageEngine) isRepeated(name, argsJSON string) bool {
	return e.last != nil &&
		sanitizeToolName(e.last.name) == sanitizeToolName(name) &&
		e.last.args == argsJSON
}

func (e *UsageEngine) remember(name, argsJSON string) {
	e.last = &lastCall{name: name, args: argsJSON}
}

// formatResult 递增使用计数，按需追加格式提醒
func (e *UsageEngine) formatResult(result string) string {
	e.usedTools++
	if e.RememberFormatAfterUsages > 0 && e.usedTools%e.RememberFormatAfterUsages == 0 {
		return fmt.Sprintf("%s\n\nRemember to use the correct tool format. Available tools: %s", result, e.names)
	}
	return result
}

func (e *UsageEngine) fail(ctx context.Context, toolName string, ue *UsageError) Result {
	e.logger.Warn("tool usage failed",
		zap.String("tool", toolName),
		zap.String("kind", string(ue.Kind)),
		zap.String("error", ue.Message))
	e.emitError(ctx, toolName, ue)
	metrics.ToolExecutionsTotal.WithLabelValues(toolName, string(ue.Kind)).Inc()
	return Result{Output: e.formatResult(ue.Message), ErrKind: ue.Kind}
}

func (e *UsageEngine) emitStarted(ctx context.Context, name, args string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, e, &events.ToolUsageStartedEvent{ToolName: name, ToolArgs: args})
}

func (e *UsageEngine) emitFinished(ctx context.Context, name string, d time.Duration, fromCache bool) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, e, &events.ToolUsageFinishedEvent{ToolName: name, Duration: d, FromCache: fromCache})
}

func (e *UsageEngine) emitError(ctx context.Context, name string, ue *UsageError) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, e, &events.ToolUsageErrorEvent{ToolName: name, Kind: events.ToolErrorKind(ue.Kind), Error: ue.Message})
}

// stringify 把工具返回值转成观察文本
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	}
}

// BindInput 把 ReAct 的 Action Input 文本绑定为参数表：
// 合法 JSON 对象直接使用；否则整段绑定到 schema 的第一个字段；
// schema 为空时绑定为 {"input": ...}。
func BindInput(t *Tool, raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "\"")
	if raw == "" {
		return map[string]any{}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}

	if t != nil {
		if field := t.FirstSchemaField(); field != "" {
			return map[string]any{field: raw}
		}
	}
	return map[string]any{"input": raw}
}

// FindForBinding 为输入绑定查找目标工具（与 selectTool 相同的匹配规则）
func (e *UsageEngine) FindForBinding(name string) *Tool {
	t, err := e.selectTool(name)
	if err != nil {
		return nil
	}
	return t
}
