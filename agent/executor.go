package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/events"
	"github.com/BaSui01/crewflow/internal/ctxkeys"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/tool"
)

// State 执行器状态机
type State string

const (
	StateIdle         State = "idle"
	StateThinking     State = "thinking"
	StateToolDispatch State = "tool_dispatch"
	StateObserve      State = "observe"
	StateFinal        State = "final"
	StateTimedOut     State = "timed_out"
	StateFatalError   State = "fatal_error"
)

// ErrTimedOut 任务超时。Result 携带尽力而为的部分输出。
var ErrTimedOut = errors.New("agent execution timed out")

// FatalError 不可恢复的执行器错误（LLM 重试耗尽等）
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal executor error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// defaultMaxFormatFailures 连续格式失败多少次后强制终止
const defaultMaxFormatFailures = 3

// Step 推理循环的一步，供回调与追踪使用
type Step struct {
	Iteration   int    `json:"iteration"`
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action,omitempty"`
	ActionInput string `json:"action_input,omitempty"`
	Observation string `json:"observation,omitempty"`
	Text        string `json:"text,omitempty"`
}

// StepCallback 每步回调
type StepCallback func(step Step)

// HumanInputFunc 人工反馈钩子。执行结束后调用；返回非空反馈时执行器继续。
type HumanInputFunc func(ctx context.Context, output string) (string, error)

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	MaxIter           int
	MaxFormatFailures int
	StepCallback      StepCallback
	HumanInput        HumanInputFunc
	// RPMWait 限流等待钩子，每次 LLM 调用前调用
	RPMWait func(ctx context.Context) error
}

// Result 执行器终态输出
type Result struct {
	Output         string        `json:"output"`
	ReasoningTrace []Step        `json:"reasoning_trace,omitempty"`
	Messages       []llm.Message `json:"messages"`
	Usage          llm.Usage     `json:"usage"`
}

// Executor 有界推理循环：交替进行 LLM 调用与工具执行直至给出终答。
// 两种分发模式（ReAct 文本解析 / 原生工具调用）在循环开始时决定一次。
type Executor struct {
	agent  *Agent
	client *llm.Client
	engine *tool.UsageEngine
	bus    *events.Bus
	cfg    ExecutorConfig
	logger *zap.Logger

	state          State
	messages       []llm.Message
	iterations     int
	formatFailures int
	trace          []Step
	humanAsked     bool
}

// NewExecutor 创建执行器。engine 可为 nil（纯文本补全）。
func NewExecutor(a *Agent, client *llm.Client, engine *tool.UsageEngine, bus *events.Bus, cfg ExecutorConfig) *Executor {
	if cfg.MaxIter == 0 {
		cfg.MaxIter = a.Config().MaxIter
	}
	if cfg.MaxFormatFailures == 0 {
		cfg.MaxFormatFailures = defaultMaxFormatFailures
	}
	return &Executor{
		agent:  a,
		client: client,
		engine: engine,
		bus:    bus,
		cfg:    cfg,
		logger: a.Logger().With(zap.String("component", "executor")),
		state:  StateIdle,
	}
}

// State 当前状态
func (e *Executor) State() State { return e.state }

// Iterations 已完成的迭代数
func (e *Executor) Iterations() int { return e.iterations }

// Messages 消息缓冲区，由执行器独占
func (e *Executor) Messages() []llm.Message { return e.messages }

// Invoke 驱动循环直至终态
func (e *Executor) Invoke(ctx context.Context, prompt Prompt) (*Result, error) {
	if events.ScopeFrom(ctx) == nil {
		ctx = events.WithScope(ctx, events.NewScope())
	}
	ctx = ctxkeys.WithAgentRole(ctx, e.agent.Role())

	usageBefore := e.client.Usage()

	e.messages = nil
	if prompt.System != "" {
		e.messages = append(e.messages, llm.Message{Role: llm.RoleSystem, Content: prompt.System})
	}
	e.messages = append(e.messages, llm.Message{Role: llm.RoleUser, Content: prompt.User})

	hasTools := e.engine != nil && len(e.engine.Tools()) > 0
	native := e.client.SupportsFunctionCalling() && !e.agent.Config().ForceTextReasoning

	e.emit(ctx, &events.AgentExecutionStartedEvent{
		AgentKey:   e.agent.Key(),
		TaskPrompt: prompt.User,
		Tools:      e.toolNames(),
	})

	result, err := e.loop(ctx, native, hasTools)
	result.Usage = usageDelta(usageBefore, e.client.Usage())
	result.Messages = e.messages
	result.ReasoningTrace = e.trace

	if err != nil {
		e.emit(ctx, &events.AgentExecutionErrorEvent{AgentKey: e.agent.Key(), Error: err.Error()})
		return result, err
	}
	e.emit(ctx, &events.AgentExecutionCompletedEvent{AgentKey: e.agent.Key(), Output: result.Output})
	return result, nil
}

// loop 主循环
func (e *Executor) loop(ctx context.Context, native, hasTools bool) (*Result, error) {
	for {
		if err := e.checkCancelled(ctx); err != nil {
			return &Result{Output: e.lastAssistantText()}, err
		}

		// 迭代预算用尽：合成收束调用
		if e.iterations >= e.cfg.MaxIter {
			return e.forceFinalAnswer(ctx)
		}

		e.state = StateThinking
		e.emit(ctx, &events.AgentExecutionStepEvent{
			AgentKey:  e.agent.Key(),
			Iteration: e.iterations,
			State:     string(e.state),
		})

		var tools []llm.ToolSchema
		if native && hasTools {
			tools = tool.Schemas(e.engine.Tools())
		}
		resp, err := e.callLLM(ctx, tools)
		if err != nil {
			if ctxErr := e.checkCancelled(ctx); ctxErr != nil {
				return &Result{Output: e.lastAssistantText()}, ctxErr
			}
			e.state = StateFatalError
			return &Result{Output: e.lastAssistantText()}, &FatalError{Err: err}
		}

		var final *string
		if native {
			final, err = e.stepNative(ctx, resp)
		} else {
			final, err = e.stepText(ctx, resp)
		}
		if err != nil {
			return &Result{Output: e.lastAssistantText()}, err
		}

		e.iterations++
		e.agent.IncrementIterations()

		if final != nil {
			if cont := e.maybeHumanInput(ctx, *final); cont {
				continue
			}
			e.state = StateFinal
			return &Result{Output: *final}, nil
		}
	}
}

// stepText ReAct 文本模式的单步路由
func (e *Executor) stepText(ctx context.Context, resp *llm.Response) (*string, error) {
	action, finish, err := Parse(resp.Text)

	step := Step{Iteration: e.iterations, Text: resp.Text}

	if err != nil {
		// 格式失败：注入提醒后继续；连续多次后以最后文本强制终止
		e.formatFailures++
		e.trace = append(e.trace, step)
		if e.formatFailures >= e.cfg.MaxFormatFailures {
			out := resp.Text
			return &out, nil
		}
		e.appendMessage(llm.RoleAssistant, resp.Text)
		e.appendMessage(llm.RoleUser, err.Error())
		e.invokeStepCallback(step)
		return nil, nil
	}
	e.formatFailures = 0

	if finish != nil {
		step.Thought = finish.Thought
		e.trace = append(e.trace, step)
		e.appendMessage(llm.RoleAssistant, resp.Text)
		e.invokeStepCallback(step)
		return &finish.Output, nil
	}

	// 工具分发
	e.state = StateToolDispatch
	step.Thought = action.Thought
	step.Action = action.Tool
	step.ActionInput = action.ToolInput

	if e.engine == nil {
		// 没有配置工具却要求 Action，注入观察让模型改走终答
		obs := "Observation: you have no tools available. Give your Final Answer directly."
		e.trace = append(e.trace, step)
		e.appendMessage(llm.RoleAssistant, resp.Text)
		e.appendMessage(llm.RoleUser, obs)
		e.invokeStepCallback(step)
		return nil, nil
	}

	target := e.engine.FindForBinding(action.Tool)
	args := tool.BindInput(target, action.ToolInput)
	res := e.engine.Use(ctx, tool.Request{Name: action.Tool, Args: args})
	if res.ErrKind != "" {
		e.agent.IncrementToolErrors()
	}

	e.state = StateObserve
	step.Observation = res.Output
	e.trace = append(e.trace, step)

	e.appendMessage(llm.RoleAssistant, resp.Text)
	e.appendMessage(llm.RoleUser, "Observation: "+res.Output)
	e.invokeStepCallback(step)

	if res.IsFinalAnswer {
		out := res.Output
		return &out, nil
	}
	return nil, nil
}

// stepNative 原生工具调用模式的单步路由。
// result_as_answer 在第一个命中的结果处短路，后续调用不再执行。
func (e *Executor) stepNative(ctx context.Context, resp *llm.Response) (*string, error) {
	step := Step{Iteration: e.iterations, Text: resp.Text, Thought: resp.Text}

	if len(resp.ToolCalls) == 0 || e.engine == nil {
		e.trace = append(e.trace, step)
		e.appendMessage(llm.RoleAssistant, resp.Text)
		e.invokeStepCallback(step)
		out := resp.Text
		return &out, nil
	}

	e.state = StateToolDispatch
	e.messages = append(e.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	})

	var shortCircuit *string
	for _, call := range resp.ToolCalls {
		var args map[string]any
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				args = map[string]any{"input": string(call.Arguments)}
			}
		}

		res := e.engine.Use(ctx, tool.Request{Name: call.Name, Args: args, CallID: call.ID})
		if res.ErrKind != "" {
			e.agent.IncrementToolErrors()
		}

		e.messages = append(e.messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    res.Output,
		})

		step.Action = call.Name
		step.ActionInput = string(call.Arguments)
		step.Observation = res.Output

		if res.IsFinalAnswer {
			out := res.Output
			shortCircuit = &out
			break
		}
	}

	e.state = StateObserve
	e.trace = append(e.trace, step)
	e.invokeStepCallback(step)
	return shortCircuit, nil
}

// forceFinalAnswer 迭代上限后的收束调用
func (e *Executor) forceFinalAnswer(ctx context.Context) (*Result, error) {
	e.appendMessage(llm.RoleUser, ForceFinalAnswerPrompt())

	resp, err := e.callLLM(ctx, nil)
	if err != nil {
		if ctxErr := e.checkCancelled(ctx); ctxErr != nil {
			return &Result{Output: e.lastAssistantText()}, ctxErr
		}
		e.state = StateFatalError
		return &Result{Output: e.lastAssistantText()}, &FatalError{Err: err}
	}

	output := resp.Text
	if _, finish, perr := Parse(resp.Text); perr == nil && finish != nil {
		output = finish.Output
	}
	e.appendMessage(llm.RoleAssistant, resp.Text)
	e.trace = append(e.trace, Step{Iteration: e.iterations, Text: resp.Text})
	e.state = StateFinal
	return &Result{Output: output}, nil
}

// callLLM 限流等待 + 事件 + 调用
func (e *Executor) callLLM(ctx context.Context, tools []llm.ToolSchema) (*llm.Response, error) {
	if e.cfg.RPMWait != nil {
		if err := e.cfg.RPMWait(ctx); err != nil {
			return nil, err
		}
	}

	e.emit(ctx, &events.LLMCallStartedEvent{Model: e.client.Model(), Messages: len(e.messages)})
	resp, err := e.client.Call(ctx, e.messages, tools)
	if err != nil {
		e.emit(ctx, &events.LLMCallFailedEvent{Model: e.client.Model(), Error: err.Error()})
		return nil, err
	}
	e.emit(ctx, &events.LLMCallCompletedEvent{Model: e.client.Model(), Usage: resp.Usage})
	return resp, nil
}

// maybeHumanInput 终答后的人工反馈暂停点。反馈非空时执行器继续。
func (e *Executor) maybeHumanInput(ctx context.Context, output string) bool {
	if e.cfg.HumanInput == nil || e.humanAsked {
		return false
	}
	e.humanAsked = true

	feedback, err := e.cfg.HumanInput(ctx, output)
	if err != nil || strings.TrimSpace(feedback) == "" {
		return false
	}
	e.appendMessage(llm.RoleUser, "Human feedback: "+feedback)
	return true
}

func (e *Executor) checkCancelled(ctx context.Context) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.state = StateTimedOut
		return ErrTimedOut
	default:
		e.state = StateFatalError
		return &FatalError{Err: ctx.Err()}
	}
}

func (e *Executor) appendMessage(role llm.Role, content string) {
	e.messages = append(e.messages, llm.Message{Role: role, Content: content})
}

func (e *Executor) lastAssistantText() string {
	for i := len(e.messages) - 1; i >= 0; i-- {
		if e.messages[i].Role == llm.RoleAssistant && e.messages[i].Content != "" {
			return e.messages[i].Content
		}
	}
	return ""
}

func (e *Executor) invokeStepCallback(step Step) {
	if e.cfg.StepCallback != nil {
		e.cfg.StepCallback(step)
	}
}

func (e *Executor) toolNames() string {
	if e.engine == nil {
		return ""
	}
	return e.engine.ToolNames()
}

func (e *Executor) emit(ctx context.Context, ev events.Event) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(ctx, e.agent, ev)
}

// usageDelta 计算本次执行消耗的用量
func usageDelta(before, after llm.Usage) llm.Usage {
	return llm.Usage{
		PromptTokens:       after.PromptTokens - before.PromptTokens,
		CompletionTokens:   after.CompletionTokens - before.CompletionTokens,
		CachedPromptTokens: after.CachedPromptTokens - before.CachedPromptTokens,
		TotalTokens:        after.TotalTokens - before.TotalTokens,
		SuccessfulRequests: after.SuccessfulRequests - before.SuccessfulRequests,
	}
}
