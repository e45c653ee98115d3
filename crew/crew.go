package crew

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/events"
	"github.com/BaSui01/crewflow/internal/ctxkeys"
	"github.com/BaSui01/crewflow/internal/metrics"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/memory"
	"github.com/BaSui01/crewflow/task"
	"github.com/BaSui01/crewflow/tool"
	"github.com/BaSui01/crewflow/tool/cache"
)

// Process 任务调度方式
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
)

// 合成 manager 的身份
const (
	managerRole      = "Crew Manager"
	managerGoal      = "Manage the team to complete the task in the best way possible."
	managerBackstory = "You're a long time manager of a seasoned group of professionals. " +
		"Your job is to delegate work and coordinate your coworkers so the overall task gets done with excellence."
)

// BeforeKickoffFunc 启动前钩子，可变换输入表
type BeforeKickoffFunc func(inputs map[string]string) map[string]string

// AfterKickoffFunc 结束后钩子，可变换最终输出
type AfterKickoffFunc func(output *Output) *Output

// Config Crew 配置
type Config struct {
	Name    string        `json:"name" yaml:"name"`
	Agents  []*agent.Agent `json:"-" yaml:"-"`
	Tasks   []*task.Task   `json:"-" yaml:"-"`
	Process Process       `json:"process,omitempty" yaml:"process,omitempty"`
	Verbose bool          `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	// Providers 按名称注册的 LLM Provider，Agent 配置经解析表路由到这里
	Providers map[string]llm.Provider `json:"-" yaml:"-"`

	// Tools 工具池，任务/Agent 的白名单在其上筛选
	Tools []*tool.Tool `json:"-" yaml:"-"`

	// Memory 为 true 时启用上下文记忆（短期/实体在每个任务后更新）
	Memory   bool                      `json:"memory,omitempty" yaml:"memory,omitempty"`
	Memories *memory.ContextualMemory  `json:"-" yaml:"-"`

	// Cache 工具结果缓存，nil 时使用进程内缓存
	Cache cache.Cache `json:"-" yaml:"-"`

	MaxRPM int `json:"max_rpm,omitempty" yaml:"max_rpm,omitempty"`

	// 层级模式的 manager 配置，二选一；都为空时用 ManagerLLM 必填
	ManagerAgent *agent.Agent `json:"-" yaml:"-"`
	ManagerLLM   *llm.Config  `json:"-" yaml:"-"`

	// Planning 启动前先用 LLM 生成执行计划并注入各任务提示词
	Planning bool `json:"planning,omitempty" yaml:"planning,omitempty"`

	// 回调。回调不得修改任务表。
	BeforeKickoff []BeforeKickoffFunc `json:"-" yaml:"-"`
	AfterKickoff  []AfterKickoffFunc  `json:"-" yaml:"-"`
	TaskCallback  func(*task.Output)  `json:"-" yaml:"-"`
	StepCallback  agent.StepCallback  `json:"-" yaml:"-"`

	// HumanInput 人工反馈钩子，启用 human_input 的任务使用
	HumanInput agent.HumanInputFunc `json:"-" yaml:"-"`

	// GuardrailCritic 描述性守卫的评审协作者
	GuardrailCritic task.Critic `json:"-" yaml:"-"`

	Bus    *events.Bus `json:"-" yaml:"-"`
	Logger *zap.Logger `json:"-" yaml:"-"`
}

// Crew 一组 Agent 与任务表及其调度策略。
// 调度器持有任务表；任务以角色名引用 Agent，派发时解析。
type Crew struct {
	id  string
	cfg Config

	agentsByRole map[string]*agent.Agent
	clients      map[string]*llm.Client // agent key -> client
	manager      *agent.Agent

	toolCache cache.Cache
	crewRPM   *RPMController
	agentRPM  map[string]*RPMController

	bus    *events.Bus
	logger *zap.Logger
}

// New 创建并校验 Crew。配置错误（缺字段、未解析的 Agent 引用、
// 上下文依赖成环）在这里报出，运行期不会再出现。
func New(cfg Config) (*Crew, error) {
	if len(cfg.Tasks) == 0 {
		return nil, fmt.Errorf("crew requires at least one task")
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("crew requires at least one agent")
	}
	if cfg.Process == "" {
		cfg.Process = ProcessSequential
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "crew"), zap.String("crew", cfg.Name))

	c := &Crew{
		id:           uuid.NewString(),
		cfg:          cfg,
		agentsByRole: make(map[string]*agent.Agent, len(cfg.Agents)),
		clients:      make(map[string]*llm.Client, len(cfg.Agents)+1),
		agentRPM:     make(map[string]*RPMController),
		bus:          cfg.Bus,
		logger:       logger,
	}

	for _, a := range cfg.Agents {
		role := strings.TrimSpace(a.Role())
		if role == "" {
			return nil, fmt.Errorf("agent role must not be empty")
		}
		if _, dup := c.agentsByRole[strings.ToLower(role)]; dup {
			return nil, fmt.Errorf("duplicate agent role %q", role)
		}
		c.agentsByRole[strings.ToLower(role)] = a
		a.SetLogger(logger)

		client, err := c.buildClient(a.Config().LLM)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", role, err)
		}
		a.SetLLM(client)
		c.clients[a.Key()] = client

		if a.Config().MaxRPM > 0 {
			c.agentRPM[a.Key()] = NewRPMController(a.Config().MaxRPM, logger)
		}
	}

	if err := c.validateTasks(); err != nil {
		return nil, err
	}

	if cfg.Process == ProcessHierarchical {
		if err := c.buildManager(); err != nil {
			return nil, err
		}
	}

	c.toolCache = cfg.Cache
	if c.toolCache == nil {
		c.toolCache = cache.NewInMemory()
	}
	if cfg.MaxRPM > 0 {
		c.crewRPM = NewRPMController(cfg.MaxRPM, logger)
	}
	return c, nil
}

// buildClient 按解析表为配置挑选 Provider 并构建句柄。
// 未显式传入 Providers 时退回进程级注册表。
func (c *Crew) buildClient(cfg llm.Config) (*llm.Client, error) {
	providerName, _ := llm.ResolveProvider(cfg)
	provider, ok := c.cfg.Providers[providerName]
	if !ok {
		provider, ok = llm.LookupProvider(providerName)
	}
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (model %q)", providerName, cfg.Model)
	}
	return llm.NewClient(provider, cfg, c.logger), nil
}

// validateTasks 任务表校验：ID 唯一、顺序模式下 Agent 引用可解析、
// 上下文只引用更早的任务（保证 DAG）。
func (c *Crew) validateTasks() error {
	seen := make(map[string]int, len(c.cfg.Tasks))
	for i, t := range c.cfg.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}

		if c.cfg.Process == ProcessSequential {
			if strings.TrimSpace(t.Agent) == "" {
				return fmt.Errorf("task %q has no agent assigned (sequential process requires one)", t.ID)
			}
			if _, ok := c.agentsByRole[strings.ToLower(strings.TrimSpace(t.Agent))]; !ok {
				return fmt.Errorf("task %q references unknown agent %q", t.ID, t.Agent)
			}
		}

		// 只允许引用更早的任务，上下文依赖因此必然是 DAG
		for _, dep := range t.Context {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("task %q context references %q which is not an earlier task", t.ID, dep)
			}
		}
		seen[t.ID] = i
	}
	return nil
}

// buildManager 装配层级模式的 manager agent
func (c *Crew) buildManager() error {
	if c.cfg.ManagerAgent != nil {
		c.manager = c.cfg.ManagerAgent
	} else {
		if c.cfg.ManagerLLM == nil {
			return fmt.Errorf("hierarchical process requires manager_llm or manager_agent")
		}
		c.manager = agent.New(agent.Config{
			Role:            managerRole,
			Goal:            managerGoal,
			Backstory:       managerBackstory,
			LLM:             *c.cfg.ManagerLLM,
			AllowDelegation: true,
		})
	}
	c.manager.SetLogger(c.logger)

	client, err := c.buildClient(c.manager.Config().LLM)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}
	c.manager.SetLLM(client)
	c.clients[c.manager.Key()] = client
	return nil
}

// ID 本次 Crew 实例 ID
func (c *Crew) ID() string { return c.id }

// Name 配置名
func (c *Crew) Name() string { return c.cfg.Name }

// Fingerprint 实现 events.Source
func (c *Crew) Fingerprint() string { return c.Key() }

// SourceType 实现 events.Source
func (c *Crew) SourceType() string { return "crew" }

// Key 稳定键：全体 Agent 键与任务键排序后的摘要
func (c *Crew) Key() string {
	keys := make([]string, 0, len(c.cfg.Agents)+len(c.cfg.Tasks))
	for _, a := range c.cfg.Agents {
		keys = append(keys, a.Key())
	}
	for _, t := range c.cfg.Tasks {
		keys = append(keys, t.Key())
	}
	sort.Strings(keys)
	sum := md5.Sum([]byte(strings.Join(keys, "|")))
	return hex.EncodeToString(sum[:])
}

// Usage 全体客户端的聚合用量
func (c *Crew) Usage() llm.Usage {
	var total llm.Usage
	for _, client := range c.clients {
		total.Add(client.Usage())
	}
	return total
}

// Kickoff 执行任务表直至完成，返回最终输出。
// 任务失败（重试耗尽）中止运行；已完成的输出保留在部分结果里。
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]string) (*Output, error) {
	for _, hook := range c.cfg.BeforeKickoff {
		inputs = hook(inputs)
	}

	// 输入插值
	for _, a := range c.cfg.Agents {
		a.InterpolateInputs(inputs)
	}
	for _, t := range c.cfg.Tasks {
		t.InterpolateInputs(inputs)
	}

	scope := events.NewScope()
	ctx = events.WithScope(ctx, scope)
	ctx = ctxkeys.WithCrewID(ctx, c.id)

	c.emit(ctx, &events.CrewKickoffStartedEvent{CrewName: c.cfg.Name, Inputs: inputs})
	c.logger.Info("starting crew execution",
		zap.Int("tasks", len(c.cfg.Tasks)),
		zap.String("process", string(c.cfg.Process)))

	planText := ""
	if c.cfg.Planning {
		planText = c.buildPlan(ctx)
	}

	output, err := c.runTasks(ctx, planText)
	if err != nil {
		c.emit(ctx, &events.CrewKickoffFailedEvent{CrewName: c.cfg.Name, Error: err.Error()})
		return output, err
	}

	for _, hook := range c.cfg.AfterKickoff {
		output = hook(output)
	}
	c.emit(ctx, &events.CrewKickoffCompletedEvent{CrewName: c.cfg.Name, Output: output.Raw})
	return output, nil
}

// KickoffAsync 异步启动，返回结果通道
func (c *Crew) KickoffAsync(ctx context.Context, inputs map[string]string) <-chan KickoffResult {
	ch := make(chan KickoffResult, 1)
	go func() {
		out, err := c.Kickoff(ctx, inputs)
		ch <- KickoffResult{Output: out, Err: err}
		close(ch)
	}()
	return ch
}

// KickoffResult 异步启动结果
type KickoffResult struct {
	Output *Output
	Err    error
}

// KickoffForEach 对每组输入执行一次独立运行（Copy 后执行）
func (c *Crew) KickoffForEach(ctx context.Context, inputsList []map[string]string) ([]*Output, error) {
	outputs := make([]*Output, 0, len(inputsList))
	for _, inputs := range inputsList {
		clone, err := c.Copy()
		if err != nil {
			return outputs, err
		}
		out, err := clone.Kickoff(ctx, inputs)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// Copy 复制一个全新状态的 Crew：新的 Agent 实例、任务副本、
// 全新缓存与用量。配置值共享。
func (c *Crew) Copy() (*Crew, error) {
	cfg := c.cfg
	cfg.Cache = nil

	agents := make([]*agent.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, agent.New(a.Config()))
	}
	cfg.Agents = agents

	tasks := make([]*task.Task, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		copied := *t
		copied.StartTime = time.Time{}
		copied.EndTime = time.Time{}
		copied.RetryCount = 0
		tasks = append(tasks, &copied)
	}
	cfg.Tasks = tasks
	return New(cfg)
}

// runTasks 逐个驱动任务，传播上下文，聚合用量
func (c *Crew) runTasks(ctx context.Context, planText string) (*Output, error) {
	completed := make([]task.Output, 0, len(c.cfg.Tasks))
	outputsByID := make(map[string]*task.Output, len(c.cfg.Tasks))

	type pendingAsync struct {
		t      *task.Task
		ctx    context.Context
		future <-chan task.ExecuteResult
	}
	var pending []pendingAsync

	drain := func() error {
		for _, p := range pending {
			res := <-p.future
			if res.Err != nil {
				return c.taskFailed(p.ctx, p.t, res.Err)
			}
			c.taskFinished(p.ctx, p.t, res.Output, &completed, outputsByID)
		}
		pending = nil
		return nil
	}

	var lastOutput *task.Output
	for _, t := range c.cfg.Tasks {
		// 条件任务
		if !t.ShouldExecute(lastOutput) {
			role := t.Agent
			skipped := t.SkippedOutput(role)
			c.logger.Info("task skipped by condition", zap.String("task", t.ID))
			completed = append(completed, *skipped)
			outputsByID[t.ID] = skipped
			lastOutput = skipped
			continue
		}

		executingAgent := c.resolveAgent(t)

		if t.Async {
			// 异步任务在自己的发射作用域里并发执行
			actx := events.WithScope(ctxkeys.WithTaskID(ctx, t.ID), events.NewScope())
			contextStr := c.buildContextSection(t, completed, outputsByID)
			c.emit(actx, &events.TaskStartedEvent{Description: t.Description, Context: contextStr})
			invoke := c.makeInvoke(t, executingAgent, contextStr, planText)
			pending = append(pending, pendingAsync{t: t, ctx: actx, future: t.ExecuteAsync(actx, executingAgent.Role(), invoke)})
			continue
		}

		// 同步任务先排空在途的异步任务
		if err := drain(); err != nil {
			return c.partialOutput(completed), err
		}

		contextStr := c.buildContextSection(t, completed, outputsByID)
		tctx := ctxkeys.WithTaskID(ctx, t.ID)
		c.emit(tctx, &events.TaskStartedEvent{Description: t.Description, Context: contextStr})
		started := time.Now()
		invoke := c.makeInvoke(t, executingAgent, contextStr, planText)

		out, err := t.ExecuteSync(tctx, executingAgent.Role(), invoke)
		metrics.TaskDuration.WithLabelValues(string(c.cfg.Process)).Observe(time.Since(started).Seconds())
		if err != nil {
			return c.partialOutput(completed), c.taskFailed(tctx, t, err)
		}

		c.taskFinished(tctx, t, out, &completed, outputsByID)
		lastOutput = out
	}

	if err := drain(); err != nil {
		return c.partialOutput(completed), err
	}

	if len(completed) == 0 {
		return nil, fmt.Errorf("crew produced no task outputs")
	}

	final := completed[len(completed)-1]
	return &Output{
		Raw:         final.Raw,
		JSON:        final.JSON,
		Structured:  final.Structured,
		TaskOutputs: completed,
		Usage:       c.sumTaskUsage(completed),
	}, nil
}

// taskFinished 记录输出、回调、记忆更新
func (c *Crew) taskFinished(ctx context.Context, t *task.Task, out *task.Output, completed *[]task.Output, byID map[string]*task.Output) {
	c.emit(ctx, &events.TaskCompletedEvent{Output: out.Raw})
	*completed = append(*completed, *out)
	byID[t.ID] = out

	if c.cfg.TaskCallback != nil {
		c.cfg.TaskCallback(out)
	}
	c.updateMemories(ctx, t, out)
}

func (c *Crew) taskFailed(ctx context.Context, t *task.Task, err error) error {
	c.emit(ctx, &events.TaskFailedEvent{Error: err.Error()})
	c.logger.Error("task failed", zap.String("task", t.ID), zap.Error(err))
	return fmt.Errorf("task %q failed: %w", t.ID, err)
}

// updateMemories 任务完成后写入短期与实体记忆
func (c *Crew) updateMemories(ctx context.Context, t *task.Task, out *task.Output) {
	if !c.cfg.Memory || c.cfg.Memories == nil {
		return
	}
	mctx := ctxkeys.WithAgentRole(ctx, out.Agent)
	if stm := c.cfg.Memories.ShortTerm; stm != nil {
		if err := stm.Save(mctx, out.Raw, memory.Metadata{"task": t.ID}); err != nil {
			c.logger.Warn("short-term memory save failed", zap.Error(err))
		}
	}
	if em := c.cfg.Memories.Entity; em != nil {
		if err := em.Save(mctx, out.Raw, memory.Metadata{"task": t.ID}); err != nil {
			c.logger.Warn("entity memory save failed", zap.Error(err))
		}
	}
}

// resolveAgent 顺序模式用任务指派的 Agent；层级模式统一交给 manager
func (c *Crew) resolveAgent(t *task.Task) *agent.Agent {
	if c.cfg.Process == ProcessHierarchical {
		return c.manager
	}
	return c.agentsByRole[strings.ToLower(strings.TrimSpace(t.Agent))]
}

// buildContextSection 显式 context 用指定任务输出，否则串联全部已完成输出
func (c *Crew) buildContextSection(t *task.Task, completed []task.Output, byID map[string]*task.Output) string {
	var parts []string
	if len(t.Context) > 0 {
		for _, id := range t.Context {
			if out, ok := byID[id]; ok && out.Raw != "" {
				parts = append(parts, formatContextEntry(out))
			}
		}
	} else {
		for i := range completed {
			if completed[i].Raw != "" {
				parts = append(parts, formatContextEntry(&completed[i]))
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// formatContextEntry 输出携带产出 Agent 标识，后续任务可以归因
func formatContextEntry(out *task.Output) string {
	return fmt.Sprintf("%s\n(output from %s)", out.Raw, out.Agent)
}

// makeInvoke 为一个任务构建执行闭包：装配工具、委派、限流、记忆检索。
// 守卫重试的多次调用共享一个用量累计，任务输出携带全部尝试的消耗。
func (c *Crew) makeInvoke(t *task.Task, executingAgent *agent.Agent, contextStr, planText string) task.InvokeFunc {
	var attemptsUsage llm.Usage
	return func(ctx context.Context, feedback []string) (*agent.Result, error) {
		// 工具集：任务白名单 > Agent 白名单 > 空
		tools := c.selectTools(t, executingAgent)

		// 委派工具：manager 总是注入；普通 Agent 按 allow_delegation
		var extraUsage llm.Usage
		if c.cfg.Process == ProcessHierarchical && executingAgent == c.manager {
			tools = append(tools, agent.DelegationTools(executingAgent, c.cfg.Agents, c.coworkerRunner(t, &extraUsage, 0))...)
		} else if executingAgent.Config().AllowDelegation {
			coworkers := c.coworkersOf(executingAgent)
			if len(coworkers) > 0 {
				tools = append(tools, agent.DelegationTools(executingAgent, coworkers, c.coworkerRunner(t, &extraUsage, 0))...)
			}
		}

		client := c.clients[executingAgent.Key()]

		// 记忆检索段
		memorySection := ""
		if c.cfg.Memory && c.cfg.Memories != nil {
			if section, err := c.cfg.Memories.BuildContext(ctx, t.Description); err != nil {
				c.logger.Warn("memory context build failed", zap.Error(err))
			} else {
				memorySection = section
			}
		}

		content := t.PromptContent(contextStr, memorySection)
		if planText != "" {
			content += "\n\nHere is the execution plan for the crew:\n" + planText
		}
		for _, f := range feedback {
			content += "\n\nFeedback from previous attempt: " + f
		}

		var engine *tool.UsageEngine
		hasTools := len(tools) > 0
		if hasTools {
			engine = tool.NewUsageEngine(tools, c.toolCache, c.bus, client.Model(), c.logger)
		}

		useNative := client.SupportsFunctionCalling() && !executingAgent.Config().ForceTextReasoning
		prompt := agent.Prompts{
			HasTools:             hasTools,
			UseNativeToolCalling: useNative && hasTools,
		}.TaskExecution(executingAgent, content, tool.RenderDescriptions(tools), tool.Names(tools))

		cfg := agent.ExecutorConfig{
			StepCallback: c.cfg.StepCallback,
			RPMWait:      c.rpmWaiter(executingAgent),
		}
		if t.HumanInput {
			cfg.HumanInput = c.cfg.HumanInput
		}

		executor := agent.NewExecutor(executingAgent, client, engine, c.bus, cfg)
		result, err := executor.Invoke(ctx, prompt)
		if result != nil {
			result.Usage.Add(extraUsage)
			attemptsUsage.Add(result.Usage)
			result.Usage = attemptsUsage
			t.UsedTools += engineUsed(engine)
			_, _, delegations := executingAgent.Counters()
			t.Delegations = delegations
		}
		return result, err
	}
}

func engineUsed(engine *tool.UsageEngine) int {
	if engine == nil {
		return 0
	}
	return engine.UsedTools()
}

// selectTools 在工具池上应用白名单
func (c *Crew) selectTools(t *task.Task, a *agent.Agent) []*tool.Tool {
	pool := c.cfg.Tools
	whitelist := t.Tools
	if len(whitelist) == 0 {
		whitelist = a.Config().Tools
	}
	if len(whitelist) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(whitelist))
	for _, name := range whitelist {
		allowed[name] = struct{}{}
	}
	var out []*tool.Tool
	for _, candidate := range pool {
		if _, ok := allowed[candidate.Name]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// coworkersOf 除本人外的全部 Agent
func (c *Crew) coworkersOf(a *agent.Agent) []*agent.Agent {
	var out []*agent.Agent
	for _, other := range c.cfg.Agents {
		if other != a {
			out = append(out, other)
		}
	}
	return out
}

// coworkerRunner 委派工具的执行体：在目标 Agent 上运行嵌套执行器。
// 嵌套深度有界；被委派方的用量累加到当前任务。
func (c *Crew) coworkerRunner(t *task.Task, extraUsage *llm.Usage, depth int) agent.CoworkerRunner {
	var runner agent.CoworkerRunner
	runner = func(ctx context.Context, coworker *agent.Agent, taskDescription, taskContext string) (string, error) {
		maxDepth := coworker.Config().MaxDelegationDepth
		if depth >= maxDepth {
			return "", agent.ErrDelegationDepthExceeded
		}

		client := c.clients[coworker.Key()]
		tools := c.selectTools(t, coworker)

		var nestedExtra llm.Usage
		if coworker.Config().AllowDelegation {
			coworkers := c.coworkersOf(coworker)
			if len(coworkers) > 0 {
				tools = append(tools, agent.DelegationTools(coworker, coworkers, c.coworkerRunner(t, &nestedExtra, depth+1))...)
			}
		}

		content := taskDescription
		if taskContext != "" {
			content += "\n\nThis is the context you're working with:\n" + taskContext
		}

		hasTools := len(tools) > 0
		var engine *tool.UsageEngine
		if hasTools {
			engine = tool.NewUsageEngine(tools, c.toolCache, c.bus, client.Model(), c.logger)
		}
		useNative := client.SupportsFunctionCalling() && !coworker.Config().ForceTextReasoning
		prompt := agent.Prompts{
			HasTools:             hasTools,
			UseNativeToolCalling: useNative && hasTools,
		}.TaskExecution(coworker, content, tool.RenderDescriptions(tools), tool.Names(tools))

		executor := agent.NewExecutor(coworker, client, engine, c.bus, agent.ExecutorConfig{
			RPMWait: c.rpmWaiter(coworker),
		})
		result, err := executor.Invoke(ctx, prompt)
		if result != nil {
			extraUsage.Add(result.Usage)
			extraUsage.Add(nestedExtra)
		}
		if err != nil {
			return "", err
		}
		return result.Output, nil
	}
	return runner
}

// rpmWaiter Agent 级限流优先，其次 Crew 级
func (c *Crew) rpmWaiter(a *agent.Agent) func(ctx context.Context) error {
	agentLimiter := c.agentRPM[a.Key()]
	return func(ctx context.Context) error {
		if agentLimiter != nil {
			if err := agentLimiter.CheckOrWait(ctx); err != nil {
				return err
			}
		}
		if c.crewRPM != nil {
			return c.crewRPM.CheckOrWait(ctx)
		}
		return nil
	}
}

// buildPlan 用第一个 Agent 的 LLM 起草执行计划
func (c *Crew) buildPlan(ctx context.Context) string {
	first := c.cfg.Agents[0]
	client := c.clients[first.Key()]

	var sb strings.Builder
	sb.WriteString("Draft a short step by step plan for completing the following tasks, one line per task:\n")
	for _, t := range c.cfg.Tasks {
		sb.WriteString("- ")
		sb.WriteString(t.Description)
		sb.WriteString("\n")
	}

	resp, err := client.Call(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}}, nil)
	if err != nil {
		c.logger.Warn("planning call failed, continuing without plan", zap.Error(err))
		return ""
	}
	return resp.Text
}

// sumTaskUsage 聚合不变式：任务用量之和即 Crew 总用量
func (c *Crew) sumTaskUsage(outputs []task.Output) llm.Usage {
	var total llm.Usage
	for i := range outputs {
		total.Add(outputs[i].Usage)
	}
	return total
}

func (c *Crew) partialOutput(completed []task.Output) *Output {
	out := &Output{
		TaskOutputs: completed,
		Usage:       c.sumTaskUsage(completed),
	}
	if len(completed) > 0 {
		out.Raw = completed[len(completed)-1].Raw
	}
	return out
}

func (c *Crew) emit(ctx context.Context, ev events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(ctx, c, ev)
}
