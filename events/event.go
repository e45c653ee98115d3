package events

import (
	"time"

	"github.com/BaSui01/crewflow/llm"
)

// EventType 事件类型判别字符串
type EventType string

// 生命周期事件类型。开始/结束事件按 validEventPairs 配对。
const (
	CrewKickoffStarted   EventType = "crew_kickoff_started"
	CrewKickoffCompleted EventType = "crew_kickoff_completed"
	CrewKickoffFailed    EventType = "crew_kickoff_failed"

	TaskStarted   EventType = "task_started"
	TaskCompleted EventType = "task_completed"
	TaskFailed    EventType = "task_failed"

	AgentExecutionStarted   EventType = "agent_execution_started"
	AgentExecutionCompleted EventType = "agent_execution_completed"
	AgentExecutionError     EventType = "agent_execution_error"
	AgentExecutionStep      EventType = "agent_execution_step"

	LLMCallStarted   EventType = "llm_call_started"
	LLMCallCompleted EventType = "llm_call_completed"
	LLMCallFailed    EventType = "llm_call_failed"

	ToolUsageStarted  EventType = "tool_usage_started"
	ToolUsageFinished EventType = "tool_usage_finished"
	ToolUsageError    EventType = "tool_usage_error"

	MemorySaveStarted       EventType = "memory_save_started"
	MemorySaveCompleted     EventType = "memory_save_completed"
	MemorySaveFailed        EventType = "memory_save_failed"
	MemoryRetrievalStarted  EventType = "memory_retrieval_started"
	MemoryRetrievalCompleted EventType = "memory_retrieval_completed"
	MemoryRetrievalFailed   EventType = "memory_retrieval_failed"

	KnowledgeQueryStarted   EventType = "knowledge_query_started"
	KnowledgeQueryCompleted EventType = "knowledge_query_completed"
	KnowledgeQueryFailed    EventType = "knowledge_query_failed"

	FlowStarted  EventType = "flow_started"
	FlowFinished EventType = "flow_finished"
)

// scopeStartingEvents 开启嵌套作用域的事件类型集合
var scopeStartingEvents = map[EventType]struct{}{
	CrewKickoffStarted:     {},
	TaskStarted:            {},
	AgentExecutionStarted:  {},
	LLMCallStarted:         {},
	ToolUsageStarted:       {},
	MemorySaveStarted:      {},
	MemoryRetrievalStarted: {},
	KnowledgeQueryStarted:  {},
	FlowStarted:            {},
}

// scopeEndingEvents 结束作用域的事件类型集合
var scopeEndingEvents = map[EventType]struct{}{
	CrewKickoffCompleted:     {},
	CrewKickoffFailed:        {},
	TaskCompleted:            {},
	TaskFailed:               {},
	AgentExecutionCompleted:  {},
	AgentExecutionError:      {},
	LLMCallCompleted:         {},
	LLMCallFailed:            {},
	ToolUsageFinished:        {},
	ToolUsageError:           {},
	MemorySaveCompleted:      {},
	MemorySaveFailed:         {},
	MemoryRetrievalCompleted: {},
	MemoryRetrievalFailed:    {},
	KnowledgeQueryCompleted:  {},
	KnowledgeQueryFailed:     {},
	FlowFinished:             {},
}

// validEventPairs 结束事件到期望的开始事件的静态配对表
var validEventPairs = map[EventType]EventType{
	CrewKickoffCompleted:     CrewKickoffStarted,
	CrewKickoffFailed:        CrewKickoffStarted,
	TaskCompleted:            TaskStarted,
	TaskFailed:               TaskStarted,
	AgentExecutionCompleted:  AgentExecutionStarted,
	AgentExecutionError:      AgentExecutionStarted,
	LLMCallCompleted:         LLMCallStarted,
	LLMCallFailed:            LLMCallStarted,
	ToolUsageFinished:        ToolUsageStarted,
	ToolUsageError:           ToolUsageStarted,
	MemorySaveCompleted:      MemorySaveStarted,
	MemorySaveFailed:         MemorySaveStarted,
	MemoryRetrievalCompleted: MemoryRetrievalStarted,
	MemoryRetrievalFailed:    MemoryRetrievalStarted,
	KnowledgeQueryCompleted:  KnowledgeQueryStarted,
	KnowledgeQueryFailed:     KnowledgeQueryStarted,
	FlowFinished:             FlowStarted,
}

// IsScopeStarting 判断事件类型是否开启作用域
func IsScopeStarting(t EventType) bool {
	_, ok := scopeStartingEvents[t]
	return ok
}

// IsScopeEnding 判断事件类型是否结束作用域
func IsScopeEnding(t EventType) bool {
	_, ok := scopeEndingEvents[t]
	return ok
}

// PartnerOf 返回结束事件期望配对的开始事件类型
func PartnerOf(t EventType) (EventType, bool) {
	p, ok := validEventPairs[t]
	return p, ok
}

// Event 所有事件的只读视图
type Event interface {
	Type() EventType
	Base() *BaseEvent
}

// BaseEvent 事件公共字段。发射时由总线填充标识链：
// ParentEventID（作用域）、PreviousEventID（线性）、TriggeredByEventID（因果）。
type BaseEvent struct {
	EventID            string    `json:"event_id"`
	Timestamp          time.Time `json:"timestamp"`
	SourceFingerprint  string    `json:"source_fingerprint,omitempty"`
	SourceType         string    `json:"source_type,omitempty"`
	TaskID             string    `json:"task_id,omitempty"`
	AgentRole          string    `json:"agent_role,omitempty"`
	ParentEventID      string    `json:"parent_event_id,omitempty"`
	PreviousEventID    string    `json:"previous_event_id,omitempty"`
	TriggeredByEventID string    `json:"triggered_by_event_id,omitempty"`
	EmissionSequence   uint64    `json:"emission_sequence"`
}

// Base 返回公共字段
func (b *BaseEvent) Base() *BaseEvent { return b }

// ---- 具体事件 ----

// CrewKickoffStartedEvent Crew 启动
type CrewKickoffStartedEvent struct {
	BaseEvent
	CrewName string            `json:"crew_name"`
	Inputs   map[string]string `json:"inputs,omitempty"`
}

func (*CrewKickoffStartedEvent) Type() EventType { return CrewKickoffStarted }

// CrewKickoffCompletedEvent Crew 完成
type CrewKickoffCompletedEvent struct {
	BaseEvent
	CrewName string `json:"crew_name"`
	Output   string `json:"output"`
}

func (*CrewKickoffCompletedEvent) Type() EventType { return CrewKickoffCompleted }

// CrewKickoffFailedEvent Crew 失败
type CrewKickoffFailedEvent struct {
	BaseEvent
	CrewName string `json:"crew_name"`
	Error    string `json:"error"`
}

func (*CrewKickoffFailedEvent) Type() EventType { return CrewKickoffFailed }

// TaskStartedEvent 任务开始
type TaskStartedEvent struct {
	BaseEvent
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
}

func (*TaskStartedEvent) Type() EventType { return TaskStarted }

// TaskCompletedEvent 任务完成
type TaskCompletedEvent struct {
	BaseEvent
	Output string `json:"output"`
}

func (*TaskCompletedEvent) Type() EventType { return TaskCompleted }

// TaskFailedEvent 任务失败
type TaskFailedEvent struct {
	BaseEvent
	Error string `json:"error"`
}

func (*TaskFailedEvent) Type() EventType { return TaskFailed }

// AgentExecutionStartedEvent Agent 执行开始
type AgentExecutionStartedEvent struct {
	BaseEvent
	AgentKey   string `json:"agent_key"`
	TaskPrompt string `json:"task_prompt,omitempty"`
	Tools      string `json:"tools,omitempty"`
}

func (*AgentExecutionStartedEvent) Type() EventType { return AgentExecutionStarted }

// AgentExecutionCompletedEvent Agent 执行完成
type AgentExecutionCompletedEvent struct {
	BaseEvent
	AgentKey string `json:"agent_key"`
	Output   string `json:"output"`
}

func (*AgentExecutionCompletedEvent) Type() EventType { return AgentExecutionCompleted }

// AgentExecutionErrorEvent Agent 执行出错
type AgentExecutionErrorEvent struct {
	BaseEvent
	AgentKey string `json:"agent_key"`
	Error    string `json:"error"`
}

func (*AgentExecutionErrorEvent) Type() EventType { return AgentExecutionError }

// AgentExecutionStepEvent 推理循环单步（中性事件，继承父作用域）
type AgentExecutionStepEvent struct {
	BaseEvent
	AgentKey  string `json:"agent_key"`
	Iteration int    `json:"iteration"`
	State     string `json:"state"`
}

func (*AgentExecutionStepEvent) Type() EventType { return AgentExecutionStep }

// LLMCallStartedEvent LLM 调用开始
type LLMCallStartedEvent struct {
	BaseEvent
	Model    string `json:"model"`
	Messages int    `json:"messages"`
}

func (*LLMCallStartedEvent) Type() EventType { return LLMCallStarted }

// LLMCallCompletedEvent LLM 调用完成
type LLMCallCompletedEvent struct {
	BaseEvent
	Model string    `json:"model"`
	Usage llm.Usage `json:"usage"`
}

func (*LLMCallCompletedEvent) Type() EventType { return LLMCallCompleted }

// LLMCallFailedEvent LLM 调用失败
type LLMCallFailedEvent struct {
	BaseEvent
	Model string `json:"model"`
	Error string `json:"error"`
}

func (*LLMCallFailedEvent) Type() EventType { return LLMCallFailed }

// ToolErrorKind 工具失败分类
type ToolErrorKind string

const (
	ToolErrorSelection  ToolErrorKind = "selection"
	ToolErrorValidation ToolErrorKind = "validation"
	ToolErrorExecution  ToolErrorKind = "execution"
	ToolErrorLimit      ToolErrorKind = "limit"
)

// ToolUsageStartedEvent 工具调用开始
type ToolUsageStartedEvent struct {
	BaseEvent
	ToolName string `json:"tool_name"`
	ToolArgs string `json:"tool_args,omitempty"`
}

func (*ToolUsageStartedEvent) Type() EventType { return ToolUsageStarted }

// ToolUsageFinishedEvent 工具调用完成，携带耗时
type ToolUsageFinishedEvent struct {
	BaseEvent
	ToolName  string        `json:"tool_name"`
	Duration  time.Duration `json:"duration"`
	FromCache bool          `json:"from_cache"`
}

func (*ToolUsageFinishedEvent) Type() EventType { return ToolUsageFinished }

// ToolUsageErrorEvent 工具调用失败，携带分类
type ToolUsageErrorEvent struct {
	BaseEvent
	ToolName string        `json:"tool_name"`
	Kind     ToolErrorKind `json:"kind"`
	Error    string        `json:"error"`
}

func (*ToolUsageErrorEvent) Type() EventType { return ToolUsageError }

// MemorySaveStartedEvent 记忆写入开始
type MemorySaveStartedEvent struct {
	BaseEvent
	MemoryKind string `json:"memory_kind"`
}

func (*MemorySaveStartedEvent) Type() EventType { return MemorySaveStarted }

// MemorySaveCompletedEvent 记忆写入完成
type MemorySaveCompletedEvent struct {
	BaseEvent
	MemoryKind string `json:"memory_kind"`
}

func (*MemorySaveCompletedEvent) Type() EventType { return MemorySaveCompleted }

// MemorySaveFailedEvent 记忆写入失败
type MemorySaveFailedEvent struct {
	BaseEvent
	MemoryKind string `json:"memory_kind"`
	Error      string `json:"error"`
}

func (*MemorySaveFailedEvent) Type() EventType { return MemorySaveFailed }

// MemoryRetrievalStartedEvent 记忆检索开始
type MemoryRetrievalStartedEvent struct {
	BaseEvent
	Query string `json:"query"`
}

func (*MemoryRetrievalStartedEvent) Type() EventType { return MemoryRetrievalStarted }

// MemoryRetrievalCompletedEvent 记忆检索完成
type MemoryRetrievalCompletedEvent struct {
	BaseEvent
	Query   string `json:"query"`
	Results int    `json:"results"`
}

func (*MemoryRetrievalCompletedEvent) Type() EventType { return MemoryRetrievalCompleted }

// MemoryRetrievalFailedEvent 记忆检索失败
type MemoryRetrievalFailedEvent struct {
	BaseEvent
	Query string `json:"query"`
	Error string `json:"error"`
}

func (*MemoryRetrievalFailedEvent) Type() EventType { return MemoryRetrievalFailed }
