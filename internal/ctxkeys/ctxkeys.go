package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	crewIDKey   contextKey = "crew_id"
	taskIDKey   contextKey = "task_id"
	agentRoleKey contextKey = "agent_role"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCrewID 设置当前 Crew 运行 ID
func WithCrewID(ctx context.Context, crewID string) context.Context {
	return context.WithValue(ctx, crewIDKey, crewID)
}

// CrewID 获取当前 Crew 运行 ID
func CrewID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(crewIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTaskID 设置当前任务 ID
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskID 获取当前任务 ID
func TaskID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(taskIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithAgentRole 设置当前执行 Agent 的角色
func WithAgentRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, agentRoleKey, role)
}

// AgentRole 获取当前执行 Agent 的角色
func AgentRole(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(agentRoleKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
