package events

import (
	"context"
	"sync"
)

// scopeFrame 作用域栈帧
type scopeFrame struct {
	eventID   string
	eventType EventType
}

// EmissionScope 跟踪一条执行路径上的事件标识链。
// Go 没有线程本地存储，作用域随 context.Context 传递；
// 每个执行上下文（一次任务执行、一次嵌套委派）持有自己的作用域。
type EmissionScope struct {
	mu sync.Mutex

	stack       []scopeFrame
	lastEventID string
	triggering  string
	sequence    uint64
}

// NewScope 创建空作用域
func NewScope() *EmissionScope {
	return &EmissionScope{}
}

// maxScopeDepth 作用域栈深度上限，超过通常意味着缺失结束事件
const maxScopeDepth = 100

type scopeKey struct{}

// WithScope 将作用域绑定到 context
func WithScope(ctx context.Context, scope *EmissionScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom 从 context 取出作用域，不存在时返回 nil
func ScopeFrom(ctx context.Context) *EmissionScope {
	s, _ := ctx.Value(scopeKey{}).(*EmissionScope)
	return s
}

// CurrentParentID 返回栈顶事件 ID（当前父作用域）
func (s *EmissionScope) CurrentParentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1].eventID
}

// Depth 返回当前栈深度
func (s *EmissionScope) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stack)
}

// LastEventID 返回最近发射的事件 ID（线性链）
func (s *EmissionScope) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

// TriggeringEventID 返回当前因果触发事件 ID
func (s *EmissionScope) TriggeringEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggering
}

// WithTriggering 设置因果触发事件 ID，返回恢复函数。
// 用法等价于 RAII guard：
//
//	restore := scope.WithTriggering(ev.EventID)
//	defer restore()
func (s *EmissionScope) WithTriggering(eventID string) (restore func()) {
	s.mu.Lock()
	prev := s.triggering
	s.triggering = eventID
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.triggering = prev
		s.mu.Unlock()
	}
}

// push 压入作用域帧，超深返回 false
func (s *EmissionScope) push(eventID string, t EventType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) >= maxScopeDepth {
		return false
	}
	s.stack = append(s.stack, scopeFrame{eventID: eventID, eventType: t})
	return true
}

// pop 弹出栈顶帧，空栈返回 false
func (s *EmissionScope) pop() (scopeFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return scopeFrame{}, false
	}
	top := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return top, true
}

// nextSequence 单调递增的发射序号
func (s *EmissionScope) nextSequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	return s.sequence
}

// setLastEventID 记录线性链尾
func (s *EmissionScope) setLastEventID(id string) {
	s.mu.Lock()
	s.lastEventID = id
	s.mu.Unlock()
}
