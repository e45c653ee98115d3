package llm

import "sync/atomic"

// UsageTracker 跨调用累计 token 消耗，并发安全
type UsageTracker struct {
	promptTokens       atomic.Int64
	completionTokens   atomic.Int64
	cachedPromptTokens atomic.Int64
	successfulRequests atomic.Int64
}

// NewUsageTracker 创建空的统计器
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{}
}

// Record 记录一次成功调用的消耗
func (t *UsageTracker) Record(u Usage) {
	t.promptTokens.Add(int64(u.PromptTokens))
	t.completionTokens.Add(int64(u.CompletionTokens))
	t.cachedPromptTokens.Add(int64(u.CachedPromptTokens))
	t.successfulRequests.Add(1)
}

// Snapshot 返回当前聚合快照
func (t *UsageTracker) Snapshot() Usage {
	prompt := int(t.promptTokens.Load())
	completion := int(t.completionTokens.Load())
	return Usage{
		PromptTokens:       prompt,
		CompletionTokens:   completion,
		CachedPromptTokens: int(t.cachedPromptTokens.Load()),
		TotalTokens:        prompt + completion,
		SuccessfulRequests: int(t.successfulRequests.Load()),
	}
}

// Reset 清零
func (t *UsageTracker) Reset() {
	t.promptTokens.Store(0)
	t.completionTokens.Store(0)
	t.cachedPromptTokens.Store(0)
	t.successfulRequests.Store(0)
}
