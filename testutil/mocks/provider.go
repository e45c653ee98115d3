// Package mocks 提供测试替身。
package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/crewflow/llm"
)

// ScriptedProvider 按脚本逐次返回响应的 LLM Provider。
// 记录每次收到的消息，便于断言提示词内容。
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []llm.Response
	index     int

	// 能力开关
	FunctionCalling bool
	StopWords       bool
	Multimodal      bool
	Window          int

	// PerCallUsage 每次调用计入的用量，便于测试聚合
	PerCallUsage llm.Usage

	// Calls 记录每次调用的消息快照
	Calls [][]llm.Message
	// ToolsSeen 记录每次调用收到的工具表
	ToolsSeen [][]llm.ToolSchema
}

// NewScriptedProvider 用文本脚本创建 Provider，每条文本对应一次响应
func NewScriptedProvider(texts ...string) *ScriptedProvider {
	p := &ScriptedProvider{
		StopWords:    true,
		Window:       8192,
		PerCallUsage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	for _, t := range texts {
		p.responses = append(p.responses, llm.Response{Text: t})
	}
	return p
}

// Script 追加一条完整响应（可带 ToolCalls）
func (p *ScriptedProvider) Script(resp llm.Response) *ScriptedProvider {
	p.mu.Lock()
	p.responses = append(p.responses, resp)
	p.mu.Unlock()
	return p
}

// CallCount 已发生的调用次数
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Call 实现 llm.Provider
func (p *ScriptedProvider) Call(_ context.Context, messages []llm.Message, tools []llm.ToolSchema, _ *llm.CallOptions) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	p.Calls = append(p.Calls, snapshot)
	p.ToolsSeen = append(p.ToolsSeen, tools)

	if p.index >= len(p.responses) {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: fmt.Sprintf("script exhausted after %d responses", len(p.responses))}
	}
	resp := p.responses[p.index]
	p.index++
	if resp.Usage == (llm.Usage{}) {
		resp.Usage = p.PerCallUsage
	}
	return &resp, nil
}

// Name 实现 llm.Provider
func (p *ScriptedProvider) Name() string { return "scripted" }

// SupportsFunctionCalling 实现 llm.Provider
func (p *ScriptedProvider) SupportsFunctionCalling() bool { return p.FunctionCalling }

// SupportsStopWords 实现 llm.Provider
func (p *ScriptedProvider) SupportsStopWords() bool { return p.StopWords }

// SupportsMultimodal 实现 llm.Provider
func (p *ScriptedProvider) SupportsMultimodal() bool { return p.Multimodal }

// ContextWindowSize 实现 llm.Provider
func (p *ScriptedProvider) ContextWindowSize() int { return p.Window }
