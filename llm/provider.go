package llm

import "context"

// CallOptions 单次调用的可选参数，由 Config 推导
type CallOptions struct {
	Temperature         float32        `json:"temperature,omitempty"`
	TopP                float32        `json:"top_p,omitempty"`
	MaxTokens           int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string         `json:"reasoning_effort,omitempty"`
	ResponseFormat      string         `json:"response_format,omitempty"`
	Seed                int            `json:"seed,omitempty"`
	Stop                []string       `json:"stop,omitempty"`
	Stream              bool           `json:"stream,omitempty"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// Provider 定义了统一的 LLM 适配接口。
// 具体的 HTTP 客户端实现是外部协作者，核心只通过能力表调用。
type Provider interface {
	// Call 发起同步请求
	Call(ctx context.Context, messages []Message, tools []ToolSchema, opts *CallOptions) (*Response, error)

	// Name 返回 Provider 唯一标识
	Name() string

	// SupportsFunctionCalling 是否支持原生 Function Calling
	SupportsFunctionCalling() bool

	// SupportsStopWords 是否原生支持 stop 序列
	SupportsStopWords() bool

	// SupportsMultimodal 是否支持多模态输入
	SupportsMultimodal() bool

	// ContextWindowSize 上下文窗口大小（token）
	ContextWindowSize() int
}

// CallResult 异步调用结果
type CallResult struct {
	Response *Response
	Err      error
}

// AsyncProvider 可选接口。未实现时 Client 会把同步调用包进 goroutine。
type AsyncProvider interface {
	CallAsync(ctx context.Context, messages []Message, tools []ToolSchema, opts *CallOptions) <-chan CallResult
}
