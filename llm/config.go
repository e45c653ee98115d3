package llm

import (
	"time"
)

// Secret 敏感字符串。序列化与日志输出一律脱敏。
type Secret string

const redacted = "***"

// String 脱敏输出
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// MarshalJSON 脱敏序列化
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Reveal 取出原始值，仅供 Provider 实现在发起请求时使用
func (s Secret) Reveal() string { return string(s) }

// Config 汇总所有与 Provider 无关的调参字段
type Config struct {
	Model    string `json:"model" yaml:"model"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	Temperature         float32        `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP                float32        `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	MaxTokens           int            `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty" yaml:"max_completion_tokens,omitempty"`
	ReasoningEffort     string         `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	ResponseFormat      string         `json:"response_format,omitempty" yaml:"response_format,omitempty"`
	Seed                int            `json:"seed,omitempty" yaml:"seed,omitempty"`
	Timeout             time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Stream              bool           `json:"stream,omitempty" yaml:"stream,omitempty"`
	Stop                []string       `json:"stop,omitempty" yaml:"stop,omitempty"`
	Extra               map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`

	// APIKey 标记为敏感，永远不会出现在序列化或调试输出里
	APIKey  Secret `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// MaxRetryLimit 瞬时失败的最大重试次数
	MaxRetryLimit int `json:"max_retry_limit,omitempty" yaml:"max_retry_limit,omitempty"`

	// 可用上下文窗口的边界（token）
	ContextWindowFloor   int `json:"context_window_floor,omitempty" yaml:"context_window_floor,omitempty"`
	ContextWindowCeiling int `json:"context_window_ceiling,omitempty" yaml:"context_window_ceiling,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig(model string) Config {
	return Config{
		Model:              model,
		MaxRetryLimit:      2,
		Timeout:            120 * time.Second,
		ContextWindowFloor: 1024,
	}
}

// callOptions 由配置推导单次调用参数
func (c Config) callOptions() *CallOptions {
	return &CallOptions{
		Temperature:         c.Temperature,
		TopP:                c.TopP,
		MaxTokens:           c.MaxTokens,
		MaxCompletionTokens: c.MaxCompletionTokens,
		ReasoningEffort:     c.ReasoningEffort,
		ResponseFormat:      c.ResponseFormat,
		Seed:                c.Seed,
		Stop:                c.Stop,
		Stream:              c.Stream,
		Extra:               c.Extra,
	}
}
