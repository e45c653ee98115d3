package llm

import "strings"

// DefaultProvider 无法解析时的兜底
const DefaultProvider = "openai"

// knownProviders "provider/model" 前缀形式里认可的 Provider 名
var knownProviders = map[string]struct{}{
	"openai":    {},
	"anthropic": {},
	"azure":     {},
	"bedrock":   {},
	"gemini":    {},
	"deepseek":  {},
	"glm":       {},
	"qwen":      {},
	"xai":       {},
	"ollama":    {},
}

// modelPatterns 模型名模式到 Provider 的映射表。
// 解析优先级：显式字段 > "provider/model" 前缀 > 本表 > 默认值。
var modelPatterns = []struct {
	Prefix   string
	Provider string
}{
	{"gpt-", "openai"},
	{"o1", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"chatgpt-", "openai"},
	{"text-embedding-", "openai"},
	{"claude-", "anthropic"},
	{"gemini-", "gemini"},
	{"deepseek", "deepseek"},
	{"glm-", "glm"},
	{"qwen", "qwen"},
	{"grok-", "xai"},
	{"llama", "ollama"},
	{"mistral", "ollama"},
}

// ResolveProvider 解析配置应使用的 Provider 名称，
// 同时返回剥离 provider 前缀后的模型名。
func ResolveProvider(cfg Config) (provider, model string) {
	model = cfg.Model

	if p := strings.TrimSpace(cfg.Provider); p != "" {
		return strings.ToLower(p), model
	}

	if before, after, found := strings.Cut(cfg.Model, "/"); found {
		p := strings.ToLower(strings.TrimSpace(before))
		if _, ok := knownProviders[p]; ok {
			return p, after
		}
	}

	lower := strings.ToLower(cfg.Model)
	for _, rule := range modelPatterns {
		if strings.HasPrefix(lower, rule.Prefix) {
			return rule.Provider, model
		}
	}

	return DefaultProvider, model
}
