// Package tokenizer 提供模型相关的 token 计数。
// OpenAI 家族模型走 tiktoken 编码，未知模型退化为按字符估算。
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// MessageOverhead 每条消息的固定 token 开销估计
const MessageOverhead = 4

// Tokenizer token 计数接口
type Tokenizer interface {
	CountTokens(text string) int
}

// modelEncodings 模型名到 tiktoken 编码与上下文大小的映射
var modelEncodings = map[string]struct {
	Encoding  string
	MaxTokens int
}{
	"gpt-4o":        {Encoding: "o200k_base", MaxTokens: 128000},
	"gpt-4o-mini":   {Encoding: "o200k_base", MaxTokens: 128000},
	"gpt-4-turbo":   {Encoding: "cl100k_base", MaxTokens: 128000},
	"gpt-4":         {Encoding: "cl100k_base", MaxTokens: 8192},
	"gpt-3.5-turbo": {Encoding: "cl100k_base", MaxTokens: 16385},
	"o1":            {Encoding: "o200k_base", MaxTokens: 200000},
	"o3":            {Encoding: "o200k_base", MaxTokens: 200000},
}

// ContextWindowFor 返回已知模型的上下文窗口，未知返回 0
func ContextWindowFor(model string) int {
	if info, ok := lookupModel(model); ok {
		return info.MaxTokens
	}
	return 0
}

func lookupModel(model string) (struct {
	Encoding  string
	MaxTokens int
}, bool) {
	if info, ok := modelEncodings[model]; ok {
		return info, true
	}
	// 前缀匹配，取最长的前缀（gpt-4o-mini 不应落到 gpt-4）
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best], true
	}
	return struct {
		Encoding  string
		MaxTokens int
	}{}, false
}

// ForModel 为模型选择计数器。tiktoken 初始化失败时退化为估算。
func ForModel(model string) Tokenizer {
	if info, ok := lookupModel(model); ok {
		return &tiktokenTokenizer{encoding: info.Encoding}
	}
	return EstimateTokenizer{}
}

// tiktokenTokenizer 基于 tiktoken 的精确计数，编码器懒加载
type tiktokenTokenizer struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

func (t *tiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
	})
	if t.initErr != nil || t.enc == nil {
		return EstimateTokenizer{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateTokenizer 按字符粗估：中日韩字符约 1.5 字/词元，其余约 4 字/词元
type EstimateTokenizer struct{}

// CountTokens 估算 token 数
func (EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjk++
		} else {
			other++
		}
	}
	tokens := float64(cjk)/1.5 + float64(other)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
