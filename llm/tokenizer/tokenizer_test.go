package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokenizer(t *testing.T) {
	e := EstimateTokenizer{}
	assert.Equal(t, 0, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("a"))
	// 8 个 ASCII 字符约 2 token
	assert.Equal(t, 2, e.CountTokens("abcdefgh"))
	// 中文按 1.5 字/词元
	assert.Equal(t, 2, e.CountTokens("你好啊"))
}

func TestForModel_Fallback(t *testing.T) {
	tok := ForModel("unknown-model")
	_, ok := tok.(EstimateTokenizer)
	assert.True(t, ok)
}

func TestForModel_KnownModel(t *testing.T) {
	tok := ForModel("gpt-4o")
	_, ok := tok.(*tiktokenTokenizer)
	assert.True(t, ok)
}

func TestContextWindowFor(t *testing.T) {
	assert.Equal(t, 128000, ContextWindowFor("gpt-4o"))
	assert.Equal(t, 128000, ContextWindowFor("gpt-4o-2024-08-06")) // 前缀匹配
	assert.Equal(t, 0, ContextWindowFor("mystery"))
}
