package llm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider 用函数字段驱动的测试 Provider
type fakeProvider struct {
	callFn            func(ctx context.Context, messages []Message, tools []ToolSchema, opts *CallOptions) (*Response, error)
	functionCalling   bool
	stopWords         bool
	multimodal        bool
	contextWindowSize int
}

func (f *fakeProvider) Call(ctx context.Context, messages []Message, tools []ToolSchema, opts *CallOptions) (*Response, error) {
	return f.callFn(ctx, messages, tools, opts)
}
func (f *fakeProvider) Name() string                  { return "fake" }
func (f *fakeProvider) SupportsFunctionCalling() bool { return f.functionCalling }
func (f *fakeProvider) SupportsStopWords() bool       { return f.stopWords }
func (f *fakeProvider) SupportsMultimodal() bool      { return f.multimodal }
func (f *fakeProvider) ContextWindowSize() int {
	if f.contextWindowSize > 0 {
		return f.contextWindowSize
	}
	return 8192
}

func TestClient_Call_RecordsUsage(t *testing.T) {
	p := &fakeProvider{callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
		return &Response{Text: "hi", Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
	}}
	c := NewClient(p, DefaultConfig("test-model"), nil)

	_, err := c.Call(context.Background(), []Message{{Role: RoleUser, Content: "hello"}}, nil)
	require.NoError(t, err)
	_, err = c.Call(context.Background(), []Message{{Role: RoleUser, Content: "again"}}, nil)
	require.NoError(t, err)

	snap := c.Usage()
	assert.Equal(t, 20, snap.PromptTokens)
	assert.Equal(t, 10, snap.CompletionTokens)
	assert.Equal(t, 30, snap.TotalTokens)
	assert.Equal(t, 2, snap.SuccessfulRequests)
}

func TestClient_Call_RetriesTransientFailures(t *testing.T) {
	attempts := 0
	p := &fakeProvider{callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
		attempts++
		if attempts < 3 {
			return nil, &Error{Code: ErrRateLimited, Message: "429", Retryable: true}
		}
		return &Response{Text: "ok"}, nil
	}}
	cfg := DefaultConfig("test-model")
	cfg.MaxRetryLimit = 3
	c := NewClient(p, cfg, nil)

	resp, err := c.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 3, attempts)
}

func TestClient_Call_ExhaustsRetryBudget(t *testing.T) {
	attempts := 0
	p := &fakeProvider{callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
		attempts++
		return nil, &Error{Code: ErrUpstreamError, Message: "503", Retryable: true}
	}}
	cfg := DefaultConfig("test-model")
	cfg.MaxRetryLimit = 2
	c := NewClient(p, cfg, nil)

	_, err := c.Call(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // 首次 + 2 次重试
}

func TestClient_Call_NonRetryableFailsFast(t *testing.T) {
	attempts := 0
	p := &fakeProvider{callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
		attempts++
		return nil, &Error{Code: ErrUnauthorized, Message: "401", Retryable: false}
	}}
	c := NewClient(p, DefaultConfig("test-model"), nil)

	_, err := c.Call(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestClient_Call_StopWordTruncation(t *testing.T) {
	p := &fakeProvider{
		stopWords: false,
		callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
			return &Response{Text: "answer\nObservation: leaked"}, nil
		},
	}
	cfg := DefaultConfig("test-model")
	cfg.Stop = []string{"\nObservation:"}
	c := NewClient(p, cfg, nil)

	resp, err := c.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Text)
}

func TestClient_Call_NativeStopWordsNotTruncated(t *testing.T) {
	p := &fakeProvider{
		stopWords: true,
		callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
			return &Response{Text: "raw\nObservation: kept"}, nil
		},
	}
	cfg := DefaultConfig("test-model")
	cfg.Stop = []string{"\nObservation:"}
	c := NewClient(p, cfg, nil)

	resp, err := c.Call(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Observation")
}

func TestClient_UsableContextWindow(t *testing.T) {
	p := &fakeProvider{contextWindowSize: 10000}
	cfg := DefaultConfig("test-model")
	c := NewClient(p, cfg, nil)
	assert.Equal(t, 8500, c.UsableContextWindowSize())

	cfg.ContextWindowCeiling = 4000
	c = NewClient(p, cfg, nil)
	assert.Equal(t, 4000, c.UsableContextWindowSize())

	small := &fakeProvider{contextWindowSize: 512}
	c = NewClient(small, DefaultConfig("test-model"), nil)
	assert.Equal(t, 1024, c.UsableContextWindowSize()) // floor
}

func TestClient_CallAsync(t *testing.T) {
	p := &fakeProvider{callFn: func(context.Context, []Message, []ToolSchema, *CallOptions) (*Response, error) {
		return &Response{Text: "async"}, nil
	}}
	c := NewClient(p, DefaultConfig("test-model"), nil)

	res := <-c.CallAsync(context.Background(), nil, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "async", res.Response.Text)
}

func TestSecret_Redaction(t *testing.T) {
	cfg := DefaultConfig("test-model")
	cfg.APIKey = "sk-super-secret"

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-super-secret")
	assert.Contains(t, string(out), "***")
	assert.Equal(t, "***", cfg.APIKey.String())
	assert.Equal(t, "sk-super-secret", cfg.APIKey.Reveal())
}

func TestUsage_Add(t *testing.T) {
	a := Usage{PromptTokens: 1, CompletionTokens: 2, CachedPromptTokens: 3, TotalTokens: 3, SuccessfulRequests: 1}
	b := Usage{PromptTokens: 10, CompletionTokens: 20, CachedPromptTokens: 30, TotalTokens: 30, SuccessfulRequests: 2}
	a.Add(b)
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, CachedPromptTokens: 33, TotalTokens: 33, SuccessfulRequests: 3}, a)
}

func TestResolveProvider(t *testing.T) {
	cases := []struct {
		name     string
		cfg      Config
		provider string
		model    string
	}{
		{"explicit field wins", Config{Model: "gpt-4o", Provider: "Azure"}, "azure", "gpt-4o"},
		{"prefix form", Config{Model: "anthropic/claude-sonnet"}, "anthropic", "claude-sonnet"},
		{"unknown prefix falls through", Config{Model: "acme/gpt-4o"}, "openai", "acme/gpt-4o"},
		{"pattern match claude", Config{Model: "claude-3-haiku"}, "anthropic", "claude-3-haiku"},
		{"pattern match deepseek", Config{Model: "deepseek-chat"}, "deepseek", "deepseek-chat"},
		{"default", Config{Model: "mystery-model"}, "openai", "mystery-model"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, m := ResolveProvider(tc.cfg)
			assert.Equal(t, tc.provider, p)
			assert.Equal(t, tc.model, m)
		})
	}
}

func TestTruncateAtStopWords(t *testing.T) {
	assert.Equal(t, "abc", truncateAtStopWords("abcSTOPdef", []string{"STOP"}))
	assert.Equal(t, "a", truncateAtStopWords("aXbYc", []string{"Y", "X"}))
	assert.Equal(t, "plain", truncateAtStopWords("plain", []string{"STOP"}))
	assert.Equal(t, "keep", truncateAtStopWords("keep", nil))
}
