package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/tool/cache"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the given text",
		ArgsSchema:  []byte(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Run: func(_ context.Context, args map[string]any) (any, error) {
			return args["text"], nil
		},
	}
}

func TestTool_UsageCap(t *testing.T) {
	calls := 0
	capped := &Tool{
		Name:          "capped",
		MaxUsageCount: 1,
		Run: func(context.Context, map[string]any) (any, error) {
			calls++
			return "ok", nil
		},
	}

	_, err := capped.Invoke(context.Background(), nil)
	require.NoError(t, err)

	_, err = capped.Invoke(context.Background(), nil)
	require.Error(t, err)
	var ue *UsageError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindLimit, ue.Kind)
	// 工具体没有被执行，计数不超过上限
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, capped.UsageCount())
}

func TestTool_FirstSchemaField(t *testing.T) {
	tl := &Tool{ArgsSchema: []byte(`{"type":"object","properties":{"query":{"type":"string"},"limit":{"type":"integer"}}}`)}
	assert.Equal(t, "query", tl.FirstSchemaField())

	empty := &Tool{}
	assert.Equal(t, "", empty.FirstSchemaField())
}

func TestTool_ValidateArgs(t *testing.T) {
	tl := echoTool()
	require.NoError(t, tl.ValidateArgs(map[string]any{"text": "hi"}))

	err := tl.ValidateArgs(map[string]any{})
	var ue *UsageError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ErrKindValidation, ue.Kind)
}

func TestCleanArgs(t *testing.T) {
	args := map[string]any{
		"keep":   "value",
		"null":   nil,
		"nested": map[string]any{"inner": nil},
		"list":   []any{nil, "x"},
		"empty":  []any{},
	}
	cleaned := CleanArgs(args)
	assert.Equal(t, map[string]any{
		"keep": "value",
		"list": []any{"x"},
	}, cleaned)
}

func TestCleanArgs_SourcesQuirk(t *testing.T) {
	cleaned := CleanArgs(map[string]any{
		"sources": []any{"web", "news"},
	})
	assert.Equal(t, map[string]any{
		"sources": []any{
			map[string]any{"type": "web"},
			map[string]any{"type": "news"},
		},
	}, cleaned)

	// 混合类型的数组保持原样
	mixed := CleanArgs(map[string]any{"sources": []any{"web", 42}})
	assert.Equal(t, []any{"web", 42}, mixed["sources"])
}

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "my_tool_name", sanitizeToolName("MyToolName"))
	assert.Equal(t, "hello_world", sanitizeToolName("hello world!"))
	assert.Equal(t, "search_web", sanitizeToolName("search_web"))
	assert.Equal(t, "delegate_work_to_coworker", sanitizeToolName("Delegate work to coworker"))
}

func TestSimilarityRatio(t *testing.T) {
	assert.InDelta(t, 1.0, similarityRatio("hello", "hello"), 1e-9)
	assert.Zero(t, similarityRatio("", "hello"))
	assert.Zero(t, similarityRatio("hello", ""))
	assert.Greater(t, similarityRatio("search_tool", "search_tools"), 0.85)
	assert.Less(t, similarityRatio("search", "zzzzzzz"), 0.5)
}

func newEngine(t *testing.T, tools []*Tool, c cache.Cache) *UsageEngine {
	t.Helper()
	return NewUsageEngine(tools, c, nil, "test-model", nil)
}

func TestUsageEngine_ExactSelection(t *testing.T) {
	e := newEngine(t, []*Tool{echoTool()}, nil)
	res := e.Use(context.Background(), Request{Name: "echo", Args: map[string]any{"text": "hello"}})
	assert.Equal(t, "hello", res.Output)
	assert.Empty(t, res.ErrKind)
}

func TestUsageEngine_FuzzySelection(t *testing.T) {
	search := &Tool{
		Name:        "search_web",
		Description: "Search the web",
		Run: func(context.Context, map[string]any) (any, error) {
			return "results", nil
		},
	}
	e := newEngine(t, []*Tool{search}, nil)

	// LCS("search_web", "searchweb") = 9, ratio ≈ 0.947 > 0.85
	res := e.Use(context.Background(), Request{Name: "searchweb"})
	assert.Equal(t, "results", res.Output)
	assert.Empty(t, res.ErrKind)

	// "web" 相似度 ≈ 0.46，选择失败
	res = e.Use(context.Background(), Request{Name: "web"})
	assert.Equal(t, ErrKindSelection, res.ErrKind)
	assert.Contains(t, res.Output, "doesn't exist")
}

func TestUsageEngine_SimilarityExactlyAtThresholdRejected(t *testing.T) {
	// LCS = 17，len 20+20，ratio = 34/40 = 0.85，严格大于才接受
	registered := strings.Repeat("a", 20)
	requested := strings.Repeat("a", 17) + "bbb"
	require.InDelta(t, 0.85, similarityRatio(registered, requested), 1e-9)

	e := newEngine(t, []*Tool{{Name: registered, Run: func(context.Context, map[string]any) (any, error) { return "x", nil }}}, nil)
	res := e.Use(context.Background(), Request{Name: requested})
	assert.Equal(t, ErrKindSelection, res.ErrKind)
}

func TestUsageEngine_EmptyNameSelection(t *testing.T) {
	e := newEngine(t, []*Tool{echoTool()}, nil)
	res := e.Use(context.Background(), Request{Name: ""})
	assert.Equal(t, ErrKindSelection, res.ErrKind)
	assert.Contains(t, res.Output, "I forgot the Action name")
}

func TestUsageEngine_RepeatedUsageDetection(t *testing.T) {
	calls := 0
	tl := &Tool{Name: "t", Run: func(context.Context, map[string]any) (any, error) {
		calls++
		return "ran", nil
	}}
	e := newEngine(t, []*Tool{tl}, nil)

	args := map[string]any{"q": "same"}
	first := e.Use(context.Background(), Request{Name: "t", Args: args})
	assert.Equal(t, "ran", first.Output)

	second := e.Use(context.Background(), Request{Name: "t", Args: args})
	assert.Contains(t, second.Output, "I just used the t tool with the same input")
	assert.Equal(t, 1, calls)
}

func TestUsageEngine_CacheRoundTrip(t *testing.T) {
	calls := 0
	tl := &Tool{Name: "lookup", Run: func(_ context.Context, args map[string]any) (any, error) {
		calls++
		return "value", nil
	}}
	other := &Tool{Name: "other", Run: func(context.Context, map[string]any) (any, error) { return "y", nil }}
	c := cache.NewInMemory()
	e := newEngine(t, []*Tool{tl, other}, c)

	args := map[string]any{"k": "1"}
	res := e.Use(context.Background(), Request{Name: "lookup", Args: args})
	assert.Equal(t, "value", res.Output)
	assert.False(t, res.FromCache)

	// 中间插入一次其它调用，避免触发重复检测
	e.Use(context.Background(), Request{Name: "other"})

	res = e.Use(context.Background(), Request{Name: "lookup", Args: args})
	assert.True(t, res.FromCache)
	// 第三次使用恰好落在默认的格式提醒间隔（每 3 次）上
	assert.Equal(t, "value\n\nRemember to use the correct tool format. Available tools: lookup, other", res.Output)
	// 缓存命中不再执行工具体，调用计数停在首次
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, tl.UsageCount())
}

func TestUsageEngine_ShouldCachePredicate(t *testing.T) {
	tl := &Tool{
		Name: "nocache",
		Run: func(context.Context, map[string]any) (any, error) {
			return "fresh", nil
		},
		ShouldCache: func(map[string]any, any) bool { return false },
	}
	c := cache.NewInMemory()
	e := newEngine(t, []*Tool{tl}, c)

	e.Use(context.Background(), Request{Name: "nocache", Args: map[string]any{"a": "1"}})
	assert.Equal(t, 0, c.Len())
}

func TestUsageEngine_LimitErrorObservation(t *testing.T) {
	tl := &Tool{Name: "t", MaxUsageCount: 1, Run: func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}}
	e := newEngine(t, []*Tool{tl}, nil)

	e.Use(context.Background(), Request{Name: "t", Args: map[string]any{"n": 1.0}})
	res := e.Use(context.Background(), Request{Name: "t", Args: map[string]any{"n": 2.0}})
	assert.Equal(t, ErrKindLimit, res.ErrKind)
	assert.Contains(t, res.Output, "usage limit")
	assert.Equal(t, 1, tl.UsageCount())
}

func TestUsageEngine_ExecutionErrorObservation(t *testing.T) {
	tl := &Tool{Name: "bad", Run: func(context.Context, map[string]any) (any, error) {
		return nil, assert.AnError
	}}
	e := newEngine(t, []*Tool{tl}, nil)
	res := e.Use(context.Background(), Request{Name: "bad"})
	assert.Equal(t, ErrKindExecution, res.ErrKind)
	assert.Contains(t, res.Output, "Tool execution error")
}

func TestUsageEngine_FormatReminder(t *testing.T) {
	tl := &Tool{Name: "t", Run: func(_ context.Context, args map[string]any) (any, error) {
		return args["n"], nil
	}}
	e := newEngine(t, []*Tool{tl}, nil)
	e.RememberFormatAfterUsages = 2

	r1 := e.Use(context.Background(), Request{Name: "t", Args: map[string]any{"n": 1.0}})
	assert.NotContains(t, r1.Output, "Remember to use the correct tool format")
	r2 := e.Use(context.Background(), Request{Name: "t", Args: map[string]any{"n": 2.0}})
	assert.Contains(t, r2.Output, "Remember to use the correct tool format")
}

func TestUsageEngine_ResultAsAnswer(t *testing.T) {
	tl := &Tool{Name: "final", ResultAsAnswer: true, Run: func(context.Context, map[string]any) (any, error) {
		return "the answer", nil
	}}
	e := newEngine(t, []*Tool{tl}, nil)
	res := e.Use(context.Background(), Request{Name: "final"})
	assert.True(t, res.IsFinalAnswer)
	assert.Equal(t, "the answer", res.Output)
}

func TestUsageEngine_ModelDependentBudgets(t *testing.T) {
	big := NewUsageEngine(nil, nil, nil, "gpt-4o", nil)
	assert.Equal(t, 2, big.MaxParsingAttempts)
	assert.Equal(t, 4, big.RememberFormatAfterUsages)

	small := NewUsageEngine(nil, nil, nil, "tiny-model", nil)
	assert.Equal(t, 3, small.MaxParsingAttempts)
	assert.Equal(t, 3, small.RememberFormatAfterUsages)
}

func TestBindInput(t *testing.T) {
	tl := echoTool()

	// 合法 JSON 对象
	args := BindInput(tl, `{"text": "hi"}`)
	assert.Equal(t, map[string]any{"text": "hi"}, args)

	// 非 JSON 绑定到第一个 schema 字段
	args = BindInput(tl, "plain text input")
	assert.Equal(t, map[string]any{"text": "plain text input"}, args)

	// 空 schema 绑定到 input
	bare := &Tool{Name: "bare"}
	args = BindInput(bare, "whatever")
	assert.Equal(t, map[string]any{"input": "whatever"}, args)

	// 空输入
	assert.Empty(t, BindInput(tl, ""))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "text", stringify("text"))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, `{"a":1}`, stringify(map[string]int{"a": 1}))
}
