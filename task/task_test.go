package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/llm"
)

func scripted(outputs ...string) InvokeFunc {
	i := 0
	return func(_ context.Context, _ []string) (*agent.Result, error) {
		out := outputs[len(outputs)-1]
		if i < len(outputs) {
			out = outputs[i]
		}
		i++
		return &agent.Result{Output: out, Usage: llm.Usage{TotalTokens: 10, SuccessfulRequests: 1}}, nil
	}
}

func TestTask_KeyStableUnderInterpolation(t *testing.T) {
	tk := New("Research {topic}", "A report about {topic}")
	key := tk.Key()

	tk.InterpolateInputs(map[string]string{"topic": "Go"})
	assert.Equal(t, "Research Go", tk.Description)
	assert.Equal(t, "A report about Go", tk.ExpectedOutput)
	assert.Equal(t, key, tk.Key())
}

func TestTask_InterpolationIdempotent(t *testing.T) {
	inputs := map[string]string{"x": "1"}
	tk := New("value {x} and {unknown}", "out")
	tk.InterpolateInputs(inputs)
	once := tk.Description
	tk.InterpolateInputs(inputs)
	assert.Equal(t, once, tk.Description)
	assert.Contains(t, once, "{unknown}")
}

func TestTask_PromptContent(t *testing.T) {
	tk := New("Do the thing", "A done thing")
	tk.MarkdownOutput = true

	content := tk.PromptContent("previous output here", "Recent Insights:\n- hint")
	assert.Contains(t, content, "Do the thing")
	assert.Contains(t, content, "expected criteria for your final answer: A done thing")
	assert.Contains(t, content, "formatted in Markdown")
	assert.Contains(t, content, "This is the context you're working with:\nprevious output here")
	assert.Contains(t, content, "Recent Insights")
}

func TestTask_ExecuteSync_Success(t *testing.T) {
	tk := New("simple", "out")
	out, err := tk.ExecuteSync(context.Background(), "Researcher", scripted("the answer"))
	require.NoError(t, err)
	assert.Equal(t, "the answer", out.Raw)
	assert.Equal(t, "Researcher", out.Agent)
	assert.Equal(t, FormatRaw, out.Format)
	assert.False(t, tk.StartTime.IsZero())
	assert.False(t, tk.EndTime.IsZero())
}

func TestTask_GuardrailRetry(t *testing.T) {
	// S5：第一次输出太短被拒，反馈后第二次通过
	tk := New("write something long", "long text")
	tk.GuardrailMaxRetries = 2
	tk.Guardrail = func(o Output) (bool, string) {
		if len(o.Raw) < 50 {
			return false, "Output must be at least 50 characters long."
		}
		return true, ""
	}

	var seenFeedback [][]string
	invocations := 0
	invoke := func(_ context.Context, feedback []string) (*agent.Result, error) {
		invocations++
		seenFeedback = append(seenFeedback, append([]string(nil), feedback...))
		if invocations == 1 {
			return &agent.Result{Output: "too short"}, nil
		}
		return &agent.Result{Output: strings.Repeat("a sufficiently long answer ", 3)}, nil
	}

	out, err := tk.ExecuteSync(context.Background(), "Writer", invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, invocations)
	assert.GreaterOrEqual(t, len(out.Raw), 50)
	// 第二次调用收到了守卫反馈
	require.Len(t, seenFeedback, 2)
	assert.Empty(t, seenFeedback[0])
	assert.Equal(t, []string{"Output must be at least 50 characters long."}, seenFeedback[1])
	assert.Equal(t, 1, tk.RetryCount)
}

func TestTask_GuardrailExhaustion(t *testing.T) {
	tk := New("t", "o")
	tk.GuardrailMaxRetries = 2
	tk.Guardrail = func(Output) (bool, string) { return false, "never good enough" }

	_, err := tk.ExecuteSync(context.Background(), "Writer", scripted("attempt"))
	require.Error(t, err)
	var gerr *GuardrailError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, 2, gerr.Retries)
	assert.Equal(t, "never good enough", gerr.Feedback)
}

func TestTask_JSONOutputDirectParse(t *testing.T) {
	tk := New("t", "o")
	tk.OutputFormat = FormatJSON

	out, err := tk.ExecuteSync(context.Background(), "A", scripted(`{"answer": 42}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": float64(42)}, out.JSON)
}

func TestTask_JSONOutputBalancedFallback(t *testing.T) {
	tk := New("t", "o")
	tk.OutputFormat = FormatJSON

	out, err := tk.ExecuteSync(context.Background(), "A",
		scripted(`Here is the result: {"answer": {"nested": "yes"}} hope it helps`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": map[string]any{"nested": "yes"}}, out.JSON)
}

func TestTask_JSONOutputReformatRetry(t *testing.T) {
	tk := New("t", "o")
	tk.OutputFormat = FormatJSON
	tk.MaxRetries = 1

	out, err := tk.ExecuteSync(context.Background(), "A", scripted("not json at all", `{"ok": true}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out.JSON)
	assert.Equal(t, 1, tk.RetryCount)
}

func TestTask_JSONOutputReformatExhaustion(t *testing.T) {
	tk := New("t", "o")
	tk.OutputFormat = FormatJSON
	tk.MaxRetries = 1

	_, err := tk.ExecuteSync(context.Background(), "A", scripted("junk", "more junk"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output formatting failed")
}

func TestTask_OutputFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")

	tk := New("t", "o")
	tk.OutputFile = path
	tk.CreateDirectory = true

	_, err := tk.ExecuteSync(context.Background(), "A", scripted("file content"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "file content", string(data))
}

func TestTask_OutputFileNoCreateDirFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "out.txt")

	tk := New("t", "o")
	tk.OutputFile = path
	tk.CreateDirectory = false

	_, err := tk.ExecuteSync(context.Background(), "A", scripted("content"))
	assert.Error(t, err)
}

func TestTask_Timeout(t *testing.T) {
	tk := New("t", "o")
	tk.MaxExecutionTime = 1

	invoke := func(ctx context.Context, _ []string) (*agent.Result, error) {
		<-ctx.Done()
		return &agent.Result{Output: "partial work"}, agent.ErrTimedOut
	}

	start := time.Now()
	out, err := tk.ExecuteSync(context.Background(), "A", invoke)
	require.ErrorIs(t, err, agent.ErrTimedOut)
	// 部分输出被保留
	require.NotNil(t, out)
	assert.Equal(t, "partial work", out.Raw)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTask_ConditionalSkip(t *testing.T) {
	tk := New("only if previous succeeded", "o")
	tk.Condition = func(prev *Output) bool {
		return prev != nil && strings.Contains(prev.Raw, "go ahead")
	}

	assert.False(t, tk.ShouldExecute(nil))
	assert.False(t, tk.ShouldExecute(&Output{Raw: "stop"}))
	assert.True(t, tk.ShouldExecute(&Output{Raw: "go ahead now"}))

	skipped := tk.SkippedOutput("A")
	assert.Empty(t, skipped.Raw)
	assert.Equal(t, "A", skipped.Agent)
}

func TestTask_ExecuteAsync(t *testing.T) {
	tk := New("t", "o")
	res := <-tk.ExecuteAsync(context.Background(), "A", scripted("async result"))
	require.NoError(t, res.Err)
	assert.Equal(t, "async result", res.Output.Raw)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short description", summarize("short description"))
	long := strings.Repeat("word ", 15)
	s := summarize(long)
	assert.True(t, strings.HasSuffix(s, "..."))
	assert.Equal(t, 10, len(strings.Fields(strings.TrimSuffix(s, "..."))))
}

func TestExtractJSON_Errors(t *testing.T) {
	_, err := ExtractJSON("no braces here")
	assert.Error(t, err)
	_, err = ExtractJSON("{unclosed")
	assert.Error(t, err)
}

func TestExtractJSON_SkipsBracesInsideStrings(t *testing.T) {
	parsed, err := ExtractJSON(`prefix {"text": "has } brace"} suffix`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "has } brace"}, parsed)
}
