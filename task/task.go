package task

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/internal/ctxkeys"
)

// DefaultGuardrailMaxRetries 守卫拒绝的默认重试预算
const DefaultGuardrailMaxRetries = 3

// Task 一个工作单元。Context 依赖必须构成任务表上的 DAG。
type Task struct {
	ID             string       `json:"id" yaml:"id"`
	Description    string       `json:"description" yaml:"description"`
	ExpectedOutput string       `json:"expected_output" yaml:"expected_output"`
	Agent          string       `json:"agent,omitempty" yaml:"agent,omitempty"` // 角色名引用，派发时解析
	Context        []string     `json:"context,omitempty" yaml:"context,omitempty"` // 前置任务 ID
	Tools          []string     `json:"tools,omitempty" yaml:"tools,omitempty"`
	OutputFormat   OutputFormat `json:"output_format,omitempty" yaml:"output_format,omitempty"`
	OutputFile     string       `json:"output_file,omitempty" yaml:"output_file,omitempty"`
	CreateDirectory bool        `json:"create_directory,omitempty" yaml:"create_directory,omitempty"`

	// Guardrail 程序化守卫
	Guardrail GuardrailFunc `json:"-" yaml:"-"`
	// GuardrailDescription 描述性守卫条件，由 Critic 协作者评审
	GuardrailDescription string `json:"guardrail,omitempty" yaml:"guardrail,omitempty"`
	Critic               Critic `json:"-" yaml:"-"`
	GuardrailMaxRetries  int    `json:"guardrail_max_retries,omitempty" yaml:"guardrail_max_retries,omitempty"`

	// MaxRetries 输出格式化失败的重试预算
	MaxRetries int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`

	Async      bool `json:"async,omitempty" yaml:"async,omitempty"`
	HumanInput bool `json:"human_input,omitempty" yaml:"human_input,omitempty"`

	// Condition 条件执行：收到前置输出后决定是否执行，nil 表示总是执行
	Condition func(previous *Output) bool `json:"-" yaml:"-"`

	MarkdownOutput bool `json:"markdown,omitempty" yaml:"markdown,omitempty"`
	InjectDate     bool `json:"inject_date,omitempty" yaml:"inject_date,omitempty"`

	// MaxExecutionTime 单位秒，0 表示不限
	MaxExecutionTime int `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`

	// 原始文案，Key 与重插值的基础
	originalDescription    string
	originalExpectedOutput string

	// 执行期字段
	StartTime   time.Time `json:"start_time,omitempty"`
	EndTime     time.Time `json:"end_time,omitempty"`
	UsedTools   int       `json:"used_tools,omitempty"`
	Delegations int       `json:"delegations,omitempty"`
	RetryCount  int       `json:"retry_count,omitempty"`
}

// New 创建任务
func New(description, expectedOutput string) *Task {
	return &Task{
		ID:                     uuid.NewString(),
		Description:            description,
		ExpectedOutput:         expectedOutput,
		OutputFormat:           FormatRaw,
		GuardrailMaxRetries:    DefaultGuardrailMaxRetries,
		MaxRetries:             DefaultGuardrailMaxRetries,
		originalDescription:    description,
		originalExpectedOutput: expectedOutput,
	}
}

// Normalize 补全反序列化产生的任务缺失的派生字段。
// 配置加载器在 yaml 解码后调用。
func (t *Task) Normalize() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.OutputFormat == "" {
		t.OutputFormat = FormatRaw
	}
	if t.GuardrailMaxRetries == 0 {
		t.GuardrailMaxRetries = DefaultGuardrailMaxRetries
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultGuardrailMaxRetries
	}
	if t.originalDescription == "" {
		t.originalDescription = t.Description
	}
	if t.originalExpectedOutput == "" {
		t.originalExpectedOutput = t.ExpectedOutput
	}
}

// Key 任务键：原始描述与期望输出的稳定摘要，插值不改变
func (t *Task) Key() string {
	source := fmt.Sprintf("%s|%s", t.originalDescription, t.originalExpectedOutput)
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// InterpolateInputs 把 {key} 占位符替换为输入值，未知键保留字面值
func (t *Task) InterpolateInputs(inputs map[string]string) {
	t.Description = interpolate(t.originalDescription, inputs)
	t.ExpectedOutput = interpolate(t.originalExpectedOutput, inputs)
}

func interpolate(text string, inputs map[string]string) string {
	if text == "" || len(inputs) == 0 {
		return text
	}
	for key, value := range inputs {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

// PromptContent 拼装任务提示词：插值后的描述与期望输出、
// 可选的 markdown 指令、前置任务上下文段、记忆检索段、日期注入。
func (t *Task) PromptContent(contextSection, memorySection string) string {
	var sb strings.Builder
	sb.WriteString(t.Description)
	sb.WriteString("\n\nThis is the expected criteria for your final answer: ")
	sb.WriteString(t.ExpectedOutput)
	sb.WriteString("\nyou MUST return the actual complete content as the final answer, not a summary.")

	if t.MarkdownOutput {
		sb.WriteString("\n\nYour final answer MUST be formatted in Markdown.")
	}
	if t.InjectDate {
		sb.WriteString("\n\nCurrent date: ")
		sb.WriteString(time.Now().Format("2006-01-02"))
	}
	if contextSection != "" {
		sb.WriteString("\n\nThis is the context you're working with:\n")
		sb.WriteString(contextSection)
	}
	if memorySection != "" {
		sb.WriteString("\n\n")
		sb.WriteString(memorySection)
	}
	return sb.String()
}

// ShouldExecute 条件任务判定
func (t *Task) ShouldExecute(previous *Output) bool {
	if t.Condition == nil {
		return true
	}
	return t.Condition(previous)
}

// SkippedOutput 条件不满足时的空输出
func (t *Task) SkippedOutput(agentRole string) *Output {
	return &Output{
		Raw:         "",
		Agent:       agentRole,
		Format:      t.OutputFormat,
		Description: t.Description,
		Summary:     summarize(t.Description),
	}
}

// InvokeFunc 由调度器提供：以给定的反馈补充执行一次推理循环
type InvokeFunc func(ctx context.Context, feedback []string) (*agent.Result, error)

// ExecuteSync 同步执行任务：超时包装、守卫重试、输出格式化、落盘。
func (t *Task) ExecuteSync(ctx context.Context, agentRole string, invoke InvokeFunc) (*Output, error) {
	t.StartTime = time.Now()
	defer func() { t.EndTime = time.Now() }()

	ctx = ctxkeys.WithTaskID(ctx, t.ID)
	if t.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.MaxExecutionTime)*time.Second)
		defer cancel()
	}

	guardrailRetries := 0
	formatRetries := 0
	var feedback []string

	for {
		result, err := invoke(ctx, feedback)
		if err != nil {
			// 超时带回尽力而为的部分输出
			if errors.Is(err, agent.ErrTimedOut) && result != nil {
				partial := t.buildOutput(result, agentRole)
				return partial, err
			}
			return nil, err
		}

		out := t.buildOutput(result, agentRole)

		// 输出格式化
		if t.OutputFormat == FormatJSON || t.OutputFormat == FormatStructured {
			parsed, jerr := ExtractJSON(out.Raw)
			if jerr != nil {
				if formatRetries < t.MaxRetries {
					formatRetries++
					t.RetryCount++
					feedback = append(feedback, "Your previous answer was not valid JSON. Return ONLY a valid JSON object matching the expected output.")
					continue
				}
				return nil, fmt.Errorf("task %s output formatting failed: %w", t.ID, jerr)
			}
			out.JSON = parsed
			if t.OutputFormat == FormatStructured {
				out.Structured = parsed
			}
		}

		// 程序化守卫
		if t.Guardrail != nil {
			if ok, message := t.Guardrail(*out); !ok {
				if guardrailRetries < t.guardrailBudget() {
					guardrailRetries++
					t.RetryCount++
					feedback = append(feedback, message)
					continue
				}
				return nil, &GuardrailError{TaskID: t.ID, Feedback: message, Retries: guardrailRetries}
			}
		}

		// 描述性守卫（LLM 评审，协作者实现）
		if t.GuardrailDescription != "" && t.Critic != nil {
			ok, message, cerr := t.Critic.Judge(ctx, t.GuardrailDescription, *out)
			if cerr != nil {
				return nil, fmt.Errorf("guardrail critic failed: %w", cerr)
			}
			if !ok {
				if guardrailRetries < t.guardrailBudget() {
					guardrailRetries++
					t.RetryCount++
					feedback = append(feedback, message)
					continue
				}
				return nil, &GuardrailError{TaskID: t.ID, Feedback: message, Retries: guardrailRetries}
			}
		}

		// 落盘
		if t.OutputFile != "" {
			if werr := writeOutputFile(t.OutputFile, out.Raw, t.CreateDirectory); werr != nil {
				return nil, werr
			}
		}
		return out, nil
	}
}

// ExecuteResult 异步执行结果
type ExecuteResult struct {
	Output *Output
	Err    error
}

// ExecuteAsync 异步执行，返回结果通道
func (t *Task) ExecuteAsync(ctx context.Context, agentRole string, invoke InvokeFunc) <-chan ExecuteResult {
	ch := make(chan ExecuteResult, 1)
	go func() {
		out, err := t.ExecuteSync(ctx, agentRole, invoke)
		ch <- ExecuteResult{Output: out, Err: err}
		close(ch)
	}()
	return ch
}

func (t *Task) guardrailBudget() int {
	if t.GuardrailMaxRetries > 0 {
		return t.GuardrailMaxRetries
	}
	return DefaultGuardrailMaxRetries
}

func (t *Task) buildOutput(result *agent.Result, agentRole string) *Output {
	return &Output{
		Raw:         result.Output,
		Agent:       agentRole,
		Format:      t.OutputFormat,
		Description: t.Description,
		Summary:     summarize(t.Description),
		Messages:    result.Messages,
		Usage:       result.Usage,
	}
}

// ExecutionDuration 执行耗时
func (t *Task) ExecutionDuration() time.Duration {
	if t.StartTime.IsZero() || t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}
