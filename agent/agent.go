package agent

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/llm"
)

// 默认执行预算
const (
	DefaultMaxIter            = 20
	DefaultMaxRetryLimit      = 2
	DefaultMaxDelegationDepth = 3
)

// Config Agent 配置。角色三元组（Role/Goal/Backstory）构成身份。
type Config struct {
	Role      string `json:"role" yaml:"role"`
	Goal      string `json:"goal" yaml:"goal"`
	Backstory string `json:"backstory" yaml:"backstory"`

	LLM llm.Config `json:"llm" yaml:"llm"`

	// Tools 允许使用的工具名白名单
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`

	MaxIter       int `json:"max_iter,omitempty" yaml:"max_iter,omitempty"`
	MaxRPM        int `json:"max_rpm,omitempty" yaml:"max_rpm,omitempty"`
	MaxRetryLimit int `json:"max_retry_limit,omitempty" yaml:"max_retry_limit,omitempty"`

	AllowDelegation bool `json:"allow_delegation,omitempty" yaml:"allow_delegation,omitempty"`
	// ForceTextReasoning 强制 ReAct 文本模式，即使 Provider 支持原生工具调用
	ForceTextReasoning bool `json:"force_text_reasoning,omitempty" yaml:"force_text_reasoning,omitempty"`
	Verbose            bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`

	MaxDelegationDepth int `json:"max_delegation_depth,omitempty" yaml:"max_delegation_depth,omitempty"`
}

// Agent 角色化的执行单元。身份不可变；计数器只由执行器在任务期间修改。
type Agent struct {
	config Config

	// 原始身份三元组。插值只作用于工作副本，Key 始终基于原值。
	originalRole      string
	originalGoal      string
	originalBackstory string

	client *llm.Client
	logger *zap.Logger

	mu          sync.Mutex
	iterations  int
	toolErrors  int
	delegations int
}

// New 创建 Agent。未设置的预算字段取默认值。
func New(cfg Config) *Agent {
	if cfg.MaxIter == 0 {
		cfg.MaxIter = DefaultMaxIter
	}
	if cfg.MaxRetryLimit == 0 {
		cfg.MaxRetryLimit = DefaultMaxRetryLimit
	}
	if cfg.MaxDelegationDepth == 0 {
		cfg.MaxDelegationDepth = DefaultMaxDelegationDepth
	}
	return &Agent{
		config:            cfg,
		originalRole:      cfg.Role,
		originalGoal:      cfg.Goal,
		originalBackstory: cfg.Backstory,
		logger:            zap.NewNop(),
	}
}

// SetLLM 绑定 LLM 句柄，由 Crew 在装配时调用
func (a *Agent) SetLLM(client *llm.Client) { a.client = client }

// LLM 返回绑定的 LLM 句柄
func (a *Agent) LLM() *llm.Client { return a.client }

// SetLogger 绑定日志器
func (a *Agent) SetLogger(logger *zap.Logger) {
	if logger != nil {
		a.logger = logger.With(zap.String("agent_role", a.config.Role))
	}
}

// Logger 返回日志器
func (a *Agent) Logger() *zap.Logger { return a.logger }

// Config 返回配置副本
func (a *Agent) Config() Config { return a.config }

// Role 当前角色（可能已插值）
func (a *Agent) Role() string { return a.config.Role }

// Goal 当前目标
func (a *Agent) Goal() string { return a.config.Goal }

// Backstory 当前背景
func (a *Agent) Backstory() string { return a.config.Backstory }

// Key 身份键：原始三元组的稳定 128 位摘要，插值不改变它。
// 用于去重与缓存分区。
func (a *Agent) Key() string {
	source := fmt.Sprintf("%s|%s|%s", a.originalRole, a.originalGoal, a.originalBackstory)
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Fingerprint 实现 events.Source
func (a *Agent) Fingerprint() string { return a.Key() }

// SourceType 实现 events.Source
func (a *Agent) SourceType() string { return "agent" }

// InterpolateInputs 把 {key} 占位符替换为输入值。未知键保留原样。
// 原始三元组不受影响，Key 保持稳定。
func (a *Agent) InterpolateInputs(inputs map[string]string) {
	a.config.Role = interpolate(a.originalRole, inputs)
	a.config.Goal = interpolate(a.originalGoal, inputs)
	a.config.Backstory = interpolate(a.originalBackstory, inputs)
}

// interpolate 替换 {key} 占位符，未知键保留字面值
func interpolate(text string, inputs map[string]string) string {
	if text == "" || len(inputs) == 0 {
		return text
	}
	for key, value := range inputs {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	return text
}

// IncrementIterations 执行器递增迭代计数
func (a *Agent) IncrementIterations() {
	a.mu.Lock()
	a.iterations++
	a.mu.Unlock()
}

// IncrementToolErrors 执行器递增工具错误计数
func (a *Agent) IncrementToolErrors() {
	a.mu.Lock()
	a.toolErrors++
	a.mu.Unlock()
}

// IncrementDelegations 执行器递增委派计数
func (a *Agent) IncrementDelegations() {
	a.mu.Lock()
	a.delegations++
	a.mu.Unlock()
}

// Counters 返回 (iterations, toolErrors, delegations)
func (a *Agent) Counters() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.iterations, a.toolErrors, a.delegations
}
