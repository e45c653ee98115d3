// =============================================================================
// 📦 CrewFlow 配置加载器
// =============================================================================
// 从 YAML 文件加载 crew/agents/tasks 的声明式定义。
// 支持 ${ENV_VAR} 环境变量展开。
package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/crewflow/agent"
	"github.com/BaSui01/crewflow/crew"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/task"
	"github.com/BaSui01/crewflow/tool"
)

// Definition 一个 crew 的声明式定义
type Definition struct {
	Crew   CrewSection    `yaml:"crew"`
	Agents []agent.Config `yaml:"agents"`
	Tasks  []*task.Task   `yaml:"tasks"`
}

// CrewSection crew 级配置
type CrewSection struct {
	Name       string       `yaml:"name"`
	Process    crew.Process `yaml:"process,omitempty"`
	Verbose    bool         `yaml:"verbose,omitempty"`
	Memory     bool         `yaml:"memory,omitempty"`
	MaxRPM     int          `yaml:"max_rpm,omitempty"`
	Planning   bool         `yaml:"planning,omitempty"`
	ManagerLLM *llm.Config  `yaml:"manager_llm,omitempty"`
}

// Load 读取并解析定义文件
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse 解析定义内容，${VAR} 先做环境变量展开
func Parse(data []byte) (*Definition, error) {
	expanded := os.Expand(string(data), func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		// 未定义的变量保留字面值
		return "${" + key + "}"
	})

	var def Definition
	if err := yaml.Unmarshal([]byte(expanded), &def); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	for _, t := range def.Tasks {
		t.Normalize()
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("config requires at least one agent")
	}
	if len(d.Tasks) == 0 {
		return fmt.Errorf("config requires at least one task")
	}
	for i, a := range d.Agents {
		if strings.TrimSpace(a.Role) == "" {
			return fmt.Errorf("agent %d: role is required", i)
		}
		if strings.TrimSpace(a.LLM.Model) == "" {
			return fmt.Errorf("agent %q: llm.model is required", a.Role)
		}
	}
	for i, t := range d.Tasks {
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("task %d: description is required", i)
		}
		if strings.TrimSpace(t.ExpectedOutput) == "" {
			return fmt.Errorf("task %d: expected_output is required", i)
		}
	}
	return nil
}

// BuildOptions 装配选项
type BuildOptions struct {
	// Providers 为空时使用进程级注册表
	Providers map[string]llm.Provider
	Tools     []*tool.Tool
	Logger    *zap.Logger
	HumanInput agent.HumanInputFunc
}

// Build 把定义装配成可运行的 Crew
func (d *Definition) Build(opts BuildOptions) (*crew.Crew, error) {
	agents := make([]*agent.Agent, 0, len(d.Agents))
	for _, cfg := range d.Agents {
		agents = append(agents, agent.New(cfg))
	}

	return crew.New(crew.Config{
		Name:       d.Crew.Name,
		Agents:     agents,
		Tasks:      d.Tasks,
		Process:    d.Crew.Process,
		Verbose:    d.Crew.Verbose,
		Memory:     d.Crew.Memory,
		MaxRPM:     d.Crew.MaxRPM,
		Planning:   d.Crew.Planning,
		ManagerLLM: d.Crew.ManagerLLM,
		Providers:  opts.Providers,
		Tools:      opts.Tools,
		Logger:     opts.Logger,
		HumanInput: opts.HumanInput,
	})
}
