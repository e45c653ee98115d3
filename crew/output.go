package crew

import (
	"encoding/json"

	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/task"
)

// Output 一次 Crew 运行的最终产物：终答、按执行顺序的任务输出、
// 聚合的 token 用量。
type Output struct {
	Raw         string         `json:"raw"`
	JSON        map[string]any `json:"json,omitempty"`
	Structured  any            `json:"structured,omitempty"`
	TaskOutputs []task.Output  `json:"task_outputs"`
	Usage       llm.Usage      `json:"usage"`
}

// ToJSON 序列化为 JSON 字符串
func (o *Output) ToJSON() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
