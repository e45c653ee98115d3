package task

import (
	"context"
	"fmt"
)

// GuardrailFunc 程序化守卫：校验任务输出，拒绝时给出反馈
type GuardrailFunc func(output Output) (ok bool, feedback string)

// Critic 描述性守卫的协作者接口：把自然语言条件交给二次 LLM 评审。
// 具体实现在核心之外。
type Critic interface {
	Judge(ctx context.Context, condition string, output Output) (ok bool, feedback string, err error)
}

// GuardrailError 守卫在重试预算内始终拒绝
type GuardrailError struct {
	TaskID   string
	Feedback string
	Retries  int
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail rejected task %s output after %d retries: %s", e.TaskID, e.Retries, e.Feedback)
}
