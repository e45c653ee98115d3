package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/crewflow/tool"
)

// 委派工具名。执行器把它们当作普通工具分发，工具体内嵌套调用目标
// Agent 的执行器。
const (
	DelegateWorkToolName = "Delegate work to coworker"
	AskQuestionToolName  = "Ask question to coworker"
)

// ErrDelegationDepthExceeded 委派嵌套超过上限
var ErrDelegationDepthExceeded = fmt.Errorf("delegation depth limit exceeded")

// CoworkerRunner 在目标 Agent 上执行一次嵌套任务。
// 由 Crew 提供实现，内部创建新的执行器并递增嵌套深度。
type CoworkerRunner func(ctx context.Context, coworker *Agent, taskDescription, taskContext string) (string, error)

// DelegationTools 为允许委派的 Agent 注入两个合成工具：
// 向同事委派工作、向同事提问。
func DelegationTools(delegator *Agent, coworkers []*Agent, run CoworkerRunner) []*tool.Tool {
	roles := make([]string, 0, len(coworkers))
	for _, c := range coworkers {
		roles = append(roles, c.Role())
	}
	coworkerList := strings.Join(roles, ", ")

	resolve := func(name string) (*Agent, error) {
		want := strings.ToLower(strings.TrimSpace(strings.Trim(name, "\"")))
		for _, c := range coworkers {
			if strings.ToLower(strings.TrimSpace(c.Role())) == want {
				return c, nil
			}
		}
		return nil, fmt.Errorf("coworker %q not found, available coworkers: %s", name, coworkerList)
	}

	delegate := &tool.Tool{
		Name: DelegateWorkToolName,
		Description: fmt.Sprintf(
			"Delegate a specific task to one of the following coworkers: %s\n"+
				"The input to this tool should be the coworker, the task you want them to do, and ALL necessary context to execute the task.",
			coworkerList),
		ArgsSchema: []byte(`{"type":"object","properties":{"task":{"type":"string","description":"The task to delegate"},"context":{"type":"string","description":"The context for the task"},"coworker":{"type":"string","description":"The role/name of the coworker to delegate to"}},"required":["task","coworker"]}`),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			coworker, err := resolve(str(args["coworker"]))
			if err != nil {
				return nil, err
			}
			delegator.IncrementDelegations()
			return run(ctx, coworker, str(args["task"]), str(args["context"]))
		},
	}

	ask := &tool.Tool{
		Name: AskQuestionToolName,
		Description: fmt.Sprintf(
			"Ask a specific question to one of the following coworkers: %s\n"+
				"The input to this tool should be the coworker, the question you have for them, and ALL necessary context to answer the question.",
			coworkerList),
		ArgsSchema: []byte(`{"type":"object","properties":{"question":{"type":"string","description":"The question to ask"},"context":{"type":"string","description":"The context for the question"},"coworker":{"type":"string","description":"The role/name of the coworker to ask"}},"required":["question","coworker"]}`),
		Run: func(ctx context.Context, args map[string]any) (any, error) {
			coworker, err := resolve(str(args["coworker"]))
			if err != nil {
				return nil, err
			}
			delegator.IncrementDelegations()
			return run(ctx, coworker, str(args["question"]), str(args["context"]))
		},
	}

	return []*tool.Tool{delegate, ask}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
