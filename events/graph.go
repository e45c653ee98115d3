package events

import (
	"fmt"
	"sort"
	"strings"
)

// CircularDependencyError 处理器依赖成环，属于致命配置错误
type CircularDependencyError struct {
	Handlers []string
}

func (e *CircularDependencyError) Error() string {
	names := e.Handlers
	if len(names) > 5 {
		names = names[:5]
	}
	return fmt.Sprintf("circular dependency detected in event handlers: %s", strings.Join(names, ", "))
}

// buildExecutionPlan 用 Kahn 拓扑排序把处理器依赖解析为层级执行计划。
// 第 0 层是无依赖的处理器，第 N 层依赖 0..N-1 层；同层可并行执行。
func buildExecutionPlan(deps map[string][]string) ([][]string, error) {
	inDegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string)

	for name := range deps {
		inDegree[name] = 0
	}
	for name, after := range deps {
		inDegree[name] = len(after)
		for _, dep := range after {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(inDegree))
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	var levels [][]string
	resolved := 0
	for len(queue) > 0 {
		level := make([]string, len(queue))
		copy(level, queue)
		queue = queue[:0]

		for _, name := range level {
			resolved++
			next := dependents[name]
			sort.Strings(next)
			for _, dep := range next {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					queue = append(queue, dep)
				}
			}
		}
		sort.Strings(queue)
		levels = append(levels, level)
	}

	if resolved != len(inDegree) {
		var remaining []string
		for name, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CircularDependencyError{Handlers: remaining}
	}

	return levels, nil
}
