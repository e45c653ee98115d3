// Package crewflow provides a multi-agent orchestration core: crews of
// role-playing agents execute task lists sequentially or hierarchically,
// driving bounded LLM reasoning loops with tool usage, delegation,
// structured memory and a typed event bus.
//
// Usage:
//
//	import (
//		"github.com/BaSui01/crewflow/agent"
//		"github.com/BaSui01/crewflow/crew"
//		"github.com/BaSui01/crewflow/task"
//	)
//
//	researcher := agent.New(agent.Config{Role: "Researcher", Goal: "...", Backstory: "..."})
//	t := task.New("Find the answer", "a short answer")
//	c, err := crew.New(crew.Config{Agents: []*agent.Agent{researcher}, Tasks: []*task.Task{t}})
//	out, err := c.Kickoff(ctx, nil)
package crewflow

// Version 当前框架版本
const Version = "0.3.0"
