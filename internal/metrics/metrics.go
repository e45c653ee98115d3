// Package metrics 提供 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMCallsTotal LLM 调用计数，按模型与结果分类
	LLMCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crewflow",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "Total number of LLM calls.",
	}, []string{"model", "status"})

	// LLMTokensTotal 消耗 token 计数
	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crewflow",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Total tokens consumed, split by kind.",
	}, []string{"model", "kind"})

	// ToolExecutionsTotal 工具执行计数，按工具与结果分类
	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crewflow",
		Subsystem: "tool",
		Name:      "executions_total",
		Help:      "Total number of tool executions.",
	}, []string{"tool", "status"})

	// ToolDuration 工具执行耗时
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crewflow",
		Subsystem: "tool",
		Name:      "duration_seconds",
		Help:      "Tool execution duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// TaskDuration 任务执行耗时
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crewflow",
		Subsystem: "crew",
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"process"})
)
