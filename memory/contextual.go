package memory

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// contextTopK 每个存储保留的最大条数
const contextTopK = 5

// defaultScoreThreshold 默认相似度阈值
const defaultScoreThreshold = 0.35

// ContextualMemory 聚合各类记忆，为任务提示词构建检索上下文
type ContextualMemory struct {
	ShortTerm *Memory
	LongTerm  *Memory
	Entity    *Memory
	External  *Memory

	// ScoreThreshold 为 0 时使用默认阈值
	ScoreThreshold float64
}

// section 带标签的上下文片段
type section struct {
	label string
	items []Item
}

// BuildContext 并行查询已配置的存储，各取阈值之上的 top-5，
// 拼接成带标签的上下文字符串，空段落省略。
func (c *ContextualMemory) BuildContext(ctx context.Context, query string) (string, error) {
	threshold := c.ScoreThreshold
	if threshold == 0 {
		threshold = defaultScoreThreshold
	}

	type slot struct {
		label string
		mem   *Memory
	}
	slots := []slot{
		{"Historical Data", c.LongTerm},
		{"Recent Insights", c.ShortTerm},
		{"Entities", c.Entity},
		{"External", c.External},
	}

	var mu sync.Mutex
	results := make(map[string][]Item, len(slots))

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range slots {
		s := s
		if s.mem == nil {
			continue
		}
		g.Go(func() error {
			items, err := s.mem.Search(gctx, query, contextTopK, threshold)
			if err != nil {
				return err
			}
			mu.Lock()
			results[s.label] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	sections := make([]section, 0, len(slots))
	for _, s := range slots {
		if items := results[s.label]; len(items) > 0 {
			sections = append(sections, section{label: s.label, items: items})
		}
	}
	return renderSections(sections), nil
}

func renderSections(sections []section) string {
	var sb strings.Builder
	for i, sec := range sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(sec.label)
		sb.WriteString(":")
		for _, item := range sec.items {
			sb.WriteString("\n- ")
			sb.WriteString(item.Value)
			if item.Agent != "" {
				sb.WriteString(" (")
				sb.WriteString(item.Agent)
				sb.WriteString(")")
			}
		}
	}
	return sb.String()
}
