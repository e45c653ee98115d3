// Package storage 提供 memory.Storage 的内置实现。
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/crewflow/memory"
)

// InMemory 进程内存储，词重叠打分。
// 短期与实体记忆的默认后端；向量化后端可在外部实现同一接口接入。
type InMemory struct {
	mu      sync.RWMutex
	records []record
}

type record struct {
	value     string
	metadata  memory.Metadata
	agent     string
	createdAt time.Time
	tokens    map[string]struct{}
}

// NewInMemory 创建进程内存储
func NewInMemory() *InMemory {
	return &InMemory{}
}

// Save 写入一条记录
func (s *InMemory) Save(_ context.Context, value string, metadata memory.Metadata) error {
	agent, _ := metadata["agent"].(string)
	s.mu.Lock()
	s.records = append(s.records, record{
		value:     value,
		metadata:  metadata,
		agent:     agent,
		createdAt: time.Now(),
		tokens:    tokenize(value),
	})
	s.mu.Unlock()
	return nil
}

// Search 按词重叠度打分，过滤阈值后按分数降序取前 limit 条
func (s *InMemory) Search(_ context.Context, query string, limit int, scoreThreshold float64) ([]memory.Item, error) {
	queryTokens := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]memory.Item, 0, len(s.records))
	for _, r := range s.records {
		score := overlapScore(queryTokens, r.tokens)
		if score < scoreThreshold {
			continue
		}
		items = append(items, memory.Item{
			Value:     r.value,
			Metadata:  r.metadata,
			Agent:     r.agent,
			Score:     score,
			CreatedAt: r.createdAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Reset 清空
func (s *InMemory) Reset(context.Context) error {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	return nil
}

// Len 当前记录数
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) > 1 {
			tokens[word] = struct{}{}
		}
	}
	return tokens
}

// overlapScore 查询词在记录里命中的比例
func overlapScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	hits := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
