package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/events"
	"github.com/BaSui01/crewflow/internal/ctxkeys"
)

// Kind 记忆类别
type Kind string

const (
	KindShortTerm Kind = "short_term" // 近期任务输出，相似度检索
	KindLongTerm  Kind = "long_term"  // 跨运行历史记录，带质量分
	KindEntity    Kind = "entity"     // 命名实体事实与关系
	KindExternal  Kind = "external"   // 外部服务
)

// Metadata 记忆元数据
type Metadata map[string]any

// Item 一条记忆检索结果
type Item struct {
	Value     string    `json:"value"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Storage 存储后端接口。实现必须支持并发读写；
// 向量还是 SQL 由实现决定，核心不做约束。
type Storage interface {
	Save(ctx context.Context, value string, metadata Metadata) error
	Search(ctx context.Context, query string, limit int, scoreThreshold float64) ([]Item, error)
	Reset(ctx context.Context) error
}

// AsyncStorage 可选的异步接口，未实现时退化为同步路径
type AsyncStorage interface {
	SaveAsync(ctx context.Context, value string, metadata Metadata) <-chan error
}

// Memory 一种记忆的句柄：存储后端 + 类别 + 事件发射
type Memory struct {
	kind    Kind
	storage Storage
	bus     *events.Bus
	logger  *zap.Logger
}

// New 创建记忆句柄
func New(kind Kind, storage Storage, bus *events.Bus, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		kind:    kind,
		storage: storage,
		bus:     bus,
		logger:  logger.With(zap.String("component", "memory"), zap.String("kind", string(kind))),
	}
}

// Kind 返回类别
func (m *Memory) Kind() Kind { return m.kind }

// Save 写入记忆。写入自动携带当前任务的产出 Agent 标识。
func (m *Memory) Save(ctx context.Context, value string, metadata Metadata) error {
	if m.bus != nil {
		m.bus.Emit(ctx, m, &events.MemorySaveStartedEvent{MemoryKind: string(m.kind)})
	}

	if metadata == nil {
		metadata = Metadata{}
	}
	if agent, ok := ctxkeys.AgentRole(ctx); ok {
		metadata["agent"] = agent
	}

	err := m.storage.Save(ctx, value, metadata)
	if m.bus != nil {
		if err != nil {
			m.bus.Emit(ctx, m, &events.MemorySaveFailedEvent{MemoryKind: string(m.kind), Error: err.Error()})
		} else {
			m.bus.Emit(ctx, m, &events.MemorySaveCompletedEvent{MemoryKind: string(m.kind)})
		}
	}
	return err
}

// SaveAsync 异步写入
func (m *Memory) SaveAsync(ctx context.Context, value string, metadata Metadata) <-chan error {
	if as, ok := m.storage.(AsyncStorage); ok {
		return as.SaveAsync(ctx, value, metadata)
	}
	ch := make(chan error, 1)
	go func() {
		ch <- m.Save(ctx, value, metadata)
		close(ch)
	}()
	return ch
}

// Search 检索记忆
func (m *Memory) Search(ctx context.Context, query string, limit int, scoreThreshold float64) ([]Item, error) {
	if m.bus != nil {
		m.bus.Emit(ctx, m, &events.MemoryRetrievalStartedEvent{Query: query})
	}

	items, err := m.storage.Search(ctx, query, limit, scoreThreshold)
	if m.bus != nil {
		if err != nil {
			m.bus.Emit(ctx, m, &events.MemoryRetrievalFailedEvent{Query: query, Error: err.Error()})
		} else {
			m.bus.Emit(ctx, m, &events.MemoryRetrievalCompletedEvent{Query: query, Results: len(items)})
		}
	}
	return items, err
}

// SearchAsync 异步检索
func (m *Memory) SearchAsync(ctx context.Context, query string, limit int, scoreThreshold float64) <-chan SearchResult {
	ch := make(chan SearchResult, 1)
	go func() {
		items, err := m.Search(ctx, query, limit, scoreThreshold)
		ch <- SearchResult{Items: items, Err: err}
		close(ch)
	}()
	return ch
}

// SearchResult 异步检索结果
type SearchResult struct {
	Items []Item
	Err   error
}

// Reset 清空底层存储
func (m *Memory) Reset(ctx context.Context) error {
	return m.storage.Reset(ctx)
}
