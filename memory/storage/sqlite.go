package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/crewflow/memory"
)

// LongTermRecord 长期记忆表结构
type LongTermRecord struct {
	ID              uint      `gorm:"primaryKey"`
	TaskDescription string    `gorm:"index"`
	Metadata        string    // JSON 序列化的元数据
	Agent           string    `gorm:"index"`
	Quality         float64   // 质量分
	CreatedAt       time.Time `gorm:"index"`
}

// TableName gorm 表名
func (LongTermRecord) TableName() string { return "long_term_memories" }

// SQLite 长期记忆的 SQLite 存储。跨运行保留，带质量分。
type SQLite struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLite 打开（或创建）数据库并迁移表结构。
// path 为 ":memory:" 时使用内存库，适合测试。
func NewSQLite(path string, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&LongTermRecord{}); err != nil {
		return nil, err
	}
	return &SQLite{db: db, logger: logger.With(zap.String("component", "ltm_storage"))}, nil
}

// Save 写入一条长期记忆。质量分取 metadata 的 quality 字段。
func (s *SQLite) Save(ctx context.Context, value string, metadata memory.Metadata) error {
	quality := 0.0
	if q, ok := metadata["quality"].(float64); ok {
		quality = q
	}
	agent, _ := metadata["agent"].(string)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	rec := LongTermRecord{
		TaskDescription: value,
		Metadata:        string(metaJSON),
		Agent:           agent,
		Quality:         quality,
		CreatedAt:       time.Now(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Search 按任务描述模糊匹配，质量分过滤阈值，时间倒序取最新 limit 条
func (s *SQLite) Search(ctx context.Context, query string, limit int, scoreThreshold float64) ([]memory.Item, error) {
	if limit <= 0 {
		limit = 3
	}
	var records []LongTermRecord
	err := s.db.WithContext(ctx).
		Where("task_description LIKE ?", "%"+query+"%").
		Where("quality >= ?", scoreThreshold).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	items := make([]memory.Item, 0, len(records))
	for _, r := range records {
		var meta memory.Metadata
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			meta = memory.Metadata{}
		}
		items = append(items, memory.Item{
			Value:     r.TaskDescription,
			Metadata:  meta,
			Agent:     r.Agent,
			Score:     r.Quality,
			CreatedAt: r.CreatedAt,
		})
	}
	return items, nil
}

// Reset 清空全部长期记忆
func (s *SQLite) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&LongTermRecord{}).Error
}
