package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/memory"
)

func TestInMemory_SaveAndSearch(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "the quick brown fox jumps", memory.Metadata{"agent": "Researcher"}))
	require.NoError(t, s.Save(ctx, "completely unrelated content here", nil))

	items, err := s.Search(ctx, "quick brown fox", 5, 0.5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "the quick brown fox jumps", items[0].Value)
	assert.Equal(t, "Researcher", items[0].Agent)
	assert.Greater(t, items[0].Score, 0.5)
}

func TestInMemory_ThresholdFilters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "alpha beta", nil))

	items, err := s.Search(ctx, "alpha gamma delta epsilon", 5, 0.9)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInMemory_LimitAndOrdering(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "match one term", nil))
	require.NoError(t, s.Save(ctx, "match both terms exactly", nil))

	items, err := s.Search(ctx, "match terms", 1, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "match both terms exactly", items[0].Value)
}

func TestInMemory_Reset(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, "something", nil))
	require.NoError(t, s.Reset(ctx))
	assert.Equal(t, 0, s.Len())
}

func TestSQLite_SaveSearchReset(t *testing.T) {
	s, err := NewSQLite(":memory:", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "research the rust ecosystem", memory.Metadata{"quality": 0.9, "agent": "Researcher"}))
	require.NoError(t, s.Save(ctx, "research the go ecosystem", memory.Metadata{"quality": 0.2}))

	// 质量分阈值过滤
	items, err := s.Search(ctx, "research", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "research the rust ecosystem", items[0].Value)
	assert.Equal(t, "Researcher", items[0].Agent)
	assert.InDelta(t, 0.9, items[0].Score, 1e-9)

	// 无阈值返回两条
	items, err = s.Search(ctx, "ecosystem", 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, s.Reset(ctx))
	items, err = s.Search(ctx, "research", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSQLite_SearchLimit(t *testing.T) {
	s, err := NewSQLite(":memory:", nil)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, "repeated entry", nil))
	}
	items, err := s.Search(ctx, "repeated", 2, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
