package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crewflow/internal/ctxkeys"
)

// fakeStorage 函数字段驱动的测试存储
type fakeStorage struct {
	saveFn   func(ctx context.Context, value string, metadata Metadata) error
	searchFn func(ctx context.Context, query string, limit int, threshold float64) ([]Item, error)
	resetFn  func(ctx context.Context) error
}

func (f *fakeStorage) Save(ctx context.Context, value string, metadata Metadata) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, value, metadata)
	}
	return nil
}

func (f *fakeStorage) Search(ctx context.Context, query string, limit int, threshold float64) ([]Item, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, query, limit, threshold)
	}
	return nil, nil
}

func (f *fakeStorage) Reset(ctx context.Context) error {
	if f.resetFn != nil {
		return f.resetFn(ctx)
	}
	return nil
}

func TestMemory_SaveCarriesAgentAttribution(t *testing.T) {
	var saved Metadata
	st := &fakeStorage{saveFn: func(_ context.Context, _ string, metadata Metadata) error {
		saved = metadata
		return nil
	}}
	m := New(KindShortTerm, st, nil, nil)

	ctx := ctxkeys.WithAgentRole(context.Background(), "Researcher")
	require.NoError(t, m.Save(ctx, "finding", nil))
	assert.Equal(t, "Researcher", saved["agent"])
}

func TestMemory_SearchAsyncDefaultsToSync(t *testing.T) {
	st := &fakeStorage{searchFn: func(context.Context, string, int, float64) ([]Item, error) {
		return []Item{{Value: "hit"}}, nil
	}}
	m := New(KindEntity, st, nil, nil)

	res := <-m.SearchAsync(context.Background(), "q", 5, 0)
	require.NoError(t, res.Err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "hit", res.Items[0].Value)
}

func TestMemory_SaveAsyncDefaultsToSync(t *testing.T) {
	called := false
	st := &fakeStorage{saveFn: func(context.Context, string, Metadata) error {
		called = true
		return nil
	}}
	m := New(KindLongTerm, st, nil, nil)

	require.NoError(t, <-m.SaveAsync(context.Background(), "v", nil))
	assert.True(t, called)
}

func TestContextualMemory_BuildContext(t *testing.T) {
	mk := func(items ...Item) *Memory {
		return New(KindShortTerm, &fakeStorage{
			searchFn: func(context.Context, string, int, float64) ([]Item, error) {
				return items, nil
			},
		}, nil, nil)
	}

	cm := &ContextualMemory{
		ShortTerm: mk(Item{Value: "recent insight", Agent: "Researcher"}),
		LongTerm:  mk(Item{Value: "historical fact"}),
		Entity:    mk(), // 空结果，段落省略
	}

	out, err := cm.BuildContext(context.Background(), "anything")
	require.NoError(t, err)
	assert.Contains(t, out, "Historical Data:\n- historical fact")
	assert.Contains(t, out, "Recent Insights:\n- recent insight (Researcher)")
	assert.NotContains(t, out, "Entities")
	assert.NotContains(t, out, "External")
}

func TestContextualMemory_AllEmpty(t *testing.T) {
	cm := &ContextualMemory{}
	out, err := cm.BuildContext(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestContextualMemory_PropagatesError(t *testing.T) {
	failing := New(KindShortTerm, &fakeStorage{
		searchFn: func(context.Context, string, int, float64) ([]Item, error) {
			return nil, assert.AnError
		},
	}, nil, nil)

	cm := &ContextualMemory{ShortTerm: failing}
	_, err := cm.BuildContext(context.Background(), "q")
	assert.Error(t, err)
}
