package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(zap.NewNop())
	t.Cleanup(func() { bus.Shutdown(true) })
	return bus
}

func TestBus_RegisterAndEmit(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var got []string

	err := bus.Register(TaskCompleted, "recorder", func(_ any, ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.Base().EventID)
	})
	require.NoError(t, err)

	id := bus.Emit(context.Background(), nil, &TaskCompletedEvent{Output: "done"})
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0])
}

func TestBus_HandlerOrdering(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var order []string
	record := func(name string) HandlerFunc {
		return func(any, Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	require.NoError(t, bus.Register(TaskCompleted, "h_a", record("h_a")))
	require.NoError(t, bus.Register(TaskCompleted, "h_b", record("h_b"), "h_a"))

	bus.Emit(context.Background(), nil, &TaskCompletedEvent{})
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"h_a", "h_b"}, order)
}

func TestBus_CyclicDependencyRejected(t *testing.T) {
	bus := newTestBus(t)

	noop := func(any, Event) {}
	require.NoError(t, bus.Register(TaskCompleted, "h_a", noop, "h_b"))
	// h_a 已声明依赖 h_b；注册 h_b 依赖 h_a 时成环
	err := bus.Register(TaskCompleted, "h_b", noop, "h_a")
	require.Error(t, err)
	var cycleErr *CircularDependencyError
	require.ErrorAs(t, err, &cycleErr)

	// 回滚后 h_a 仍可分发
	plan, err := bus.ValidateDependencies(TaskCompleted)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"h_a"}}, plan)
}

func TestBus_DuplicateNameRejected(t *testing.T) {
	bus := newTestBus(t)
	noop := func(any, Event) {}
	require.NoError(t, bus.Register(TaskCompleted, "h", noop))
	assert.Error(t, bus.Register(TaskCompleted, "h", noop))
}

func TestBus_PanicIsolation(t *testing.T) {
	bus := newTestBus(t)

	done := make(chan struct{})
	require.NoError(t, bus.Register(TaskCompleted, "panics", func(any, Event) {
		panic("boom")
	}))
	require.NoError(t, bus.Register(TaskCompleted, "survives", func(any, Event) {
		close(done)
	}, "panics"))

	bus.Emit(context.Background(), nil, &TaskCompletedEvent{})
	bus.Flush()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler did not run after panic in first")
	}
}

func TestBus_Unregister(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	count := 0
	require.NoError(t, bus.Register(TaskCompleted, "h", func(any, Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	bus.Emit(context.Background(), nil, &TaskCompletedEvent{})
	bus.Flush()
	bus.Unregister(TaskCompleted, "h")
	bus.Emit(context.Background(), nil, &TaskCompletedEvent{})
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBus_EmitWithoutHandlersIsNoop(t *testing.T) {
	bus := newTestBus(t)
	id := bus.Emit(context.Background(), nil, &TaskStartedEvent{Description: "x"})
	assert.NotEmpty(t, id)
	bus.Flush()
}

type fingerprintSource struct{}

func (fingerprintSource) Fingerprint() string { return "fp-123" }
func (fingerprintSource) SourceType() string  { return "agent" }

func TestBus_SourceFingerprint(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var captured *BaseEvent
	require.NoError(t, bus.Register(TaskCompleted, "h", func(_ any, ev Event) {
		mu.Lock()
		captured = ev.Base()
		mu.Unlock()
	}))

	bus.Emit(context.Background(), fingerprintSource{}, &TaskCompletedEvent{})
	bus.Flush()

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, captured)
	assert.Equal(t, "fp-123", captured.SourceFingerprint)
	assert.Equal(t, "agent", captured.SourceType)
}

func TestBus_ShutdownWithoutWait(t *testing.T) {
	bus := NewBus(zap.NewNop())
	require.NoError(t, bus.Register(TaskCompleted, "h", func(any, Event) {}))
	bus.Shutdown(false)
	// 关闭后注册表已清空
	plan, err := bus.ValidateDependencies(TaskCompleted)
	require.NoError(t, err)
	assert.Empty(t, plan)
}
