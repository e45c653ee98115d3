package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/internal/ctxkeys"
)

// workerPoolSize 处理器工作池大小。分发不占用生产者 goroutine。
const workerPoolSize = 2

// HandlerFunc 事件处理器。source 是发射方的不透明引用，ev 是只读视图。
type HandlerFunc func(source any, ev Event)

// Source 可选接口。实现后事件会携带来源指纹。
type Source interface {
	Fingerprint() string
	SourceType() string
}

type handlerReg struct {
	name  string
	after []string
	fn    HandlerFunc
}

type emission struct {
	source any
	event  Event
	plan   [][]string
	regs   map[string]*handlerReg
}

// Bus 类型化事件总线。按事件类型注册命名处理器，支持 after 依赖声明，
// 分发按拓扑层级进行：同层并行，后一层等待前一层排空。
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[string]*handlerReg
	plans    map[EventType][][]string

	jobs      chan func()
	emissions chan *emission
	done      chan struct{}
	stopOnce  sync.Once

	inFlight   sync.WaitGroup
	fallbackSeq atomic.Uint64

	logger *zap.Logger
}

// NewBus 创建事件总线并启动工作池
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		handlers:  make(map[EventType]map[string]*handlerReg),
		plans:     make(map[EventType][][]string),
		jobs:      make(chan func(), 256),
		emissions: make(chan *emission, 256),
		done:      make(chan struct{}),
		logger:    logger.With(zap.String("component", "event_bus")),
	}
	for i := 0; i < workerPoolSize; i++ {
		go b.worker()
	}
	go b.dispatcher()
	return b
}

var (
	defaultBus  *Bus
	defaultOnce sync.Once
)

// Default 进程级默认总线。首次访问时初始化；测试可用 NewBus 自建实例。
func Default() *Bus {
	defaultOnce.Do(func() {
		defaultBus = NewBus(zap.NewNop())
	})
	return defaultBus
}

// Register 为事件类型注册命名处理器。after 声明本处理器必须在哪些
// 处理器之后执行。依赖成环时返回 *CircularDependencyError，注册回滚。
func (b *Bus) Register(t EventType, name string, fn HandlerFunc, after ...string) error {
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("handler %q: fn must not be nil", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[t]
	if regs == nil {
		regs = make(map[string]*handlerReg)
		b.handlers[t] = regs
	}
	if _, exists := regs[name]; exists {
		return fmt.Errorf("handler %q already registered for %s", name, t)
	}

	regs[name] = &handlerReg{name: name, after: after, fn: fn}

	plan, err := b.rebuildPlanLocked(t)
	if err != nil {
		delete(regs, name)
		return err
	}
	b.plans[t] = plan
	return nil
}

// Unregister 注销处理器并重建调度计划
func (b *Bus) Unregister(t EventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	regs := b.handlers[t]
	if regs == nil {
		return
	}
	delete(regs, name)
	if len(regs) == 0 {
		delete(b.handlers, t)
		delete(b.plans, t)
		return
	}
	plan, err := b.rebuildPlanLocked(t)
	if err != nil {
		// 残留的悬空依赖当作无依赖处理，已在 rebuild 内部过滤，这里不应出现
		b.logger.Warn("failed to rebuild plan after unregister", zap.String("event_type", string(t)), zap.Error(err))
		return
	}
	b.plans[t] = plan
}

// ValidateDependencies 校验某事件类型的处理器依赖，返回层级计划
func (b *Bus) ValidateDependencies(t EventType) ([][]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rebuildPlanLocked(t)
}

// rebuildPlanLocked 基于当前注册表重建层级计划，需持有锁
func (b *Bus) rebuildPlanLocked(t EventType) ([][]string, error) {
	regs := b.handlers[t]
	deps := make(map[string][]string, len(regs))
	for name, reg := range regs {
		var after []string
		for _, dep := range reg.after {
			// 指向未注册处理器的依赖不参与排序
			if _, ok := regs[dep]; ok {
				after = append(after, dep)
			}
		}
		deps[name] = after
	}
	return buildExecutionPlan(deps)
}

// Emit 发射事件。基础字段（event_id、时间戳、三条标识链、发射序号）
// 由总线填充；作用域分类依据静态配对表。返回填充后的 event_id。
// 从生产者视角分发是严格 fire-and-forget 的。
func (b *Bus) Emit(ctx context.Context, source any, ev Event) string {
	base := ev.Base()
	base.EventID = uuid.NewString()
	base.Timestamp = time.Now()

	if src, ok := source.(Source); ok {
		base.SourceFingerprint = src.Fingerprint()
		base.SourceType = src.SourceType()
	} else if source != nil {
		base.SourceType = fmt.Sprintf("%T", source)
	}
	if v, ok := ctxkeys.TaskID(ctx); ok && base.TaskID == "" {
		base.TaskID = v
	}
	if v, ok := ctxkeys.AgentRole(ctx); ok && base.AgentRole == "" {
		base.AgentRole = v
	}

	t := ev.Type()
	scope := ScopeFrom(ctx)
	if scope != nil {
		b.applyScope(scope, base, t)
	} else {
		base.EmissionSequence = b.fallbackSeq.Add(1)
	}

	b.dispatch(source, ev)
	return base.EventID
}

// applyScope 依据作用域栈填充 parent/previous/triggered_by 链
func (b *Bus) applyScope(scope *EmissionScope, base *BaseEvent, t EventType) {
	base.PreviousEventID = scope.LastEventID()
	base.TriggeredByEventID = scope.TriggeringEventID()
	base.EmissionSequence = scope.nextSequence()

	switch {
	case IsScopeStarting(t):
		base.ParentEventID = scope.CurrentParentID()
		if !scope.push(base.EventID, t) {
			b.logger.Warn("event scope depth limit exceeded, missing ending events?",
				zap.String("event_type", string(t)),
				zap.String("event_id", base.EventID))
		}
	case IsScopeEnding(t):
		top, ok := scope.pop()
		if !ok {
			b.logger.Warn("ending event emitted with empty scope stack, missing starting event?",
				zap.String("event_type", string(t)),
				zap.String("event_id", base.EventID))
			break
		}
		if expected, has := PartnerOf(t); has && top.eventType != expected {
			b.logger.Warn("event pairing mismatch",
				zap.String("ending", string(t)),
				zap.String("popped", string(top.eventType)),
				zap.String("expected", string(expected)))
		}
		// 结束事件与其开始事件共享同一个父作用域
		base.ParentEventID = scope.CurrentParentID()
	default:
		base.ParentEventID = scope.CurrentParentID()
	}

	scope.setLastEventID(base.EventID)
}

// dispatch 把事件连同当前调度计划快照入队。注册变更只影响后续发射。
func (b *Bus) dispatch(source any, ev Event) {
	b.mu.RLock()
	t := ev.Type()
	plan := b.plans[t]
	regs := b.handlers[t]
	snapshot := make(map[string]*handlerReg, len(regs))
	for name, reg := range regs {
		snapshot[name] = reg
	}
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	b.inFlight.Add(1)
	select {
	case b.emissions <- &emission{source: source, event: ev, plan: plan, regs: snapshot}:
	case <-b.done:
		b.inFlight.Done()
	}
}

// dispatcher 顺序消费发射队列，逐层提交到工作池并等待排空
func (b *Bus) dispatcher() {
	for {
		select {
		case em := <-b.emissions:
			b.runEmission(em)
			b.inFlight.Done()
		case <-b.done:
			return
		}
	}
}

func (b *Bus) runEmission(em *emission) {
	for _, level := range em.plan {
		var lwg sync.WaitGroup
		for _, name := range level {
			reg, ok := em.regs[name]
			if !ok {
				continue
			}
			lwg.Add(1)
			job := func() {
				defer lwg.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("event handler panicked",
							zap.String("handler", reg.name),
							zap.String("event_id", em.event.Base().EventID),
							zap.Any("recover", r))
					}
				}()
				reg.fn(em.source, em.event)
			}
			select {
			case b.jobs <- job:
			case <-b.done:
				lwg.Done()
			}
		}
		lwg.Wait()
	}
}

func (b *Bus) worker() {
	for {
		select {
		case job := <-b.jobs:
			job()
		case <-b.done:
			return
		}
	}
}

// Flush 阻塞直到已分发的处理器任务全部完成
func (b *Bus) Flush() {
	b.inFlight.Wait()
}

// Shutdown 关闭总线。wait 为 true 时先 Flush 再清空注册表。
func (b *Bus) Shutdown(wait bool) {
	if wait {
		b.Flush()
	}
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.mu.Lock()
	b.handlers = make(map[EventType]map[string]*handlerReg)
	b.plans = make(map[EventType][][]string)
	b.mu.Unlock()
}
