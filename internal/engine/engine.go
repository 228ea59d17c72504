package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/cache"
	"github.com/vapcache/vapcache/internal/fetch"
	"github.com/vapcache/vapcache/internal/loader"
	"github.com/vapcache/vapcache/internal/logging"
	"github.com/vapcache/vapcache/internal/memcache"
	"github.com/vapcache/vapcache/internal/task"
)

// Options 描述 Engine 的依赖与参数，零值字段使用默认实现。
type Options struct {
	// CacheDir 是磁盘缓存与物化文件的根目录，必填。
	CacheDir string
	// Capacity 是内存索引容量，<=0 时使用 memcache.DefaultCapacity。
	Capacity int
	// Store 为空时在 CacheDir 上创建文件存储。
	Store cache.Store
	// DisableDiskCache 令网络资源绕过 Store，直接物化。
	DisableDiskCache bool
	// Fetcher 为空时使用默认 HTTP 实现。
	Fetcher fetch.Fetcher
	// Bundle 提供 asset / raw 资源，为空时这两类请求返回 NotFound。
	Bundle *loader.Bundle
	// NightMode 决定 raw 资源默认键与读取的变体。
	NightMode bool

	Logger          logrus.FieldLogger
	Registerer      prometheus.Registerer
	ExecutorOptions []task.Option
}

// IdleObserver 在注册表于空与非空之间切换时收到通知。
type IdleObserver func(idle bool)

// ObserverID identifies a registered IdleObserver.
type ObserverID uint64

type observerEntry struct {
	id ObserverID
	fn IdleObserver
}

// Engine 是进程级的解析协调器：内存索引、在途任务注册表与空闲观察者。
type Engine struct {
	logger  logrus.FieldLogger
	looper  *task.Looper
	exec    *task.Executor
	index   *memcache.Index
	disk    cache.Store
	network *loader.Network
	mat     *loader.Materializer
	bundle  *loader.Bundle
	night   bool
	metrics *Metrics

	mu           sync.Mutex
	registry     map[string]*task.Task[string]
	observers    []observerEntry
	nextObserver ObserverID

	// indexMu 保护 generation，并让 ClearAll 与结果写入内存索引互斥。
	// 加锁顺序为 mu → indexMu。
	indexMu    sync.Mutex
	generation uint64

	closeOnce sync.Once
}

// New 构建 Engine 并启动投递 Looper，调用方负责 Close。
func New(opts Options) (*Engine, error) {
	if opts.CacheDir == "" && opts.Store == nil {
		return nil, errors.New("cache directory required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = memcache.DefaultCapacity
	}
	index, err := memcache.New(capacity)
	if err != nil {
		return nil, err
	}

	disk := opts.Store
	if disk == nil {
		disk, err = cache.NewStore(opts.CacheDir)
		if err != nil {
			return nil, err
		}
	}
	matDir := disk.Root()
	if opts.Store != nil && opts.CacheDir != "" {
		matDir = opts.CacheDir
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewHTTPFetcher(fetch.HTTPOptions{})
	}

	mat := loader.NewMaterializer(matDir, logger)
	var networkStore cache.Store
	if !opts.DisableDiskCache {
		networkStore = disk
	}

	looper := task.NewLooper(logger)
	e := &Engine{
		logger:   logger,
		looper:   looper,
		exec:     task.NewExecutor(looper, logger, opts.ExecutorOptions...),
		index:    index,
		disk:     disk,
		network:  loader.NewNetwork(fetcher, networkStore, mat, logger),
		mat:      mat,
		bundle:   opts.Bundle,
		night:    opts.NightMode,
		metrics:  NewMetrics(opts.Registerer),
		registry: make(map[string]*task.Task[string]),
	}
	return e, nil
}

// ResolveAsync 返回 key 对应的任务：内存命中时返回已完成任务，已有在途任务时返回
// 同一实例，否则以 work 创建新任务。key 为空表示不去重也不缓存。
func (e *Engine) ResolveAsync(key string, work task.Work[string]) *task.Task[string] {
	t, _ := e.resolve(key, work, false)
	return t
}

// resolve 返回 key 的任务及其来源。awaited 表示调用方会自行等待结果，新建任务的
// 失败不再交给诊断日志。
func (e *Engine) resolve(key string, work task.Work[string], awaited bool) (*task.Task[string], string) {
	e.mu.Lock()
	if key != "" {
		if path, ok := e.index.Get(key); ok {
			e.mu.Unlock()
			e.recordResolve(key, sourceMemory)
			return task.Completed(e.exec, task.Success(path)), sourceMemory
		}
		if t, ok := e.registry[key]; ok {
			e.mu.Unlock()
			e.recordResolve(key, sourceInflight)
			return t, sourceInflight
		}
	}

	var t *task.Task[string]
	if awaited {
		t = task.NewAwaited(e.exec, e.cacheOnSuccess(key, work))
	} else {
		t = task.New(e.exec, e.cacheOnSuccess(key, work))
	}
	if key == "" || t.Settled() {
		// settlement raced ahead of registration; nothing left to deregister
		e.mu.Unlock()
		e.track(key, t)
		return t, sourceNew
	}

	e.registry[key] = t
	if len(e.registry) == 1 {
		e.postIdleLocked(false)
	}
	e.metrics.setInFlight(len(e.registry))
	e.mu.Unlock()

	e.track(key, t)
	t.OnSettle(func(task.Result[string]) { e.release(key, t) })
	t.OnCancel(func() { e.release(key, t) })
	return t, sourceNew
}

// track records the outcome of a newly created task.
func (e *Engine) track(key string, t *task.Task[string]) {
	e.recordResolve(key, sourceNew)
	t.OnSettle(func(r task.Result[string]) {
		e.metrics.recordResult(r.Succeeded())
		if err := r.Err(); err != nil {
			e.logger.WithFields(logging.ResolveFields(key, sourceNew)).WithError(err).Debug("task failed")
		}
	})
}

func (e *Engine) recordResolve(key, source string) {
	e.metrics.recordResolve(source)
	e.logger.WithFields(logging.ResolveFields(key, source)).Debug("resolve")
}

// cacheOnSuccess 在任务落定之前把成功结果写入内存索引。期间若发生过 ClearAll，
// 结果文件可能已被删除，此时不写入索引。
func (e *Engine) cacheOnSuccess(key string, work task.Work[string]) task.Work[string] {
	gen := e.currentGeneration()
	return func(ctx context.Context) (string, error) {
		path, err := work(ctx)
		if err != nil {
			return "", err
		}
		if key != "" && !e.putIfGeneration(gen, key, path) {
			e.logger.WithFields(logging.ResolveFields(key, sourceNew)).
				WithField("path", path).
				Debug("cache cleared while resolving, result not indexed")
		}
		return path, nil
	}
}

func (e *Engine) currentGeneration() uint64 {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	return e.generation
}

func (e *Engine) putIfGeneration(gen uint64, key, path string) bool {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.generation != gen {
		return false
	}
	e.index.Put(key, path)
	return true
}

// release 仅当注册表中仍是同一任务时才移除，重复调用无副作用。
func (e *Engine) release(key string, t *task.Task[string]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.registry[key]; !ok || cur != t {
		return
	}
	delete(e.registry, key)
	e.metrics.setInFlight(len(e.registry))
	if len(e.registry) == 0 {
		e.postIdleLocked(true)
	}
}

// ResolveSync 阻塞到 key 的结果可用。非空 key 与 ResolveAsync 走同一注册表：
// 内存命中直接返回，否则加入或创建在途任务并等待，同一 key 同时只有一次执行。
// ctx 只限制等待，不会取消其他调用方共享的任务。空 key 在调用方 goroutine 上
// 就地执行 work。
func (e *Engine) ResolveSync(ctx context.Context, key string, work task.Work[string]) task.Result[string] {
	result, _ := e.resolveSync(ctx, key, work)
	return result
}

func (e *Engine) resolveSync(ctx context.Context, key string, work task.Work[string]) (task.Result[string], string) {
	if key == "" {
		e.recordResolve(key, sourceNew)
		path, err := work(ctx)
		e.metrics.recordResult(err == nil)
		if err != nil {
			return task.Failure[string](err), sourceNew
		}
		return task.Success(path), sourceNew
	}

	t, source := e.resolve(key, work, true)
	result, err := t.Await(ctx)
	if err != nil {
		return task.Failure[string](err), source
	}
	return result, source
}

// ClearAll 清空注册表、内存索引与磁盘缓存。已在途的任务继续运行，但不再被去重，
// 其结果也不会写回内存索引。
func (e *Engine) ClearAll(ctx context.Context) error {
	e.mu.Lock()
	hadWork := len(e.registry) > 0
	e.registry = make(map[string]*task.Task[string])
	e.metrics.setInFlight(0)
	if hadWork {
		e.postIdleLocked(true)
	}
	e.indexMu.Lock()
	e.generation++
	e.index.Clear()
	e.indexMu.Unlock()
	e.mu.Unlock()

	if err := e.disk.Clear(ctx); err != nil {
		return err
	}
	if e.mat.Dir() != e.disk.Root() {
		matStore, err := cache.NewStore(e.mat.Dir())
		if err != nil {
			return err
		}
		return matStore.Clear(ctx)
	}
	return nil
}

// SetMemoryCacheCapacity 调整内存索引容量，n 必须大于 0。
func (e *Engine) SetMemoryCacheCapacity(n int) error {
	evicted, err := e.index.Resize(n)
	if err != nil {
		return err
	}
	if evicted > 0 {
		e.logger.WithFields(logrus.Fields{
			"action":   "resize_memory_cache",
			"capacity": n,
			"evicted":  evicted,
		}).Info("memory cache resized")
	}
	return nil
}

// AddIdleObserver 注册观察者，并在返回前以当前状态同步回调一次。
func (e *Engine) AddIdleObserver(obs IdleObserver) ObserverID {
	e.mu.Lock()
	e.nextObserver++
	id := e.nextObserver
	e.observers = append(e.observers, observerEntry{id: id, fn: obs})
	idle := len(e.registry) == 0
	e.mu.Unlock()

	obs(idle)
	return id
}

// RemoveIdleObserver 移除观察者；已投递但尚未执行的通知不受影响。
func (e *Engine) RemoveIdleObserver(id ObserverID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, o := range e.observers {
		if o.id == id {
			e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
			return
		}
	}
}

// postIdleLocked snapshots the observer set; callers hold e.mu so
// notifications are posted in transition order.
func (e *Engine) postIdleLocked(idle bool) {
	observers := make([]observerEntry, len(e.observers))
	copy(observers, e.observers)
	e.logger.WithFields(logrus.Fields{
		"action": "idle_transition",
		"idle":   idle,
	}).Debug("registry idle state changed")
	if len(observers) == 0 {
		return
	}
	e.looper.Post(func() {
		for _, o := range observers {
			o.fn(idle)
		}
	})
}

// Idle 报告当前是否没有在途任务。
func (e *Engine) Idle() bool {
	return e.InFlight() == 0
}

// InFlight 返回注册表中的任务数量。
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry)
}

// MemoryEntries 返回内存索引中的条目数量。
func (e *Engine) MemoryEntries() int {
	return e.index.Len()
}

// NightMode reports which raw-resource variant the engine serves by default.
func (e *Engine) NightMode() bool {
	return e.night
}

// Looper exposes the delivery context, mainly so callers can Flush in tests.
func (e *Engine) Looper() *task.Looper {
	return e.looper
}

// Close 停止投递 Looper，已排队的通知会先执行完。
func (e *Engine) Close() error {
	e.closeOnce.Do(e.looper.Close)
	return nil
}
