// Package coordinator orchestrates the disk store, progressive downloaders and
// loading proxies behind four commands: BeginCaching, StopCaching, Resolve and
// Clear. All bookkeeping lives on a single controller queue so that the
// cached/in-flight decision for a source is made at one serialized point.
package coordinator

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/dispatch"
	"github.com/any-hub/streamcache/internal/download"
	"github.com/any-hub/streamcache/internal/loader"
	"github.com/any-hub/streamcache/internal/logging"
)

// ErrRetired 用于结束被 StopCaching/Clear 销毁的条目上仍在等待的读请求。
var ErrRetired = errors.New("cache entry retired")

// Options 汇总 Coordinator 的依赖。
type Options struct {
	Store   cache.Store
	Client  *http.Client
	Logger  *logrus.Logger
	Workers int
	// OnEvent 可在任意 goroutine 上被调用，实现不得阻塞。
	OnEvent func(Event)
}

// Coordinator 是显式构造的缓存实例，用 Close 释放。
type Coordinator struct {
	store   cache.Store
	client  *http.Client
	logger  *logrus.Logger
	onEvent func(Event)

	ctrl *dispatch.Queue
	bg   *dispatch.Pool

	// 以下字段只在 ctrl 上访问。
	inflight map[cache.Source]*entry
	closed   bool
}

// entry 是一次下载 + 供数会话；proxy 与 downloader 归它独占，随它一起销毁。
type entry struct {
	source     cache.Source
	key        string
	proxy      *loader.Proxy
	downloader *download.Downloader

	retiring bool
	// failed 表示最近一次传输失败：Resolve 回退直连，BeginCaching 在原条目上重启下载。
	failed     bool
	persisting bool
	persisted  chan struct{}
	retired    chan struct{}
}

// New 创建 Coordinator 并启动控制队列。
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Coordinator{
		store:    opts.Store,
		client:   client,
		logger:   logger,
		onEvent:  opts.OnEvent,
		ctrl:     dispatch.NewQueue(),
		bg:       dispatch.NewPool(opts.Workers),
		inflight: make(map[cache.Source]*entry),
	}, nil
}

// BeginCaching 在未缓存且未下载时为 src 启动下载；若上一个条目正在退役，
// 等它完全退出后再决定，保证同一来源不会出现两个重叠的条目。
// 失败的条目不会新建，而是在原 downloader 上重启。
func (c *Coordinator) BeginCaching(ctx context.Context, src cache.Source) error {
	key, err := c.keyFor(ctx, src)
	if err != nil {
		return err
	}
	for {
		var wait <-chan struct{}
		err := c.ctrl.Sync(ctx, func() {
			if c.closed {
				return
			}
			if e, ok := c.inflight[src]; ok {
				if e.retiring {
					wait = e.retired
					return
				}
				if e.failed {
					c.restartEntry(e)
				}
				return
			}
			if c.store.Exists(key) {
				return
			}
			c.startEntry(src, key)
		})
		if err != nil {
			return err
		}
		if wait == nil {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StopCaching 销毁 src 的条目并删除已有的缓存文件；什么都没有时同样返回成功。
func (c *Coordinator) StopCaching(ctx context.Context, src cache.Source) error {
	key, err := c.keyFor(ctx, src)
	if err != nil {
		return err
	}
	// 决策一旦做出就必须走完退役流程，后续步骤不再跟随调用方取消。
	work := context.WithoutCancel(ctx)

	var (
		e          *entry
		owner      bool
		persisting <-chan struct{}
	)
	if err := c.ctrl.Sync(work, func() {
		e = c.inflight[src]
		if e == nil || e.retiring {
			return
		}
		owner = true
		persisting = c.beginRetire(e)
	}); err != nil {
		return err
	}

	if e != nil && !owner {
		<-e.retired
	}
	if persisting != nil {
		<-persisting
	}

	removeErr := c.bg.Run(work, func() error {
		return c.store.Remove(work, key)
	})
	if owner {
		_ = c.ctrl.Sync(work, func() { c.finishRetire(e) })
	}

	if removeErr != nil {
		c.logger.WithError(removeErr).WithFields(logging.StreamFields("stop_caching", src.String(), key)).
			Warn("cache_remove_failed")
		return removeErr
	}
	c.emit(Event{Type: EventStopped, Source: src, Key: key})
	return nil
}

// Resolve 依次返回：本地完整文件、正在下载的流式引用、直连网络引用。
func (c *Coordinator) Resolve(ctx context.Context, src cache.Source) (Playable, error) {
	key, err := c.keyFor(ctx, src)
	if err != nil {
		return Playable{}, err
	}
	var playable Playable
	err = c.ctrl.Sync(ctx, func() {
		playable = c.resolve(src, key)
	})
	if err != nil {
		return Playable{}, err
	}
	return playable, nil
}

// Clear 退役所有条目、清空缓存目录并重新创建。
func (c *Coordinator) Clear(ctx context.Context) error {
	work := context.WithoutCancel(ctx)

	var (
		owned []*entry
		waits []<-chan struct{}
	)
	if err := c.ctrl.Sync(work, func() {
		for _, e := range c.inflight {
			if e.retiring {
				continue
			}
			owned = append(owned, e)
			if w := c.beginRetire(e); w != nil {
				waits = append(waits, w)
			}
		}
	}); err != nil {
		return err
	}
	for _, w := range waits {
		<-w
	}

	clearErr := c.bg.Run(work, func() error {
		return c.store.Clear(work)
	})
	_ = c.ctrl.Sync(work, func() {
		for _, e := range owned {
			c.finishRetire(e)
		}
	})

	fields := logging.BaseFields("clear", c.store.Dir())
	fields["retired"] = len(owned)
	if clearErr != nil {
		c.logger.WithError(clearErr).WithFields(fields).Warn("cache_clear_failed")
		return clearErr
	}
	c.logger.WithFields(fields).Info("cache_cleared")
	c.emit(Event{Type: EventCleared})
	return nil
}

// InFlight 返回当前正在下载的来源快照，按地址排序。
func (c *Coordinator) InFlight(ctx context.Context) ([]cache.Source, error) {
	var sources []cache.Source
	err := c.ctrl.Sync(ctx, func() {
		for src, e := range c.inflight {
			if !e.retiring && !e.failed {
				sources = append(sources, src)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].String() < sources[j].String()
	})
	return sources, nil
}

// Close 中止所有下载、等待进行中的落盘结束，然后停止控制队列。已缓存文件保留。
func (c *Coordinator) Close() {
	var waits []<-chan struct{}
	err := c.ctrl.Sync(context.Background(), func() {
		if c.closed {
			return
		}
		c.closed = true
		for _, e := range c.inflight {
			if e.retiring {
				continue
			}
			if w := c.beginRetire(e); w != nil {
				waits = append(waits, w)
			}
		}
	})
	if err != nil {
		return
	}
	for _, w := range waits {
		<-w
	}
	c.ctrl.Close()
}

func (c *Coordinator) keyFor(ctx context.Context, src cache.Source) (string, error) {
	if src.IsZero() {
		return "", cache.ErrInvalidSource
	}
	var key string
	err := c.bg.Run(ctx, func() error {
		key = cache.Key(src)
		return nil
	})
	return key, err
}

func (c *Coordinator) resolve(src cache.Source, key string) Playable {
	if c.store.Exists(key) {
		return Playable{
			Kind:   KindLocalFile,
			Source: src,
			Key:    key,
			Path:   localPath(c.store, key),
		}
	}
	if e, ok := c.inflight[src]; ok && !e.retiring && !e.failed {
		return Playable{
			Kind:   KindStreaming,
			Source: src,
			Key:    key,
			Loader: e.proxy,
		}
	}
	return Playable{Kind: KindDirect, Source: src, Key: key}
}

func (c *Coordinator) startEntry(src cache.Source, key string) {
	e := &entry{
		source:    src,
		key:       key,
		persisted: make(chan struct{}),
		retired:   make(chan struct{}),
	}
	proxy := loader.New(loader.Options{
		Source: src.String(),
		Post:   c.ctrl.Async,
		Logger: c.logger,
	})
	dl := download.New(download.Options{
		URL:    src.String(),
		Client: c.client,
		Post:   c.ctrl.Async,
		Logger: c.logger,
		Events: download.Events{
			OnResponse: func(download.Metadata) {
				// 读者触发的重启收到响应后，条目恢复为正常的流式条目。
				e.failed = false
				proxy.Refresh()
			},
			OnChunk:    proxy.Refresh,
			OnComplete: func(buf []byte) {
				proxy.Refresh()
				c.persist(e, buf)
			},
			OnError: func(err error) { c.downloadFailed(e, err) },
		},
	})
	proxy.Attach(dl)
	e.proxy = proxy
	e.downloader = dl
	c.inflight[src] = e

	c.logger.WithFields(logging.StreamFields("begin_caching", src.String(), key)).Info("cache_miss_download")
	proxy.Start()
}

// restartEntry 在失败条目上重新拉起传输，已有读者继续挂在同一个 proxy 上。
func (c *Coordinator) restartEntry(e *entry) {
	e.failed = false
	c.logger.WithFields(logging.StreamFields("begin_caching", e.source.String(), e.key)).Info("cache_download_restart")
	e.proxy.Start()
}

// beginRetire 标记退役并销毁 proxy；若落盘仍在进行，返回需要等待的通道。
func (c *Coordinator) beginRetire(e *entry) <-chan struct{} {
	e.retiring = true
	e.proxy.Shutdown(ErrRetired)
	if e.persisting {
		return e.persisted
	}
	return nil
}

func (c *Coordinator) finishRetire(e *entry) {
	if c.inflight[e.source] == e {
		delete(c.inflight, e.source)
	}
	select {
	case <-e.retired:
	default:
		close(e.retired)
	}
}

// persist 在后台写盘，写完后再回到控制队列移除条目；读者仍可继续从内存缓冲取数。
func (c *Coordinator) persist(e *entry, buf []byte) {
	if e.retiring || c.inflight[e.source] != e {
		return
	}
	e.failed = false
	e.persisting = true
	ctx := context.Background()
	c.bg.Go(ctx, func() error {
		_, err := c.store.Write(ctx, e.key, bytes.NewReader(buf))
		return err
	}, func(err error) {
		c.ctrl.Async(func() { c.persistDone(e, int64(len(buf)), err) })
	})
}

func (c *Coordinator) persistDone(e *entry, size int64, err error) {
	e.persisting = false
	close(e.persisted)
	if e.retiring {
		// StopCaching/Clear 会在写盘结束后删除文件并完成退役。
		return
	}
	c.finishRetire(e)

	fields := logging.StreamFields("persist", e.source.String(), e.key)
	fields["bytes"] = size
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("cache_write_failed")
		c.emit(Event{Type: EventFailed, Source: e.source, Key: e.key, Err: err})
		return
	}
	c.logger.WithFields(fields).Info("cache_stored")
	c.emit(Event{Type: EventCached, Source: e.source, Key: e.key, Bytes: size})
}

// downloadFailed 把条目标记为失败但仍保留在表中：Resolve 回退到直连，
// 读者或 BeginCaching 触发的重启复用同一个 downloader，Clear/Close 照常退役它。
func (c *Coordinator) downloadFailed(e *entry, err error) {
	if e.retiring || c.inflight[e.source] != e {
		return
	}
	e.failed = true
	c.emit(Event{Type: EventFailed, Source: e.source, Key: e.key, Err: err})
}

func (c *Coordinator) emit(ev Event) {
	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

func localPath(store cache.Store, key string) string {
	return filepath.Join(store.Dir(), key)
}
