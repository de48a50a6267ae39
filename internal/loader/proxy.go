// Package loader implements the loading proxy that sits between a playback
// engine and a progressive download. The engine hands it byte-range read
// requests; the proxy answers them from the growing in-memory buffer and
// re-evaluates every outstanding request whenever new bytes or new requests
// arrive.
package loader

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/download"
)

// ResourceLoader 是播放引擎的数据源代理能力：能回答内容信息与字节区间查询。
// Load 之后请求归 loader 所有，直到完成或被 Cancel 撤回。
type ResourceLoader interface {
	Load(req *Request)
	Cancel(req *Request)
}

// Transfer 是 Proxy 依赖的下载能力，由 download.Downloader 实现。
type Transfer interface {
	Start()
	Cancel()
	Active() bool
	State() download.State
	Metadata() (download.Metadata, bool)
	Len() int64
	Bytes(from, n int64) []byte
}

// Options 汇总构造 Proxy 所需的依赖。
type Options struct {
	Source string
	// Post 把闭包投递到控制上下文，必须串行且保持提交顺序。
	Post   func(func())
	Logger *logrus.Logger
}

// Proxy 是 ResourceLoader 的唯一实现。Load/Cancel 可在任意 goroutine 调用，
// 其余方法只能在控制上下文调用。
type Proxy struct {
	source   string
	post     func(func())
	logger   *logrus.Logger
	transfer Transfer
	pending  map[*Request]struct{}
	shutdown error
}

var _ ResourceLoader = (*Proxy)(nil)

// New 创建尚未绑定传输的 Proxy。
func New(opts Options) *Proxy {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Proxy{
		source:  opts.Source,
		post:    opts.Post,
		logger:  logger,
		pending: make(map[*Request]struct{}),
	}
}

// Attach 绑定下载传输，必须在第一次 Load 执行前完成。
func (p *Proxy) Attach(t Transfer) {
	p.transfer = t
}

// Source 返回代理对应的来源地址。
func (p *Proxy) Source() string { return p.source }

// Load 接收播放端的读请求并立即触发一次评估。
func (p *Proxy) Load(req *Request) {
	req.setOnClose(p.Cancel)
	p.post(func() { p.load(req) })
}

// Cancel 撤回读请求，不做任何部分交付。
func (p *Proxy) Cancel(req *Request) {
	p.post(func() { delete(p.pending, req) })
}

// Start 启动底层传输。
func (p *Proxy) Start() {
	if p.transfer != nil {
		p.transfer.Start()
	}
}

// Pending 返回仍在等待的请求数。
func (p *Proxy) Pending() int { return len(p.pending) }

// Refresh 评估所有等待中的请求，能满足的立即交付并移出等待集合。
// 每次有新字节到达、收到响应或有新请求时调用。
func (p *Proxy) Refresh() {
	for req := range p.pending {
		p.fillInContentInfo(req)
		if p.respond(req) {
			delete(p.pending, req)
			req.finish(nil)
		}
	}
}

// Shutdown 随所属条目一起销毁：中止传输，并以 err 结束所有等待中的请求。
func (p *Proxy) Shutdown(err error) {
	if p.transfer != nil {
		p.transfer.Cancel()
	}
	for req := range p.pending {
		req.finish(err)
	}
	p.pending = make(map[*Request]struct{})
	p.shutdown = err
}

func (p *Proxy) load(req *Request) {
	if p.shutdown != nil {
		req.finish(p.shutdown)
		return
	}
	if p.transfer == nil {
		p.logger.WithFields(logrus.Fields{
			"action": "loader_load",
			"source": p.source,
		}).Error("loader_without_transfer")
		return
	}
	// 传输可能因失败或取消而停止，新请求到来时按需重新拉起。
	if !p.transfer.Active() && p.transfer.State() != download.StateCompleted {
		p.transfer.Start()
	}
	p.pending[req] = struct{}{}
	p.Refresh()
}

func (p *Proxy) fillInContentInfo(req *Request) {
	if req.hasContentInfo() {
		return
	}
	meta, ok := p.transfer.Metadata()
	if !ok {
		return
	}
	req.setContentInfo(ContentInfo{
		ContentType:              meta.ContentType,
		ContentLength:            meta.ContentLength,
		ByteRangeAccessSupported: true,
	})
}

// respond 交付 current 之后已到达的字节，并报告请求区间是否已全部可用。
func (p *Proxy) respond(req *Request) bool {
	if req.infoOnly {
		return req.hasContentInfo()
	}

	size := p.transfer.Len()
	current := req.current
	end := req.offset + req.length
	if size <= current {
		// 没有新字节时仍要判断完成：零长度请求在 L >= o+l 时立即结束。
		return size >= end
	}

	if n := bytesToRespond(size, current, end); n > 0 {
		req.deliver(p.transfer.Bytes(current, n))
	}
	return size >= end
}

// bytesToRespond 计算本轮可交付字节数：min(L-c, o+l-c)。
// 以请求剩余长度而不是原始长度 l 作上限：续读时 c > o，用 l 会越过请求末尾，
// 把不属于该区间的字节交给读者。首次交付时 c == o，两者相同。
func bytesToRespond(size, current, end int64) int64 {
	n := size - current
	if remaining := end - current; remaining < n {
		n = remaining
	}
	if n < 0 {
		return 0
	}
	return n
}
