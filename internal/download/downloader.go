// Package download implements the progressive downloader: one HTTP transfer
// per source whose body accumulates into an append-only in-memory buffer.
//
// A Downloader's state is confined to the controller context. The transfer
// goroutine never mutates it directly; every response, chunk, completion or
// error is handed to the Post function supplied at construction, which must
// run closures serially and in submission order.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/sirupsen/logrus"
)

// State 描述单个下载器的生命周期。
type State int

const (
	StateIdle State = iota
	StateFetching
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Metadata 记录首个响应的内容类型与预期总长度，ContentLength 为 -1 表示未知。
type Metadata struct {
	ContentType   string
	ContentLength int64
}

// Events 为下载器的回调集合，所有回调都在控制上下文中执行，均可为空。
type Events struct {
	OnResponse func(Metadata)
	OnChunk    func()
	OnComplete func(buf []byte)
	OnError    func(error)
}

// Options 汇总构造下载器所需的依赖。
type Options struct {
	URL    string
	Client *http.Client
	Post   func(func())
	Logger *logrus.Logger
	Events Events
	// ChunkSize 控制每次从响应体读取的最大字节数，默认 32 KiB。
	ChunkSize int
}

// ErrUnexpectedStatus 表示上游返回了非 2xx 响应。
var ErrUnexpectedStatus = errors.New("unexpected upstream status")

const defaultChunkSize = 32 * 1024

// Downloader 负责单一来源的网络传输与缓冲累积，非并发安全，只能在控制上下文调用。
type Downloader struct {
	url       string
	client    *http.Client
	post      func(func())
	logger    *logrus.Logger
	events    Events
	chunkSize int

	state    State
	buf      []byte
	meta     *Metadata
	cancel   context.CancelFunc
	gen      uint64
	finished bool
}

// New 构造一个处于 idle 状态的下载器。
func New(opts Options) *Downloader {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &Downloader{
		url:       opts.URL,
		client:    client,
		post:      opts.Post,
		logger:    logger,
		events:    opts.Events,
		chunkSize: chunk,
	}
}

// URL 返回下载来源。
func (d *Downloader) URL() string { return d.url }

// State 返回当前状态。
func (d *Downloader) State() State { return d.state }

// Active 表示是否存在进行中的传输。
func (d *Downloader) Active() bool { return d.state == StateFetching }

// Metadata 返回首个响应捕获的元数据，尚未收到响应时 ok 为 false。
func (d *Downloader) Metadata() (Metadata, bool) {
	if d.meta == nil {
		return Metadata{}, false
	}
	return *d.meta, true
}

// Len 返回已累积的字节数。
func (d *Downloader) Len() int64 { return int64(len(d.buf)) }

// Has 判断缓冲区是否已覆盖 [offset, offset+length)。
func (d *Downloader) Has(offset, length int64) bool {
	return d.Len() >= offset+length
}

// Bytes 返回从 from 开始最多 n 字节的只读视图；缓冲区只追加，视图内容不会再变化。
func (d *Downloader) Bytes(from, n int64) []byte {
	size := d.Len()
	if from < 0 || from >= size || n <= 0 {
		return nil
	}
	end := from + n
	if end > size {
		end = size
	}
	return d.buf[from:end:end]
}

// Start 发起传输：idle/failed/cancelled → fetching；已在下载或已完成时为空操作。
func (d *Downloader) Start() {
	if d.state == StateFetching || d.state == StateCompleted {
		return
	}
	d.gen++
	gen := d.gen
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.state = StateFetching
	d.buf = nil

	d.logger.WithFields(logrus.Fields{
		"action": "download_start",
		"source": d.url,
	}).Debug("download_start")

	go d.transfer(ctx, gen)
}

// Cancel 中止传输并丢弃缓冲；此后到达的旧回调会被忽略。
func (d *Downloader) Cancel() {
	if d.state != StateFetching && d.state != StateIdle {
		return
	}
	d.gen++
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.state = StateCancelled
	d.buf = nil
}

func (d *Downloader) transfer(ctx context.Context, gen uint64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		d.dispatch(gen, func() { d.fail(err) })
		return
	}
	// 本地磁盘就是缓存，传输层一律绕过中间缓存。
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		d.dispatch(gen, func() { d.fail(err) })
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		status := resp.StatusCode
		d.dispatch(gen, func() { d.fail(fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)) })
		return
	}

	meta := Metadata{
		ContentType:   mediaType(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
	}
	d.dispatch(gen, func() { d.receiveResponse(meta) })

	for {
		chunk := make([]byte, d.chunkSize)
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			d.dispatch(gen, func() { d.receiveChunk(data) })
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				d.dispatch(gen, d.complete)
			} else {
				d.dispatch(gen, func() { d.fail(readErr) })
			}
			return
		}
	}
}

// dispatch 将回调投递到控制上下文，并丢弃已被取消或重启的旧传输的回调。
func (d *Downloader) dispatch(gen uint64, fn func()) {
	d.post(func() {
		if gen != d.gen || d.state != StateFetching {
			return
		}
		fn()
	})
}

func (d *Downloader) receiveResponse(meta Metadata) {
	d.buf = make([]byte, 0, initialCapacity(meta.ContentLength))
	if d.meta == nil {
		d.meta = &meta
	}
	if d.events.OnResponse != nil {
		d.events.OnResponse(*d.meta)
	}
}

func (d *Downloader) receiveChunk(data []byte) {
	d.buf = append(d.buf, data...)
	if d.events.OnChunk != nil {
		d.events.OnChunk()
	}
}

func (d *Downloader) complete() {
	d.state = StateCompleted
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.logger.WithFields(logrus.Fields{
		"action": "download_complete",
		"source": d.url,
		"bytes":  len(d.buf),
	}).Info("download_complete")
	if d.finished {
		return
	}
	d.finished = true
	if d.events.OnComplete != nil {
		d.events.OnComplete(d.buf)
	}
}

func (d *Downloader) fail(err error) {
	d.state = StateFailed
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.logger.WithError(err).WithFields(logrus.Fields{
		"action": "download_failed",
		"source": d.url,
		"bytes":  len(d.buf),
	}).Warn("download_failed")
	if d.events.OnError != nil {
		d.events.OnError(err)
	}
}

func mediaType(raw string) string {
	if raw == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw
	}
	return mt
}

const maxPreallocate = 64 << 20

func initialCapacity(length int64) int {
	if length <= 0 {
		return 0
	}
	if length > maxPreallocate {
		return maxPreallocate
	}
	return int(length)
}
