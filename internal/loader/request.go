package loader

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrRequestClosed 表示读请求已被消费方撤回。
var ErrRequestClosed = errors.New("read request closed")

// ContentInfo 是填充给播放端的内容信息。
type ContentInfo struct {
	ContentType              string
	ContentLength            int64
	ByteRangeAccessSupported bool
}

// Request 是播放端发起的一次字节区间读取。控制上下文通过 deliver/finish 写入，
// 播放端把它当作 io.ReadCloser 消费；写入端从不阻塞。
type Request struct {
	offset   int64
	length   int64
	infoOnly bool

	// current 是已交付的下一个字节位置，只在控制上下文中读写。
	current int64

	mu       sync.Mutex
	cond     *sync.Cond
	info     *ContentInfo
	chunks   [][]byte
	finished bool
	err      error
	closed   bool
	onClose  func(*Request)
	ready    chan struct{}
}

// NewRequest 创建一个读取 [offset, offset+length) 的数据请求。
func NewRequest(offset, length int64) *Request {
	r := &Request{
		offset:  offset,
		length:  length,
		current: offset,
		ready:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// NewInfoRequest 创建只关心内容信息的请求，内容信息就绪即视为完成。
func NewInfoRequest() *Request {
	r := NewRequest(0, 0)
	r.infoOnly = true
	return r
}

// Offset 返回请求起始位置。
func (r *Request) Offset() int64 { return r.offset }

// Length 返回请求长度。
func (r *Request) Length() int64 { return r.length }

// InfoOnly 表示请求是否只等待内容信息。
func (r *Request) InfoOnly() bool { return r.infoOnly }

// ContentInfo 返回已填充的内容信息。
func (r *Request) ContentInfo() (ContentInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.info == nil {
		return ContentInfo{}, false
	}
	return *r.info, true
}

// Finished 表示请求是否已被完整满足。
func (r *Request) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished && r.err == nil
}

// Done 在请求完成、失败或关闭时关闭。
func (r *Request) Done() <-chan struct{} {
	return r.ready
}

// Err 返回请求失败原因，正常完成时为 nil。
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait 阻塞直到请求结束或 ctx 取消。
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read 按交付顺序读取数据，请求完成且数据读尽后返回 io.EOF。
func (r *Request) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.chunks) == 0 && !r.finished && !r.closed {
		r.cond.Wait()
	}
	if r.closed {
		return 0, ErrRequestClosed
	}
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks[0] = nil
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

// Close 由播放端调用以撤回请求，会通知所属 loader 把它移出等待集合。
func (r *Request) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.chunks = nil
	hook := r.onClose
	r.onClose = nil
	r.signalLocked()
	r.mu.Unlock()

	if hook != nil {
		hook(r)
	}
	return nil
}

func (r *Request) setOnClose(fn func(*Request)) {
	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.onClose = fn
	}
	r.mu.Unlock()
	if closed {
		fn(r)
	}
}

func (r *Request) setContentInfo(info ContentInfo) {
	r.mu.Lock()
	r.info = &info
	r.mu.Unlock()
}

func (r *Request) hasContentInfo() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info != nil
}

// deliver 追加一段数据并推进 current，只在控制上下文调用。
func (r *Request) deliver(data []byte) {
	if len(data) == 0 {
		return
	}
	r.current += int64(len(data))
	r.mu.Lock()
	if !r.closed {
		r.chunks = append(r.chunks, data)
		r.cond.Broadcast()
	}
	r.mu.Unlock()
}

func (r *Request) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	r.finished = true
	r.err = err
	r.onClose = nil
	r.signalLocked()
}

func (r *Request) signalLocked() {
	r.cond.Broadcast()
	select {
	case <-r.ready:
	default:
		close(r.ready)
	}
}
