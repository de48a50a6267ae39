package server

import (
	"context"
	"errors"
	"io"
	"mime"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/coordinator"
	"github.com/any-hub/streamcache/internal/loader"
	"github.com/any-hub/streamcache/internal/logging"
)

const (
	headerCacheStatus = "X-Stream-Cache"

	cacheStatusHit       = "hit"
	cacheStatusStreaming = "streaming"
	cacheStatusBypass    = "bypass"
)

// playbackHandler 把 HTTP Range 读取翻译成本地文件读取或加载代理的读请求。
type playbackHandler struct {
	coord        *coordinator.Coordinator
	store        cache.Store
	logger       *logrus.Logger
	stallTimeout time.Duration
}

func (h *playbackHandler) handle(c fiber.Ctx) error {
	started := time.Now()
	src, err := SourceFromQuery(c)
	if err != nil {
		return WriteError(c, fiber.StatusBadRequest, "invalid_source")
	}

	ctx := c.Context()
	playable, err := h.coord.Resolve(ctx, src)
	if err != nil {
		h.logger.WithError(err).WithFields(logging.PlaybackFields(src.String(), "", RequestID(c))).
			Warn("resolve_failed")
		return h.redirect(c, src, started, "resolve_failed")
	}

	switch playable.Kind {
	case coordinator.KindLocalFile:
		return h.serveFile(ctx, c, playable, started)
	case coordinator.KindStreaming:
		return h.serveStream(ctx, c, playable, started)
	default:
		return h.redirect(c, src, started, "")
	}
}

func (h *playbackHandler) serveFile(ctx context.Context, c fiber.Ctx, playable coordinator.Playable, started time.Time) error {
	result, err := h.store.Get(ctx, playable.Key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger.WithError(err).WithFields(logging.StreamFields("cache_get", playable.Source.String(), playable.Key)).
				Warn("cache_get_failed")
		}
		return h.redirect(c, playable.Source, started, "cache_get_failed")
	}

	size := result.Entry.SizeBytes
	rng, err := parseRange(rangeHeader(c), size)
	if err != nil {
		result.Reader.Close()
		return h.unsatisfiable(c, size)
	}

	c.Set(fiber.HeaderContentType, cachedContentType())
	h.writeRangeHeaders(c, rng, size, cacheStatusHit)
	h.logResult(c, playable, rng, started, nil)

	if size == 0 {
		result.Reader.Close()
		return c.Send(nil)
	}
	if _, err := result.Reader.Seek(rng.start, io.SeekStart); err != nil {
		result.Reader.Close()
		return h.redirect(c, playable.Source, started, "cache_seek_failed")
	}
	section := io.LimitReader(result.Reader, rng.length())
	return c.SendStream(&sectionReadCloser{Reader: section, closer: result.Reader}, int(rng.length()))
}

func (h *playbackHandler) serveStream(ctx context.Context, c fiber.Ctx, playable coordinator.Playable, started time.Time) error {
	info := loader.NewInfoRequest()
	playable.Loader.Load(info)

	waitCtx, cancel := context.WithTimeout(ctx, h.stallTimeout)
	err := info.Wait(waitCtx)
	cancel()
	if err != nil {
		info.Close()
		return h.redirect(c, playable.Source, started, "stream_info_timeout")
	}

	content, _ := info.ContentInfo()
	if content.ContentLength < 0 {
		// 总长度未知时无法回答区间请求，退回直连。
		return h.redirect(c, playable.Source, started, "stream_length_unknown")
	}

	size := content.ContentLength
	rng, err := parseRange(rangeHeader(c), size)
	if err != nil {
		return h.unsatisfiable(c, size)
	}

	if content.ContentType != "" {
		c.Set(fiber.HeaderContentType, content.ContentType)
	}
	h.writeRangeHeaders(c, rng, size, cacheStatusStreaming)
	h.logResult(c, playable, rng, started, nil)

	if size == 0 {
		return c.Send(nil)
	}
	req := loader.NewRequest(rng.start, rng.length())
	playable.Loader.Load(req)
	return c.SendStream(newStallGuard(req, h.stallTimeout), int(rng.length()))
}

func (h *playbackHandler) redirect(c fiber.Ctx, src cache.Source, started time.Time, reason string) error {
	c.Set(headerCacheStatus, cacheStatusBypass)
	c.Set(fiber.HeaderLocation, src.String())

	fields := logging.PlaybackFields(src.String(), coordinator.KindDirect.String(), RequestID(c))
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reason != "" {
		fields["reason"] = reason
	}
	h.logger.WithFields(fields).Info("playback_redirect")
	return c.SendStatus(fiber.StatusFound)
}

func (h *playbackHandler) unsatisfiable(c fiber.Ctx, size int64) error {
	c.Set(fiber.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
	return WriteError(c, fiber.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable")
}

func (h *playbackHandler) writeRangeHeaders(c fiber.Ctx, rng byteRange, size int64, status string) {
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	c.Set(headerCacheStatus, status)
	if rng.partial {
		c.Set(fiber.HeaderContentRange, rng.contentRange(size))
		c.Status(fiber.StatusPartialContent)
		return
	}
	c.Status(fiber.StatusOK)
}

func (h *playbackHandler) logResult(c fiber.Ctx, playable coordinator.Playable, rng byteRange, started time.Time, err error) {
	fields := logging.PlaybackFields(playable.Source.String(), playable.Kind.String(), RequestID(c))
	fields["key"] = playable.Key
	fields["range_start"] = rng.start
	fields["range_end"] = rng.end
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("playback_failed")
		return
	}
	h.logger.WithFields(fields).Info("playback_start")
}

func rangeHeader(c fiber.Ctx) string {
	return string(c.Request().Header.Peek(fiber.HeaderRange))
}

func cachedContentType() string {
	if ct := mime.TypeByExtension(cache.FileExtension); ct != "" {
		return ct
	}
	return "video/mp4"
}

type sectionReadCloser struct {
	io.Reader
	closer io.Closer
}

func (s *sectionReadCloser) Close() error {
	return s.closer.Close()
}

// stallGuard 在读请求长时间没有新数据时关闭它，避免响应永久挂起。
type stallGuard struct {
	req   *loader.Request
	timer *time.Timer
	d     time.Duration
	once  sync.Once
}

func newStallGuard(req *loader.Request, d time.Duration) *stallGuard {
	g := &stallGuard{req: req, d: d}
	g.timer = time.AfterFunc(d, func() { _ = req.Close() })
	return g
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.req.Read(p)
	if n > 0 {
		g.timer.Reset(g.d)
	}
	return n, err
}

func (g *stallGuard) Close() error {
	g.once.Do(func() { g.timer.Stop() })
	return g.req.Close()
}
