package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errRangeNotSatisfiable 对应 416 响应。
var errRangeNotSatisfiable = errors.New("range not satisfiable")

// byteRange 是闭区间 [start, end]；partial 表示来自 Range 头而需返回 206。
type byteRange struct {
	start   int64
	end     int64
	partial bool
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseRange 解析单段 "bytes=a-b" / "bytes=a-" / "bytes=-n"；多段时只取第一段。
func parseRange(header string, size int64) (byteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{start: 0, end: size - 1}, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, errRangeNotSatisfiable
	}
	part := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if idx := strings.IndexByte(part, ','); idx >= 0 {
		part = strings.TrimSpace(part[:idx])
	}
	dash := strings.IndexByte(part, '-')
	if dash < 0 {
		return byteRange{}, errRangeNotSatisfiable
	}
	first, last := strings.TrimSpace(part[:dash]), strings.TrimSpace(part[dash+1:])

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 || size == 0 {
			return byteRange{}, errRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1, partial: true}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errRangeNotSatisfiable
	}
	end := size - 1
	if last != "" {
		parsed, err := strconv.ParseInt(last, 10, 64)
		if err != nil || parsed < start {
			return byteRange{}, errRangeNotSatisfiable
		}
		if parsed < end {
			end = parsed
		}
	}
	return byteRange{start: start, end: end, partial: true}, nil
}
