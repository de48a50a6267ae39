package cache

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSource 表示无法作为远端视频定位符的输入。
var ErrInvalidSource = errors.New("invalid source")

// Source 是远端视频的不可变定位符，所有缓存操作都以它为身份键。
type Source struct {
	raw string
}

// ParseSource 校验并规范化远端地址，仅接受带 Host 的 http/https URL。
func ParseSource(raw string) (Source, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Source{}, fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Source{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, parsed.Scheme)
	}
	if parsed.Host == "" {
		return Source{}, fmt.Errorf("%w: missing host", ErrInvalidSource)
	}
	return Source{raw: parsed.String()}, nil
}

// MustParseSource 用于测试与常量场景，解析失败直接 panic。
func MustParseSource(raw string) Source {
	src, err := ParseSource(raw)
	if err != nil {
		panic(err)
	}
	return src
}

// String 返回规范化后的完整 URL。
func (s Source) String() string {
	return s.raw
}

// IsZero 表示 Source 未经 ParseSource 构造。
func (s Source) IsZero() bool {
	return s.raw == ""
}

// WithScheme 返回替换了 scheme 的地址副本，用于区分需要经过加载代理的流式引用。
func (s Source) WithScheme(scheme string) string {
	parsed, err := url.Parse(s.raw)
	if err != nil {
		return s.raw
	}
	parsed.Scheme = scheme
	return parsed.String()
}
