package coordinator

import (
	"net/url"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/loader"
)

// StreamScheme 标记需要经由加载代理读取的流式引用。
const StreamScheme = "streamcache"

// Kind 描述 Resolve 返回的可播放引用类型。
type Kind int

const (
	// KindDirect 直接访问网络，不做任何缓存。
	KindDirect Kind = iota
	// KindStreaming 由正在进行的下载通过加载代理提供数据。
	KindStreaming
	// KindLocalFile 完整缓存文件。
	KindLocalFile
)

func (k Kind) String() string {
	switch k {
	case KindLocalFile:
		return "local"
	case KindStreaming:
		return "streaming"
	default:
		return "direct"
	}
}

// Playable 是交给播放引擎的引用，按 Kind 决定数据来源。
type Playable struct {
	Kind   Kind
	Source cache.Source
	Key    string
	// Path 仅对 KindLocalFile 有效。
	Path string
	// Loader 仅对 KindStreaming 有效。
	Loader loader.ResourceLoader
}

// IsRemote 表示播放需要等待网络数据。
func (p Playable) IsRemote() bool {
	return p.Kind != KindLocalFile
}

// Locator 返回引用的地址形式：本地文件为 file://，流式引用替换为自定义 scheme。
func (p Playable) Locator() string {
	switch p.Kind {
	case KindLocalFile:
		return (&url.URL{Scheme: "file", Path: p.Path}).String()
	case KindStreaming:
		return p.Source.WithScheme(StreamScheme)
	default:
		return p.Source.String()
	}
}
