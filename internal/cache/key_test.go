package cache

import (
	"errors"
	"strings"
	"testing"
)

func TestKeyIsDeterministic(t *testing.T) {
	src := MustParseSource("https://cdn.example.com/videos/intro.mp4?v=2")
	first := Key(src)
	for i := 0; i < 10; i++ {
		if got := Key(MustParseSource(src.String())); got != first {
			t.Fatalf("key changed between calls: %s vs %s", first, got)
		}
	}
	if !strings.HasSuffix(first, FileExtension) {
		t.Fatalf("key %s missing %s suffix", first, FileExtension)
	}
	if len(first) != 32+len(FileExtension) {
		t.Fatalf("unexpected key length %d", len(first))
	}
}

func TestKeyIsStableAcrossProcesses(t *testing.T) {
	// md5("https://example.com/a.mp4")
	src := MustParseSource("https://example.com/a.mp4")
	const want = "f917731753182b9cad966aeb330750c2.mp4"
	if got := Key(src); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestKeyDiffersPerSource(t *testing.T) {
	a := Key(MustParseSource("https://example.com/a.mp4"))
	b := Key(MustParseSource("https://example.com/b.mp4"))
	if a == b {
		t.Fatalf("distinct sources should not share a key")
	}
}

func TestParseSourceRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "  ", "ftp://example.com/a.mp4", "file:///tmp/a.mp4", "https://", "::"} {
		if _, err := ParseSource(raw); !errors.Is(err, ErrInvalidSource) {
			t.Fatalf("%q: expected ErrInvalidSource, got %v", raw, err)
		}
	}
}

func TestSourceWithScheme(t *testing.T) {
	src := MustParseSource("https://example.com/a.mp4?x=1")
	if got := src.WithScheme("streamcache"); got != "streamcache://example.com/a.mp4?x=1" {
		t.Fatalf("unexpected rewritten locator %s", got)
	}
	if src.String() != "https://example.com/a.mp4?x=1" {
		t.Fatalf("WithScheme must not mutate the source")
	}
}
