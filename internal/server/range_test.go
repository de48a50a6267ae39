package server

import (
	"errors"
	"testing"
)

func TestParseRange(t *testing.T) {
	testCases := []struct {
		name    string
		header  string
		size    int64
		want    byteRange
		wantErr bool
	}{
		{name: "no header", header: "", size: 100, want: byteRange{start: 0, end: 99}},
		{name: "closed", header: "bytes=0-1", size: 100, want: byteRange{start: 0, end: 1, partial: true}},
		{name: "open ended", header: "bytes=10-", size: 100, want: byteRange{start: 10, end: 99, partial: true}},
		{name: "suffix", header: "bytes=-20", size: 100, want: byteRange{start: 80, end: 99, partial: true}},
		{name: "suffix larger than size", header: "bytes=-500", size: 100, want: byteRange{start: 0, end: 99, partial: true}},
		{name: "end clamped", header: "bytes=90-200", size: 100, want: byteRange{start: 90, end: 99, partial: true}},
		{name: "first of many", header: "bytes=0-9, 20-29", size: 100, want: byteRange{start: 0, end: 9, partial: true}},
		{name: "start beyond size", header: "bytes=100-", size: 100, wantErr: true},
		{name: "inverted", header: "bytes=50-10", size: 100, wantErr: true},
		{name: "garbage", header: "items=0-1", size: 100, wantErr: true},
		{name: "no dash", header: "bytes=5", size: 100, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRange(tc.header, tc.size)
			if tc.wantErr {
				if !errors.Is(err, errRangeNotSatisfiable) {
					t.Fatalf("expected errRangeNotSatisfiable, got %v (%+v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestByteRangeContentRange(t *testing.T) {
	r := byteRange{start: 10, end: 19, partial: true}
	if r.length() != 10 {
		t.Fatalf("unexpected length %d", r.length())
	}
	if got := r.contentRange(100); got != "bytes 10-19/100" {
		t.Fatalf("unexpected content range %s", got)
	}
}
