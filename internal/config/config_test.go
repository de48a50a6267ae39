package config

import (
	"testing"
	"time"
)

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Global.LogLevel = "chatty"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知日志级别应当报错")
	}
}

func TestValidateCacheDirName(t *testing.T) {
	testCases := []struct {
		name      string
		dir       string
		shouldErr bool
	}{
		{"plain ok", "video", false},
		{"dotted ok", "video.v2", false},
		{"empty", "", true},
		{"nested", "a/b", true},
		{"parent", "..", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.CacheDirName = tc.dir
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for dir %q", tc.dir)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for dir %q: %v", tc.dir, err)
			}
		})
	}
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	cfg := validConfig()
	cfg.Global.UpstreamTimeout = Duration(-time.Second)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数 UpstreamTimeout 应当报错")
	}

	cfg = validConfig()
	cfg.Global.BackgroundWorkers = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数 BackgroundWorkers 应当报错")
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m")); err != nil || d.DurationValue() != time.Minute {
		t.Fatalf("1m 解析失败: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("0x10")); err != nil || d.DurationValue() != 16*time.Second {
		t.Fatalf("十六进制秒解析失败: %v %s", err, d.DurationValue())
	}
	if err := d.UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("非法值应失败")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:        5000,
			LogLevel:          "info",
			StoragePath:       "./storage",
			CacheDirName:      "video",
			UpstreamTimeout:   Duration(30 * time.Second),
			BackgroundWorkers: 4,
		},
		Preload: []string{"https://cdn.example.com/intro.mp4"},
	}
}
