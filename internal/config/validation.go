package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.CacheDirName == "" {
		return newFieldError("Global.CacheDirName", "不能为空")
	}
	if strings.ContainsAny(g.CacheDirName, `/\`) || g.CacheDirName == "." || g.CacheDirName == ".." {
		return newFieldError("Global.CacheDirName", "必须是单层目录名")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.StallTimeout.DurationValue() < 0 {
		return newFieldError("Global.StallTimeout", "不能为负数")
	}
	if g.BackgroundWorkers < 0 {
		return newFieldError("Global.BackgroundWorkers", "不能为负数")
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxSize/LogMaxBackups", "不能为负数")
	}

	for i, raw := range c.Preload {
		if _, err := cache.ParseSource(raw); err != nil {
			return newFieldError(preloadField(i), err.Error())
		}
	}

	return nil
}

// PreloadSources 返回已校验的预加载来源列表（假定 Validate 已经通过）。
func (c *Config) PreloadSources() []cache.Source {
	if len(c.Preload) == 0 {
		return nil
	}
	result := make([]cache.Source, 0, len(c.Preload))
	for _, raw := range c.Preload {
		if src, err := cache.ParseSource(raw); err == nil {
			result = append(result, src)
		}
	}
	return result
}
