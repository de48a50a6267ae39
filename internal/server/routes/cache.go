package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/coordinator"
	"github.com/any-hub/streamcache/internal/server"
)

// RegisterCacheRoutes 暴露 /-/cache 系列命令接口，对应 Coordinator 的四个操作。
func RegisterCacheRoutes(app *fiber.App, coord *coordinator.Coordinator, logger *logrus.Logger) {
	if app == nil || coord == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// 注册顺序保证 /-/cache/all 不被 ?src 版本吞掉。
	app.Delete("/-/cache/all", func(c fiber.Ctx) error {
		if err := coord.Clear(c.Context()); err != nil {
			logger.WithError(err).WithField("request_id", server.RequestID(c)).Warn("clear_failed")
			return server.WriteError(c, fiber.StatusInternalServerError, "clear_failed")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cache", func(c fiber.Ctx) error {
		src, err := server.SourceFromQuery(c)
		if err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_source")
		}
		if err := coord.BeginCaching(c.Context(), src); err != nil {
			return commandError(c, logger, "begin_caching", src, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"source": src.String(), "key": cache.Key(src)})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		src, err := server.SourceFromQuery(c)
		if err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_source")
		}
		if err := coord.StopCaching(c.Context(), src); err != nil {
			return commandError(c, logger, "stop_caching", src, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/resolve", func(c fiber.Ctx) error {
		src, err := server.SourceFromQuery(c)
		if err != nil {
			return server.WriteError(c, fiber.StatusBadRequest, "invalid_source")
		}
		playable, err := coord.Resolve(c.Context(), src)
		if err != nil {
			return commandError(c, logger, "resolve", src, err)
		}
		return c.JSON(encodePlayable(playable))
	})

	app.Get("/-/inflight", func(c fiber.Ctx) error {
		sources, err := coord.InFlight(c.Context())
		if err != nil {
			return server.WriteError(c, fiber.StatusServiceUnavailable, "coordinator_unavailable")
		}
		payload := make([]string, 0, len(sources))
		for _, src := range sources {
			payload = append(payload, src.String())
		}
		return c.JSON(fiber.Map{"sources": payload})
	})
}

type playablePayload struct {
	Kind    string `json:"kind"`
	Source  string `json:"source"`
	Key     string `json:"key"`
	Locator string `json:"locator"`
	Remote  bool   `json:"remote"`
	Path    string `json:"path,omitempty"`
}

func encodePlayable(p coordinator.Playable) playablePayload {
	payload := playablePayload{
		Kind:    p.Kind.String(),
		Source:  p.Source.String(),
		Key:     p.Key,
		Locator: p.Locator(),
		Remote:  p.IsRemote(),
	}
	if p.Kind == coordinator.KindLocalFile {
		payload.Path = p.Path
	}
	return payload
}

func commandError(c fiber.Ctx, logger *logrus.Logger, action string, src cache.Source, err error) error {
	logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"source":     src.String(),
		"request_id": server.RequestID(c),
	}).Warn("cache_command_failed")
	if errors.Is(err, cache.ErrInvalidSource) {
		return server.WriteError(c, fiber.StatusBadRequest, "invalid_source")
	}
	return server.WriteError(c, fiber.StatusInternalServerError, action+"_failed")
}
