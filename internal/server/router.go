package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/coordinator"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger      *logrus.Logger
	Coordinator *coordinator.Coordinator
	Store       cache.Store
	ListenPort  int
	// StallTimeout bounds how long a streaming response waits for the loading
	// proxy (content info or the next bytes) before giving up. Defaults to 30s.
	StallTimeout time.Duration
}

const contextKeyRequestID = "_streamcache_request_id"

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and the /stream playback route.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("cache coordinator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 30 * time.Second
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	playback := &playbackHandler{
		coord:        opts.Coordinator,
		store:        opts.Store,
		logger:       opts.Logger,
		stallTimeout: opts.StallTimeout,
	}
	app.Get("/stream", playback.handle)

	return app, nil
}

func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// SourceFromQuery parses the src query parameter shared by every route.
func SourceFromQuery(c fiber.Ctx) (cache.Source, error) {
	return cache.ParseSource(c.Query("src"))
}

// WriteError renders the JSON error body used across routes.
func WriteError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
