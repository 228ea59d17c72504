package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/task"
)

// Resolver is the slice of the engine the resource routes depend on. It
// allows injecting fakes during tests.
type Resolver interface {
	FromURLSync(ctx context.Context, url, key string) task.Result[string]
	FromURLWithKey(url, key string) *task.Task[string]
	FromAssetSync(ctx context.Context, name, key string) task.Result[string]
	FromRawResSync(ctx context.Context, id int, key string) task.Result[string]
	NightMode() bool
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Resolver   Resolver
	ListenPort int
}

const contextKeyRequestID = "_vapcache_request_id"

// NewApp builds a Fiber application with request-id and recovery middleware
// and the resource routes. Callers attach diagnostics routes separately.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	h := &resourceHandler{resolver: opts.Resolver, logger: opts.Logger}
	app.Get("/resource", h.resolveURL)
	app.Post("/resource/prefetch", h.prefetchURL)
	app.Get("/asset/*", h.resolveAsset)
	app.Get("/raw/:id", h.resolveRaw)

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
