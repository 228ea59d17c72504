package routes

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/server"
)

// Admin 是诊断接口依赖的引擎能力。
type Admin interface {
	Idle() bool
	InFlight() int
	MemoryEntries() int
	ClearAll(ctx context.Context) error
	SetMemoryCacheCapacity(n int) error
}

type statusPayload struct {
	Idle          bool `json:"idle"`
	InFlight      int  `json:"inflight"`
	MemoryEntries int  `json:"memory_entries"`
}

// RegisterDiagnosticsRoutes 暴露 /-/status、/-/cache 与 /-/metrics，供 SRE 查询与运维。
func RegisterDiagnosticsRoutes(app *fiber.App, admin Admin, gatherer prometheus.Gatherer, logger logrus.FieldLogger) {
	if app == nil || admin == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(snapshot(admin))
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := admin.ClearAll(ctx); err != nil {
			logger.WithFields(logrus.Fields{
				"action":     "clear_cache",
				"request_id": server.RequestID(c),
			}).WithError(err).Error("clear_cache_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "clear_failed"})
		}
		logger.WithFields(logrus.Fields{
			"action":     "clear_cache",
			"request_id": server.RequestID(c),
		}).Info("cache cleared")
		return c.JSON(snapshot(admin))
	})

	app.Put("/-/cache/capacity", func(c fiber.Ctx) error {
		size, err := strconv.Atoi(c.Query("size"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "size_required"})
		}
		if err := admin.SetMemoryCacheCapacity(size); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_capacity"})
		}
		return c.JSON(fiber.Map{"capacity": size, "memory_entries": admin.MemoryEntries()})
	})

	if gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

func snapshot(admin Admin) statusPayload {
	return statusPayload{
		Idle:          admin.Idle(),
		InFlight:      admin.InFlight(),
		MemoryEntries: admin.MemoryEntries(),
	}
}
