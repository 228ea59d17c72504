package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/cache"
	"github.com/vapcache/vapcache/internal/loader"
	"github.com/vapcache/vapcache/internal/logging"
	"github.com/vapcache/vapcache/internal/task"
)

type resourceHandler struct {
	resolver Resolver
	logger   *logrus.Logger
}

// resolveURL 同步解析网络资源并把本地文件流式返回。
func (h *resourceHandler) resolveURL(c fiber.Ctx) error {
	started := time.Now()
	rawURL, key, err := urlParams(c)
	if err != nil {
		return h.writeError(c, "/resource", "", fiber.StatusBadRequest, err.Error(), started)
	}
	result := h.resolver.FromURLSync(requestContext(c), rawURL, key)
	return h.serveResult(c, "/resource", key, result, started)
}

// prefetchURL 异步预热网络资源，立即返回 202。
func (h *resourceHandler) prefetchURL(c fiber.Ctx) error {
	started := time.Now()
	rawURL, key, err := urlParams(c)
	if err != nil {
		return h.writeError(c, "/resource/prefetch", "", fiber.StatusBadRequest, err.Error(), started)
	}

	reqID := RequestID(c)
	t := h.resolver.FromURLWithKey(rawURL, key)
	t.AddFailureListener(func(err error) {
		fields := logging.RequestFields("/resource/prefetch", reqID, key, 0)
		fields["url"] = rawURL
		h.logger.WithFields(fields).WithError(err).Warn("prefetch_failed")
	})

	h.logRequest("/resource/prefetch", reqID, key, fiber.StatusAccepted, started, nil)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"key": key, "url": rawURL})
}

func (h *resourceHandler) resolveAsset(c fiber.Ctx) error {
	started := time.Now()
	name := strings.TrimPrefix(c.Params("*"), "/")
	if name == "" {
		return h.writeError(c, "/asset", "", fiber.StatusBadRequest, "asset_name_required", started)
	}
	key := loader.AssetKey(name)
	result := h.resolver.FromAssetSync(requestContext(c), name, key)
	return h.serveResult(c, "/asset", key, result, started)
}

func (h *resourceHandler) resolveRaw(c fiber.Ctx) error {
	started := time.Now()
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil || id < 0 {
		return h.writeError(c, "/raw", "", fiber.StatusBadRequest, "invalid_resource_id", started)
	}
	key := loader.RawResKey(id, h.resolver.NightMode())
	result := h.resolver.FromRawResSync(requestContext(c), id, key)
	return h.serveResult(c, "/raw", key, result, started)
}

// urlParams 读取 url/key/nocache 参数；nocache 时返回空键以跳过缓存。
func urlParams(c fiber.Ctx) (string, string, error) {
	rawURL := strings.TrimSpace(c.Query("url"))
	if rawURL == "" {
		return "", "", errors.New("url_required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", "", errors.New("invalid_url")
	}

	if nocache, _ := strconv.ParseBool(c.Query("nocache")); nocache {
		return rawURL, "", nil
	}
	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		key = loader.URLKey(rawURL)
	}
	return rawURL, key, nil
}

func (h *resourceHandler) serveResult(c fiber.Ctx, route, key string, result task.Result[string], started time.Time) error {
	path, err := result.Unwrap()
	if err != nil {
		status, code := statusForError(err)
		h.logRequest(route, RequestID(c), key, status, started, err)
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	f, err := os.Open(path)
	if err != nil {
		h.logRequest(route, RequestID(c), key, fiber.StatusInternalServerError, started, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "io_failed"})
	}
	defer f.Close()

	if info, statErr := f.Stat(); statErr == nil {
		c.Response().Header.SetContentLength(int(info.Size()))
	}
	c.Set(fiber.HeaderContentType, contentTypeFor(path))
	if key != "" {
		c.Set("X-Vapcache-Key", key)
	}
	c.Status(fiber.StatusOK)

	_, err = io.Copy(c.Response().BodyWriter(), f)
	h.logRequest(route, RequestID(c), key, fiber.StatusOK, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read file failed: %v", err))
	}
	return nil
}

// statusForError 将 loader 错误分类映射为 HTTP 状态码与错误码。
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, loader.ErrNotFound):
		return fiber.StatusNotFound, "not_found"
	case errors.Is(err, loader.ErrTransport):
		return fiber.StatusBadGateway, "upstream_failed"
	case errors.Is(err, loader.ErrIO):
		return fiber.StatusInternalServerError, "io_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, task.ErrCancelled):
		return fiber.StatusGatewayTimeout, "cancelled"
	default:
		return fiber.StatusInternalServerError, "resolve_failed"
	}
}

func contentTypeFor(path string) string {
	switch cache.Extension(strings.ToLower(filepath.Ext(path))) {
	case cache.ExtensionZIP:
		return "application/zip"
	case cache.ExtensionMP4:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (h *resourceHandler) writeError(c fiber.Ctx, route, key string, status int, code string, started time.Time) error {
	h.logRequest(route, RequestID(c), key, status, started, errors.New(code))
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *resourceHandler) logRequest(route, requestID, key string, status int, started time.Time, err error) {
	fields := logging.RequestFields(route, requestID, key, status)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_served")
}
