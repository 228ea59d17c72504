package engine

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/loader"
	"github.com/vapcache/vapcache/internal/task"
)

// FromURL 以默认键 "url_"+url 异步解析网络资源。
func (e *Engine) FromURL(url string) *task.Task[string] {
	return e.FromURLWithKey(url, loader.URLKey(url))
}

// FromURLWithKey 使用调用方给定的键；空键跳过内存与磁盘缓存。
func (e *Engine) FromURLWithKey(url, key string) *task.Task[string] {
	return e.ResolveAsync(key, e.urlWork(url, key))
}

// FromURLSync 阻塞直到网络资源解析完成。
func (e *Engine) FromURLSync(ctx context.Context, url, key string) task.Result[string] {
	return e.ResolveSync(ctx, key, e.urlWork(url, key))
}

func (e *Engine) urlWork(url, key string) task.Work[string] {
	return func(ctx context.Context) (string, error) {
		fetched, err := e.network.FetchSync(ctx, url, key)
		if err != nil {
			return "", err
		}
		e.metrics.recordFetch(fetched.DiskHit, fetched.Elapsed.Seconds())
		e.logger.WithFields(logrus.Fields{
			"action":     "fetch",
			"key":        key,
			"url":        url,
			"disk_hit":   fetched.DiskHit,
			"elapsed_ms": fetched.Elapsed.Milliseconds(),
		}).Debug("network resource resolved")
		return fetched.Path, nil
	}
}

// FromAsset 以默认键 "asset_"+name 异步解析打包资源。
func (e *Engine) FromAsset(name string) *task.Task[string] {
	return e.FromAssetWithKey(name, loader.AssetKey(name))
}

// FromAssetWithKey 使用调用方给定的键解析打包资源。
func (e *Engine) FromAssetWithKey(name, key string) *task.Task[string] {
	return e.ResolveAsync(key, e.assetWork(name))
}

// FromAssetSync 阻塞直到打包资源解析完成。
func (e *Engine) FromAssetSync(ctx context.Context, name, key string) task.Result[string] {
	return e.ResolveSync(ctx, key, e.assetWork(name))
}

func (e *Engine) assetWork(name string) task.Work[string] {
	return func(ctx context.Context) (string, error) {
		rc, err := e.bundle.OpenAsset(name)
		if err != nil {
			return "", err
		}
		return e.mat.Materialize(ctx, rc, true)
	}
}

// FromRawRes 按当前日/夜模式的默认键异步解析 raw 资源。
func (e *Engine) FromRawRes(id int) *task.Task[string] {
	return e.FromRawResWithKey(id, loader.RawResKey(id, e.night))
}

// FromRawResWithKey 使用调用方给定的键解析 raw 资源。
func (e *Engine) FromRawResWithKey(id int, key string) *task.Task[string] {
	return e.ResolveAsync(key, e.rawWork(id))
}

// FromRawResSync 阻塞直到 raw 资源解析完成。
func (e *Engine) FromRawResSync(ctx context.Context, id int, key string) task.Result[string] {
	return e.ResolveSync(ctx, key, e.rawWork(id))
}

func (e *Engine) rawWork(id int) task.Work[string] {
	return func(ctx context.Context) (string, error) {
		rc, err := e.bundle.OpenRaw(id, e.night)
		if err != nil {
			return "", err
		}
		return e.mat.Materialize(ctx, rc, true)
	}
}

// FromStream 把任意字节流物化为本地文件。key 已命中内存或已有在途任务时 r 不会被
// 读取，closeAfter 为 true 则立即关闭。
func (e *Engine) FromStream(r io.Reader, key string, closeAfter bool) *task.Task[string] {
	t, source := e.resolve(key, e.streamWork(r, closeAfter), false)
	if source != sourceNew && closeAfter {
		e.closeUnused(r, key)
	}
	return t
}

// FromStreamSync 是 FromStream 的阻塞版本。
func (e *Engine) FromStreamSync(ctx context.Context, r io.Reader, key string, closeAfter bool) task.Result[string] {
	result, source := e.resolveSync(ctx, key, e.streamWork(r, closeAfter))
	if source != sourceNew && closeAfter {
		e.closeUnused(r, key)
	}
	return result
}

func (e *Engine) streamWork(r io.Reader, closeAfter bool) task.Work[string] {
	return func(ctx context.Context) (string, error) {
		return e.mat.Materialize(ctx, r, closeAfter)
	}
}

func (e *Engine) closeUnused(r io.Reader, key string) {
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		e.logger.WithFields(logrus.Fields{
			"action": "close",
			"key":    key,
		}).WithError(err).Warn("close unused stream failed")
	}
}
