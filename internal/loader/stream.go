package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/cache"
)

// Materializer 将任意字节流落盘为 `<dir>/<毫秒时间戳>-<uuid>.mp4`。
// 它不经过 Disk Store 的临时文件协议，也不按来源去重。
type Materializer struct {
	dir    string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewMaterializer 创建写入 dir 的物化器，目录在首次写入时创建。
func NewMaterializer(dir string, logger logrus.FieldLogger) *Materializer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Materializer{dir: dir, logger: logger, now: time.Now}
}

// Dir 返回物化文件所在目录。
func (m *Materializer) Dir() string {
	return m.dir
}

// Materialize 拷贝 r 的全部内容并返回文件路径。closeAfter 为 true 且 r 实现
// io.Closer 时，无论成功与否都会关闭 r。
func (m *Materializer) Materialize(ctx context.Context, r io.Reader, closeAfter bool) (path string, err error) {
	if closeAfter {
		defer closeQuietly(m.logger, r, "stream")
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", newError(ErrIO, "materialize", m.dir, err)
	}

	name := strconv.FormatInt(m.now().UnixMilli(), 10) + "-" + uuid.NewString() + string(cache.ExtensionMP4)
	path = filepath.Join(m.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", newError(ErrIO, "materialize", path, err)
	}

	_, copyErr := cache.CopyWithContext(ctx, f, r)
	closeErr := f.Close()
	if writeErr := errors.Join(copyErr, closeErr); writeErr != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "materialize",
			"path":   path,
		}).WithError(writeErr).Warn("stream write failed")
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.logger.WithField("path", path).WithError(rmErr).Warn("remove partial file failed")
		}
		return "", newError(ErrIO, "materialize", path, writeErr)
	}
	return path, nil
}

// closeQuietly 关闭资源，失败只记录日志。
func closeQuietly(logger logrus.FieldLogger, v any, what string) {
	c, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.WithFields(logrus.Fields{
			"action": "close",
			"target": what,
		}).WithError(err).Warn(fmt.Sprintf("close %s failed", what))
	}
}
