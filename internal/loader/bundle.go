package loader

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
)

const (
	rawDayDir   = "raw"
	rawNightDir = "raw-night"
)

// Bundle 读取随应用打包的资源：普通资源按名称，raw 资源按编号与日/夜变体。
type Bundle struct {
	fsys fs.FS
}

// NewBundle 以任意 fs.FS 作为资源根。
func NewBundle(fsys fs.FS) *Bundle {
	return &Bundle{fsys: fsys}
}

// DirBundle 以本地目录作为资源根，目录必须存在。
func DirBundle(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("asset directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset directory %s is not a directory", dir)
	}
	return NewBundle(os.DirFS(dir)), nil
}

// OpenAsset 打开名为 name 的资源。
func (b *Bundle) OpenAsset(name string) (io.ReadCloser, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	return b.open("asset", name, clean)
}

// OpenRaw 打开编号为 id 的 raw 资源；夜间变体缺失时回退到日间版本。
func (b *Bundle) OpenRaw(id int, night bool) (io.ReadCloser, error) {
	name := strconv.Itoa(id)
	if night {
		f, err := b.open("raw", name, path.Join(rawNightDir, name))
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return b.open("raw", name, path.Join(rawDayDir, name))
}

func (b *Bundle) open(op, source, name string) (io.ReadCloser, error) {
	if b == nil || b.fsys == nil || name == "" || !fs.ValidPath(name) {
		return nil, newError(ErrNotFound, op, source, nil)
	}
	f, err := b.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(ErrNotFound, op, source, nil)
		}
		return nil, newError(ErrIO, op, source, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newError(ErrIO, op, source, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, newError(ErrNotFound, op, source, nil)
	}
	return f, nil
}
