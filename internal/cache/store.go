package cache

import (
	"context"
	"errors"
	"io"
	"mime"
	"strings"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<root>/vap_cache_<sha1(sourceKey)><ext>                 # 已提交的正文
//	<root>/vap_cache_<sha1(sourceKey)>-<rand>.temp<ext>     # 写入中的临时文件
//
// 临时文件永远不会被 Lookup 返回。
type Store interface {
	// Lookup 返回已提交条目的只读流。若不存在则返回 ErrNotFound。
	Lookup(ctx context.Context, sourceKey string) (*ReadResult, error)

	// BeginWrite 打开一个与最终文件名不同的临时文件，调用方写完后 Commit，失败则 Abort。
	BeginWrite(ctx context.Context, sourceKey string, ext Extension) (*PendingWrite, error)

	// Put 是 BeginWrite + 拷贝 + Commit 的组合，同一 sourceKey 的 Put 串行执行。
	// 提交会删除同一 sourceKey 在其他后缀下的旧条目。
	Put(ctx context.Context, sourceKey string, ext Extension, body io.Reader) (*Entry, error)

	// Clear 删除根目录下所有条目，包括临时文件。
	Clear(ctx context.Context) error

	// Root 返回缓存根目录的绝对路径。
	Root() string
}

// Extension 是条目的媒体类型标签，即最终文件后缀。
type Extension string

const (
	ExtensionMP4 Extension = ".mp4"
	ExtensionZIP Extension = ".zip"
)

// knownExtensions 决定 Lookup 的探测顺序。
var knownExtensions = []Extension{ExtensionMP4, ExtensionZIP}

// TempSuffix 返回临时文件后缀，例如 ".temp.mp4"。
func (e Extension) TempSuffix() string {
	return ".temp" + string(e)
}

func (e Extension) String() string {
	return string(e)
}

// ExtensionForContentType 根据响应 Content-Type 推断后缀，无法识别时回退为 mp4。
func ExtensionForContentType(contentType string) Extension {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch mediaType {
	case "application/zip", "application/x-zip-compressed":
		return ExtensionZIP
	default:
		return ExtensionMP4
	}
}

// Entry 描述一个已提交的缓存文件。
type Entry struct {
	SourceKey string    `json:"source_key"`
	Extension Extension `json:"extension"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，调用方负责 Close。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrWriteFinished 表示 PendingWrite 已经 Commit 或 Abort。
var ErrWriteFinished = errors.New("cache write already finished")
