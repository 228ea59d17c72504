package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
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
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别")
		}
	}
	if g.CacheDir == "" {
		return newFieldError("Global.CacheDir", "不能为空")
	}
	if g.MemoryCacheCapacity <= 0 {
		return newFieldError("Global.MemoryCacheCapacity", "必须大于 0")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.AssetDir != "" {
		info, err := os.Stat(g.AssetDir)
		if err != nil {
			return newFieldError("Global.AssetDir", "目录不存在")
		}
		if !info.IsDir() {
			return newFieldError("Global.AssetDir", "必须是目录")
		}
	}

	seenNames := map[string]struct{}{}
	for i := range c.Prefetch {
		item := &c.Prefetch[i]
		if item.Name == "" {
			return newFieldError("Prefetch[].Name", "不能为空")
		}
		if _, exists := seenNames[item.Name]; exists {
			return newFieldError(prefetchField(item.Name, "Name"), "重复")
		}
		seenNames[item.Name] = struct{}{}

		if err := validateURL(item.URL); err != nil {
			return fmt.Errorf("%s: %w", prefetchField(item.Name, "URL"), err)
		}
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("缺少资源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("地址缺少 Host: %s", raw)
	}
	return nil
}
