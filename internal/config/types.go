package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级运行参数：监听、日志、缓存目录与下载行为。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	CacheDir            string   `mapstructure:"CacheDir"`
	MemoryCacheCapacity int      `mapstructure:"MemoryCacheCapacity"`
	DiskCacheEnabled    bool     `mapstructure:"DiskCacheEnabled"`
	FetchTimeout        Duration `mapstructure:"FetchTimeout"`
	AssetDir            string   `mapstructure:"AssetDir"`
	NightMode           bool     `mapstructure:"NightMode"`
	UserAgent           string   `mapstructure:"UserAgent"`
}

// PrefetchConfig 声明启动时预热的网络资源。
type PrefetchConfig struct {
	Name string `mapstructure:"Name"`
	URL  string `mapstructure:"URL"`
	Key  string `mapstructure:"Key"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig     `mapstructure:",squash"`
	Prefetch []PrefetchConfig `mapstructure:"Prefetch"`
}

// PrefetchNames 返回所有预热项名称，供启动日志使用。
func PrefetchNames(items []PrefetchConfig) []string {
	if len(items) == 0 {
		return nil
	}
	result := make([]string, len(items))
	for i, item := range items {
		result[i] = item.Name
	}
	return result
}
