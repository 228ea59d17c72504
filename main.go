package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/vapcache/vapcache/internal/config"
	"github.com/vapcache/vapcache/internal/engine"
	"github.com/vapcache/vapcache/internal/fetch"
	"github.com/vapcache/vapcache/internal/loader"
	"github.com/vapcache/vapcache/internal/logging"
	"github.com/vapcache/vapcache/internal/server"
	"github.com/vapcache/vapcache/internal/server/routes"
	"github.com/vapcache/vapcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache_dir"] = cfg.Global.CacheDir
		fields["prefetch"] = config.PrefetchNames(cfg.Prefetch)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 日志 → 引擎（磁盘缓存 + 下载器）→ Fiber server”顺序，
	// 保证所有请求共享同一个引擎实例。
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	eng, err := buildEngine(cfg, logger, reg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化引擎失败: %v\n", err)
		return 1
	}
	defer eng.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = cfg.Global.CacheDir
	fields["memory_capacity"] = cfg.Global.MemoryCacheCapacity
	fields["disk_cache"] = cfg.Global.DiskCacheEnabled
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	warmUp(eng, cfg.Prefetch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := startHTTPServer(ctx, cfg, eng, reg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("vapcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 VAPCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("VAPCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildEngine 按配置组装下载器、打包资源与引擎。
func buildEngine(cfg *config.Config, logger *logrus.Logger, reg prometheus.Registerer) (*engine.Engine, error) {
	g := cfg.Global

	var bundle *loader.Bundle
	if g.AssetDir != "" {
		b, err := loader.DirBundle(g.AssetDir)
		if err != nil {
			return nil, err
		}
		bundle = b
	}

	return engine.New(engine.Options{
		CacheDir:         g.CacheDir,
		Capacity:         g.MemoryCacheCapacity,
		DisableDiskCache: !g.DiskCacheEnabled,
		Fetcher: fetch.NewHTTPFetcher(fetch.HTTPOptions{
			Timeout:   g.FetchTimeout.DurationValue(),
			UserAgent: g.UserAgent,
		}),
		Bundle:     bundle,
		NightMode:  g.NightMode,
		Logger:     logging.Component(logger, "engine"),
		Registerer: reg,
	})
}

// warmUp 异步预热配置中声明的资源，失败只记录日志。
func warmUp(eng *engine.Engine, items []config.PrefetchConfig, logger *logrus.Logger) {
	for _, item := range items {
		key := item.Key
		if key == "" {
			key = loader.URLKey(item.URL)
		}
		name := item.Name
		t := eng.FromURLWithKey(item.URL, key)
		t.AddListener(func(path string) {
			logger.WithFields(logrus.Fields{
				"action": "prefetch",
				"name":   name,
				"key":    key,
				"path":   path,
			}).Info("预热完成")
		})
		t.AddFailureListener(func(err error) {
			logger.WithFields(logrus.Fields{
				"action": "prefetch",
				"name":   name,
				"key":    key,
			}).WithError(err).Warn("预热失败")
		})
	}
}

func startHTTPServer(ctx context.Context, cfg *config.Config, eng *engine.Engine, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Resolver:   eng,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, eng, gatherer, logging.Component(logger, "diagnostics"))

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，正在关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return <-errCh
}
