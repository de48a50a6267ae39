package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/config"
	"github.com/any-hub/streamcache/internal/coordinator"
	"github.com/any-hub/streamcache/internal/logging"
	"github.com/any-hub/streamcache/internal/server"
	"github.com/any-hub/streamcache/internal/server/routes"
	"github.com/any-hub/streamcache/internal/version"
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
		fields["cache_dir"] = cfg.Global.CacheDir()
		fields["preload"] = len(cfg.Preload)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 磁盘缓存 → Coordinator → 预加载 → Fiber server。
	store, err := cache.NewStore(cfg.Global.CacheDir())
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	coord, err := coordinator.New(coordinator.Options{
		Store:   store,
		Client:  server.NewUpstreamClient(cfg),
		Logger:  logger,
		Workers: cfg.Global.BackgroundWorkers,
		OnEvent: func(ev coordinator.Event) { logEvent(logger, ev) },
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存协调器失败: %v\n", err)
		return 1
	}
	defer coord.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = store.Dir()
	fields["preload"] = len(cfg.Preload)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	preload(ctx, coord, cfg.PreloadSources(), logger)

	if err := startHTTPServer(ctx, cfg, coord, store, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("streamcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 STREAMCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("STREAMCACHE_CONFIG")
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

// preload 为配置中的来源启动后台缓存，单个失败只记录日志。
func preload(ctx context.Context, coord *coordinator.Coordinator, sources []cache.Source, logger *logrus.Logger) {
	for _, src := range sources {
		if err := coord.BeginCaching(ctx, src); err != nil {
			logger.WithError(err).WithFields(logging.StreamFields("preload", src.String(), cache.Key(src))).
				Warn("preload_failed")
		}
	}
}

func logEvent(logger *logrus.Logger, ev coordinator.Event) {
	fields := logrus.Fields{
		"action": "cache_event",
		"event":  string(ev.Type),
	}
	if !ev.Source.IsZero() {
		fields["source"] = ev.Source.String()
		fields["key"] = ev.Key
	}
	if ev.Bytes > 0 {
		fields["bytes"] = ev.Bytes
	}
	entry := logger.WithFields(fields)
	if ev.Err != nil {
		entry.WithError(ev.Err).Warn("cache_event")
		return
	}
	entry.Debug("cache_event")
}

func startHTTPServer(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator, store cache.Store, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:       logger,
		Coordinator:  coord,
		Store:        store,
		ListenPort:   port,
		StallTimeout: cfg.Global.StallTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, coord, logger)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
