package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/npm-hub/internal/config"
	"github.com/any-hub/npm-hub/internal/federation"
	"github.com/any-hub/npm-hub/internal/logging"
	"github.com/any-hub/npm-hub/internal/model"
	"github.com/any-hub/npm-hub/internal/server"
	"github.com/any-hub/npm-hub/internal/server/routes"
	"github.com/any-hub/npm-hub/internal/storage"
	"github.com/any-hub/npm-hub/internal/store"
	"github.com/any-hub/npm-hub/internal/uplink"
	"github.com/any-hub/npm-hub/internal/version"
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
		fields["uplinks"] = len(cfg.Uplinks)
		fields["credentials"] = config.CredentialModes(cfg.Uplinks)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 registry 失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["uplinks"] = len(cfg.Uplinks)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage"] = cfg.Global.StoragePath
	fields["credentials"] = config.CredentialModes(cfg.Uplinks)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildRegistry 按“存储后端 → uplink → 本地仓库 → 联邦仓库”的顺序装配引擎，
// 所有请求共享同一组实例。
func buildRegistry(cfg *config.Config, logger *logrus.Logger) (*federation.Store, error) {
	model.SetDebug(cfg.Global.Debug)

	backend, err := storage.NewFSBackend(cfg.Global.StoragePath)
	if err != nil {
		return nil, err
	}

	uplinkURLs := make(map[string]*url.URL, len(cfg.Uplinks))
	clients := make([]*uplink.Client, 0, len(cfg.Uplinks))
	for _, uplinkCfg := range cfg.Uplinks {
		parsed, parseErr := url.Parse(uplinkCfg.URL)
		if parseErr != nil {
			return nil, fmt.Errorf("uplink %s: %w", uplinkCfg.Name, parseErr)
		}
		uplinkURLs[uplinkCfg.Name] = parsed
		clients = append(clients, uplink.New(uplink.Options{
			Name:       uplinkCfg.Name,
			URL:        parsed,
			Cache:      uplinkCfg.Cache,
			Timeout:    uplinkCfg.Timeout.DurationValue(),
			MaxFails:   uplinkCfg.MaxFails,
			FailWindow: uplinkCfg.FailWindow.DurationValue(),
			Username:   uplinkCfg.Username,
			Password:   uplinkCfg.Password,
		}, logger))
	}

	policy, err := config.NewPolicyMatcher(cfg)
	if err != nil {
		return nil, err
	}

	local := store.NewLocal(backend, logger, uplinkURLs)
	return federation.New(local, clients, policy, cfg.Global.URLPrefix, logger), nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("npm-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 NPM_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("NPM_HUB_CONFIG")
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

func startHTTPServer(cfg *config.Config, registry *federation.Store, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterRoutes(app, &routes.Deps{Registry: registry, Logger: logger})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
