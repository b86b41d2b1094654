package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/botfleet/internal/api"
	"github.com/betbot/botfleet/internal/fleet"
	"github.com/betbot/botfleet/internal/gameclient/bridge"
	"github.com/betbot/botfleet/internal/interpreter"
	"github.com/betbot/botfleet/internal/metrics"
	"github.com/betbot/botfleet/internal/store"
	"github.com/betbot/botfleet/pkg/config"
	"github.com/betbot/botfleet/pkg/logger"
	"github.com/betbot/botfleet/pkg/secretstore"
	"github.com/betbot/botfleet/pkg/shutdown"
	"github.com/joho/godotenv"
)

func main() {
	// .env 尽力加载，缺失时直接使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("FLEET_CONFIG"), "YAML/JSON 配置文件路径（可选）")
		listenAddr = flag.String("listen", "", "覆盖 API 监听地址")
	)
	flag.Parse()

	if err := run(*configPath, *listenAddr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

func run(configPath, listenOverride string) error {
	// 第一遍只为拿到密钥库位置
	boot, err := config.LoadFromFile(configPath, nil)
	if err != nil {
		return err
	}

	var secrets *secretstore.Store
	if boot.Secrets.Path != "" {
		key, err := secretstore.ParseKey(boot.Secrets.Key)
		if err != nil {
			return fmt.Errorf("解析 SECRETSTORE_KEY: %w", err)
		}
		secrets, err = secretstore.Open(secretstore.OpenOptions{Path: boot.Secrets.Path, EncryptionKey: key, ReadOnly: true})
		if err != nil {
			return err
		}
	}

	cfg := boot
	if secrets != nil {
		if cfg, err = config.LoadFromFile(configPath, secrets); err != nil {
			_ = secrets.Close()
			return err
		}
	}
	if listenOverride != "" {
		cfg.Server.Addr = listenOverride
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	if cfg.Fleet.Password == "" {
		logger.Warnf("BOT_PASSWORD 未设置，/register 与 /login 将使用空密码")
	}

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	dialer := bridge.NewDialer(bridge.Config{
		URL:              cfg.Bridge.URL,
		HandshakeTimeout: cfg.Bridge.HandshakeTimeout,
	})

	fleetCfg := fleet.DefaultConfig()
	fleetCfg.Host = cfg.Fleet.Host
	fleetCfg.Port = cfg.Fleet.Port
	fleetCfg.Version = cfg.Fleet.Version
	fleetCfg.Password = cfg.Fleet.Password
	fleetCfg.Operator = cfg.Fleet.Operator
	fleetCfg.ReconnectDelay = cfg.Fleet.ReconnectDelay
	fleetCfg.HandshakeDelay = cfg.Fleet.HandshakeDelay
	fleetCfg.SpawnCount = cfg.Fleet.SpawnCount
	fleetCfg.ConnectRate = cfg.Fleet.ConnectRate
	fleetCfg.ConnectBurst = cfg.Fleet.ConnectBurst
	manager := fleet.NewManager(fleetCfg, dialer, st)

	apiSrv := api.New(manager)

	var interp *interpreter.Interpreter
	if cfg.Interpreter.Enabled {
		var completer interpreter.Completer
		if cfg.Interpreter.APIKey != "" {
			completer = interpreter.NewChatClient(cfg.Interpreter.BaseURL, cfg.Interpreter.APIKey, cfg.Interpreter.Model, 30*time.Second)
		} else {
			logger.Infof("INTERPRETER_API_KEY 未设置，指令解释器只使用关键字规则")
		}
		interp = interpreter.New(interpreter.Config{DedupeWindow: cfg.Interpreter.DedupeWindow}, manager, apiSrv.Hub(), completer)
		interp.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Server.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsAddr); err != nil {
			logger.Warnf("metrics 服务启动失败: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("fleet API listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	sm := shutdown.NewManager()
	sm.OnShutdown("http", func(ctx context.Context) error {
		_ = apiSrv.Close()
		return httpSrv.Shutdown(ctx)
	})
	if interp != nil {
		sm.OnShutdown("interpreter", func(ctx context.Context) error {
			interp.Stop()
			return nil
		})
	}
	// 集群先断开所有机器人，再关闭它依赖的存储和密钥库
	sm.OnShutdown("fleet", func(ctx context.Context) error {
		err := manager.Close(ctx)
		if cerr := st.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if secrets != nil {
			if cerr := secrets.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case sig := <-stopCh:
		logger.Infof("收到信号 %s，开始关闭", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if !sm.Shutdown(shutdownCtx) {
		logger.Warnf("关闭超时")
	}
	fmt.Println("server stopped")
	return nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		logger.Infof("使用 sqlite 存储: %s", cfg.Path)
		return store.OpenSQLite(cfg.Path, cfg.LogRetention)
	default:
		return store.NewMemoryStore(cfg.LogRetention), nil
	}
}
