package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hedgebot/gohedge/internal/hedge"
	"github.com/hedgebot/gohedge/internal/metrics"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/notify"
	"github.com/hedgebot/gohedge/pkg/syncgroup"
)

func main() {
	symbolsPath := flag.String("symbols", "", "合约配置文件路径（覆盖 GRVT_HEDGE_SYMBOLS_FILE）")
	envFile := flag.String("env-file", ".env", "环境变量文件路径")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		// .env 不存在时直接用进程环境变量
		logrus.Debugf("未加载 env 文件 %s: %v", *envFile, err)
	}
	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	cfg := hedge.LoadEngineConfig()
	if *symbolsPath != "" {
		cfg.SymbolsFile = *symbolsPath
	}

	accountConfigs := hedge.LoadTradingAccountConfigs()
	if len(accountConfigs) < 2 {
		logrus.Fatalf("对冲需要两个交易账户，实际配置了 %d 个（GRVT_TRADING_API_KEY_1/2 等）", len(accountConfigs))
	}
	for _, ac := range accountConfigs[:2] {
		if ac.PrivateKey == "" {
			logrus.Fatalf("账户 %s 缺少签名私钥", ac.Name)
		}
	}

	acctA, err := hedge.NewAccountRuntime("A", accountConfigs[0])
	if err != nil {
		logrus.Fatalf("账户 %s 初始化失败: %v", accountConfigs[0].Name, err)
	}
	acctB, err := hedge.NewAccountRuntime("B", accountConfigs[1])
	if err != nil {
		logrus.Fatalf("账户 %s 初始化失败: %v", accountConfigs[1].Name, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver := hedge.NewInstrumentResolver(ctx, acctA.Client)
	symbolConfigs, err := hedge.LoadSymbolConfigs(cfg.SymbolsFile, resolver.Resolve)
	if err != nil {
		logrus.Fatalf("合约配置加载失败: %v", err)
	}

	alerts := notify.NewDispatcher(notify.ConfigFromEnv())
	if !alerts.Enabled() {
		logrus.Warn("未配置 Telegram 告警，告警只写日志")
	}

	if cfg.MetricsListenAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsListenAddr); err != nil {
			logrus.Errorf("metrics 服务启动失败: %v", err)
		} else {
			logrus.Infof("metrics 服务监听 %s", cfg.MetricsListenAddr)
		}
	}

	engine, err := hedge.NewEngine(cfg, acctA, acctB, symbolConfigs, alerts)
	if err != nil {
		logrus.Fatalf("引擎装配失败: %v", err)
	}

	sg := syncgroup.New()
	sg.Go(func() {
		if err := engine.Run(ctx); err != nil {
			logrus.Errorf("引擎异常退出: %v", err)
		}
	})
	sg.Wait()
	os.Exit(0)
}
