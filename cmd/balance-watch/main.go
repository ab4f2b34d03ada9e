package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hedgebot/gohedge/internal/hedge"
	"github.com/hedgebot/gohedge/internal/treasury"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/notify"
	"github.com/hedgebot/gohedge/pkg/shutdown"
)

func buildAccount(cfg hedge.AccountConfig) (*treasury.Account, error) {
	client, err := grvt.NewClient(grvt.Config{
		Env:              cfg.Env,
		APIKey:           cfg.APIKey,
		TradingAccountID: cfg.AccountID,
	})
	if err != nil {
		return nil, err
	}
	var signer *grvt.Signer
	if cfg.PrivateKey != "" {
		signer, err = grvt.NewSigner(cfg.Env, cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
	}
	return &treasury.Account{Name: cfg.Name, Client: client, Signer: signer}, nil
}

func main() {
	envFile := flag.String("env-file", ".env", "环境变量文件路径")
	dryRun := flag.Bool("dry-run", false, "只监控不划转")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		logrus.Debugf("未加载 env 文件 %s: %v", *envFile, err)
	}
	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	cfg := treasury.LoadConfig()
	if *dryRun {
		cfg.DryRun = true
	}

	accountConfigs := hedge.LoadTradingAccountConfigs()
	if len(accountConfigs) < 2 {
		logrus.Fatalf("资金监控需要两个交易账户，实际配置了 %d 个", len(accountConfigs))
	}
	acctA, err := buildAccount(accountConfigs[0])
	if err != nil {
		logrus.Fatalf("账户 %s 初始化失败: %v", accountConfigs[0].Name, err)
	}
	acctB, err := buildAccount(accountConfigs[1])
	if err != nil {
		logrus.Fatalf("账户 %s 初始化失败: %v", accountConfigs[1].Name, err)
	}

	shutdownMgr := shutdown.NewManager()

	history, err := treasury.OpenHistoryStore(cfg.HistoryDir)
	if err != nil {
		logrus.Fatalf("历史库打开失败: %v", err)
	}
	shutdownMgr.OnShutdown(func(context.Context) {
		if err := history.Close(); err != nil {
			logrus.Warnf("历史库关闭失败: %v", err)
		}
	})

	alerts := notify.NewDispatcher(notify.ConfigFromEnv())
	watcher := treasury.NewWatcher(cfg, acctA, acctB, history, alerts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGUSR1 触发立即采样
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	go func() {
		for range usr1 {
			watcher.Trigger().Emit()
		}
	}()

	if err := watcher.Run(ctx); err != nil {
		logrus.Errorf("资金监控异常退出: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownMgr.Shutdown(shutdownCtx)
}
