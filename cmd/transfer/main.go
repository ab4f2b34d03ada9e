package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/hedgebot/gohedge/internal/hedge"
	"github.com/hedgebot/gohedge/internal/treasury"
	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
)

// 手动在两个交易子账户间划转，用于开仓前的资金准备
func main() {
	envFile := flag.String("env-file", ".env", "环境变量文件路径")
	fromIdx := flag.Int("from", 1, "转出账户编号（1 或 2）")
	amountStr := flag.String("amount", "", "划转金额")
	currency := flag.String("currency", "USDT", "划转币种")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		logrus.Debugf("未加载 env 文件 %s: %v", *envFile, err)
	}
	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	amount, err := decimal.NewFromString(*amountStr)
	if err != nil || amount.Sign() <= 0 {
		logrus.Fatalf("无效的划转金额 %q", *amountStr)
	}
	if *fromIdx != 1 && *fromIdx != 2 {
		logrus.Fatalf("转出账户编号必须是 1 或 2，实际 %d", *fromIdx)
	}

	accountConfigs := hedge.LoadTradingAccountConfigs()
	if len(accountConfigs) < 2 {
		logrus.Fatalf("需要两个交易账户，实际配置了 %d 个", len(accountConfigs))
	}

	build := func(cfg hedge.AccountConfig) *treasury.Account {
		client, err := grvt.NewClient(grvt.Config{
			Env:              cfg.Env,
			APIKey:           cfg.APIKey,
			TradingAccountID: cfg.AccountID,
		})
		if err != nil {
			logrus.Fatalf("账户 %s 初始化失败: %v", cfg.Name, err)
		}
		var signer *grvt.Signer
		if cfg.PrivateKey != "" {
			if signer, err = grvt.NewSigner(cfg.Env, cfg.PrivateKey); err != nil {
				logrus.Fatalf("账户 %s 私钥解析失败: %v", cfg.Name, err)
			}
		}
		return &treasury.Account{Name: cfg.Name, Client: client, Signer: signer}
	}

	from := build(accountConfigs[*fromIdx-1])
	to := build(accountConfigs[2-*fromIdx])

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := treasury.TransferFunds(ctx, from, to, *currency, amount); err != nil {
		logrus.Fatalf("划转失败: %v", err)
	}
	logrus.Infof("划转完成：%s -> %s %s %s", from.Name, to.Name, amount, *currency)
}
