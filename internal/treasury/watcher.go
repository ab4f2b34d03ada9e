package treasury

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
	"github.com/hedgebot/gohedge/pkg/notify"
	"github.com/hedgebot/gohedge/pkg/sigchan"
)

const (
	lowEquityAlertCooldown = 3600 * time.Second
	sweepAlertCooldown     = 1800 * time.Second
)

// 日报按北京时间切日
var beijing = time.FixedZone("CST", 8*3600)

// Watcher 资金监控：定期采样两腿权益，低权益告警、资金账户归集、
// 两腿对平，以及每日权益日报。与对冲引擎独立运行，不共享状态。
type Watcher struct {
	cfg      Config
	accounts [2]*Account
	history  *HistoryStore
	alerts   *notify.Dispatcher
	trigger  *sigchan.Chan // 外部触发的立即采样（如 SIGUSR1）

	now func() time.Time
}

// NewWatcher 装配资金监控
func NewWatcher(cfg Config, accountA, accountB *Account, history *HistoryStore, alerts *notify.Dispatcher) *Watcher {
	return &Watcher{
		cfg:      cfg,
		accounts: [2]*Account{accountA, accountB},
		history:  history,
		alerts:   alerts,
		trigger:  sigchan.New(1),
		now:      time.Now,
	}
}

// Trigger 返回立即采样的信号入口
func (w *Watcher) Trigger() *sigchan.Chan { return w.trigger }

// Run 监控循环，ctx 取消后退出
func (w *Watcher) Run(ctx context.Context) error {
	logger.Infof("资金监控启动，轮询间隔 %s", w.cfg.PollInterval)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			logger.Infof("资金监控退出")
			return nil
		case <-ticker.C:
		case <-w.trigger.C():
			logger.Infof("收到外部触发，立即采样")
		}
	}
}

// runOnce 一轮采样与处置
func (w *Watcher) runOnce(ctx context.Context) {
	now := w.now()
	var equities [2]decimal.Decimal

	for i, acct := range w.accounts {
		summary, err := acct.Client.AggregatedAccountSummary(ctx)
		if err != nil {
			logger.Errorf("账户 %s 权益拉取失败: %v", acct.Name, err)
			return
		}
		equities[i] = summary.TotalEquity

		if w.history != nil {
			if err := w.history.Record(acct.Client.TradingAccountID(),
				EquitySample{At: now, Equity: summary.TotalEquity}); err != nil {
				logger.Warnf("权益采样写入失败: %v", err)
			}
		}

		if w.cfg.LowEquityAlertUSDT.Sign() > 0 && summary.TotalEquity.LessThan(w.cfg.LowEquityAlertUSDT) {
			w.alerts.Notify("账户权益过低",
				fmt.Sprintf("%s 权益 %s 低于告警线 %s", acct.Name,
					summary.TotalEquity.StringFixed(2), w.cfg.LowEquityAlertUSDT),
				"low_equity_"+acct.Client.TradingAccountID(), lowEquityAlertCooldown)
		}
	}

	w.sweepFunding(ctx)
	w.equalize(ctx, equities)
	w.sendDailySummary(equities)
}

// sweepFunding 资金账户余额超过阈值时归集到第一条腿的交易账户
func (w *Watcher) sweepFunding(ctx context.Context) {
	if w.cfg.FundingSweepMinUSDT.Sign() <= 0 {
		return
	}
	acct := w.accounts[0]
	funding, err := acct.Client.FundingAccountSummary(ctx)
	if err != nil {
		logger.Warnf("资金账户余额拉取失败: %v", err)
		return
	}
	balance := spotBalance(funding, w.cfg.Currency)
	if balance.LessThan(w.cfg.FundingSweepMinUSDT) {
		return
	}
	if w.cfg.DryRun {
		logger.Infof("[dry-run] 资金账户 %s %s 待归集", balance, w.cfg.Currency)
		return
	}
	// 资金账户 → 交易账户：from 子账户填 0 表示主账户资金池
	req := &grvt.TransferRequest{
		FromAccountID:    acct.Client.MainAccountID(),
		FromSubAccountID: "0",
		ToAccountID:      acct.Client.MainAccountID(),
		ToSubAccountID:   acct.Client.TradingAccountID(),
		Currency:         w.cfg.Currency,
		NumTokens:        balance.RoundDown(6),
		TransferType:     grvt.TransferStandard,
	}
	if err := signAndSubmitTransfer(ctx, acct, req); err != nil {
		w.alerts.Notify("资金归集失败", err.Error(), "sweep_failed", sweepAlertCooldown)
		return
	}
	w.alerts.Notify("资金归集",
		fmt.Sprintf("已将资金账户 %s %s 归集到 %s", balance.StringFixed(2), w.cfg.Currency, acct.Name),
		"sweep_done", sweepAlertCooldown)
}

// equalize 两腿权益对平
func (w *Watcher) equalize(ctx context.Context, equities [2]decimal.Decimal) {
	if w.cfg.EqualizeThresholdUSDT.Sign() <= 0 {
		return
	}
	plan := ComputeEqualization(equities[0], equities[1], w.cfg.EqualizeThresholdUSDT)
	if plan == nil {
		return
	}
	from, to := w.accounts[plan.FromIdx], w.accounts[plan.ToIdx]
	if w.cfg.DryRun {
		logger.Infof("[dry-run] 对平划转 %s %s: %s -> %s", plan.Amount, w.cfg.Currency, from.Name, to.Name)
		return
	}
	if err := TransferFunds(ctx, from, to, w.cfg.Currency, plan.Amount); err != nil {
		w.alerts.Notify("对平划转失败", err.Error(), "equalize_failed", sweepAlertCooldown)
		return
	}
	w.alerts.Notify("对平划转",
		fmt.Sprintf("%s -> %s 划转 %s %s（权益 A=%s B=%s）", from.Name, to.Name,
			plan.Amount.StringFixed(2), w.cfg.Currency,
			equities[0].StringFixed(2), equities[1].StringFixed(2)),
		"equalize_done", 0)
}

// sendDailySummary 每天一次（北京时间切日）汇报两腿权益与日内变化
func (w *Watcher) sendDailySummary(equities [2]decimal.Decimal) {
	now := w.now()
	local := now.In(beijing)
	dayKey := "treasury_" + local.Format("2006-01-02")
	if !w.alerts.ClaimDailyReport(dayKey) {
		return
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, beijing)
	var lines []string
	for i, acct := range w.accounts {
		line := fmt.Sprintf("%s 权益 %s", acct.Name, equities[i].StringFixed(2))
		if w.history != nil {
			if first, err := w.history.EarliestSince(acct.Client.TradingAccountID(), dayStart); err == nil && first != nil {
				change := equities[i].Sub(first.Equity)
				sign := ""
				if change.Sign() >= 0 {
					sign = "+"
				}
				line += fmt.Sprintf("（日内 %s%s）", sign, change.StringFixed(2))
			}
		}
		lines = append(lines, line)
	}
	w.alerts.Notify("每日资金日报", strings.Join(lines, "\n"), "treasury_daily", 0)
}

// spotBalance 从账户摘要里取某币种余额，没有该币种按零算
func spotBalance(summary *grvt.AccountSummary, currency string) decimal.Decimal {
	for _, b := range summary.SpotBalances {
		if strings.EqualFold(b.Currency, currency) {
			return b.Balance
		}
	}
	return decimal.Zero
}

// signAndSubmitTransfer 给划转补上签名封皮并提交
func signAndSubmitTransfer(ctx context.Context, acct *Account, req *grvt.TransferRequest) error {
	if acct.Signer == nil {
		return fmt.Errorf("treasury: account %s has no signing key", acct.Name)
	}
	req.Signature = &grvt.Signature{
		Nonce:      int64(time.Now().UnixNano() & 0x7FFFFFFF),
		Expiration: fmt.Sprintf("%d", time.Now().Add(transferExpiry).UnixNano()),
	}
	if err := acct.Signer.SignTransfer(req); err != nil {
		return err
	}
	result, err := acct.Client.Transfer(ctx, req)
	if err != nil {
		return err
	}
	logger.WithField("tx", result.TxID).Infof("划转已提交")
	return nil
}
