package treasury

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/grvt"
	"github.com/hedgebot/gohedge/pkg/logger"
)

const transferExpiry = 10 * time.Minute

// AccountClient 划转所需的交易所能力
type AccountClient interface {
	TradingAccountID() string
	MainAccountID() string
	AggregatedAccountSummary(ctx context.Context) (*grvt.AccountSummary, error)
	FundingAccountSummary(ctx context.Context) (*grvt.AccountSummary, error)
	Transfer(ctx context.Context, req *grvt.TransferRequest) (*grvt.TransferResult, error)
}

// Account 一个受管账户：客户端加签名器
type Account struct {
	Name   string
	Client AccountClient
	Signer *grvt.Signer
}

// TransferFunds 在同一主账户下的两个子账户间划转。
// 划转前后各读一次目标账户权益做校验，金额不符只告警不回滚
// （交易所侧划转是原子的，不符通常意味着划转期间有持仓盈亏波动）。
func TransferFunds(ctx context.Context, from, to *Account, currency string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("treasury: transfer amount must be positive, got %s", amount)
	}
	if from.Signer == nil {
		return fmt.Errorf("treasury: account %s has no signing key", from.Name)
	}
	amount = amount.RoundDown(6)

	before, err := to.Client.AggregatedAccountSummary(ctx)
	if err != nil {
		return fmt.Errorf("treasury: pre-transfer summary for %s: %w", to.Name, err)
	}

	req := &grvt.TransferRequest{
		FromAccountID:    from.Client.MainAccountID(),
		FromSubAccountID: from.Client.TradingAccountID(),
		ToAccountID:      to.Client.MainAccountID(),
		ToSubAccountID:   to.Client.TradingAccountID(),
		Currency:         currency,
		NumTokens:        amount,
		TransferType:     grvt.TransferStandard,
		TransferMetadata: uuid.NewString(),
		Signature: &grvt.Signature{
			Nonce:      int64(rand.Int31()),
			Expiration: strconv.FormatInt(time.Now().Add(transferExpiry).UnixNano(), 10),
		},
	}
	if err := from.Signer.SignTransfer(req); err != nil {
		return fmt.Errorf("treasury: sign transfer: %w", err)
	}

	result, err := from.Client.Transfer(ctx, req)
	if err != nil {
		return fmt.Errorf("treasury: transfer %s %s from %s to %s: %w",
			amount, currency, from.Name, to.Name, err)
	}
	logger.WithFields(map[string]interface{}{
		"from":     from.Name,
		"to":       to.Name,
		"amount":   amount,
		"currency": currency,
		"tx":       result.TxID,
	}).Infof("划转已提交")

	after, err := to.Client.AggregatedAccountSummary(ctx)
	if err != nil {
		logger.Warnf("划转后校验失败（%s）: %v", to.Name, err)
		return nil
	}
	gained := after.TotalEquity.Sub(before.TotalEquity)
	tolerance := amount.Mul(decimal.RequireFromString("0.05"))
	if gained.Sub(amount).Abs().GreaterThan(tolerance) {
		logger.Warnf("划转后 %s 权益变化 %s 与划转额 %s 偏差较大", to.Name, gained, amount)
	}
	return nil
}

// EqualizePlan 两腿对平计划
type EqualizePlan struct {
	FromIdx int // 0 或 1
	ToIdx   int
	Amount  decimal.Decimal
}

// ComputeEqualization 计算两腿权益对平划转。
// 权益差不超过阈值时返回 nil；金额取差额的一半，截断到 6 位小数。
func ComputeEqualization(equityA, equityB, threshold decimal.Decimal) *EqualizePlan {
	diff := equityA.Sub(equityB)
	if diff.Abs().LessThanOrEqual(threshold) {
		return nil
	}
	amount := diff.Abs().Div(decimal.NewFromInt(2)).RoundDown(6)
	if amount.Sign() <= 0 {
		return nil
	}
	if diff.Sign() > 0 {
		return &EqualizePlan{FromIdx: 0, ToIdx: 1, Amount: amount}
	}
	return &EqualizePlan{FromIdx: 1, ToIdx: 0, Amount: amount}
}
