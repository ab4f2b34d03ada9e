package treasury

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/shopspring/decimal"

	"github.com/hedgebot/gohedge/pkg/logger"
)

// EquitySample 一次权益采样
type EquitySample struct {
	At     time.Time
	Equity decimal.Decimal
}

// HistoryStore 把权益采样落到本地 badger，用于日报里的日内涨跌对比。
// 采样带 TTL，过期自动清理。
type HistoryStore struct {
	db      *badger.DB
	keepFor time.Duration
}

// OpenHistoryStore 打开（必要时创建）历史库
func OpenHistoryStore(dir string) (*HistoryStore, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("treasury: open history store %s: %w", dir, err)
	}
	return &HistoryStore{db: db, keepFor: DefaultHistoryKeepFor}, nil
}

// Close 关闭历史库
func (h *HistoryStore) Close() error { return h.db.Close() }

func sampleKey(accountID string, at time.Time) []byte {
	return []byte(fmt.Sprintf("equity/%s/%020d", accountID, at.UnixNano()))
}

// Record 写入一次采样
func (h *HistoryStore) Record(accountID string, sample EquitySample) error {
	return h.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(sampleKey(accountID, sample.At), []byte(sample.Equity.String())).
			WithTTL(h.keepFor)
		return txn.SetEntry(entry)
	})
}

// Since 读出某账户在 from 之后的全部采样，按时间升序
func (h *HistoryStore) Since(accountID string, from time.Time) ([]EquitySample, error) {
	prefix := []byte("equity/" + accountID + "/")
	var out []EquitySample
	err := h.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			nsStr := strings.TrimPrefix(key, string(prefix))
			ns, err := strconv.ParseInt(nsStr, 10, 64)
			if err != nil {
				logger.Warnf("历史库脏 key %q，跳过", key)
				continue
			}
			at := time.Unix(0, ns)
			if at.Before(from) {
				continue
			}
			err = item.Value(func(val []byte) error {
				eq, err := decimal.NewFromString(string(val))
				if err != nil {
					return err
				}
				out = append(out, EquitySample{At: at, Equity: eq})
				return nil
			})
			if err != nil {
				logger.Warnf("历史库脏值 key %q: %v", key, err)
			}
		}
		return nil
	})
	return out, err
}

// EarliestSince 返回 from 之后最早的一条采样，用于计算日内涨跌
func (h *HistoryStore) EarliestSince(accountID string, from time.Time) (*EquitySample, error) {
	samples, err := h.Since(accountID, from)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return &samples[0], nil
}
