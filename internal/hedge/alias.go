package hedge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hedgebot/gohedge/pkg/logger"
)

const suggestLimit = 6

// InstrumentResolver 把配置文件里的合约写法规范化成交易所的正式名称
type InstrumentResolver struct {
	known map[string]string // 大写形式 -> 正式名称
}

// NewInstrumentResolver 用交易所的合约列表构建解析器。
// 列表拉取失败时降级为纯写法规范化（警告但不阻断启动）。
func NewInstrumentResolver(ctx context.Context, client ExchangeClient) *InstrumentResolver {
	r := &InstrumentResolver{known: make(map[string]string)}
	instruments, err := client.GetAllInstruments(ctx, true)
	if err != nil {
		logger.Warnf("合约列表拉取失败，合约名只做写法规范化: %v", err)
		return r
	}
	for _, inst := range instruments {
		r.known[strings.ToUpper(inst.Instrument)] = inst.Instrument
	}
	logger.Infof("已加载 %d 个可交易合约", len(r.known))
	return r
}

// normalizeInstrumentName 常见写法修正：大小写、_PERP 后缀
func normalizeInstrumentName(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasSuffix(strings.ToUpper(name), "_PERP") {
		name = name[:len(name)-len("_PERP")] + "_Perp"
	}
	return name
}

// Resolve 返回正式合约名。合约列表可用且查不到时报错并附上近似建议。
func (r *InstrumentResolver) Resolve(name string) (string, error) {
	normalized := normalizeInstrumentName(name)
	if len(r.known) == 0 {
		return normalized, nil
	}
	if official, ok := r.known[strings.ToUpper(normalized)]; ok {
		return official, nil
	}
	suggestions := r.suggest(normalized)
	if len(suggestions) > 0 {
		return "", fmt.Errorf("unknown instrument %q, did you mean: %s", name, strings.Join(suggestions, ", "))
	}
	return "", fmt.Errorf("unknown instrument %q", name)
}

// suggest 先按前缀再按包含关系找近似合约名
func (r *InstrumentResolver) suggest(name string) []string {
	needle := strings.ToUpper(name)
	base := needle
	if i := strings.Index(base, "_"); i > 0 {
		base = base[:i]
	}

	var prefixed, contains []string
	for upper, official := range r.known {
		switch {
		case strings.HasPrefix(upper, base):
			prefixed = append(prefixed, official)
		case strings.Contains(upper, base):
			contains = append(contains, official)
		}
	}
	sort.Strings(prefixed)
	sort.Strings(contains)
	out := append(prefixed, contains...)
	if len(out) > suggestLimit {
		out = out[:suggestLimit]
	}
	return out
}
