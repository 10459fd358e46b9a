package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sentra/internal/logger"
	"sentra/internal/market"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const maxHistoryLimit = 1000

// Source 实现 market.Source，通过 Binance 现货 REST 拉取 K 线。
// 仅用于 venue=binance 的符号型标的。
type Source struct {
	client *binance.Client
}

func New(apiKey, secretKey string) *Source {
	return &Source{client: binance.NewClient(apiKey, secretKey)}
}

func (s *Source) FetchCandles(ctx context.Context, pair market.PairRef, timeframe string, limit int) ([]market.Candle, error) {
	symbol := strings.ToUpper(strings.TrimSpace(pair.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", market.ErrNotFound)
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	interval := strings.ToLower(strings.TrimSpace(timeframe))
	logger.Debugf("[binance] klines %s %s limit=%d", symbol, interval, limit)

	klines, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]market.Candle, 0, len(klines))
	for _, k := range klines {
		out = append(out, market.Candle{
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      toFloat(k.Open),
			High:      toFloat(k.High),
			Low:       toFloat(k.Low),
			Close:     toFloat(k.Close),
			Volume:    toFloat(k.Volume),
		})
	}
	return out, nil
}

// classify 把交易所错误映射到 market 的错误分类：
// 无效符号为 not-found（不可重试），其余一律视作瞬时失败。
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -1121 invalid symbol / -1100 illegal chars
		if apiErr.Code == -1121 || apiErr.Code == -1100 {
			return fmt.Errorf("%w: %v", market.ErrNotFound, err)
		}
	}
	return fmt.Errorf("%w: %v", market.ErrTransient, err)
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
