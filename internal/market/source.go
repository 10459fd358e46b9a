package market

import (
	"context"
	"errors"
)

// 数据源错误分类：ErrTransient 可重试，ErrNotFound 不可重试。
var (
	ErrNotFound  = errors.New("market: pair not found")
	ErrTransient = errors.New("market: transient source failure")
)

// Transient 判断错误是否属于可重试的瞬时失败。
func Transient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Source 统一对接外部行情供应商。
type Source interface {
	// FetchCandles 拉取最近 limit 根 K 线并按时间升序返回。
	FetchCandles(ctx context.Context, pair PairRef, timeframe string, limit int) ([]Candle, error)
}
