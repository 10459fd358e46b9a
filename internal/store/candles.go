package store

import (
	"context"
	"sync"

	"sentra/internal/logger"
	"sentra/internal/market"
)

// 中文说明：
// 内存 K 线缓存。按 标的+周期 保存最近一次成功拉取的窗口，
// 上游瞬时故障时由 CachingSource 降级读缓存，保证评估尽量不中断。

type CandleCache struct {
	mu   sync.RWMutex
	data map[string][]market.Candle
}

func NewCandleCache() *CandleCache {
	return &CandleCache{data: make(map[string][]market.Candle)}
}

func cacheKey(pair market.PairRef, timeframe string) string {
	return pair.Key() + "@" + timeframe
}

// Put 合并一段新窗口。末根 K 线按 OpenTime 去重覆盖（增量更新），
// 超出 max 的旧数据从头部裁掉。
func (c *CandleCache) Put(pair market.PairRef, timeframe string, candles []market.Candle, max int) {
	if len(candles) == 0 {
		return
	}
	if max <= 0 {
		max = 100
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(pair, timeframe)
	cur := c.data[k]
	for _, candle := range candles {
		n := len(cur)
		if n > 0 && cur[n-1].OpenTime == candle.OpenTime {
			// 同一根 K 线的增量更新，覆盖末尾而非重复追加
			cur[n-1] = candle
			continue
		}
		if n > 0 && candle.OpenTime < cur[n-1].OpenTime {
			continue
		}
		cur = append(cur, candle)
	}
	if len(cur) > max {
		cur = cur[len(cur)-max:]
	}
	c.data[k] = cur
}

// Get 返回拷贝；无缓存时 ok=false。
func (c *CandleCache) Get(pair market.PairRef, timeframe string) ([]market.Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cur, ok := c.data[cacheKey(pair, timeframe)]
	if !ok || len(cur) == 0 {
		return nil, false
	}
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, true
}

// CachingSource 数据源装饰器：成功即回填缓存，瞬时失败读缓存兜底。
// not-found 等永久失败原样透传，不会被缓存掩盖。
type CachingSource struct {
	upstream market.Source
	cache    *CandleCache
}

func NewCachingSource(upstream market.Source) *CachingSource {
	return &CachingSource{upstream: upstream, cache: NewCandleCache()}
}

func (s *CachingSource) FetchCandles(ctx context.Context, pair market.PairRef, timeframe string, limit int) ([]market.Candle, error) {
	candles, err := s.upstream.FetchCandles(ctx, pair, timeframe, limit)
	if err == nil {
		s.cache.Put(pair, timeframe, candles, limit)
		return candles, nil
	}
	if !market.Transient(err) {
		return nil, err
	}
	if cached, ok := s.cache.Get(pair, timeframe); ok {
		logger.Warnf("[store] %s %s 上游瞬时失败，使用缓存窗口 (%d 根): %v",
			pair.Key(), timeframe, len(cached), err)
		return cached, nil
	}
	return nil, err
}
