package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"sentra/internal/logger"
	"sentra/internal/market"
)

// 中文说明：
// 链上标的（address+chain）的 K 线来源，对接 dexscreener 风格的
// OHLCV REST 接口。404 映射为 not-found，网络与 5xx 视为瞬时失败。

type Config struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.dexscreener.com"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

type Source struct {
	cfg   Config
	httpc *http.Client
}

func New(cfg Config) *Source {
	final := cfg.withDefaults()
	return &Source{cfg: final, httpc: &http.Client{Timeout: final.HTTPTimeout}}
}

func (s *Source) FetchCandles(ctx context.Context, pair market.PairRef, timeframe string, limit int) ([]market.Candle, error) {
	chain := strings.ToLower(strings.TrimSpace(pair.Chain))
	address := strings.TrimSpace(pair.Address)
	if chain == "" || address == "" {
		return nil, fmt.Errorf("%w: chain/address required", market.ErrNotFound)
	}
	if limit <= 0 {
		limit = 100
	}
	url := fmt.Sprintf("%s/ohlcv/%s/%s?tf=%s&limit=%d",
		strings.TrimRight(s.cfg.BaseURL, "/"), chain, address, timeframe, limit)
	logger.Debugf("[dexscreener] REST %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrTransient, err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", market.ErrTransient, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s/%s", market.ErrNotFound, chain, address)
	case resp.StatusCode/100 != 2:
		return nil, fmt.Errorf("%w: status %s", market.ErrTransient, resp.Status)
	}

	// 每行 [ts, open, high, low, close, volume]，volume 可缺省
	var payload struct {
		Candles [][]float64 `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", market.ErrTransient, err)
	}
	out := make([]market.Candle, 0, len(payload.Candles))
	for _, row := range payload.Candles {
		if len(row) < 5 {
			continue
		}
		c := market.Candle{
			OpenTime: int64(row[0]),
			Open:     row[1],
			High:     row[2],
			Low:      row[3],
			Close:    row[4],
		}
		if len(row) > 5 {
			c.Volume = row[5]
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}
