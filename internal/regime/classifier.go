package regime

import (
	"math"
	"time"

	"sentra/internal/market"

	talib "github.com/markcheno/go-talib"
)

// 中文说明：
// 市场状态分类器。输入一段 K 线窗口，输出趋势/波动/流动性三维状态。
// 纯函数：同一窗口永远得到同一结果；数据不足时退化为中性默认值，绝不报错。

type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendSide Trend = "side"
)

type Volatility string

const (
	VolLow  Volatility = "low"
	VolMid  Volatility = "mid"
	VolHigh Volatility = "high"
)

type Liquidity string

const (
	LiqThin   Liquidity = "thin"
	LiqNormal Liquidity = "normal"
	LiqDeep   Liquidity = "deep"
)

// Regime 某一时刻的市场环境分类。派生值，不单独持久化。
type Regime struct {
	Trend      Trend      `json:"trend"`
	Volatility Volatility `json:"volatility"`
	Liquidity  Liquidity  `json:"liquidity"`
	AsOf       time.Time  `json:"as_of"`
}

// Config holds the offline-calibrated thresholds for bucketing.
type Config struct {
	// MinWindow is the minimum number of bars required for a real
	// classification (default: 20). Shorter windows degrade to Neutral.
	MinWindow int
	// TrendBand is the normalized displacement band treated as sideways
	// (default: 0.015, i.e. ±1.5% regression displacement over the window).
	TrendBand float64
	// ATRPeriod is the period for ATR calculation (default: 14).
	ATRPeriod int
	// VolLowPct / VolHighPct bucket normalized ATR (default: 0.012 / 0.035).
	VolLowPct  float64
	VolHighPct float64
	// LiqRecentBars compares the mean volume of the most recent bars against
	// the full-window baseline (default: 5 bars; thin < 0.5x, deep > 1.5x).
	LiqRecentBars int
	LiqThinRatio  float64
	LiqDeepRatio  float64
}

func DefaultConfig() Config {
	return Config{
		MinWindow:     20,
		TrendBand:     0.015,
		ATRPeriod:     14,
		VolLowPct:     0.012,
		VolHighPct:    0.035,
		LiqRecentBars: 5,
		LiqThinRatio:  0.5,
		LiqDeepRatio:  1.5,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MinWindow <= 0 {
		cfg.MinWindow = def.MinWindow
	}
	if cfg.TrendBand <= 0 {
		cfg.TrendBand = def.TrendBand
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.VolLowPct <= 0 {
		cfg.VolLowPct = def.VolLowPct
	}
	if cfg.VolHighPct <= cfg.VolLowPct {
		cfg.VolHighPct = def.VolHighPct
	}
	if cfg.LiqRecentBars <= 0 {
		cfg.LiqRecentBars = def.LiqRecentBars
	}
	if cfg.LiqThinRatio <= 0 {
		cfg.LiqThinRatio = def.LiqThinRatio
	}
	if cfg.LiqDeepRatio <= cfg.LiqThinRatio {
		cfg.LiqDeepRatio = def.LiqDeepRatio
	}
	return cfg
}

// Neutral 中性默认分类：side/mid/normal。
func Neutral(asOf time.Time) Regime {
	return Regime{Trend: TrendSide, Volatility: VolMid, Liquidity: LiqNormal, AsOf: asOf}
}

// Classify derives the regime from an ordered candle window.
// Fewer than MinWindow bars yields Neutral rather than an error.
func Classify(candles []market.Candle, cfg Config, asOf time.Time) Regime {
	cfg = normalizeConfig(cfg)
	if len(candles) < cfg.MinWindow {
		return Neutral(asOf)
	}

	closes := market.Closes(candles)
	last := closes[len(closes)-1]
	if last <= 0 {
		return Neutral(asOf)
	}

	out := Regime{AsOf: asOf}
	out.Trend = classifyTrend(closes, last, cfg)
	out.Volatility = classifyVolatility(candles, closes, last, cfg)
	out.Liquidity = classifyLiquidity(market.Volumes(candles), cfg)
	return out
}

// classifyTrend 用线性回归斜率在窗口上的归一化位移对比阈值带。
func classifyTrend(closes []float64, last float64, cfg Config) Trend {
	period := len(closes)
	slopes := talib.LinearRegSlope(closes, period)
	slope := lastValid(slopes)
	// 窗口内的总位移占最新价的比例
	displacement := slope * float64(period-1) / last
	switch {
	case displacement > cfg.TrendBand:
		return TrendUp
	case displacement < -cfg.TrendBand:
		return TrendDown
	default:
		return TrendSide
	}
}

// classifyVolatility 用归一化 ATR（ATR/close）按固定百分位阈值分桶。
func classifyVolatility(candles []market.Candle, closes []float64, last float64, cfg Config) Volatility {
	atr := talib.Atr(market.Highs(candles), market.Lows(candles), closes, cfg.ATRPeriod)
	v := lastValid(atr)
	if v <= 0 {
		return VolMid
	}
	natr := v / last
	switch {
	case natr < cfg.VolLowPct:
		return VolLow
	case natr > cfg.VolHighPct:
		return VolHigh
	default:
		return VolMid
	}
}

// classifyLiquidity 近期均量对全窗口基线的比值。无量数据时视为 normal。
func classifyLiquidity(volumes []float64, cfg Config) Liquidity {
	baseline := mean(volumes)
	if baseline <= 0 {
		return LiqNormal
	}
	n := cfg.LiqRecentBars
	if n > len(volumes) {
		n = len(volumes)
	}
	recent := mean(volumes[len(volumes)-n:])
	ratio := recent / baseline
	switch {
	case ratio < cfg.LiqThinRatio:
		return LiqThin
	case ratio > cfg.LiqDeepRatio:
		return LiqDeep
	default:
		return LiqNormal
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	}
	return 0
}
