package signal

import (
	"fmt"

	"sentra/internal/market"
	"sentra/internal/regime"
)

// LiquiditySweepRule 流动性清扫：最后一根 K 线刺破前段极值后收回。
// 激活条件与确信度公式见 PATTERNS.md。
type LiquiditySweepRule struct {
	// Lookback 前段极值窗口（默认 10）。
	Lookback int
}

func (r *LiquiditySweepRule) PatternID() PatternID { return PatternLiquiditySweep }
func (r *LiquiditySweepRule) Priority() int        { return 1 }

func (r *LiquiditySweepRule) Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool) {
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 10
	}
	candles := snap.Candles
	n := len(candles)
	if n < lookback+2 {
		return Candidate{}, false
	}
	last := candles[n-1]
	prior := candles[n-1-lookback : n-1]
	priorLow := lowestLow(prior)
	priorHigh := highestHigh(prior)
	barRange := last.High - last.Low
	if barRange <= 0 {
		return Candidate{}, false
	}

	// 多头清扫：下影刺破前低，收盘收回前低上方
	if last.Low < priorLow && last.Close > priorLow {
		wick := (priorLow - last.Low) / barRange
		conf := 0.55 + minFloat(wick, 0.5)*0.4
		conf = alignTrend(conf, DirectionLong, reg, 0.1, 0.1)
		conf = dampLowVol(conf, reg, 0.05)
		return Candidate{
			Direction:  DirectionLong,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  last.Low,
			Note:       fmt.Sprintf("swept the %d-bar low at %.6g and reclaimed it", lookback, priorLow),
		}, true
	}

	// 空头清扫：上影刺破前高，收盘收回前高下方
	if last.High > priorHigh && last.Close < priorHigh {
		wick := (last.High - priorHigh) / barRange
		conf := 0.55 + minFloat(wick, 0.5)*0.4
		conf = alignTrend(conf, DirectionShort, reg, 0.1, 0.1)
		conf = dampLowVol(conf, reg, 0.05)
		return Candidate{
			Direction:  DirectionShort,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  last.High,
			Note:       fmt.Sprintf("swept the %d-bar high at %.6g and rejected it", lookback, priorHigh),
		}, true
	}
	return Candidate{}, false
}
