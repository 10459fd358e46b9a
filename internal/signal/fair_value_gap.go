package signal

import (
	"fmt"

	"sentra/internal/market"
	"sentra/internal/regime"
)

// FairValueGapRule 公允价值缺口：三根结构中第一根与第三根之间的价格真空带。
type FairValueGapRule struct {
	// Lookback 缺口最远可出现在多少根之前（默认 15）。
	Lookback int
}

func (r *FairValueGapRule) PatternID() PatternID { return PatternFairValueGap }
func (r *FairValueGapRule) Priority() int        { return 3 }

func (r *FairValueGapRule) Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool) {
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 15
	}
	candles := snap.Candles
	n := len(candles)
	if n < 4 {
		return Candidate{}, false
	}
	last := candles[n-1]
	if last.Close <= 0 {
		return Candidate{}, false
	}
	start := n - 3 - lookback
	if start < 0 {
		start = 0
	}

	// 从最近的三根结构往回找第一个仍然成立的缺口
	for i := n - 4; i >= start; i-- {
		first, third := candles[i], candles[i+2]

		// 看多缺口：first.High < third.Low，当前价仍在缺口上方
		if gap := third.Low - first.High; gap > 0 && last.Close > third.Low {
			rel := gap / last.Close
			conf := 0.5 + minFloat(rel*30, 0.25)
			conf = alignTrend(conf, DirectionLong, reg, 0.1, 0.1)
			conf = dampLowVol(conf, reg, 0.05)
			return Candidate{
				Direction:  DirectionLong,
				Confidence: conf,
				Entry:      last.Close,
				StopLevel:  first.High,
				Note:       fmt.Sprintf("bullish fair value gap %.6g-%.6g holding below price", first.High, third.Low),
			}, true
		}

		// 看空缺口：first.Low > third.High，当前价仍在缺口下方
		if gap := first.Low - third.High; gap > 0 && last.Close < third.High {
			rel := gap / last.Close
			conf := 0.5 + minFloat(rel*30, 0.25)
			conf = alignTrend(conf, DirectionShort, reg, 0.1, 0.1)
			conf = dampLowVol(conf, reg, 0.05)
			return Candidate{
				Direction:  DirectionShort,
				Confidence: conf,
				Entry:      last.Close,
				StopLevel:  first.Low,
				Note:       fmt.Sprintf("bearish fair value gap %.6g-%.6g holding above price", third.High, first.Low),
			}, true
		}
	}
	return Candidate{}, false
}
