package signal

import (
	"fmt"

	"sentra/internal/market"
	"sentra/internal/regime"
)

// BreakoutRule 区间突破：收盘价越过前段窗口的极值。
type BreakoutRule struct {
	// Lookback 突破参照窗口（默认 20）。
	Lookback int
}

func (r *BreakoutRule) PatternID() PatternID { return PatternBreakout }
func (r *BreakoutRule) Priority() int        { return 4 }

func (r *BreakoutRule) Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool) {
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 20
	}
	candles := snap.Candles
	n := len(candles)
	if n < lookback+1 {
		return Candidate{}, false
	}
	last := candles[n-1]
	window := candles[n-1-lookback : n-1]
	rangeHigh := highestHigh(window)
	rangeLow := lowestLow(window)
	if rangeHigh <= 0 {
		return Candidate{}, false
	}

	// 放量确认：突破 K 线量能超过窗口均量 1.5 倍加成
	volBoost := 0.0
	if avg := avgVolume(window); avg > 0 && last.Volume > 1.5*avg {
		volBoost = 0.1
	}

	// 突破结构位：止损放在突破前最后一段的极值
	tail := window
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}

	if last.Close > rangeHigh {
		margin := (last.Close - rangeHigh) / rangeHigh
		conf := 0.5 + minFloat(margin*20, 0.2) + volBoost
		conf = alignTrend(conf, DirectionLong, reg, 0.15, 0.1)
		conf = dampLowVol(conf, reg, 0.1)
		return Candidate{
			Direction:  DirectionLong,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  lowestLow(tail),
			Note:       fmt.Sprintf("closed above the %d-bar range high %.6g", lookback, rangeHigh),
		}, true
	}
	if last.Close < rangeLow {
		margin := (rangeLow - last.Close) / rangeLow
		conf := 0.5 + minFloat(margin*20, 0.2) + volBoost
		conf = alignTrend(conf, DirectionShort, reg, 0.15, 0.1)
		conf = dampLowVol(conf, reg, 0.1)
		return Candidate{
			Direction:  DirectionShort,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  highestHigh(tail),
			Note:       fmt.Sprintf("closed below the %d-bar range low %.6g", lookback, rangeLow),
		}, true
	}
	return Candidate{}, false
}
