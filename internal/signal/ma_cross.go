package signal

import (
	"fmt"

	"sentra/internal/market"
	"sentra/internal/regime"

	talib "github.com/markcheno/go-talib"
)

// MACrossRule 均线交叉：快线在最后一根上穿/下穿慢线。
type MACrossRule struct {
	Fast int
	Slow int
}

func (r *MACrossRule) PatternID() PatternID { return PatternMACross }
func (r *MACrossRule) Priority() int        { return 5 }

func (r *MACrossRule) Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool) {
	fast, slow := r.Fast, r.Slow
	if fast <= 0 {
		fast = 9
	}
	if slow <= fast {
		slow = 21
	}
	candles := snap.Candles
	n := len(candles)
	if n < slow+2 {
		return Candidate{}, false
	}
	closes := market.Closes(candles)
	emaFast := talib.Ema(closes, fast)
	emaSlow := talib.Ema(closes, slow)
	curF, curS := emaFast[n-1], emaSlow[n-1]
	prevF, prevS := emaFast[n-2], emaSlow[n-2]
	if curS <= 0 || prevS <= 0 {
		return Candidate{}, false
	}
	last := candles[n-1]

	sep := (curF - curS) / curS
	if sep < 0 {
		sep = -sep
	}

	tail := candles
	if n > 6 {
		tail = candles[n-6:]
	}

	// 上穿
	if prevF <= prevS && curF > curS {
		conf := 0.5 + minFloat(sep*25, 0.15)
		conf = alignTrend(conf, DirectionLong, reg, 0.15, 0.1)
		conf = dampLowVol(conf, reg, 0.1)
		return Candidate{
			Direction:  DirectionLong,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  lowestLow(tail),
			Note:       fmt.Sprintf("EMA%d crossed above EMA%d", fast, slow),
		}, true
	}
	// 下穿
	if prevF >= prevS && curF < curS {
		conf := 0.5 + minFloat(sep*25, 0.15)
		conf = alignTrend(conf, DirectionShort, reg, 0.15, 0.1)
		conf = dampLowVol(conf, reg, 0.1)
		return Candidate{
			Direction:  DirectionShort,
			Confidence: conf,
			Entry:      last.Close,
			StopLevel:  highestHigh(tail),
			Note:       fmt.Sprintf("EMA%d crossed below EMA%d", fast, slow),
		}, true
	}
	return Candidate{}, false
}
