package signal

import (
	"fmt"

	"sentra/internal/market"
	"sentra/internal/regime"
)

// OrderBlockRule 订单块：位移行情前的最后一根反向 K 线，
// 当前价站上（或跌破）该块确认方向。
type OrderBlockRule struct {
	// Lookback 向前搜索订单块的最大根数（默认 12）。
	Lookback int
	// DisplacementMult 位移需达到平均实体的倍数（默认 2.0）。
	DisplacementMult float64
}

func (r *OrderBlockRule) PatternID() PatternID { return PatternOrderBlock }
func (r *OrderBlockRule) Priority() int        { return 2 }

func (r *OrderBlockRule) Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool) {
	lookback := r.Lookback
	if lookback <= 0 {
		lookback = 12
	}
	mult := r.DisplacementMult
	if mult <= 0 {
		mult = 2.0
	}
	candles := snap.Candles
	n := len(candles)
	if n < lookback+3 {
		return Candidate{}, false
	}
	base := avgBody(candles[n-lookback-3 : n])
	if base <= 0 {
		return Candidate{}, false
	}
	last := candles[n-1]

	// 从最近往回找：反向块 + 其后两根同向位移
	for i := n - 3; i >= n-lookback && i >= 0; i-- {
		block := candles[i]
		next1, next2 := candles[i+1], candles[i+2]

		// 多头订单块：阴线块 + 随后显著上行位移 + 当前收盘在块高上方
		if block.Close < block.Open &&
			next1.Close > next1.Open && next2.Close > next2.Open {
			displacement := next2.Close - next1.Open
			if displacement >= mult*base && last.Close > block.High {
				strength := displacement / base
				conf := 0.5 + minFloat(strength/12, 0.25)
				conf = alignTrend(conf, DirectionLong, reg, 0.1, 0.1)
				return Candidate{
					Direction:  DirectionLong,
					Confidence: conf,
					Entry:      last.Close,
					StopLevel:  block.Low,
					Note:       fmt.Sprintf("demand order block at %.6g-%.6g confirmed by displacement", block.Low, block.High),
				}, true
			}
		}

		// 空头订单块：阳线块 + 随后显著下行位移 + 当前收盘在块低下方
		if block.Close > block.Open &&
			next1.Close < next1.Open && next2.Close < next2.Open {
			displacement := next1.Open - next2.Close
			if displacement >= mult*base && last.Close < block.Low {
				strength := displacement / base
				conf := 0.5 + minFloat(strength/12, 0.25)
				conf = alignTrend(conf, DirectionShort, reg, 0.1, 0.1)
				return Candidate{
					Direction:  DirectionShort,
					Confidence: conf,
					Entry:      last.Close,
					StopLevel:  block.High,
					Note:       fmt.Sprintf("supply order block at %.6g-%.6g confirmed by displacement", block.Low, block.High),
				}, true
			}
		}
	}
	return Candidate{}, false
}
