package signal

import (
	"sentra/internal/market"
	"sentra/internal/regime"
)

// Candidate 单条规则的命中结果，尚未参与目录级别的优先级裁决。
type Candidate struct {
	Direction  Direction
	Confidence float64
	Entry      float64
	StopLevel  float64
	// Note 规则给出的一句话依据，作为 AI 评论不可用时的兜底素材。
	Note string
}

// Rule 独立的形态规则：纯谓词 + 确信度函数。
// 新形态只需实现本接口并注册，无需改动既有规则。
type Rule interface {
	// PatternID 规则对应的形态标识。
	PatternID() PatternID
	// Priority 目录内的固定优先级，数字越小越优先；确信度完全相同时裁决用。
	Priority() int
	// Evaluate 对快照求值。未命中返回 ok=false，不是错误。
	Evaluate(snap market.Snapshot, reg regime.Regime) (Candidate, bool)
}

// alignTrend 规则共用的趋势一致性调整：同向加成、逆向惩罚。
func alignTrend(conf float64, dir Direction, reg regime.Regime, boost, penalty float64) float64 {
	switch {
	case dir == DirectionLong && reg.Trend == regime.TrendUp,
		dir == DirectionShort && reg.Trend == regime.TrendDown:
		return conf + boost
	case dir == DirectionLong && reg.Trend == regime.TrendDown,
		dir == DirectionShort && reg.Trend == regime.TrendUp:
		return conf - penalty
	default:
		return conf
	}
}

// dampLowVol 低波动环境对动量类形态的惩罚。
func dampLowVol(conf float64, reg regime.Regime, penalty float64) float64 {
	if reg.Volatility == regime.VolLow {
		return conf - penalty
	}
	return conf
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
