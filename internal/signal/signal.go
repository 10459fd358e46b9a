package signal

import (
	"time"

	"sentra/internal/regime"
)

// PatternID 固定形态目录中的一个形态。
type PatternID string

const (
	PatternLiquiditySweep PatternID = "liquidity_sweep"
	PatternOrderBlock     PatternID = "order_block"
	PatternFairValueGap   PatternID = "fair_value_gap"
	PatternBreakout       PatternID = "breakout"
	PatternMACross        PatternID = "ma_cross"
)

// Direction 信号方向。
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Signal 一次确信度评分过的形态检出。
// Confidence 恒定落在 [0,1]；不存在“零确信度代表未知”的用法，
// 未检出以 (Signal{}, false) 表达。
// StopLevel 是形态的结构位（如 sweep 低点），风险计算的止损锚点。
type Signal struct {
	ID         string        `json:"id"`
	PatternID  PatternID     `json:"pattern_id"`
	Address    string        `json:"address"`
	Chain      string        `json:"chain,omitempty"`
	Timeframe  string        `json:"timeframe"`
	Direction  Direction     `json:"direction"`
	Confidence float64       `json:"confidence"`
	Entry      float64       `json:"entry"`
	StopLevel  float64       `json:"stop_level"`
	Thesis     string        `json:"thesis,omitempty"`
	Regime     regime.Regime `json:"regime"`
	DetectedAt time.Time     `json:"detected_at"`
}
