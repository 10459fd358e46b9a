package risk

import (
	"errors"
	"fmt"

	"sentra/internal/signal"
)

// 中文说明：
// 以损订仓：给定账户权益与单笔风险比例，从信号的结构位推出止损距离、
// 仓位与固定 R 倍数的止盈序列。非法输入（权益或止损距离非正）不产出
// 仓位，以 ErrInvalidInputs 报告给调用方，绝不产出一个畸形的计划。

// ErrInvalidInputs 非法输入：非正权益或非正止损距离。
var ErrInvalidInputs = errors.New("risk: invalid plan inputs")

// Params 账户风险参数。
type Params struct {
	Equity float64
	// RiskPercent 单笔风险占权益的百分比，按百分点计（1 = 1%，默认 1）。
	RiskPercent float64
	// RewardMultiples 止盈的 R 倍数序列（默认 1R、2R）。
	RewardMultiples []float64
}

func (p Params) withDefaults() Params {
	if p.RiskPercent == 0 {
		p.RiskPercent = 1
	}
	if len(p.RewardMultiples) == 0 {
		p.RewardMultiples = []float64{1, 2}
	}
	return p
}

// Sizing 仓位计算结果。
type Sizing struct {
	Direction    signal.Direction `json:"direction"`
	Entry        float64          `json:"entry"`
	StopLoss     float64          `json:"stop_loss"`
	StopDistance float64          `json:"stop_distance"`
	TakeProfits  []float64        `json:"take_profits"`
	SizeUsd      float64          `json:"size_usd"`
	RiskPercent  float64          `json:"risk_percent"`
	// RiskUsd 止损命中时的账面损失额（equity × riskPercent%）。
	RiskUsd float64 `json:"risk_usd"`
}

// Size 由信号与账户参数计算仓位。
// sizeUsd = equity × riskPercent / stopDistance。
func Size(sig signal.Signal, p Params) (Sizing, error) {
	p = p.withDefaults()
	if p.Equity <= 0 {
		return Sizing{}, fmt.Errorf("%w: equity=%.4f", ErrInvalidInputs, p.Equity)
	}
	if p.RiskPercent <= 0 {
		return Sizing{}, fmt.Errorf("%w: risk_percent=%.4f", ErrInvalidInputs, p.RiskPercent)
	}

	var stopDistance float64
	switch sig.Direction {
	case signal.DirectionLong:
		stopDistance = sig.Entry - sig.StopLevel
	case signal.DirectionShort:
		stopDistance = sig.StopLevel - sig.Entry
	default:
		return Sizing{}, fmt.Errorf("%w: direction=%q", ErrInvalidInputs, sig.Direction)
	}
	if stopDistance <= 0 {
		return Sizing{}, fmt.Errorf("%w: stop_distance=%.6g (entry=%.6g stop=%.6g)",
			ErrInvalidInputs, stopDistance, sig.Entry, sig.StopLevel)
	}

	sizeUsd := p.Equity * p.RiskPercent / stopDistance

	// 止盈按 R 倍数沿方向展开，天然严格远离入场价
	takeProfits := make([]float64, 0, len(p.RewardMultiples))
	for _, mult := range p.RewardMultiples {
		if mult <= 0 {
			continue
		}
		if sig.Direction == signal.DirectionLong {
			takeProfits = append(takeProfits, sig.Entry+mult*stopDistance)
		} else {
			takeProfits = append(takeProfits, sig.Entry-mult*stopDistance)
		}
	}

	return Sizing{
		Direction:    sig.Direction,
		Entry:        sig.Entry,
		StopLoss:     sig.StopLevel,
		StopDistance: stopDistance,
		TakeProfits:  takeProfits,
		SizeUsd:      sizeUsd,
		RiskPercent:  p.RiskPercent,
		RiskUsd:      p.Equity * p.RiskPercent / 100,
	}, nil
}
