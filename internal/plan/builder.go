package plan

import (
	"sentra/internal/risk"
	"sentra/internal/signal"

	"github.com/google/uuid"
)

// 中文说明：
// 计划构建器把信号与仓位计算结果拼装为 proposed 状态的交易计划，
// 并用该形态的历史教训（若有）作为先验计算期望值。

var planNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Prior 期望值计算的形态先验，由该形态的历史教训换算而来。
// 无历史时使用中性默认（胜率 0.5、均亏 1R）。
type Prior struct {
	WinRate    float64
	AvgWinR    float64
	AvgLossR   float64
	SampleSize int
}

// NeutralPrior 中性默认先验。
func NeutralPrior() Prior {
	return Prior{WinRate: 0.5, AvgWinR: 1.5, AvgLossR: 1}
}

func (p Prior) normalized() Prior {
	if p.WinRate <= 0 || p.WinRate > 1 {
		p.WinRate = 0.5
	}
	if p.AvgWinR <= 0 {
		p.AvgWinR = 1.5
	}
	if p.AvgLossR <= 0 {
		p.AvgLossR = 1
	}
	return p
}

// Expectancy = winRate × avgWin − lossRate × avgLoss（R 计）。
func Expectancy(p Prior) float64 {
	p = p.normalized()
	return p.WinRate*p.AvgWinR - (1-p.WinRate)*p.AvgLossR
}

// Build 产出 proposed 状态的计划。计划 ID 由信号 ID 派生，可重放。
func Build(sig signal.Signal, sz risk.Sizing, prior Prior) Plan {
	return Plan{
		ID:          uuid.NewSHA1(planNamespace, []byte("plan|"+sig.ID)).String(),
		SignalID:    sig.ID,
		PatternID:   sig.PatternID,
		Address:     sig.Address,
		Chain:       sig.Chain,
		Timeframe:   sig.Timeframe,
		Direction:   sz.Direction,
		Entry:       sz.Entry,
		StopLoss:    sz.StopLoss,
		TakeProfits: sz.TakeProfits,
		SizeUsd:     sz.SizeUsd,
		RiskPercent: sz.RiskPercent,
		Expectancy:  Expectancy(prior),
		Thesis:      sig.Thesis,
		Status:      StatusProposed,
		CreatedAt:   sig.DetectedAt,
	}
}
