package plan

import (
	"errors"
	"fmt"
	"time"

	"sentra/internal/signal"
)

// Status 交易计划状态。只允许前向迁移：
// proposed → active → closed，或 proposed → cancelled。
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// ErrBadTransition 非法状态迁移（含对终态的重复迁移）。
var ErrBadTransition = errors.New("plan: invalid status transition")

// Plan 一份可执行的交易提案。创建后只通过 Transition 变更状态，
// 永不删除，只会被后继计划取代。
type Plan struct {
	ID          string           `json:"id"`
	SignalID    string           `json:"signal_id"`
	PatternID   signal.PatternID `json:"pattern_id"`
	Address     string           `json:"address"`
	Chain       string           `json:"chain,omitempty"`
	Timeframe   string           `json:"timeframe"`
	Direction   signal.Direction `json:"direction"`
	Entry       float64          `json:"entry"`
	StopLoss    float64          `json:"stop_loss"`
	TakeProfits []float64        `json:"take_profits"`
	SizeUsd     float64          `json:"size_usd"`
	RiskPercent float64          `json:"risk_percent"`
	Expectancy  float64          `json:"expectancy"`
	Thesis      string           `json:"thesis,omitempty"`
	Status      Status           `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ClosedAt    *time.Time       `json:"closed_at,omitempty"`
}

// Outcome 计划平仓后产出一次的已实现结果。
type Outcome struct {
	TradePlanID    string           `json:"trade_plan_id"`
	PatternID      signal.PatternID `json:"pattern_id"`
	RealizedPnlUsd float64          `json:"realized_pnl_usd"`
	RealizedR      float64          `json:"realized_r"`
	ClosedReason   string           `json:"closed_reason"`
	ClosedAt       time.Time        `json:"closed_at"`
}

// CanTransition 判断一次状态迁移是否合法。
func CanTransition(from, to Status) bool {
	switch from {
	case StatusProposed:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusClosed
	default:
		// closed / cancelled 为终态
		return false
	}
}

// Transition 执行状态迁移；迁入终态时记录时间。
func (p *Plan) Transition(to Status, at time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s → %s (plan=%s)", ErrBadTransition, p.Status, to, p.ID)
	}
	p.Status = to
	if to == StatusClosed || to == StatusCancelled {
		t := at
		p.ClosedAt = &t
	}
	return nil
}
