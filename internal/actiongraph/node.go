package actiongraph

import (
	"errors"
	"time"
)

// Kind 生命周期事件类型。一条链以 detect 为根。
type Kind string

const (
	KindDetect    Kind = "detect"
	KindPlan      Kind = "plan"
	KindRiskCheck Kind = "risk_check"
	KindExecute   Kind = "execute"
	KindClose     Kind = "close"
)

// ErrConflict 追加违反链的父节点约束（PersistenceConflict）。
// 该操作失败但不得破坏既有链。
var ErrConflict = errors.New("actiongraph: append violates parent chain")

// Node 动作图中的一个不可变节点。ParentID 表达因果顺序，
// 写入后节点永不修改或删除，修正以新节点表达。
type Node struct {
	ID          string         `json:"id"`
	TradePlanID string         `json:"trade_plan_id"`
	Kind        Kind           `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	// Seq 存储层落库顺序，created_at 相同时的稳定次序。
	Seq int64 `json:"seq,omitempty"`
}

func validKind(k Kind) bool {
	switch k {
	case KindDetect, KindPlan, KindRiskCheck, KindExecute, KindClose:
		return true
	}
	return false
}
