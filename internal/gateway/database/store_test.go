package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sentra/internal/actiongraph"
	"sentra/internal/lesson"
	"sentra/internal/plan"
	"sentra/internal/signal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sentra_test.db"))
	if err != nil {
		t.Fatalf("打开测试库失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPlanRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000000).UTC()

	p := plan.Plan{
		ID:          "plan-1",
		SignalID:    "sig-1",
		PatternID:   signal.PatternLiquiditySweep,
		Address:     "0xabc",
		Chain:       "base",
		Timeframe:   "1h",
		Direction:   signal.DirectionLong,
		Entry:       100.5,
		StopLoss:    95,
		TakeProfits: []float64{106, 111.5},
		SizeUsd:     1818.18,
		RiskPercent: 1,
		Expectancy:  0.25,
		Thesis:      "swept the low and reclaimed it",
		Status:      plan.StatusProposed,
		CreatedAt:   created,
	}
	if err := s.SavePlan(ctx, p); err != nil {
		t.Fatalf("保存计划失败: %v", err)
	}

	got, found, err := s.PlanByID(ctx, "plan-1")
	if err != nil || !found {
		t.Fatalf("读取计划失败: found=%v err=%v", found, err)
	}
	if got.Entry != p.Entry || got.StopLoss != p.StopLoss || got.Status != plan.StatusProposed {
		t.Fatalf("计划字段不一致: %+v", got)
	}
	if len(got.TakeProfits) != 2 || got.TakeProfits[1] != 111.5 {
		t.Fatalf("止盈序列应经 JSON 往返保持: %v", got.TakeProfits)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("创建时间应保持毫秒精度: %v vs %v", got.CreatedAt, created)
	}

	// 状态迁移后重存应覆盖状态与平仓时间
	closedAt := created.Add(2 * time.Hour)
	got.Status = plan.StatusClosed
	got.ClosedAt = &closedAt
	if err := s.SavePlan(ctx, got); err != nil {
		t.Fatalf("更新计划失败: %v", err)
	}
	again, _, err := s.PlanByID(ctx, "plan-1")
	if err != nil {
		t.Fatalf("重读计划失败: %v", err)
	}
	if again.Status != plan.StatusClosed || again.ClosedAt == nil || !again.ClosedAt.Equal(closedAt) {
		t.Fatalf("状态更新未持久化: %+v", again)
	}

	byStatus, err := s.PlansByStatus(ctx, plan.StatusClosed)
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("按状态查询应命中 1 条: %d err=%v", len(byStatus), err)
	}
}

func TestActionNodesPersistChainOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000).UTC()

	kinds := []actiongraph.Kind{actiongraph.KindDetect, actiongraph.KindRiskCheck, actiongraph.KindPlan}
	var parent string
	for i, k := range kinds {
		n, err := s.InsertNode(ctx, actiongraph.Node{
			ID:          string(k) + "-node",
			TradePlanID: "plan-1",
			Kind:        k,
			ParentID:    parent,
			Payload:     map[string]any{"step": float64(i)},
			CreatedAt:   at,
		})
		if err != nil {
			t.Fatalf("插入节点失败: %v", err)
		}
		if n.Seq == 0 {
			t.Fatalf("落库应分配递增序号")
		}
		parent = n.ID
	}

	ok, err := s.NodeInChain(ctx, "plan-1", "detect-node")
	if err != nil || !ok {
		t.Fatalf("NodeInChain 应命中: ok=%v err=%v", ok, err)
	}
	ok, err = s.NodeInChain(ctx, "plan-2", "detect-node")
	if err != nil || ok {
		t.Fatalf("跨链查询不应命中: ok=%v err=%v", ok, err)
	}

	nodes, err := s.NodesForPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("读取链失败: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("应有 3 个节点, 实际=%d", len(nodes))
	}
	actiongraph.SortCausal(nodes)
	for i, k := range kinds {
		if nodes[i].Kind != k {
			t.Fatalf("节点 #%d 应为 %s, 实际=%s", i, k, nodes[i].Kind)
		}
	}
	if v, ok := nodes[1].Payload["step"].(float64); !ok || v != 1 {
		t.Fatalf("payload 应经 JSON 往返保持: %v", nodes[1].Payload)
	}
}

// TestNodeInChainPropagatesStoreFailure 存储层故障必须原样上抛，
// 不得退化成“节点不存在”，否则上游会把它误判为链冲突。
func TestNodeInChainPropagatesStoreFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertNode(ctx, actiongraph.Node{
		ID: "root", TradePlanID: "plan-1", Kind: actiongraph.KindDetect,
		CreatedAt: time.UnixMilli(1700000000000).UTC(),
	}); err != nil {
		t.Fatalf("插入节点失败: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	ok, err := s.NodeInChain(cancelled, "plan-1", "root")
	if err == nil {
		t.Fatalf("取消的上下文应返回错误, 实际 ok=%v", ok)
	}
	if errors.Is(err, actiongraph.ErrConflict) {
		t.Fatalf("存储故障不应伪装成链冲突: %v", err)
	}
	// 存储恢复后节点仍应命中
	ok, err = s.NodeInChain(ctx, "plan-1", "root")
	if err != nil || !ok {
		t.Fatalf("恢复后应命中: ok=%v err=%v", ok, err)
	}
}

func TestOutcomeIdempotentAndLessonUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1700000000000).UTC()

	o := plan.Outcome{
		TradePlanID:    "plan-1",
		PatternID:      signal.PatternBreakout,
		RealizedPnlUsd: 200,
		RealizedR:      2,
		ClosedReason:   "tp1",
		ClosedAt:       at,
	}
	if err := s.SaveOutcome(ctx, o); err != nil {
		t.Fatalf("保存结果失败: %v", err)
	}
	// 重复平仓回报只记一次
	if err := s.SaveOutcome(ctx, o); err != nil {
		t.Fatalf("重复保存不应报错: %v", err)
	}
	outcomes, err := s.OutcomesByPattern(ctx, signal.PatternBreakout)
	if err != nil || len(outcomes) != 1 {
		t.Fatalf("每计划应只有一份结果: %d err=%v", len(outcomes), err)
	}

	l := lesson.Compute(signal.PatternBreakout, outcomes)
	if err := s.UpsertLesson(ctx, l); err != nil {
		t.Fatalf("写入教训失败: %v", err)
	}
	// 二次 upsert 覆盖同一行
	if err := s.UpsertLesson(ctx, l); err != nil {
		t.Fatalf("重复 upsert 失败: %v", err)
	}
	got, found, err := s.LessonByPattern(ctx, signal.PatternBreakout)
	if err != nil || !found {
		t.Fatalf("读取教训失败: found=%v err=%v", found, err)
	}
	if got.SampleSize != 1 || got.WinRate != 1 || !got.UpdatedAt.Equal(at) {
		t.Fatalf("教训字段不一致: %+v", got)
	}
	all, err := s.ListLessons(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("教训列表应有 1 条: %d err=%v", len(all), err)
	}
}
