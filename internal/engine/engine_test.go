package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"sentra/internal/actiongraph"
	"sentra/internal/gateway/database"
	"sentra/internal/market"
	"sentra/internal/pkg/retry"
	"sentra/internal/plan"
	"sentra/internal/risk"
)

// 两个网关实现都必须覆盖引擎的完整持久化面
var (
	_ Store = (*database.Store)(nil)
	_ Store = (*database.Memory)(nil)
)

type fakeSource struct {
	candles []market.Candle
	errs    []error // 依次返回，耗尽后返回 candles
	calls   int
}

func (f *fakeSource) FetchCandles(_ context.Context, _ market.PairRef, _ string, _ int) ([]market.Candle, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.candles, nil
}

type fakeAssistant struct {
	text string
	err  error
}

func (f *fakeAssistant) Assist(context.Context, string, map[string]string) (string, error) {
	return f.text, f.err
}

// sweepCandles 末根刺破前低后收回，触发流动性清扫多头信号。
func sweepCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime:  int64(i) * 3_600_000,
			CloseTime: int64(i+1)*3_600_000 - 1,
			Open:      100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}
	last := &candles[n-1]
	last.Low = 95
	last.Close = 100.5
	return candles
}

func flatCandles(n int) []market.Candle {
	candles := sweepCandles(n)
	candles[n-1].Low = 99
	candles[n-1].Close = 100
	return candles
}

func testPair() market.PairRef {
	return market.PairRef{Address: "0xabc", Chain: "base", Venue: "dex"}
}

func testConfig() Config {
	return Config{
		Timeframe:   "1h",
		CandleLimit: 30,
		Risk:        risk.Params{Equity: 10000, RiskPercent: 1},
		Fetch: retry.Policy{
			Retries:   2,
			BaseDelay: time.Millisecond,
			Sleep:     func(context.Context, time.Duration) error { return nil },
		},
	}
}

func TestEvaluateProducesPlanAndTrail(t *testing.T) {
	store := database.NewMemory()
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)}, store, nil)

	res, err := eng.Evaluate(context.Background(), testPair())
	if err != nil {
		t.Fatalf("评估失败: %v", err)
	}
	if res.Signal == nil || res.Plan == nil {
		t.Fatalf("应产出信号与计划: %+v", res)
	}
	if res.Plan.Status != plan.StatusProposed {
		t.Fatalf("新计划状态应为 proposed, 实际=%s", res.Plan.Status)
	}
	if res.Plan.Thesis == "" {
		t.Fatalf("无 AI 时也应有模板论据")
	}

	// sizeUsd = 10000 × 1 / (100.5 − 95)
	wantSize := 10000.0 / 5.5
	if math.Abs(res.Plan.SizeUsd-wantSize) > 1e-9 {
		t.Fatalf("仓位应为 %.4f, 实际=%.4f", wantSize, res.Plan.SizeUsd)
	}

	nodes, err := eng.Trail(context.Background(), res.Plan.ID)
	if err != nil {
		t.Fatalf("读取决策链失败: %v", err)
	}
	wantKinds := []actiongraph.Kind{actiongraph.KindDetect, actiongraph.KindRiskCheck, actiongraph.KindPlan}
	if len(nodes) != len(wantKinds) {
		t.Fatalf("决策链应有 %d 个节点, 实际=%d", len(wantKinds), len(nodes))
	}
	for i, k := range wantKinds {
		if nodes[i].Kind != k {
			t.Fatalf("节点 #%d 应为 %s, 实际=%s", i, k, nodes[i].Kind)
		}
	}

	saved, found, err := store.PlanByID(context.Background(), res.Plan.ID)
	if err != nil || !found {
		t.Fatalf("计划应已落库: found=%v err=%v", found, err)
	}
	if saved.ID != res.Plan.ID {
		t.Fatalf("落库计划不一致")
	}
}

func TestEvaluateNoSignalIsNotAnError(t *testing.T) {
	eng := New(testConfig(), &fakeSource{candles: flatCandles(30)}, database.NewMemory(), nil)
	res, err := eng.Evaluate(context.Background(), testPair())
	if err != nil {
		t.Fatalf("无信号不应报错: %v", err)
	}
	if res.Signal != nil || res.Plan != nil {
		t.Fatalf("横盘数据不应产出信号: %+v", res)
	}
	if res.Candles != 30 {
		t.Fatalf("结果仍应带回窗口规模, 实际=%d", res.Candles)
	}
}

// TestEvaluateReplayable 同一窗口重复评估，信号与计划 ID 必须完全一致。
func TestEvaluateReplayable(t *testing.T) {
	src := &fakeSource{candles: sweepCandles(30)}
	eng := New(testConfig(), src, database.NewMemory(), nil)

	first, err := eng.Evaluate(context.Background(), testPair())
	if err != nil || first.Plan == nil {
		t.Fatalf("首次评估失败: %+v err=%v", first, err)
	}
	second, err := eng.Evaluate(context.Background(), testPair())
	if err != nil || second.Plan == nil {
		t.Fatalf("重放评估失败: %+v err=%v", second, err)
	}
	if first.Signal.ID != second.Signal.ID {
		t.Fatalf("信号 ID 应可重放: %s vs %s", first.Signal.ID, second.Signal.ID)
	}
	if first.Plan.ID != second.Plan.ID {
		t.Fatalf("计划 ID 应可重放: %s vs %s", first.Plan.ID, second.Plan.ID)
	}
}

func TestLifecycleActivateClose(t *testing.T) {
	store := database.NewMemory()
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)}, store, nil)
	ctx := context.Background()

	res, err := eng.Evaluate(ctx, testPair())
	if err != nil || res.Plan == nil {
		t.Fatalf("评估失败: %+v err=%v", res, err)
	}
	planID := res.Plan.ID
	now := time.Unix(1700100000, 0).UTC()

	activated, err := eng.Activate(ctx, planID, now)
	if err != nil {
		t.Fatalf("激活失败: %v", err)
	}
	if activated.Status != plan.StatusActive {
		t.Fatalf("激活后状态应为 active, 实际=%s", activated.Status)
	}

	// riskUsd = sizeUsd × 止损距离 / 100 = 100；盈利 200 即 2R
	closed, l, err := eng.Close(ctx, planID, 200, "tp1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("平仓失败: %v", err)
	}
	if closed.Status != plan.StatusClosed || closed.ClosedAt == nil {
		t.Fatalf("平仓后状态异常: %+v", closed)
	}
	if l.SampleSize != 1 || l.WinRate != 1 {
		t.Fatalf("教训应基于 1 笔盈利重算: %+v", l)
	}

	nodes, err := eng.Trail(ctx, planID)
	if err != nil {
		t.Fatalf("读取决策链失败: %v", err)
	}
	if len(nodes) != 5 {
		t.Fatalf("完整生命周期应有 5 个节点, 实际=%d", len(nodes))
	}
	if nodes[4].Kind != actiongraph.KindClose {
		t.Fatalf("链尾应为 close, 实际=%s", nodes[4].Kind)
	}
	if r, ok := nodes[4].Payload["realized_r"].(float64); !ok || math.Abs(r-2) > 1e-9 {
		t.Fatalf("close 节点应携带 realized_r=2, 实际=%v", nodes[4].Payload["realized_r"])
	}

	// 终态不可再迁移
	if _, err := eng.Activate(ctx, planID, now); !errors.Is(err, plan.ErrBadTransition) {
		t.Fatalf("已平仓计划不应可激活: %v", err)
	}
}

type flakyPlanStore struct {
	*database.Memory
	failNext bool
}

func (s *flakyPlanStore) SavePlan(ctx context.Context, p plan.Plan) error {
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	return s.Memory.SavePlan(ctx, p)
}

// TestCloseRetriesAfterStoreFailure 平仓中途写库失败后，计划必须仍是
// active，重试平仓补齐剩余步骤，且结果与 close 节点都只记一次。
func TestCloseRetriesAfterStoreFailure(t *testing.T) {
	store := &flakyPlanStore{Memory: database.NewMemory()}
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)}, store, nil)
	ctx := context.Background()

	res, err := eng.Evaluate(ctx, testPair())
	if err != nil || res.Plan == nil {
		t.Fatalf("评估失败: %+v err=%v", res, err)
	}
	planID := res.Plan.ID
	now := time.Unix(1700100000, 0).UTC()
	if _, err := eng.Activate(ctx, planID, now); err != nil {
		t.Fatalf("激活失败: %v", err)
	}

	store.failNext = true
	if _, _, err := eng.Close(ctx, planID, 200, "tp1", now.Add(time.Hour)); err == nil {
		t.Fatalf("写库失败应上抛")
	}
	p, found, err := store.PlanByID(ctx, planID)
	if err != nil || !found {
		t.Fatalf("重读计划失败: found=%v err=%v", found, err)
	}
	if p.Status != plan.StatusActive {
		t.Fatalf("平仓失败后计划应保持 active, 实际=%s", p.Status)
	}

	closed, l, err := eng.Close(ctx, planID, 200, "tp1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("重试平仓应成功: %v", err)
	}
	if closed.Status != plan.StatusClosed {
		t.Fatalf("重试后状态应为 closed, 实际=%s", closed.Status)
	}
	if l.SampleSize != 1 {
		t.Fatalf("结果应只记一次: %+v", l)
	}
	nodes, err := eng.Trail(ctx, planID)
	if err != nil {
		t.Fatalf("读取决策链失败: %v", err)
	}
	var closes int
	for _, n := range nodes {
		if n.Kind == actiongraph.KindClose {
			closes++
		}
	}
	if len(nodes) != 5 || closes != 1 {
		t.Fatalf("close 节点应只追加一次: 节点=%d close=%d", len(nodes), closes)
	}
}

// TestRecomputeLessons 从已平仓结果重算全部形态教训。
func TestRecomputeLessons(t *testing.T) {
	store := database.NewMemory()
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)}, store, nil)
	ctx := context.Background()

	res, err := eng.Evaluate(ctx, testPair())
	if err != nil || res.Plan == nil {
		t.Fatalf("评估失败: %+v err=%v", res, err)
	}
	now := time.Unix(1700100000, 0).UTC()
	if _, err := eng.Activate(ctx, res.Plan.ID, now); err != nil {
		t.Fatalf("激活失败: %v", err)
	}
	if _, _, err := eng.Close(ctx, res.Plan.ID, 200, "tp1", now.Add(time.Hour)); err != nil {
		t.Fatalf("平仓失败: %v", err)
	}

	lessons, err := eng.RecomputeLessons(ctx)
	if err != nil {
		t.Fatalf("重算教训失败: %v", err)
	}
	if len(lessons) != 1 {
		t.Fatalf("应只有一个形态有样本, 实际=%d", len(lessons))
	}
	if lessons[0].PatternID != res.Plan.PatternID || lessons[0].SampleSize != 1 {
		t.Fatalf("教训应基于已平仓结果: %+v", lessons[0])
	}
}

// TestFetchNotFoundNotRetried 标的不存在属于永久失败，不应消耗重试。
func TestFetchNotFoundNotRetried(t *testing.T) {
	src := &fakeSource{errs: []error{
		fmt.Errorf("%w: bad pair", market.ErrNotFound),
		fmt.Errorf("%w: bad pair", market.ErrNotFound),
	}}
	eng := New(testConfig(), src, database.NewMemory(), nil)
	_, err := eng.Evaluate(context.Background(), testPair())
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("应透传 not-found: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("永久失败不应重试, 实际调用 %d 次", src.calls)
	}
}

// TestFetchTransientRetried 瞬时失败按策略重试，恢复后流程继续。
func TestFetchTransientRetried(t *testing.T) {
	src := &fakeSource{
		candles: sweepCandles(30),
		errs: []error{
			fmt.Errorf("%w: timeout", market.ErrTransient),
			fmt.Errorf("%w: 503", market.ErrTransient),
		},
	}
	eng := New(testConfig(), src, database.NewMemory(), nil)
	res, err := eng.Evaluate(context.Background(), testPair())
	if err != nil {
		t.Fatalf("瞬时失败恢复后应成功: %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("应重试至第 3 次成功, 实际=%d", src.calls)
	}
	if res.Plan == nil {
		t.Fatalf("恢复后应产出计划")
	}
}

// TestThesisFallsBackWhenAssistantFails AI 失败降级为模板论据，评估不报错。
func TestThesisFallsBackWhenAssistantFails(t *testing.T) {
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)},
		database.NewMemory(), &fakeAssistant{err: errors.New("upstream down")})
	res, err := eng.Evaluate(context.Background(), testPair())
	if err != nil || res.Plan == nil {
		t.Fatalf("AI 失败不应中断评估: %+v err=%v", res, err)
	}
	if res.Plan.Thesis == "" {
		t.Fatalf("应有模板兜底论据")
	}
}

func TestThesisUsesAssistantWhenAvailable(t *testing.T) {
	eng := New(testConfig(), &fakeSource{candles: sweepCandles(30)},
		database.NewMemory(), &fakeAssistant{text: "sweep reclaimed the prior low; long against 95."})
	res, err := eng.Evaluate(context.Background(), testPair())
	if err != nil || res.Plan == nil {
		t.Fatalf("评估失败: %+v err=%v", res, err)
	}
	if res.Plan.Thesis != "sweep reclaimed the prior low; long against 95." {
		t.Fatalf("应采用 AI 论据, 实际=%q", res.Plan.Thesis)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	// 两个标的共用一个源：第一次调用 not-found，之后正常
	src := &fakeSource{
		candles: sweepCandles(30),
		errs:    []error{fmt.Errorf("%w: bad pair", market.ErrNotFound)},
	}
	cfg := testConfig()
	cfg.BatchWorkers = 1
	eng := New(cfg, src, database.NewMemory(), nil)

	pairs := []market.PairRef{
		{Symbol: "NOPEUSDT", Venue: "binance"},
		{Address: "0xabc", Chain: "base", Venue: "dex"},
	}
	results, err := eng.Batch(context.Background(), pairs)
	if err != nil {
		t.Fatalf("批量评估不应整体失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("应返回每个标的的结果, 实际=%d", len(results))
	}
	if results[0].Plan != nil {
		t.Fatalf("失败标的应为空结果")
	}
	if results[1].Plan == nil {
		t.Fatalf("其余标的应正常产出计划")
	}
}
