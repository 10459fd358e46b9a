package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"sentra/internal/actiongraph"
	"sentra/internal/gateway/provider"
	"sentra/internal/lesson"
	"sentra/internal/logger"
	"sentra/internal/market"
	"sentra/internal/pkg/retry"
	"sentra/internal/plan"
	"sentra/internal/regime"
	"sentra/internal/risk"
	"sentra/internal/signal"
)

// 中文说明：
// 引擎是唯一的编排层：拉取行情、分类市场状态、检出信号、以损订仓、
// 构建计划，并把每一步写进该计划的决策链。无信号是正常结果而非错误。
// AI 论据纯属锦上添花，失败时降级为模板文本，流程绝不因它中断。

// Store 引擎依赖的持久化面。sqlite 与内存网关均实现。
type Store interface {
	actiongraph.Store
	lesson.Store
	SaveSignal(ctx context.Context, sig signal.Signal) error
	SavePlan(ctx context.Context, p plan.Plan) error
	PlanByID(ctx context.Context, id string) (plan.Plan, bool, error)
	ListPlans(ctx context.Context, limit int) ([]plan.Plan, error)
	SaveOutcome(ctx context.Context, o plan.Outcome) error
	LessonByPattern(ctx context.Context, patternID signal.PatternID) (lesson.Lesson, bool, error)
	ListLessons(ctx context.Context) ([]lesson.Lesson, error)
}

// ErrPlanNotFound 操作了不存在的计划。
var ErrPlanNotFound = errors.New("engine: plan not found")

type Config struct {
	Timeframe   string
	CandleLimit int
	Risk        risk.Params
	Regime      regime.Config
	Fetch       retry.Policy
	// BatchWorkers 批量评估的并发上限（默认 4）。
	BatchWorkers int
}

func (c Config) withDefaults() Config {
	if c.Timeframe == "" {
		c.Timeframe = "1h"
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = 200
	}
	if c.Regime.MinWindow == 0 {
		c.Regime = regime.DefaultConfig()
	}
	if c.Fetch.Retries == 0 {
		c.Fetch = retry.Policy{Retries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 3 * time.Second, Jitter: 0.2}
	}
	if c.BatchWorkers <= 0 {
		c.BatchWorkers = 4
	}
	return c
}

type Engine struct {
	cfg       Config
	source    market.Source
	store     Store
	recorder  *actiongraph.Recorder
	detector  *signal.Detector
	extractor *lesson.Extractor
	assistant provider.Assistant // 可为空
}

func New(cfg Config, source market.Source, store Store, assistant provider.Assistant) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		source:    source,
		store:     store,
		recorder:  actiongraph.NewRecorder(store),
		detector:  signal.NewDetector(signal.DefaultRules()...),
		extractor: lesson.NewExtractor(store),
		assistant: assistant,
	}
}

// EvaluateResult 一次评估的完整产物。Signal/Plan 为空表示未检出，
// 这是合法结果而非错误。
type EvaluateResult struct {
	Pair    market.PairRef     `json:"pair"`
	Regime  regime.Regime      `json:"regime"`
	Signal  *signal.Signal     `json:"signal,omitempty"`
	Plan    *plan.Plan         `json:"trade_plan,omitempty"`
	Nodes   []actiongraph.Node `json:"action_nodes,omitempty"`
	Candles int                `json:"candles"`
}

// Evaluate 对单个标的跑完整决策流程，使用配置中的账户风险参数。
func (e *Engine) Evaluate(ctx context.Context, pair market.PairRef) (EvaluateResult, error) {
	return e.EvaluateWith(ctx, pair, e.cfg.Risk)
}

// EvaluateWith 同 Evaluate，但由调用方提供本次评估的账户风险参数。
func (e *Engine) EvaluateWith(ctx context.Context, pair market.PairRef, rp risk.Params) (EvaluateResult, error) {
	snap, err := e.fetchSnapshot(ctx, pair)
	if err != nil {
		return EvaluateResult{Pair: pair}, err
	}
	reg := regime.Classify(snap.Candles, e.cfg.Regime, snap.TakenAt)
	result := EvaluateResult{Pair: pair, Regime: reg, Candles: len(snap.Candles)}

	sig, ok := e.detector.Detect(snap, reg)
	if !ok {
		logger.Infof("[engine] %s %s 无信号 (trend=%s vol=%s)",
			pair.Key(), e.cfg.Timeframe, reg.Trend, reg.Volatility)
		return result, nil
	}
	logger.Infof("[engine] %s 检出 %s %s conf=%.2f entry=%.6g stop=%.6g",
		pair.Key(), sig.PatternID, sig.Direction, sig.Confidence, sig.Entry, sig.StopLevel)

	if rp.Equity == 0 {
		rp = e.cfg.Risk
	}
	sz, sizeErr := risk.Size(sig, rp)
	if sizeErr != nil {
		// 信号留痕但不出计划
		if err := e.store.SaveSignal(ctx, sig); err != nil {
			return result, err
		}
		result.Signal = &sig
		logger.Warnf("[engine] %s 仓位计算被拒: %v", sig.ID, sizeErr)
		if errors.Is(sizeErr, risk.ErrInvalidInputs) {
			return result, nil
		}
		return result, sizeErr
	}

	prior := plan.NeutralPrior()
	if l, found, err := e.store.LessonByPattern(ctx, sig.PatternID); err != nil {
		return result, err
	} else if found {
		prior = plan.Prior{WinRate: l.WinRate, AvgWinR: l.AvgWinR, AvgLossR: l.AvgLossR, SampleSize: l.SampleSize}
	}
	p := plan.Build(sig, sz, prior)
	p.Thesis = e.thesis(ctx, sig, p)
	sig.Thesis = p.Thesis

	if err := e.store.SaveSignal(ctx, sig); err != nil {
		return result, err
	}
	if err := e.store.SavePlan(ctx, p); err != nil {
		return result, err
	}

	nodes, err := e.recordProposal(ctx, sig, sz, p)
	if err != nil {
		return result, err
	}
	result.Signal = &sig
	result.Plan = &p
	result.Nodes = nodes
	return result, nil
}

// Batch 并发评估多个标的。单个标的失败不影响其余标的，
// 失败项以空结果 + 日志呈现。
func (e *Engine) Batch(ctx context.Context, pairs []market.PairRef) ([]EvaluateResult, error) {
	results := make([]EvaluateResult, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchWorkers)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			res, err := e.Evaluate(gctx, pair)
			if err != nil {
				logger.Errorf("[engine] 评估 %s 失败: %v", pair.Key(), err)
				res = EvaluateResult{Pair: pair}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Activate 将 proposed 计划迁移为 active，并在决策链上落 execute 节点。
func (e *Engine) Activate(ctx context.Context, planID string, at time.Time) (plan.Plan, error) {
	p, found, err := e.store.PlanByID(ctx, planID)
	if err != nil {
		return plan.Plan{}, err
	}
	if !found {
		return plan.Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err := p.Transition(plan.StatusActive, at); err != nil {
		return plan.Plan{}, err
	}
	if err := e.store.SavePlan(ctx, p); err != nil {
		return plan.Plan{}, err
	}
	if err := e.appendAfterTail(ctx, p.ID, actiongraph.KindExecute, map[string]any{
		"entry":    p.Entry,
		"size_usd": p.SizeUsd,
	}, at); err != nil {
		return plan.Plan{}, err
	}
	logger.Infof("[engine] 计划 %s 已激活", p.ID)
	return p, nil
}

// Cancel 将 proposed 计划作废。
func (e *Engine) Cancel(ctx context.Context, planID string, at time.Time) (plan.Plan, error) {
	p, found, err := e.store.PlanByID(ctx, planID)
	if err != nil {
		return plan.Plan{}, err
	}
	if !found {
		return plan.Plan{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err := p.Transition(plan.StatusCancelled, at); err != nil {
		return plan.Plan{}, err
	}
	if err := e.store.SavePlan(ctx, p); err != nil {
		return plan.Plan{}, err
	}
	return p, nil
}

// Close 平仓：落结果、补 close 节点、提交终态并重算该形态的教训。
// 终态写库放在最后：中途任何一步失败，计划仍是 active，重试 Close 可以
// 接着补齐（结果幂等、close 节点查尾去重），不会留下无结果的已平仓计划。
func (e *Engine) Close(ctx context.Context, planID string, pnlUsd float64, reason string, at time.Time) (plan.Plan, lesson.Lesson, error) {
	p, found, err := e.store.PlanByID(ctx, planID)
	if err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}
	if !found {
		return plan.Plan{}, lesson.Lesson{}, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err := p.Transition(plan.StatusClosed, at); err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}

	outcome := plan.Outcome{
		TradePlanID:    p.ID,
		PatternID:      p.PatternID,
		RealizedPnlUsd: pnlUsd,
		RealizedR:      realizedR(p, pnlUsd),
		ClosedReason:   reason,
		ClosedAt:       at,
	}
	if err := e.store.SaveOutcome(ctx, outcome); err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}
	if err := e.appendCloseNode(ctx, p.ID, map[string]any{
		"pnl_usd":    pnlUsd,
		"realized_r": outcome.RealizedR,
		"reason":     reason,
	}, at); err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}
	if err := e.store.SavePlan(ctx, p); err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}
	l, err := e.extractor.Recompute(ctx, p.PatternID)
	if err != nil {
		return plan.Plan{}, lesson.Lesson{}, err
	}
	logger.Infof("[engine] 计划 %s 平仓 pnl=%.2f r=%.2f，%s 教训已重算 (score=%.3f n=%d)",
		p.ID, pnlUsd, outcome.RealizedR, p.PatternID, l.Score, l.SampleSize)
	return p, l, nil
}

// Trail 返回一个计划的因果有序决策链。
func (e *Engine) Trail(ctx context.Context, planID string) ([]actiongraph.Node, error) {
	return e.recorder.NodesFor(ctx, planID)
}

// Lessons 当前全部形态教训。
func (e *Engine) Lessons(ctx context.Context) ([]lesson.Lesson, error) {
	return e.store.ListLessons(ctx)
}

// RecomputeLessons 从已平仓结果重算全部形态教训并返回。
func (e *Engine) RecomputeLessons(ctx context.Context) ([]lesson.Lesson, error) {
	return e.extractor.RecomputeAll(ctx)
}

// Plans 最近的交易计划。
func (e *Engine) Plans(ctx context.Context, limit int) ([]plan.Plan, error) {
	return e.store.ListPlans(ctx, limit)
}

func (e *Engine) fetchSnapshot(ctx context.Context, pair market.PairRef) (market.Snapshot, error) {
	candles, err := retry.DoValue(ctx, e.cfg.Fetch, func(ctx context.Context) ([]market.Candle, error) {
		cs, err := e.source.FetchCandles(ctx, pair, e.cfg.Timeframe, e.cfg.CandleLimit)
		if err != nil && !market.Transient(err) {
			return nil, retry.Permanent(err)
		}
		return cs, err
	})
	if err != nil {
		return market.Snapshot{}, err
	}
	snap := market.Snapshot{Pair: pair, Timeframe: e.cfg.Timeframe, Candles: candles}
	// 快照时刻取末根 K 线收盘时间，保证同一窗口的重复评估可重放
	if last, ok := market.Last(candles); ok && last.CloseTime > 0 {
		snap.TakenAt = time.UnixMilli(last.CloseTime).UTC()
	} else {
		snap.TakenAt = time.Now().UTC()
	}
	return snap, nil
}

// recordProposal 落 detect → risk_check → plan 三个节点。
// 同一窗口重复评估产出同一计划 ID，链上已有节点时直接复用，不重复追加。
func (e *Engine) recordProposal(ctx context.Context, sig signal.Signal, sz risk.Sizing, p plan.Plan) ([]actiongraph.Node, error) {
	if existing, err := e.recorder.NodesFor(ctx, p.ID); err != nil {
		return nil, err
	} else if len(existing) > 0 {
		return existing, nil
	}
	detect, err := e.recorder.Append(ctx, actiongraph.Node{
		TradePlanID: p.ID,
		Kind:        actiongraph.KindDetect,
		Payload: map[string]any{
			"signal_id":  sig.ID,
			"pattern_id": string(sig.PatternID),
			"direction":  string(sig.Direction),
			"confidence": sig.Confidence,
		},
		CreatedAt: sig.DetectedAt,
	})
	if err != nil {
		return nil, err
	}
	riskNode, err := e.recorder.Append(ctx, actiongraph.Node{
		TradePlanID: p.ID,
		Kind:        actiongraph.KindRiskCheck,
		ParentID:    detect.ID,
		Payload: map[string]any{
			"size_usd":      sz.SizeUsd,
			"stop_distance": sz.StopDistance,
			"risk_percent":  sz.RiskPercent,
		},
		CreatedAt: sig.DetectedAt,
	})
	if err != nil {
		return nil, err
	}
	planNode, err := e.recorder.Append(ctx, actiongraph.Node{
		TradePlanID: p.ID,
		Kind:        actiongraph.KindPlan,
		ParentID:    riskNode.ID,
		Payload: map[string]any{
			"entry":      p.Entry,
			"stop_loss":  p.StopLoss,
			"expectancy": p.Expectancy,
		},
		CreatedAt: sig.DetectedAt,
	})
	if err != nil {
		return nil, err
	}
	return []actiongraph.Node{detect, riskNode, planNode}, nil
}

// appendAfterTail 在链尾追加一个节点。
func (e *Engine) appendAfterTail(ctx context.Context, planID string, kind actiongraph.Kind, payload map[string]any, at time.Time) error {
	nodes, err := e.recorder.NodesFor(ctx, planID)
	if err != nil {
		return err
	}
	var parentID string
	if len(nodes) > 0 {
		parentID = nodes[len(nodes)-1].ID
	}
	_, err = e.recorder.Append(ctx, actiongraph.Node{
		TradePlanID: planID,
		Kind:        kind,
		ParentID:    parentID,
		Payload:     payload,
		CreatedAt:   at,
	})
	return err
}

// appendCloseNode 链尾已是 close 时跳过（平仓重试场景）。
func (e *Engine) appendCloseNode(ctx context.Context, planID string, payload map[string]any, at time.Time) error {
	nodes, err := e.recorder.NodesFor(ctx, planID)
	if err != nil {
		return err
	}
	if len(nodes) > 0 && nodes[len(nodes)-1].Kind == actiongraph.KindClose {
		return nil
	}
	var parentID string
	if len(nodes) > 0 {
		parentID = nodes[len(nodes)-1].ID
	}
	_, err = e.recorder.Append(ctx, actiongraph.Node{
		TradePlanID: planID,
		Kind:        actiongraph.KindClose,
		ParentID:    parentID,
		Payload:     payload,
		CreatedAt:   at,
	})
	return err
}

const thesisPrompt = `You are a trading analyst. In 2-3 sentences, explain the rationale for this setup.
Pattern: {{pattern}}. Direction: {{direction}}. Timeframe: {{timeframe}}.
Entry {{entry}}, stop {{stop}}, confidence {{confidence}}.
Market regime: trend={{trend}}, volatility={{volatility}}, liquidity={{liquidity}}.`

// thesis 生成计划论据。AI 不可用时退回模板文本。
func (e *Engine) thesis(ctx context.Context, sig signal.Signal, p plan.Plan) string {
	fallback := fmt.Sprintf("%s %s on %s: entry %.6g, stop %.6g, confidence %.2f; regime %s/%s/%s. %s",
		sig.PatternID, sig.Direction, sig.Timeframe, sig.Entry, sig.StopLevel, sig.Confidence,
		sig.Regime.Trend, sig.Regime.Volatility, sig.Regime.Liquidity, sig.Thesis)
	if e.assistant == nil {
		return fallback
	}
	text, err := retry.DoValue(ctx, retry.Policy{Retries: 1, BaseDelay: 300 * time.Millisecond},
		func(ctx context.Context) (string, error) {
			return e.assistant.Assist(ctx, thesisPrompt, map[string]string{
				"pattern":    string(sig.PatternID),
				"direction":  string(sig.Direction),
				"timeframe":  sig.Timeframe,
				"entry":      fmt.Sprintf("%.6g", sig.Entry),
				"stop":       fmt.Sprintf("%.6g", sig.StopLevel),
				"confidence": fmt.Sprintf("%.2f", sig.Confidence),
				"trend":      string(sig.Regime.Trend),
				"volatility": string(sig.Regime.Volatility),
				"liquidity":  string(sig.Regime.Liquidity),
			})
		})
	if err != nil {
		logger.Warnf("[engine] AI 论据失败，使用模板兜底: %v", err)
		return fallback
	}
	return text
}

// realizedR 已实现收益换算成 R。风险额 = sizeUsd × 止损距离 / 100。
func realizedR(p plan.Plan, pnlUsd float64) float64 {
	riskUsd := p.SizeUsd * math.Abs(p.Entry-p.StopLoss) / 100
	if riskUsd <= 0 {
		return 0
	}
	return pnlUsd / riskUsd
}
