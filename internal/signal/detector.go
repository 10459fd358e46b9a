package signal

import (
	"fmt"
	"sort"
	"time"

	"sentra/internal/market"
	"sentra/internal/regime"

	"github.com/google/uuid"
)

// signalNamespace 信号 ID 的 UUIDv5 命名空间。ID 由检出要素派生，
// 同一 (形态, 标的, 周期, 时刻) 的重复检出得到同一 ID，保证可重放。
var signalNamespace = uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")

// 中文说明：
// 检测器在固定目录上逐条求值，最多产出一个信号。
// 裁决规则：确信度最高者胜；确信度完全相同时取目录优先级更靠前的规则。
// 迭代顺序在构造时按优先级排定，与注册顺序无关。

type Detector struct {
	rules []Rule
}

// NewDetector 构造检测器。规则按 (Priority, PatternID) 排序后固定下来。
func NewDetector(rules ...Rule) *Detector {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority() != sorted[j].Priority() {
			return sorted[i].Priority() < sorted[j].Priority()
		}
		return sorted[i].PatternID() < sorted[j].PatternID()
	})
	return &Detector{rules: sorted}
}

// DefaultRules 固定形态目录。优先级表见 PATTERNS.md。
func DefaultRules() []Rule {
	return []Rule{
		&LiquiditySweepRule{Lookback: 10},
		&OrderBlockRule{Lookback: 12},
		&FairValueGapRule{Lookback: 15},
		&BreakoutRule{Lookback: 20},
		&MACrossRule{Fast: 9, Slow: 21},
	}
}

// Detect 对一个快照 + 市场状态求值，返回至多一个信号。
// 未检出返回 ok=false；确信度在此处统一钳制到 [0,1]。
func (d *Detector) Detect(snap market.Snapshot, reg regime.Regime) (Signal, bool) {
	var (
		best     Candidate
		bestRule Rule
		found    bool
	)
	for _, r := range d.rules {
		cand, ok := r.Evaluate(snap, reg)
		if !ok {
			continue
		}
		cand.Confidence = clamp01(cand.Confidence)
		// 严格大于才替换：相同确信度保留先遍历到的（优先级更高的）规则
		if !found || cand.Confidence > best.Confidence {
			best = cand
			bestRule = r
			found = true
		}
	}
	if !found {
		return Signal{}, false
	}
	detectedAt := snap.TakenAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	key := fmt.Sprintf("%s|%s|%s|%d", bestRule.PatternID(), snap.Pair.Key(), snap.Timeframe, detectedAt.UnixMilli())
	return Signal{
		ID:         uuid.NewSHA1(signalNamespace, []byte(key)).String(),
		PatternID:  bestRule.PatternID(),
		Address:    snap.Pair.Address,
		Chain:      snap.Pair.Chain,
		Timeframe:  snap.Timeframe,
		Direction:  best.Direction,
		Confidence: best.Confidence,
		Entry:      best.Entry,
		StopLevel:  best.StopLevel,
		Thesis:     best.Note,
		Regime:     reg,
		DetectedAt: detectedAt,
	}, true
}
