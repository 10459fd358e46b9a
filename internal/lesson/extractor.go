package lesson

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sentra/internal/plan"
	"sentra/internal/signal"

	"github.com/google/uuid"
)

// 中文说明：
// 教训提取器。按形态批量消费已平仓结果，重算胜率、平均 R 与综合得分，
// 每个形态维护一条滚动聚合的教训记录。重算是纯函数：同一结果集重跑
// 必须得到逐位相同的教训（包括 UpdatedAt，取自结果集而非墙钟）。

var lessonNamespace = uuid.MustParse("9e107d9d-372b-4d2b-a1b5-6d0c6b6f8a3e")

// minSampleFloor 样本收缩常数：样本越少，得分越被拉向中性 0.5。
const minSampleFloor = 10

// Lesson 某一形态的滚动绩效聚合。只更新、从不删除。
type Lesson struct {
	ID         string           `json:"id"`
	PatternID  signal.PatternID `json:"pattern_id"`
	Score      float64          `json:"score"`
	SampleSize int              `json:"sample_size"`
	WinRate    float64          `json:"win_rate"`
	AvgWinR    float64          `json:"avg_win_r"`
	AvgLossR   float64          `json:"avg_loss_r"`
	AvgR       float64          `json:"avg_r"`
	Summary    string           `json:"summary"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Store 提取器依赖的持久化面。
type Store interface {
	OutcomesByPattern(ctx context.Context, patternID signal.PatternID) ([]plan.Outcome, error)
	UpsertLesson(ctx context.Context, l Lesson) error
}

type Extractor struct {
	store Store

	mu    sync.Mutex
	locks map[signal.PatternID]*sync.Mutex
}

func NewExtractor(store Store) *Extractor {
	return &Extractor{store: store, locks: make(map[signal.PatternID]*sync.Mutex)}
}

func (e *Extractor) lockFor(patternID signal.PatternID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[patternID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[patternID] = l
	}
	return l
}

// Recompute 重算并落库一个形态的教训。写入按形态串行，读者不受阻塞。
func (e *Extractor) Recompute(ctx context.Context, patternID signal.PatternID) (Lesson, error) {
	mu := e.lockFor(patternID)
	mu.Lock()
	defer mu.Unlock()

	outcomes, err := e.store.OutcomesByPattern(ctx, patternID)
	if err != nil {
		return Lesson{}, err
	}
	l := Compute(patternID, outcomes)
	if l.SampleSize == 0 {
		// 没有任何结果时不落库，维持“无教训”状态
		return l, nil
	}
	if err := e.store.UpsertLesson(ctx, l); err != nil {
		return Lesson{}, err
	}
	return l, nil
}

// RecomputeAll 对目录内所有形态重算。
func (e *Extractor) RecomputeAll(ctx context.Context) ([]Lesson, error) {
	patterns := []signal.PatternID{
		signal.PatternLiquiditySweep,
		signal.PatternOrderBlock,
		signal.PatternFairValueGap,
		signal.PatternBreakout,
		signal.PatternMACross,
	}
	out := make([]Lesson, 0, len(patterns))
	for _, pid := range patterns {
		l, err := e.Recompute(ctx, pid)
		if err != nil {
			return nil, err
		}
		if l.SampleSize > 0 {
			out = append(out, l)
		}
	}
	return out, nil
}

// Compute 纯函数：从结果集聚合出教训。输入先做确定性排序，
// 保证与存储返回顺序无关。
func Compute(patternID signal.PatternID, outcomes []plan.Outcome) Lesson {
	sorted := append([]plan.Outcome(nil), outcomes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ClosedAt.Equal(sorted[j].ClosedAt) {
			return sorted[i].ClosedAt.Before(sorted[j].ClosedAt)
		}
		return sorted[i].TradePlanID < sorted[j].TradePlanID
	})

	l := Lesson{
		ID:        uuid.NewSHA1(lessonNamespace, []byte("lesson|"+string(patternID))).String(),
		PatternID: patternID,
	}
	if len(sorted) == 0 {
		return l
	}

	var wins, losses int
	var winSum, lossSum, rSum float64
	for _, o := range sorted {
		rSum += o.RealizedR
		if o.RealizedR > 0 {
			wins++
			winSum += o.RealizedR
		} else {
			losses++
			lossSum += -o.RealizedR
		}
	}
	n := len(sorted)
	l.SampleSize = n
	l.WinRate = float64(wins) / float64(n)
	l.AvgR = rSum / float64(n)
	if wins > 0 {
		l.AvgWinR = winSum / float64(wins)
	}
	if losses > 0 {
		l.AvgLossR = lossSum / float64(losses)
	}

	// 样本加权得分：小样本收缩到中性 0.5，避免少量交易得出高确信结论
	weight := float64(n) / float64(n+minSampleFloor)
	l.Score = 0.5 + (l.WinRate-0.5)*weight

	l.UpdatedAt = sorted[n-1].ClosedAt
	l.Summary = fmt.Sprintf("%s: %d trades, %.0f%% win rate, avg %.2fR",
		patternID, n, l.WinRate*100, l.AvgR)
	return l
}
