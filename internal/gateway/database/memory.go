package database

import (
	"context"
	"sync"

	"sentra/internal/actiongraph"
	"sentra/internal/lesson"
	"sentra/internal/plan"
	"sentra/internal/signal"
)

// Memory 与 sqlite 网关同形的内存实现，供测试与 dry-run 模式使用。
// 读写都返回拷贝，保证外部拿不到可变引用。
type Memory struct {
	mu       sync.RWMutex
	signals  map[string]signal.Signal
	plans    map[string]plan.Plan
	planSeq  []string
	nodes    []actiongraph.Node
	nodeSeq  int64
	outcomes map[signal.PatternID][]plan.Outcome
	lessons  map[signal.PatternID]lesson.Lesson
}

func NewMemory() *Memory {
	return &Memory{
		signals:  make(map[string]signal.Signal),
		plans:    make(map[string]plan.Plan),
		outcomes: make(map[signal.PatternID][]plan.Outcome),
		lessons:  make(map[signal.PatternID]lesson.Lesson),
	}
}

func (m *Memory) SaveSignal(_ context.Context, sig signal.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[sig.ID] = sig
	return nil
}

func (m *Memory) SignalByID(_ context.Context, id string) (signal.Signal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	return sig, ok, nil
}

func (m *Memory) SavePlan(_ context.Context, p plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plans[p.ID]; !exists {
		m.planSeq = append(m.planSeq, p.ID)
	}
	m.plans[p.ID] = clonePlan(p)
	return nil
}

func (m *Memory) PlanByID(_ context.Context, id string) (plan.Plan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return plan.Plan{}, false, nil
	}
	return clonePlan(p), true, nil
}

func (m *Memory) PlansByStatus(_ context.Context, status plan.Status) ([]plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []plan.Plan
	for _, id := range m.planSeq {
		if p := m.plans[id]; p.Status == status {
			out = append(out, clonePlan(p))
		}
	}
	return out, nil
}

func (m *Memory) PlansByPattern(_ context.Context, patternID signal.PatternID) ([]plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []plan.Plan
	for _, id := range m.planSeq {
		if p := m.plans[id]; p.PatternID == patternID {
			out = append(out, clonePlan(p))
		}
	}
	return out, nil
}

func (m *Memory) ListPlans(_ context.Context, limit int) ([]plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.planSeq) {
		limit = len(m.planSeq)
	}
	out := make([]plan.Plan, 0, limit)
	for i := len(m.planSeq) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, clonePlan(m.plans[m.planSeq[i]]))
	}
	return out, nil
}

func (m *Memory) InsertNode(_ context.Context, node actiongraph.Node) (actiongraph.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodeSeq++
	node.Seq = m.nodeSeq
	m.nodes = append(m.nodes, cloneNode(node))
	return node, nil
}

func (m *Memory) NodeInChain(_ context.Context, tradePlanID, nodeID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.nodes {
		if n.TradePlanID == tradePlanID && n.ID == nodeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) NodesForPlan(_ context.Context, tradePlanID string) ([]actiongraph.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []actiongraph.Node
	for _, n := range m.nodes {
		if n.TradePlanID == tradePlanID {
			out = append(out, cloneNode(n))
		}
	}
	return out, nil
}

func (m *Memory) SaveOutcome(_ context.Context, o plan.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.outcomes[o.PatternID] {
		if existing.TradePlanID == o.TradePlanID {
			return nil
		}
	}
	m.outcomes[o.PatternID] = append(m.outcomes[o.PatternID], o)
	return nil
}

func (m *Memory) OutcomesByPattern(_ context.Context, patternID signal.PatternID) ([]plan.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]plan.Outcome(nil), m.outcomes[patternID]...), nil
}

func (m *Memory) UpsertLesson(_ context.Context, l lesson.Lesson) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessons[l.PatternID] = l
	return nil
}

func (m *Memory) LessonByPattern(_ context.Context, patternID signal.PatternID) (lesson.Lesson, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lessons[patternID]
	return l, ok, nil
}

func (m *Memory) ListLessons(_ context.Context) ([]lesson.Lesson, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]lesson.Lesson, 0, len(m.lessons))
	for _, pid := range []signal.PatternID{
		signal.PatternBreakout, signal.PatternFairValueGap, signal.PatternLiquiditySweep,
		signal.PatternMACross, signal.PatternOrderBlock,
	} {
		if l, ok := m.lessons[pid]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func clonePlan(p plan.Plan) plan.Plan {
	out := p
	out.TakeProfits = append([]float64(nil), p.TakeProfits...)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

func cloneNode(n actiongraph.Node) actiongraph.Node {
	out := n
	if n.Payload != nil {
		out.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			out.Payload[k] = v
		}
	}
	return out
}
