package actiongraph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memoryNodes 以内存切片伪造 Store，方便断言链内容。
type memoryNodes struct {
	mu    sync.Mutex
	nodes []Node
	seq   int64
}

func (s *memoryNodes) InsertNode(_ context.Context, node Node) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	node.Seq = s.seq
	s.nodes = append(s.nodes, node)
	return node, nil
}

func (s *memoryNodes) NodeInChain(_ context.Context, tradePlanID, nodeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.TradePlanID == tradePlanID && n.ID == nodeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryNodes) NodesForPlan(_ context.Context, tradePlanID string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Node
	for _, n := range s.nodes {
		if n.TradePlanID == tradePlanID {
			out = append(out, n)
		}
	}
	return out, nil
}

func appendOK(t *testing.T, r *Recorder, node Node) Node {
	t.Helper()
	out, err := r.Append(context.Background(), node)
	if err != nil {
		t.Fatalf("追加 %s 节点失败: %v", node.Kind, err)
	}
	return out
}

func TestAppendChain(t *testing.T) {
	store := &memoryNodes{}
	r := NewRecorder(store)
	root := appendOK(t, r, Node{TradePlanID: "p1", Kind: KindDetect})
	riskNode := appendOK(t, r, Node{TradePlanID: "p1", Kind: KindRiskCheck, ParentID: root.ID})
	planNode := appendOK(t, r, Node{TradePlanID: "p1", Kind: KindPlan, ParentID: riskNode.ID})

	nodes, err := r.NodesFor(context.Background(), "p1")
	if err != nil {
		t.Fatalf("读取链失败: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("链长度应为 3, 实际=%d", len(nodes))
	}
	kinds := []Kind{nodes[0].Kind, nodes[1].Kind, nodes[2].Kind}
	if kinds[0] != KindDetect || kinds[1] != KindRiskCheck || kinds[2] != KindPlan {
		t.Fatalf("因果顺序不符: %v", kinds)
	}
	if nodes[2].ID != planNode.ID {
		t.Fatalf("尾节点应为 plan 节点")
	}
}

// TestUnknownParentConflict 非根节点引用不存在的父节点必须返回 ErrConflict，
// 且链不被污染。
func TestUnknownParentConflict(t *testing.T) {
	store := &memoryNodes{}
	r := NewRecorder(store)
	appendOK(t, r, Node{TradePlanID: "p1", Kind: KindDetect})

	_, err := r.Append(context.Background(), Node{TradePlanID: "p1", Kind: KindPlan, ParentID: "ghost"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("缺失父节点应返回 ErrConflict, 实际=%v", err)
	}
	nodes, _ := r.NodesFor(context.Background(), "p1")
	if len(nodes) != 1 {
		t.Fatalf("失败的追加不应改变链, 实际长度=%d", len(nodes))
	}
}

// TestParentMustBeInSameChain 父节点属于另一条链时同样视为冲突。
func TestParentMustBeInSameChain(t *testing.T) {
	store := &memoryNodes{}
	r := NewRecorder(store)
	other := appendOK(t, r, Node{TradePlanID: "p1", Kind: KindDetect})

	_, err := r.Append(context.Background(), Node{TradePlanID: "p2", Kind: KindPlan, ParentID: other.ID})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("跨链父节点应返回 ErrConflict, 实际=%v", err)
	}
}

func TestNonDetectRootRejected(t *testing.T) {
	r := NewRecorder(&memoryNodes{})
	_, err := r.Append(context.Background(), Node{TradePlanID: "p1", Kind: KindExecute})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("无父的非 detect 节点应被拒绝, 实际=%v", err)
	}
}

// TestConcurrentChains 不同链的并发追加互不阻塞也互不污染。
func TestConcurrentChains(t *testing.T) {
	store := &memoryNodes{}
	r := NewRecorder(store)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			planID := fmt.Sprintf("plan-%d", i)
			root, err := r.Append(context.Background(), Node{TradePlanID: planID, Kind: KindDetect})
			if err != nil {
				t.Errorf("链 %s 根节点失败: %v", planID, err)
				return
			}
			if _, err := r.Append(context.Background(), Node{TradePlanID: planID, Kind: KindPlan, ParentID: root.ID}); err != nil {
				t.Errorf("链 %s 追加失败: %v", planID, err)
			}
		}(i)
	}
	wg.Wait()
	for i := 0; i < 16; i++ {
		nodes, _ := r.NodesFor(context.Background(), fmt.Sprintf("plan-%d", i))
		if len(nodes) != 2 {
			t.Fatalf("链 plan-%d 长度应为 2, 实际=%d", i, len(nodes))
		}
	}
}

func TestReplayFold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	nodes := []Node{
		{Kind: KindDetect, CreatedAt: now, Seq: 1},
		{Kind: KindRiskCheck, CreatedAt: now, Seq: 2},
		{Kind: KindPlan, CreatedAt: now.Add(time.Second), Seq: 3},
		{Kind: KindClose, CreatedAt: now.Add(2 * time.Second), Seq: 4},
	}
	got := Replay(nodes, "", func(acc string, n Node) string {
		if acc == "" {
			return string(n.Kind)
		}
		return acc + "→" + string(n.Kind)
	})
	if got != "detect→risk_check→plan→close" {
		t.Fatalf("重放折叠结果不符: %s", got)
	}
}
