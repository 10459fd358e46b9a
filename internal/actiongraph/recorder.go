package actiongraph

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 中文说明：
// 追加式记录器。不同计划链相互独立、可并发追加；同一链内必须串行，
// 否则父节点存在性检查会产生竞态。这里按 tradePlanId 做锁分片，
// 不使用全局锁。

// Store 节点持久化的最小接口，由 sqlite / 内存存储实现。
type Store interface {
	InsertNode(ctx context.Context, node Node) (Node, error)
	NodeInChain(ctx context.Context, tradePlanID, nodeID string) (bool, error)
	NodesForPlan(ctx context.Context, tradePlanID string) ([]Node, error)
}

const lockShards = 64

type Recorder struct {
	store Store
	locks [lockShards]sync.Mutex
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) lockFor(tradePlanID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tradePlanID))
	return &r.locks[h.Sum32()%lockShards]
}

// Append 追加一个节点。非根节点的 ParentID 必须指向同链内已存在的节点，
// 否则返回 ErrConflict 且链保持原样。根节点只能是 detect。
func (r *Recorder) Append(ctx context.Context, node Node) (Node, error) {
	if node.TradePlanID == "" {
		return Node{}, fmt.Errorf("%w: empty trade_plan_id", ErrConflict)
	}
	if !validKind(node.Kind) {
		return Node{}, fmt.Errorf("%w: unknown kind %q", ErrConflict, node.Kind)
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}

	mu := r.lockFor(node.TradePlanID)
	mu.Lock()
	defer mu.Unlock()

	if node.ParentID == "" {
		if node.Kind != KindDetect {
			return Node{}, fmt.Errorf("%w: %s node requires a parent", ErrConflict, node.Kind)
		}
	} else {
		ok, err := r.store.NodeInChain(ctx, node.TradePlanID, node.ParentID)
		if err != nil {
			return Node{}, err
		}
		if !ok {
			return Node{}, fmt.Errorf("%w: parent %s not in chain %s",
				ErrConflict, node.ParentID, node.TradePlanID)
		}
	}
	return r.store.InsertNode(ctx, node)
}

// NodesFor 返回一条链的因果有序序列：created_at 升序，相同时按落库顺序。
func (r *Recorder) NodesFor(ctx context.Context, tradePlanID string) ([]Node, error) {
	nodes, err := r.store.NodesForPlan(ctx, tradePlanID)
	if err != nil {
		return nil, err
	}
	SortCausal(nodes)
	return nodes, nil
}

// SortCausal 按 (created_at, seq) 稳定排序。
func SortCausal(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if !nodes[i].CreatedAt.Equal(nodes[j].CreatedAt) {
			return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
		}
		return nodes[i].Seq < nodes[j].Seq
	})
}

// Replay 对有序节点序列做纯折叠，重放一条链的生命周期。
func Replay[T any](nodes []Node, seed T, fold func(T, Node) T) T {
	out := seed
	for _, n := range nodes {
		out = fold(out, n)
	}
	return out
}
