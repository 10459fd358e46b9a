package database

import (
	"context"
	"database/sql"
	"errors"

	"sentra/internal/actiongraph"
)

// InsertNode 落库一个动作节点并回填 seq。链约束由 Recorder 在
// 每链锁内校验，这里只做纯追加。
func (s *Store) InsertNode(ctx context.Context, node actiongraph.Node) (actiongraph.Node, error) {
	db, err := s.conn()
	if err != nil {
		return actiongraph.Node{}, err
	}
	res, err := db.ExecContext(ctx, `
        INSERT INTO action_nodes (id, trade_plan_id, kind, payload, parent_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID, node.TradePlanID, string(node.Kind), marshalJSON(node.Payload),
		node.ParentID, millis(node.CreatedAt))
	if err != nil {
		return actiongraph.Node{}, err
	}
	seq, err := res.LastInsertId()
	if err == nil {
		node.Seq = seq
	}
	return node, nil
}

// NodeInChain 判断节点是否存在于指定链内。
func (s *Store) NodeInChain(ctx context.Context, tradePlanID, nodeID string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	var one int
	row := db.QueryRowContext(ctx,
		`SELECT 1 FROM action_nodes WHERE trade_plan_id=? AND id=? LIMIT 1`, tradePlanID, nodeID)
	switch err := row.Scan(&one); {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		// 真实存储故障必须原样上抛，不得伪装成链冲突
		return false, err
	}
	return true, nil
}

// NodesForPlan 返回一条链的节点，created_at 升序、同刻按落库顺序。
func (s *Store) NodesForPlan(ctx context.Context, tradePlanID string) ([]actiongraph.Node, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
        SELECT seq, id, trade_plan_id, kind, payload, parent_id, created_at
        FROM action_nodes
        WHERE trade_plan_id=?
        ORDER BY created_at ASC, seq ASC`, tradePlanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []actiongraph.Node
	for rows.Next() {
		var n actiongraph.Node
		var kind, payload string
		var createdAt int64
		if err := rows.Scan(&n.Seq, &n.ID, &n.TradePlanID, &kind, &payload, &n.ParentID, &createdAt); err != nil {
			return nil, err
		}
		n.Kind = actiongraph.Kind(kind)
		n.Payload = unmarshalJSON[map[string]any](payload)
		n.CreatedAt = fromMillis(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}
