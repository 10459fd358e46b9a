package database

import (
	"context"
	"database/sql"
	"time"

	"sentra/internal/plan"
	"sentra/internal/signal"
)

// SavePlan 插入或覆盖一份交易计划。状态迁移的合法性由计划自身的
// 状态机保证，这里只负责落库。
func (s *Store) SavePlan(ctx context.Context, p plan.Plan) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO trade_plans
            (id, signal_id, pattern_id, address, chain, timeframe, direction,
             entry, stop_loss, take_profits, size_usd, risk_percent, expectancy,
             thesis, status, created_at, closed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status=excluded.status, thesis=excluded.thesis, closed_at=excluded.closed_at`,
		p.ID, p.SignalID, string(p.PatternID), p.Address, p.Chain, p.Timeframe,
		string(p.Direction), p.Entry, p.StopLoss, marshalJSON(p.TakeProfits),
		p.SizeUsd, p.RiskPercent, p.Expectancy, p.Thesis, string(p.Status),
		millis(p.CreatedAt), nullMillis(p.ClosedAt))
	return err
}

// PlanByID 按 id 读取计划。
func (s *Store) PlanByID(ctx context.Context, id string) (plan.Plan, bool, error) {
	db, err := s.conn()
	if err != nil {
		return plan.Plan{}, false, err
	}
	row := db.QueryRowContext(ctx, planSelect+` WHERE id=?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return plan.Plan{}, false, nil
	}
	if err != nil {
		return plan.Plan{}, false, err
	}
	return p, true, nil
}

// PlansByStatus 按状态查询，创建时间升序。
func (s *Store) PlansByStatus(ctx context.Context, status plan.Status) ([]plan.Plan, error) {
	return s.queryPlans(ctx, planSelect+` WHERE status=? ORDER BY created_at ASC, id ASC`, string(status))
}

// PlansByPattern 按形态查询。
func (s *Store) PlansByPattern(ctx context.Context, patternID signal.PatternID) ([]plan.Plan, error) {
	return s.queryPlans(ctx, planSelect+` WHERE pattern_id=? ORDER BY created_at ASC, id ASC`, string(patternID))
}

// ListPlans 最近的计划，创建时间降序。
func (s *Store) ListPlans(ctx context.Context, limit int) ([]plan.Plan, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryPlans(ctx, planSelect+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

const planSelect = `
    SELECT id, signal_id, pattern_id, address, chain, timeframe, direction,
           entry, stop_loss, take_profits, size_usd, risk_percent, expectancy,
           thesis, status, created_at, closed_at
    FROM trade_plans`

func (s *Store) queryPlans(ctx context.Context, query string, args ...any) ([]plan.Plan, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row rowScanner) (plan.Plan, error) {
	var p plan.Plan
	var pattern, direction, status, tps string
	var createdAt int64
	var closedAt sql.NullInt64
	err := row.Scan(&p.ID, &p.SignalID, &pattern, &p.Address, &p.Chain, &p.Timeframe,
		&direction, &p.Entry, &p.StopLoss, &tps, &p.SizeUsd, &p.RiskPercent,
		&p.Expectancy, &p.Thesis, &status, &createdAt, &closedAt)
	if err != nil {
		return plan.Plan{}, err
	}
	p.PatternID = signal.PatternID(pattern)
	p.Direction = signal.Direction(direction)
	p.Status = plan.Status(status)
	p.TakeProfits = unmarshalJSON[[]float64](tps)
	p.CreatedAt = fromMillis(createdAt)
	if closedAt.Valid {
		t := time.UnixMilli(closedAt.Int64).UTC()
		p.ClosedAt = &t
	}
	return p, nil
}
