package database

import (
	"context"
	"database/sql"

	"sentra/internal/lesson"
	"sentra/internal/plan"
	"sentra/internal/signal"
)

// SaveOutcome 记录一份平仓结果（每计划一份）。
func (s *Store) SaveOutcome(ctx context.Context, o plan.Outcome) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO trade_outcomes
            (trade_plan_id, pattern_id, realized_pnl_usd, realized_r, closed_reason, closed_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(trade_plan_id) DO NOTHING`,
		o.TradePlanID, string(o.PatternID), o.RealizedPnlUsd, o.RealizedR,
		o.ClosedReason, millis(o.ClosedAt))
	return err
}

// OutcomesByPattern 某一形态的全部结果，平仓时间升序。
func (s *Store) OutcomesByPattern(ctx context.Context, patternID signal.PatternID) ([]plan.Outcome, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
        SELECT trade_plan_id, pattern_id, realized_pnl_usd, realized_r, closed_reason, closed_at
        FROM trade_outcomes
        WHERE pattern_id=?
        ORDER BY closed_at ASC, trade_plan_id ASC`, string(patternID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []plan.Outcome
	for rows.Next() {
		var o plan.Outcome
		var pattern string
		var closedAt int64
		if err := rows.Scan(&o.TradePlanID, &pattern, &o.RealizedPnlUsd, &o.RealizedR, &o.ClosedReason, &closedAt); err != nil {
			return nil, err
		}
		o.PatternID = signal.PatternID(pattern)
		o.ClosedAt = fromMillis(closedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertLesson 写入某形态的教训聚合（每形态一行，滚动覆盖）。
func (s *Store) UpsertLesson(ctx context.Context, l lesson.Lesson) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO lessons
            (pattern_id, id, score, sample_size, win_rate, avg_win_r, avg_loss_r, avg_r, summary, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(pattern_id) DO UPDATE SET
            score=excluded.score, sample_size=excluded.sample_size,
            win_rate=excluded.win_rate, avg_win_r=excluded.avg_win_r,
            avg_loss_r=excluded.avg_loss_r, avg_r=excluded.avg_r,
            summary=excluded.summary, updated_at=excluded.updated_at`,
		string(l.PatternID), l.ID, l.Score, l.SampleSize, l.WinRate,
		l.AvgWinR, l.AvgLossR, l.AvgR, l.Summary, millis(l.UpdatedAt))
	return err
}

// LessonByPattern 读取某形态的教训。
func (s *Store) LessonByPattern(ctx context.Context, patternID signal.PatternID) (lesson.Lesson, bool, error) {
	db, err := s.conn()
	if err != nil {
		return lesson.Lesson{}, false, err
	}
	row := db.QueryRowContext(ctx, lessonSelect+` WHERE pattern_id=?`, string(patternID))
	l, err := scanLesson(row)
	if err == sql.ErrNoRows {
		return lesson.Lesson{}, false, nil
	}
	if err != nil {
		return lesson.Lesson{}, false, err
	}
	return l, true, nil
}

// ListLessons 全部形态的教训。
func (s *Store) ListLessons(ctx context.Context) ([]lesson.Lesson, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, lessonSelect+` ORDER BY pattern_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lesson.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const lessonSelect = `
    SELECT pattern_id, id, score, sample_size, win_rate, avg_win_r, avg_loss_r, avg_r, summary, updated_at
    FROM lessons`

func scanLesson(row rowScanner) (lesson.Lesson, error) {
	var l lesson.Lesson
	var pattern string
	var updatedAt int64
	err := row.Scan(&pattern, &l.ID, &l.Score, &l.SampleSize, &l.WinRate,
		&l.AvgWinR, &l.AvgLossR, &l.AvgR, &l.Summary, &updatedAt)
	if err != nil {
		return lesson.Lesson{}, err
	}
	l.PatternID = signal.PatternID(pattern)
	l.UpdatedAt = fromMillis(updatedAt)
	return l, nil
}
