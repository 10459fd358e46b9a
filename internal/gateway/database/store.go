package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// 中文说明：
// sqlite 持久化网关。信号/计划/动作节点/结果/教训的唯一事实来源，
// 编排器不会把权威状态只留在内存里。

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open 打开（或创建）sqlite 库并执行建表。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path 不能为空")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite 单连接写入最稳
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}
	return db.Close()
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("store 未初始化")
	}
	return db, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signals (
			id TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			address TEXT,
			chain TEXT,
			timeframe TEXT,
			direction TEXT,
			confidence REAL,
			entry REAL,
			stop_level REAL,
			thesis TEXT,
			regime_json TEXT,
			detected_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS trade_plans (
			id TEXT PRIMARY KEY,
			signal_id TEXT,
			pattern_id TEXT NOT NULL,
			address TEXT,
			chain TEXT,
			timeframe TEXT,
			direction TEXT,
			entry REAL,
			stop_loss REAL,
			take_profits TEXT,
			size_usd REAL,
			risk_percent REAL,
			expectancy REAL,
			thesis TEXT,
			status TEXT NOT NULL,
			created_at INTEGER,
			closed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS action_nodes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			trade_plan_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT,
			parent_id TEXT,
			created_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_action_nodes_plan ON action_nodes(trade_plan_id)`,
		`CREATE TABLE IF NOT EXISTS trade_outcomes (
			trade_plan_id TEXT PRIMARY KEY,
			pattern_id TEXT NOT NULL,
			realized_pnl_usd REAL,
			realized_r REAL,
			closed_reason TEXT,
			closed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS lessons (
			pattern_id TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			score REAL,
			sample_size INTEGER,
			win_rate REAL,
			avg_win_r REAL,
			avg_loss_r REAL,
			avg_r REAL,
			summary TEXT,
			updated_at INTEGER
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func unmarshalJSON[T any](raw string) T {
	var out T
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &out)
	}
	return out
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
