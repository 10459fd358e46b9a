package database

import (
	"context"
	"database/sql"

	"sentra/internal/regime"
	"sentra/internal/signal"
)

// SaveSignal 落库一条信号（按 id 幂等）。
func (s *Store) SaveSignal(ctx context.Context, sig signal.Signal) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
        INSERT INTO signals
            (id, pattern_id, address, chain, timeframe, direction, confidence,
             entry, stop_level, thesis, regime_json, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET thesis=excluded.thesis`,
		sig.ID, string(sig.PatternID), sig.Address, sig.Chain, sig.Timeframe,
		string(sig.Direction), sig.Confidence, sig.Entry, sig.StopLevel,
		sig.Thesis, marshalJSON(sig.Regime), millis(sig.DetectedAt))
	return err
}

// SignalByID 按 id 读取信号。
func (s *Store) SignalByID(ctx context.Context, id string) (signal.Signal, bool, error) {
	db, err := s.conn()
	if err != nil {
		return signal.Signal{}, false, err
	}
	row := db.QueryRowContext(ctx, `
        SELECT id, pattern_id, address, chain, timeframe, direction, confidence,
               entry, stop_level, thesis, regime_json, detected_at
        FROM signals WHERE id=?`, id)
	sig, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return signal.Signal{}, false, nil
	}
	if err != nil {
		return signal.Signal{}, false, err
	}
	return sig, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (signal.Signal, error) {
	var sig signal.Signal
	var pattern, direction, regimeJSON string
	var detectedAt int64
	err := row.Scan(&sig.ID, &pattern, &sig.Address, &sig.Chain, &sig.Timeframe,
		&direction, &sig.Confidence, &sig.Entry, &sig.StopLevel, &sig.Thesis,
		&regimeJSON, &detectedAt)
	if err != nil {
		return signal.Signal{}, err
	}
	sig.PatternID = signal.PatternID(pattern)
	sig.Direction = signal.Direction(direction)
	sig.Regime = unmarshalJSON[regime.Regime](regimeJSON)
	sig.DetectedAt = fromMillis(detectedAt)
	return sig, nil
}
