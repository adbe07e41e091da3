package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"ti-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadSamples reads a symbol's samples with seq > afterSeq.
// Results are ordered by sequence ascending for correct replay order.
func (r *Reader) ReadSamples(symbol string, afterSeq int64) ([]model.Sample, error) {
	rows, err := r.db.Query(`
		SELECT symbol, seq, value, ts
		FROM samples
		WHERE symbol = ? AND seq > ?
		ORDER BY seq ASC
	`, symbol, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var s model.Sample
		var tsUnix int64
		if err := rows.Scan(&s.Symbol, &s.Seq, &s.Value, &tsUnix); err != nil {
			return nil, fmt.Errorf("sqlite scan samples: %w", err)
		}
		s.TS = time.Unix(tsUnix, 0).UTC()
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Symbols lists every symbol with stored samples.
func (r *Reader) Symbols() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT symbol FROM samples ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("sqlite scan symbols: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// ReadResults reads stored indicator results for one indicator/param/symbol
// with seq > afterSeq, ordered by sequence ascending.
func (r *Reader) ReadResults(indicator string, param int, symbol string, afterSeq int64) ([]model.IndicatorResult, error) {
	rows, err := r.db.Query(`
		SELECT indicator, param, symbol, seq, value, warm, ts
		FROM results
		WHERE indicator = ? AND param = ? AND symbol = ? AND seq > ?
		ORDER BY seq ASC
	`, indicator, param, symbol, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("sqlite query results: %w", err)
	}
	defer rows.Close()

	var results []model.IndicatorResult
	for rows.Next() {
		var res model.IndicatorResult
		var warm int
		var tsUnix int64
		if err := rows.Scan(&res.Indicator, &res.Param, &res.Symbol, &res.Seq, &res.Value, &warm, &tsUnix); err != nil {
			return nil, fmt.Errorf("sqlite scan results: %w", err)
		}
		res.Warm = warm != 0
		res.TS = time.Unix(tsUnix, 0).UTC()
		results = append(results, res)
	}
	return results, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent engine snapshot as raw JSON.
// Returns nil, nil if no snapshot exists.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
