package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"ti-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	batchLimit   = 100                    // rows per transaction
	flushEvery   = 200 * time.Millisecond // max delay before a partial batch commits
	snapshotKeep = 10
)

// dsn appends the connection options shared by reader and writer. WAL
// keeps reads going during writes; the busy timeout makes the two
// connections back off on lock contention instead of failing.
func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// The schema holds raw series samples, computed indicator results and
// engine snapshots. Sample and result rows key on their natural identity,
// so replays after a crash overwrite instead of duplicating.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS samples (
	symbol TEXT    NOT NULL,
	seq    INTEGER NOT NULL,
	value  REAL    NOT NULL,
	ts     INTEGER NOT NULL,
	PRIMARY KEY (symbol, seq)
);

CREATE TABLE IF NOT EXISTS results (
	indicator TEXT    NOT NULL,
	param     INTEGER NOT NULL,
	symbol    TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	value     REAL    NOT NULL,
	warm      INTEGER NOT NULL,
	ts        INTEGER NOT NULL,
	PRIMARY KEY (indicator, param, symbol, seq)
);

CREATE TABLE IF NOT EXISTS engine_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	data       TEXT    NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // e.g. "data/series.db"
}

// Writer owns the single write connection. All inserts go through batched
// transactions; one writer on WAL keeps up comfortably at feed rates.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, observes every successful batch commit.
	OnCommit func(table string, rows int, took time.Duration)
}

// New opens the database, creating it and the schema if needed.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// A second write connection would only queue on the database lock.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// Run persists raw samples from sampleCh in batched transactions until
// ctx is cancelled or the channel closes. A partial batch is flushed on
// shutdown.
func (w *Writer) Run(ctx context.Context, sampleCh <-chan model.Sample) {
	runBatches(ctx, sampleCh, func(batch []model.Sample) {
		w.commit("samples", len(batch), func() error { return w.insertSamples(batch) })
	})
}

// RunResults persists computed indicator results from resCh, batching the
// same way Run does.
func (w *Writer) RunResults(ctx context.Context, resCh <-chan model.IndicatorResult) {
	runBatches(ctx, resCh, func(batch []model.IndicatorResult) {
		w.commit("results", len(batch), func() error { return w.insertResults(batch) })
	})
}

// WriteResultBatch inserts one result batch synchronously. Errors are
// logged, not returned; the stream side owns delivery retries.
func (w *Writer) WriteResultBatch(ctx context.Context, results []model.IndicatorResult) {
	if len(results) == 0 {
		return
	}
	w.commit("results", len(results), func() error { return w.insertResults(results) })
}

// runBatches collects channel values and commits on batch size or on the
// flush timer, whichever fires first.
func runBatches[T any](ctx context.Context, ch <-chan T, commit func([]T)) {
	batch := make([]T, 0, batchLimit)
	timer := time.NewTimer(flushEvery)
	defer timer.Stop()

	flush := func() {
		if len(batch) > 0 {
			commit(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case v, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, v)
			if len(batch) >= batchLimit {
				flush()
				timer.Reset(flushEvery)
			}
		case <-timer.C:
			flush()
			timer.Reset(flushEvery)
		}
	}
}

func (w *Writer) commit(table string, rows int, insert func() error) {
	start := time.Now()
	if err := insert(); err != nil {
		log.Printf("[sqlite] %s: batch insert error: %v", table, err)
		return
	}
	took := time.Since(start)
	log.Printf("[sqlite] %s: committed %d rows in %v", table, rows, took)
	if w.OnCommit != nil {
		w.OnCommit(table, rows, took)
	}
}

// withTx prepares query inside a transaction, hands the statement to bind,
// and commits unless bind fails.
func (w *Writer) withTx(query string, bind func(*sql.Stmt) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	if err := bind(stmt); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (w *Writer) insertSamples(samples []model.Sample) error {
	return w.withTx(
		`INSERT OR REPLACE INTO samples (symbol, seq, value, ts) VALUES (?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, s := range samples {
				if _, err := stmt.Exec(s.Symbol, s.Seq, s.Value, s.TS.Unix()); err != nil {
					return err
				}
			}
			return nil
		})
}

func (w *Writer) insertResults(results []model.IndicatorResult) error {
	return w.withTx(
		`INSERT OR REPLACE INTO results (indicator, param, symbol, seq, value, warm, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, r := range results {
				warm := 0
				if r.Warm {
					warm = 1
				}
				if _, err := stmt.Exec(r.Indicator, r.Param, r.Symbol, r.Seq, r.Value, warm, r.TS.Unix()); err != nil {
					return err
				}
			}
			return nil
		})
}

// SaveSnapshotJSON stores a JSON-encoded engine snapshot and prunes all
// but the newest snapshotKeep rows.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	if _, err := w.db.Exec(`INSERT INTO engine_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err := w.db.Exec(`
		DELETE FROM engine_snapshots
		WHERE id NOT IN (
			SELECT id FROM engine_snapshots ORDER BY created_at DESC, id DESC LIMIT ?
		)`, snapshotKeep)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
