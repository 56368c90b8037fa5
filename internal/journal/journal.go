package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyxium/dia-core/internal/safety"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS guard_transitions (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	from_level    TEXT NOT NULL,
	to_level      TEXT NOT NULL,
	reason        TEXT NOT NULL,
	max_active    INTEGER NOT NULL,
	cpu_pct       REAL NOT NULL,
	ram_pct       REAL NOT NULL,
	latency_ms    REAL NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_guard_transitions_created ON guard_transitions(created_at);

CREATE TABLE IF NOT EXISTS order_rejections (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	qty              TEXT NOT NULL,
	price            TEXT NOT NULL,
	breaches         TEXT NOT NULL,
	exposure_pct     REAL NOT NULL,
	orders_last_min  INTEGER NOT NULL,
	daily_loss_pct   REAL NOT NULL,
	drawdown_pct     REAL NOT NULL,
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_rejections_created ON order_rejections(created_at);
`

// Transition is a journaled guard level change
type Transition struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	MaxActive int       `json:"max_active"`
	CPUPct    float64   `json:"cpu_pct"`
	RAMPct    float64   `json:"ram_pct"`
	LatencyMs float64   `json:"latency_ms"`
	At        time.Time `json:"at"`
}

// Rejection is a journaled rejected order together with the metrics that
// caused it
type Rejection struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	Qty           string    `json:"qty"`
	Price         string    `json:"price"`
	Breaches      []string  `json:"breaches"`
	ExposurePct   float64   `json:"exposure_pct"`
	OrdersLastMin int       `json:"orders_last_min"`
	DailyLossPct  float64   `json:"daily_loss_pct"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	At            time.Time `json:"at"`
}

// Journal is an append-only audit log of guard transitions and rejected
// orders
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite journal at path and ensures the schema
func Open(ctx context.Context, path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	j := NewWithDB(db)
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// NewWithDB wraps an existing connection; the schema is assumed present
func NewWithDB(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (j *Journal) Close() error {
	return j.db.Close()
}

// RecordTransition stores a guard alert
func (j *Journal) RecordTransition(ctx context.Context, a safety.Alert) (Transition, error) {
	t := Transition{
		ID:        uuid.NewString(),
		Kind:      string(a.Kind),
		From:      a.From.String(),
		To:        a.To.String(),
		Reason:    a.Reason(),
		MaxActive: a.MaxActiveInstruments,
		CPUPct:    a.Sample.CPUPct,
		RAMPct:    a.Sample.RAMPct,
		LatencyMs: a.Sample.LatencyMs,
		At:        a.At,
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}

	query := `
		INSERT INTO guard_transitions (id, kind, from_level, to_level, reason, max_active, cpu_pct, ram_pct, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		t.ID, t.Kind, t.From, t.To, t.Reason, t.MaxActive,
		t.CPUPct, t.RAMPct, t.LatencyMs, t.At.UnixMilli(),
	)
	if err != nil {
		return Transition{}, fmt.Errorf("failed to record transition: %w", err)
	}
	return t, nil
}

// RecordRejection stores a rejected order. ID and At are filled when empty.
func (j *Journal) RecordRejection(ctx context.Context, r Rejection) (Rejection, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}

	query := `
		INSERT INTO order_rejections (id, symbol, qty, price, breaches, exposure_pct, orders_last_min, daily_loss_pct, drawdown_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, query,
		r.ID, r.Symbol, r.Qty, r.Price, strings.Join(r.Breaches, ","),
		r.ExposurePct, r.OrdersLastMin, r.DailyLossPct, r.DrawdownPct, r.At.UnixMilli(),
	)
	if err != nil {
		return Rejection{}, fmt.Errorf("failed to record rejection: %w", err)
	}
	return r, nil
}

// RecentTransitions returns the latest transitions, newest first
func (j *Journal) RecentTransitions(ctx context.Context, limit int) ([]Transition, error) {
	query := `
		SELECT id, kind, from_level, to_level, reason, max_active, cpu_pct, ram_pct, latency_ms, created_at
		FROM guard_transitions
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var at int64
		if err := rows.Scan(&t.ID, &t.Kind, &t.From, &t.To, &t.Reason, &t.MaxActive,
			&t.CPUPct, &t.RAMPct, &t.LatencyMs, &at); err != nil {
			return nil, err
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentRejections returns the latest rejections, newest first
func (j *Journal) RecentRejections(ctx context.Context, limit int) ([]Rejection, error) {
	query := `
		SELECT id, symbol, qty, price, breaches, exposure_pct, orders_last_min, daily_loss_pct, drawdown_pct, created_at
		FROM order_rejections
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rejections: %w", err)
	}
	defer rows.Close()

	var out []Rejection
	for rows.Next() {
		var r Rejection
		var breaches string
		var at int64
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Qty, &r.Price, &breaches,
			&r.ExposurePct, &r.OrdersLastMin, &r.DailyLossPct, &r.DrawdownPct, &at); err != nil {
			return nil, err
		}
		if breaches != "" {
			r.Breaches = strings.Split(breaches, ",")
		}
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Counts returns the number of stored transitions and rejections
func (j *Journal) Counts(ctx context.Context) (transitions, rejections int, err error) {
	if err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM guard_transitions`).Scan(&transitions); err != nil {
		return 0, 0, err
	}
	if err = j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_rejections`).Scan(&rejections); err != nil {
		return 0, 0, err
	}
	return transitions, rejections, nil
}
