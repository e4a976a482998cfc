// Package usage keeps a ledger of generation attempts: which model ran,
// where the request came from, how it ended, and what it cost. Work
// items, team context and generated text are never stored.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nugget/refine/internal/config"
)

// Surfaces a generation can be requested from.
const (
	SurfaceWeb = "web"
	SurfaceAPI = "api"
	SurfaceCLI = "cli"
)

// outcomeOK is the Outcome of a successful generation.
const outcomeOK = "ok"

// Record is one generation attempt.
type Record struct {
	ID           string
	Timestamp    time.Time
	RequestID    string
	Model        string
	Provider     string // "anthropic", "openai"
	Surface      string // SurfaceWeb, SurfaceAPI or SurfaceCLI
	Outcome      string // generator.Kind name, e.g. "ok", "rate_limited"
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	CostUSD      float64
}

// Totals aggregates a set of records.
type Totals struct {
	Generations   int     `json:"generations"`
	Failures      int     `json:"failures"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	CostUSD       float64 `json:"cost_usd"`
	AvgDurationMS int64   `json:"avg_duration_ms"`

	durationMS int64
}

func (t *Totals) add(o Totals) {
	t.Generations += o.Generations
	t.Failures += o.Failures
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.CostUSD += o.CostUSD
	t.durationMS += o.durationMS
	if t.Generations > 0 {
		t.AvgDurationMS = t.durationMS / int64(t.Generations)
	}
}

// Report breaks down the records in one time window.
type Report struct {
	Since     time.Time          `json:"since"`
	Until     time.Time          `json:"until"`
	Total     Totals             `json:"total"`
	ByModel   map[string]*Totals `json:"by_model"`
	ByOutcome map[string]*Totals `json:"by_outcome"`
	BySurface map[string]*Totals `json:"by_surface"`
}

// Store is an append-only SQLite ledger. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens the ledger at path, creating it if needed.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create usage schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are unix milliseconds so window queries compare integers.
const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id            TEXT PRIMARY KEY,
	ts_ms         INTEGER NOT NULL,
	request_id    TEXT NOT NULL,
	model         TEXT NOT NULL,
	provider      TEXT NOT NULL,
	surface       TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS generations_ts ON generations(ts_ms);
`

// Record appends rec. A missing ID becomes a UUIDv7 and a zero
// Timestamp becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("usage record id: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	const insert = `INSERT INTO generations
		(id, ts_ms, request_id, model, provider, surface, outcome,
		 input_tokens, output_tokens, duration_ms, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, insert,
		rec.ID, rec.Timestamp.UnixMilli(), rec.RequestID,
		rec.Model, rec.Provider, rec.Surface, rec.Outcome,
		rec.InputTokens, rec.OutputTokens, rec.Duration.Milliseconds(), rec.CostUSD,
	); err != nil {
		return fmt.Errorf("append usage record: %w", err)
	}
	return nil
}

// Report aggregates records with since <= timestamp < until. Every
// breakdown map is non-nil, even for an empty window.
func (s *Store) Report(ctx context.Context, since, until time.Time) (*Report, error) {
	const query = `SELECT model, outcome, surface,
			COUNT(*), SUM(input_tokens), SUM(output_tokens),
			SUM(cost_usd), SUM(duration_ms)
		FROM generations
		WHERE ts_ms >= ? AND ts_ms < ?
		GROUP BY model, outcome, surface`

	rows, err := s.db.QueryContext(ctx, query, since.UnixMilli(), until.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query usage report: %w", err)
	}
	defer rows.Close()

	rep := &Report{
		Since:     since.UTC(),
		Until:     until.UTC(),
		ByModel:   make(map[string]*Totals),
		ByOutcome: make(map[string]*Totals),
		BySurface: make(map[string]*Totals),
	}
	for rows.Next() {
		var model, outcome, surface string
		var t Totals
		if err := rows.Scan(&model, &outcome, &surface,
			&t.Generations, &t.InputTokens, &t.OutputTokens, &t.CostUSD, &t.durationMS); err != nil {
			return nil, fmt.Errorf("scan usage report: %w", err)
		}
		if outcome != outcomeOK {
			t.Failures = t.Generations
		}
		rep.Total.add(t)
		bucket(rep.ByModel, model).add(t)
		bucket(rep.ByOutcome, outcome).add(t)
		bucket(rep.BySurface, surface).add(t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read usage report: %w", err)
	}
	return rep, nil
}

func bucket(m map[string]*Totals, key string) *Totals {
	t, ok := m[key]
	if !ok {
		t = &Totals{}
		m[key] = t
	}
	return t
}

// ComputeCost prices one call from the per-million-token table. Models
// missing from the table cost nothing.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	p, ok := pricing[model]
	if !ok {
		return 0
	}
	const perMillion = 1e-6
	return perMillion * (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion)
}
