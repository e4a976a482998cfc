package api

import (
	"sync"
	"time"

	"github.com/nugget/refine/internal/generator"
)

// SessionStats tracks generation totals since the process started. It
// works with or without the persistent usage ledger.
type SessionStats struct {
	mu                sync.Mutex
	startedAt         time.Time
	totalRequests     int64
	totalInputTokens  int64
	totalOutputTokens int64
	estimatedCostUSD  float64
	outcomes          map[string]int64
}

func newSessionStats() *SessionStats {
	return &SessionStats{
		startedAt: time.Now(),
		outcomes:  make(map[string]int64),
	}
}

// Record adds one generation attempt.
func (s *SessionStats) Record(kind generator.Kind, inputTokens, outputTokens int, costUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.totalInputTokens += int64(inputTokens)
	s.totalOutputTokens += int64(outputTokens)
	s.estimatedCostUSD += costUSD
	s.outcomes[kind.String()]++
}

// SessionStatsSnapshot is a copy-safe snapshot of session stats.
type SessionStatsSnapshot struct {
	StartedAt         string           `json:"started_at"`
	TotalRequests     int64            `json:"total_requests"`
	TotalInputTokens  int64            `json:"total_input_tokens"`
	TotalOutputTokens int64            `json:"total_output_tokens"`
	EstimatedCostUSD  float64          `json:"estimated_cost_usd"`
	Outcomes          map[string]int64 `json:"outcomes"`
}

func (s *SessionStats) Snapshot() SessionStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := make(map[string]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	return SessionStatsSnapshot{
		StartedAt:         s.startedAt.UTC().Format(time.RFC3339),
		TotalRequests:     s.totalRequests,
		TotalInputTokens:  s.totalInputTokens,
		TotalOutputTokens: s.totalOutputTokens,
		EstimatedCostUSD:  s.estimatedCostUSD,
		Outcomes:          outcomes,
	}
}
