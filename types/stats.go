package types

import "time"

// RunStats accumulates counters for one discovery run. Workers never
// write it concurrently; the run coordinator merges per-scope outcomes
// into it at the single join point.
type RunStats struct {
	Provider       string    `json:"provider"`
	ScopesPlanned  int       `json:"scopes_planned"`
	ScopesFailed   int       `json:"scopes_failed"`
	Found          int       `json:"found"`
	Filtered       int       `json:"filtered"`
	SkippedRecords int       `json:"skipped_records"`
	SkippedPolicy  int       `json:"skipped_policy"`
	APICalls       int64     `json:"api_calls"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Duration returns the wall-clock time of the run.
func (s RunStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// ScopesSucceeded returns how many scope queries completed.
func (s RunStats) ScopesSucceeded() int {
	n := s.ScopesPlanned - s.ScopesFailed
	if n < 0 {
		return 0
	}
	return n
}
