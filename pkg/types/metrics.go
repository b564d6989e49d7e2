// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// LastRun is the metrics snapshot of the most recent run.
type LastRun struct {
	RunID            string  `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	PromptTokens     int     `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens" yaml:"total_tokens"`
	CostEUR          float64 `json:"cost_eur" yaml:"cost_eur"`
	FinishedAt       string  `json:"finished_at" yaml:"finished_at"`
	Model            string  `json:"model" yaml:"model"`
}

// Totals accumulates lifetime counters across runs. All fields are
// monotonically non-decreasing.
type Totals struct {
	PromptTokens     int     `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens" yaml:"total_tokens"`
	CostEUR          float64 `json:"cost_eur" yaml:"cost_eur"`
	Runs             int     `json:"runs" yaml:"runs"`
}

// MetricsSnapshot is the persisted run-metrics document: the most recent
// run plus lifetime totals.
type MetricsSnapshot struct {
	LastRun LastRun `json:"last_run" yaml:"last_run"`
	Totals  Totals  `json:"totals" yaml:"totals"`
}

// Record replaces the last-run snapshot and folds its counters into the
// lifetime totals.
func (s *MetricsSnapshot) Record(run LastRun) {
	s.LastRun = run
	s.Totals.PromptTokens += run.PromptTokens
	s.Totals.CompletionTokens += run.CompletionTokens
	s.Totals.TotalTokens += run.TotalTokens
	s.Totals.CostEUR += run.CostEUR
	s.Totals.Runs++
}

// RunRecord is one entry in the persisted run history.
type RunRecord struct {
	RunID            string  `json:"run_id" yaml:"run_id"`
	FinishedAt       string  `json:"finished_at" yaml:"finished_at"`
	Model            string  `json:"model" yaml:"model"`
	Scanned          int     `json:"scanned" yaml:"scanned"`
	Updated          int     `json:"updated" yaml:"updated"`
	Skipped          int     `json:"skipped" yaml:"skipped"`
	Failed           int     `json:"failed" yaml:"failed"`
	PromptTokens     int     `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens" yaml:"total_tokens"`
	CostEUR          float64 `json:"cost_eur" yaml:"cost_eur"`
}
