// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// State backend selectors for persisted pipeline state.
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
)

// Config is the full pipeline configuration, loaded from the YAML config
// file with PAPERSORT_* environment overrides. Required fields are
// validated by internal/config before any network activity.
type Config struct {
	// Document store access.
	PaperlessURL   string `mapstructure:"paperless_url" yaml:"paperless_url"`
	PaperlessToken string `mapstructure:"paperless_token" yaml:"paperless_token"`

	// Classification endpoint access.
	AIAPIKey  string `mapstructure:"ai_api_key" yaml:"ai_api_key"`
	AIModel   string `mapstructure:"ai_model" yaml:"ai_model"`
	AIBaseURL string `mapstructure:"ai_base_url" yaml:"ai_base_url"`

	// Scan behavior.
	MaxDocuments          int     `mapstructure:"max_documents" yaml:"max_documents"`
	DryRun                bool    `mapstructure:"dry_run" yaml:"dry_run"`
	CreateMissingEntities bool    `mapstructure:"create_missing_entities" yaml:"create_missing_entities"`
	ConfidenceThreshold   float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	ProcessOnlyTag        string  `mapstructure:"process_only_tag" yaml:"process_only_tag"`

	// HTTP and logging.
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	LogLevel              string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat             string `mapstructure:"log_format" yaml:"log_format"`

	// Prompt assembly.
	CustomPromptInstructions        string         `mapstructure:"custom_prompt_instructions" yaml:"custom_prompt_instructions"`
	BaselineRules                   map[string]any `mapstructure:"baseline_rules" yaml:"baseline_rules"`
	IncludeExistingEntitiesInPrompt bool           `mapstructure:"include_existing_entities_in_prompt" yaml:"include_existing_entities_in_prompt"`

	// Token-budget preflight and pacing.
	EnableTokenPrecheck       bool `mapstructure:"enable_token_precheck" yaml:"enable_token_precheck"`
	MinRemainingTokens        int  `mapstructure:"min_remaining_tokens" yaml:"min_remaining_tokens"`
	ClassifyRequestsPerMinute int  `mapstructure:"classify_requests_per_minute" yaml:"classify_requests_per_minute"`

	// Notes written back to updated documents.
	EnableAINotes         bool `mapstructure:"enable_ai_notes" yaml:"enable_ai_notes"`
	AINotesMaxChars       int  `mapstructure:"ai_notes_max_chars" yaml:"ai_notes_max_chars"`
	EnableAINoteSummary   bool `mapstructure:"enable_ai_note_summary" yaml:"enable_ai_note_summary"`
	AINoteSummaryMaxChars int  `mapstructure:"ai_note_summary_max_chars" yaml:"ai_note_summary_max_chars"`

	// Forced tag policy.
	ProcessedTag string `mapstructure:"processed_tag" yaml:"processed_tag"`
	InboxTag     string `mapstructure:"inbox_tag" yaml:"inbox_tag"`
	ErrorTag     string `mapstructure:"error_tag" yaml:"error_tag"`

	// Persisted state.
	StateBackend         string `mapstructure:"state_backend" yaml:"state_backend"`
	StateDBFile          string `mapstructure:"state_db_file" yaml:"state_db_file"`
	MetricsFile          string `mapstructure:"metrics_file" yaml:"metrics_file"`
	RunHistoryFile       string `mapstructure:"run_history_file" yaml:"run_history_file"`
	FailedDocumentsFile  string `mapstructure:"failed_documents_file" yaml:"failed_documents_file"`
	FailedPatchCacheFile string `mapstructure:"failed_patch_cache_file" yaml:"failed_patch_cache_file"`

	// Failure quarantine.
	QuarantineFailedDocuments   bool `mapstructure:"quarantine_failed_documents" yaml:"quarantine_failed_documents"`
	FailedDocumentCooldownHours int  `mapstructure:"failed_document_cooldown_hours" yaml:"failed_document_cooldown_hours"`
	FailedTagsOnlyCooldownHours int  `mapstructure:"failed_tags_only_cooldown_hours" yaml:"failed_tags_only_cooldown_hours"`

	// Cost accounting, EUR per 1000 tokens.
	InputCostPer1KTokensEUR  float64 `mapstructure:"input_cost_per_1k_tokens_eur" yaml:"input_cost_per_1k_tokens_eur"`
	OutputCostPer1KTokensEUR float64 `mapstructure:"output_cost_per_1k_tokens_eur" yaml:"output_cost_per_1k_tokens_eur"`
}

// RequestTimeout returns the HTTP timeout as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// FailedDocumentCooldown returns the general quarantine cooldown.
func (c Config) FailedDocumentCooldown() time.Duration {
	return time.Duration(max(0, c.FailedDocumentCooldownHours)) * time.Hour
}

// FailedTagsOnlyCooldown returns the extended cooldown for tags-only failures.
func (c Config) FailedTagsOnlyCooldown() time.Duration {
	return time.Duration(max(0, c.FailedTagsOnlyCooldownHours)) * time.Hour
}

// Cost converts token usage to EUR under the configured pricing.
func (c Config) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000.0*c.InputCostPer1KTokensEUR +
		float64(u.CompletionTokens)/1000.0*c.OutputCostPer1KTokensEUR
}
