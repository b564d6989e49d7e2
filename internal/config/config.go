// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config loads and validates the pipeline configuration from the
// viper-managed YAML file, environment overrides, and the optional
// .secrets/ directory.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pdiddy/papersort/internal/secrets"
	"github.com/pdiddy/papersort/pkg/types"
)

// Error marks a configuration problem. The CLI maps it to exit code 2,
// before any network activity has happened.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "configuration: " + e.Reason }

// errorf builds an *Error from a format string.
func errorf(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// requiredKeys must be non-empty after defaults, env, and secrets merge.
var requiredKeys = []string{"paperless_url", "paperless_token", "ai_api_key", "ai_model"}

// SetDefaults installs the default value for every optional key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("ai_base_url", "https://api.openai.com/v1")
	v.SetDefault("max_documents", 25)
	v.SetDefault("dry_run", false)
	v.SetDefault("create_missing_entities", true)
	v.SetDefault("confidence_threshold", 0.70)
	v.SetDefault("process_only_tag", "")
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("custom_prompt_instructions", "")
	v.SetDefault("include_existing_entities_in_prompt", true)
	v.SetDefault("enable_token_precheck", false)
	v.SetDefault("min_remaining_tokens", 1500)
	v.SetDefault("classify_requests_per_minute", 0)
	v.SetDefault("enable_ai_notes", true)
	v.SetDefault("ai_notes_max_chars", 800)
	v.SetDefault("enable_ai_note_summary", true)
	v.SetDefault("ai_note_summary_max_chars", 220)
	v.SetDefault("processed_tag", "ai-processed")
	v.SetDefault("inbox_tag", "inbox")
	v.SetDefault("error_tag", "ai-failed")
	v.SetDefault("state_backend", types.StateBackendFile)
	v.SetDefault("state_db_file", "papersort.db")
	v.SetDefault("metrics_file", "run_metrics.json")
	v.SetDefault("run_history_file", "run_history.json")
	v.SetDefault("failed_documents_file", "failed_documents.json")
	v.SetDefault("failed_patch_cache_file", "failed_patch_cache.json")
	v.SetDefault("quarantine_failed_documents", true)
	v.SetDefault("failed_document_cooldown_hours", 24)
	v.SetDefault("failed_tags_only_cooldown_hours", 168)
	v.SetDefault("input_cost_per_1k_tokens_eur", 0.0)
	v.SetDefault("output_cost_per_1k_tokens_eur", 0.0)
}

// Load unmarshals and validates the configuration. Tokens missing from the
// file are filled from secretsDir before required-field validation.
func Load(v *viper.Viper, secretsDir string) (types.Config, error) {
	SetDefaults(v)

	// Required keys have no default, so AutomaticEnv alone never exposes
	// them to Unmarshal; bind them so PAPERSORT_* can stand in for the file.
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return types.Config{}, errorf("binding %s: %v", key, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, errorf("unmarshaling config: %v", err)
	}

	if secretsDir != "" {
		loaded, err := secrets.Load(secretsDir)
		if err != nil {
			return types.Config{}, errorf("loading secrets: %v", err)
		}
		if cfg.PaperlessToken == "" {
			cfg.PaperlessToken = loaded[secrets.KeyPaperlessToken]
		}
		if cfg.AIAPIKey == "" {
			cfg.AIAPIKey = loaded[secrets.KeyAIAPIKey]
		}
	}

	cfg.PaperlessURL = strings.TrimRight(strings.TrimSpace(cfg.PaperlessURL), "/")
	cfg.AIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.AIBaseURL), "/")
	cfg.ProcessOnlyTag = strings.TrimSpace(cfg.ProcessOnlyTag)
	cfg.CustomPromptInstructions = strings.TrimSpace(cfg.CustomPromptInstructions)

	if err := validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func validate(cfg types.Config) error {
	var missing []string
	values := map[string]string{
		"paperless_url":   cfg.PaperlessURL,
		"paperless_token": cfg.PaperlessToken,
		"ai_api_key":      cfg.AIAPIKey,
		"ai_model":        cfg.AIModel,
	}
	for _, key := range requiredKeys {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errorf("missing required fields: %s", strings.Join(missing, ", "))
	}

	if cfg.MaxDocuments <= 0 {
		return errorf("max_documents must be positive, got %d", cfg.MaxDocuments)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return errorf("confidence_threshold must be within [0,1], got %g", cfg.ConfidenceThreshold)
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		return errorf("request_timeout_seconds must be positive, got %d", cfg.RequestTimeoutSeconds)
	}
	switch cfg.StateBackend {
	case types.StateBackendFile, types.StateBackendSQLite:
	default:
		return errorf("state_backend must be %q or %q, got %q",
			types.StateBackendFile, types.StateBackendSQLite, cfg.StateBackend)
	}
	return nil
}
