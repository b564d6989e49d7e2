// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Usage holds the token counts reported by the classification endpoint
// for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Total returns the total token count, falling back to prompt+completion
// when the endpoint omits the total.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another call's counts.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.Total()
}

// Classification is the validated model output for one document. Labels
// are free text, not store ids; empty strings mean the field is absent.
// A Classification only exists after strict validation; callers never
// see a partially valid result.
type Classification struct {
	DocumentType  string   `json:"document_type"`
	Correspondent string   `json:"correspondent"`
	StoragePath   string   `json:"storage_path"`
	Tags          []string `json:"tags"`
	DocumentDate  string   `json:"document_date,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	Confidence    float64  `json:"confidence"`
	Rationale     string   `json:"rationale,omitempty"`

	// Usage is call metadata, not model output.
	Usage Usage `json:"-"`
}
