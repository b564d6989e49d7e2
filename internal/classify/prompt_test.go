// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pdiddy/papersort/pkg/types"
)

// --- renderSystemPrompt ---

func TestRenderSystemPromptMinimal(t *testing.T) {
	prompt, err := renderSystemPrompt("", nil, nil)
	if err != nil {
		t.Fatalf("renderSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "document_type, correspondent, storage_path, tags") {
		t.Errorf("prompt = %q, should name the required fields", prompt)
	}
	if strings.Contains(prompt, "project-specific rules") {
		t.Error("prompt should omit the rules section when no instructions are set")
	}
	if strings.Contains(prompt, "inventory") {
		t.Error("prompt should omit known labels when none are given")
	}
}

func TestRenderSystemPromptSections(t *testing.T) {
	labels := &types.Mappings{
		DocumentTypes:  types.Mapping{"invoice": 1, "contract": 2},
		Correspondents: types.Mapping{"acme corp": 3},
		StoragePaths:   types.Mapping{"finance": 4},
	}
	baseline := map[string]any{"tag_rules": []string{"taxes"}}

	prompt, err := renderSystemPrompt("Prefer German labels.", baseline, labels)
	if err != nil {
		t.Fatalf("renderSystemPrompt: %v", err)
	}
	if !strings.Contains(prompt, "Prefer German labels.") {
		t.Errorf("prompt = %q, should carry the operator instructions", prompt)
	}
	if !strings.Contains(prompt, `"tag_rules":["taxes"]`) {
		t.Errorf("prompt = %q, should carry compact baseline JSON", prompt)
	}
	for _, want := range []string{"known_document_types", "contract", "invoice", "acme corp", "finance"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt should list %q", want)
		}
	}
}

// --- userMessage ---

func TestUserMessage(t *testing.T) {
	doc := types.Document{ID: 3, Title: "Mietvertrag", Content: "Wohnung in Berlin", Created: "2023-11-02T00:00:00Z"}
	msg, err := userMessage(doc, []string{"inbox", "rental"})
	if err != nil {
		t.Fatalf("userMessage: %v", err)
	}

	_, payload, ok := strings.Cut(msg, "\n")
	if !ok {
		t.Fatalf("message = %q, want instruction line plus JSON", msg)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if decoded["title"] != "Mietvertrag" {
		t.Errorf("title = %v", decoded["title"])
	}
	if decoded["content_preview"] != "Wohnung in Berlin" {
		t.Errorf("content_preview = %v", decoded["content_preview"])
	}
	tags, _ := decoded["current_tags"].([]any)
	if len(tags) != 2 {
		t.Errorf("current_tags = %v", decoded["current_tags"])
	}
}

func TestUserMessageTruncatesContent(t *testing.T) {
	long := strings.Repeat("ä", maxContentPreview) // 2 bytes per rune
	msg, err := userMessage(types.Document{Content: long}, nil)
	if err != nil {
		t.Fatalf("userMessage: %v", err)
	}

	_, payload, _ := strings.Cut(msg, "\n")
	var decoded struct {
		Preview string `json:"content_preview"`
	}
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if len(decoded.Preview) > maxContentPreview {
		t.Errorf("preview length = %d, want at most %d bytes", len(decoded.Preview), maxContentPreview)
	}
	if !strings.HasPrefix(long, decoded.Preview) || decoded.Preview == "" {
		t.Error("preview must be a clean prefix of the content")
	}
}

func TestUserMessageEmptyTags(t *testing.T) {
	msg, err := userMessage(types.Document{Title: "x"}, nil)
	if err != nil {
		t.Fatalf("userMessage: %v", err)
	}
	if !strings.Contains(msg, `"current_tags":[]`) {
		t.Errorf("message = %q, nil tags should encode as an empty list", msg)
	}
}
