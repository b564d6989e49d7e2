// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
	"unicode/utf8"

	"github.com/pdiddy/papersort/pkg/types"
)

// maxContentPreview bounds the document text sent to the model. The cap
// controls token cost and latency; filing decisions rarely need more than
// the opening pages.
const maxContentPreview = 6000

// systemPromptTmpl is the fixed instruction set sent with every document.
// The optional sections carry operator rules, the structured baseline
// configuration as compact JSON, and the store's existing labels.
var systemPromptTmpl = template.Must(template.New("system").Parse(`You are a precise document classifier for Paperless-ngx. Respond strictly as JSON with the fields: document_type, correspondent, storage_path, tags (list), document_date (YYYY-MM-DD or null), summary, confidence (0-1), rationale. No extra keys, no Markdown output.
{{- if .Instructions}}

Additional project-specific rules (high priority):
{{.Instructions}}
{{- end}}
{{- if .BaselineRules}}

Structured baseline configuration (prioritized, compact):
{{.BaselineRules}}
{{- end}}
{{- if .Known}}

Prefer existing values from this inventory and do not invent new ones unnecessarily:
{{.Known}}
{{- end}}`))

func renderSystemPrompt(instructions string, baseline map[string]any, labels *types.Mappings) (string, error) {
	data := struct {
		Instructions  string
		BaselineRules string
		Known         string
	}{Instructions: instructions}

	if len(baseline) > 0 {
		compact, err := json.Marshal(baseline)
		if err != nil {
			return "", fmt.Errorf("marshaling baseline rules: %w", err)
		}
		data.BaselineRules = string(compact)
	}

	if labels != nil {
		known, err := json.Marshal(map[string][]string{
			"known_document_types": labels.DocumentTypes.Labels(),
			"known_correspondents": labels.Correspondents.Labels(),
			"known_storage_paths":  labels.StoragePaths.Labels(),
		})
		if err != nil {
			return "", fmt.Errorf("marshaling known labels: %w", err)
		}
		data.Known = string(known)
	}

	var buf bytes.Buffer
	if err := systemPromptTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// userMessage renders the per-document payload: title, a bounded content
// preview, the created date, and the names of the tags already attached.
func userMessage(doc types.Document, currentTags []string) (string, error) {
	preview := doc.Content
	if len(preview) > maxContentPreview {
		cut := maxContentPreview
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut]
	}
	if currentTags == nil {
		currentTags = []string{}
	}

	payload, err := json.Marshal(map[string]any{
		"title":           doc.Title,
		"content_preview": preview,
		"created":         doc.Created,
		"current_tags":    currentTags,
	})
	if err != nil {
		return "", err
	}
	return "Classify this document for a filing structure.\n" + string(payload), nil
}
