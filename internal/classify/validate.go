// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pdiddy/papersort/pkg/types"
)

// requiredFields must all be present in the model output. Strict checks
// here catch silent data errors before they reach the store.
var requiredFields = []string{"document_type", "correspondent", "storage_path", "tags", "confidence"}

// parseClassification decodes and validates the first choice of a chat
// response. The attached usage counts come from the response envelope,
// never from the model text.
func parseClassification(resp *chatResponse) (types.Classification, error) {
	if len(resp.Choices) == 0 {
		return types.Classification{}, fmt.Errorf("response has no choices")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return types.Classification{}, fmt.Errorf("model output is not JSON: %w", err)
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := payload[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return types.Classification{}, fmt.Errorf("model output missing required fields: %s", strings.Join(missing, ", "))
	}

	rawTags, ok := payload["tags"].([]any)
	if !ok {
		return types.Classification{}, fmt.Errorf("model output field tags must be a list")
	}
	tags := make([]string, 0, len(rawTags))
	for _, tag := range rawTags {
		label := strings.TrimSpace(asString(tag))
		if label != "" {
			tags = append(tags, label)
		}
	}

	confidence, err := asFloat(payload["confidence"])
	if err != nil {
		return types.Classification{}, fmt.Errorf("model output field confidence: %w", err)
	}
	if confidence < 0 || confidence > 1 {
		return types.Classification{}, fmt.Errorf("model output field confidence must be between 0 and 1, got %v", confidence)
	}

	date, err := stringOrNull(payload, "document_date")
	if err != nil {
		return types.Classification{}, err
	}
	summary, err := stringOrNull(payload, "summary")
	if err != nil {
		return types.Classification{}, err
	}

	return types.Classification{
		DocumentType:  strings.TrimSpace(asString(payload["document_type"])),
		Correspondent: strings.TrimSpace(asString(payload["correspondent"])),
		StoragePath:   strings.TrimSpace(asString(payload["storage_path"])),
		Tags:          tags,
		DocumentDate:  date,
		Summary:       summary,
		Confidence:    confidence,
		Rationale:     strings.TrimSpace(asString(payload["rationale"])),
		Usage:         resp.Usage,
	}, nil
}

// asString renders a JSON value as text; nil becomes the empty string.
func asString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// asFloat accepts a JSON number or a numeric string.
func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// stringOrNull enforces that an optional field is a string or null.
func stringOrNull(payload map[string]any, field string) (string, error) {
	value, ok := payload[field]
	if !ok || value == nil {
		return "", nil
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("model output field %s must be a string or null", field)
	}
	return s, nil
}
