// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "sort"

// Patch field names as they appear on the document PATCH endpoint.
const (
	FieldDocumentType  = "document_type"
	FieldCorrespondent = "correspondent"
	FieldStoragePath   = "storage_path"
	FieldCreated       = "created"
	FieldTags          = "tags"
)

// PatchFieldOrder is the order used when a failed write-back is retried
// one field at a time.
var PatchFieldOrder = []string{
	FieldDocumentType,
	FieldCorrespondent,
	FieldStoragePath,
	FieldCreated,
	FieldTags,
}

// Patch is a sparse set of field → value assignments destined for the
// document store. Entity fields hold int ids, FieldTags holds []int, and
// FieldCreated holds a YYYY-MM-DD string. A field is present only when it
// should be written.
type Patch map[string]any

// Clone returns a shallow copy with the tag slice duplicated.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	out := make(Patch, len(p))
	for k, v := range p {
		if tags, ok := v.([]int); ok {
			out[k] = append([]int(nil), tags...)
			continue
		}
		out[k] = v
	}
	return out
}

// IsEmpty reports whether the patch has no fields left to write.
func (p Patch) IsEmpty() bool { return len(p) == 0 }

// TagsOnly reports whether the patch touches the tags field and nothing else.
func (p Patch) TagsOnly() bool {
	if len(p) != 1 {
		return false
	}
	_, ok := p[FieldTags]
	return ok
}

// EntityID returns the id assigned to an entity field.
func (p Patch) EntityID(field string) (int, bool) {
	v, ok := p[field]
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

// TagIDs returns the tag ids assigned to the tags field.
func (p Patch) TagIDs() ([]int, bool) {
	v, ok := p[FieldTags]
	if !ok {
		return nil, false
	}
	ids, ok := v.([]int)
	return ids, ok
}

// SetTags assigns a deduplicated, sorted tag set.
func (p Patch) SetTags(ids []int) {
	seen := make(map[int]bool, len(ids))
	deduped := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			deduped = append(deduped, id)
		}
	}
	sort.Ints(deduped)
	p[FieldTags] = deduped
}

// NormalizePatch rebuilds a Patch from generically decoded JSON (numbers
// arrive as float64, tag lists as []any). Unknown fields and malformed
// values are dropped rather than trusted.
func NormalizePatch(raw map[string]any) Patch {
	patch := Patch{}
	for _, field := range PatchFieldOrder {
		v, ok := raw[field]
		if !ok {
			continue
		}
		switch field {
		case FieldCreated:
			if s, ok := v.(string); ok && s != "" {
				patch[field] = s
			}
		case FieldTags:
			list, ok := v.([]any)
			if !ok {
				continue
			}
			var ids []int
			for _, el := range list {
				if f, ok := el.(float64); ok {
					ids = append(ids, int(f))
				}
			}
			if len(ids) > 0 {
				patch.SetTags(ids)
			}
		default:
			if f, ok := v.(float64); ok {
				patch[field] = int(f)
			} else if id, ok := v.(int); ok {
				patch[field] = id
			}
		}
	}
	return patch
}
