// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the shared data model: documents, entity mappings,
// classification results, patches, configuration, and run metrics.
package types

import "sort"

// Document is a point-in-time snapshot of one document in the store.
// The pipeline treats it as immutable for the duration of one processing
// attempt; the store remains the system of record.
type Document struct {
	ID            int    `json:"id"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	DocumentType  *int   `json:"document_type"`
	Correspondent *int   `json:"correspondent"`
	StoragePath   *int   `json:"storage_path"`
	Tags          []int  `json:"tags"`
	Created       string `json:"created"`
}

// TagSet returns the document's current tag ids as a set.
func (d Document) TagSet() map[int]bool {
	set := make(map[int]bool, len(d.Tags))
	for _, id := range d.Tags {
		set[id] = true
	}
	return set
}

// EntityKind identifies one of the store's metadata taxonomies.
type EntityKind string

const (
	KindTag           EntityKind = "tags"
	KindDocumentType  EntityKind = "document_types"
	KindCorrespondent EntityKind = "correspondents"
	KindStoragePath   EntityKind = "storage_paths"
)

// EntityKinds lists all taxonomies in the order they are loaded and reported.
var EntityKinds = []EntityKind{KindTag, KindDocumentType, KindCorrespondent, KindStoragePath}

// Endpoint returns the REST collection path for the kind.
func (k EntityKind) Endpoint() string { return "/api/" + string(k) + "/" }

// Mapping caches lower-cased entity labels to store ids for one kind.
// It is loaded once per run and mutated in place as entities are created.
type Mapping map[string]int

// Labels returns the cached labels, sorted and deduplicated, for use as
// prompt context.
func (m Mapping) Labels() []string {
	labels := make([]string, 0, len(m))
	for label := range m {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Reverse returns an id → label view for log and note rendering.
func (m Mapping) Reverse() map[int]string {
	rev := make(map[int]string, len(m))
	for label, id := range m {
		rev[id] = label
	}
	return rev
}

// Mappings groups the per-kind caches for one run. Single writer (the
// entity resolver); read afterward by label-lookup code.
type Mappings struct {
	Tags           Mapping
	DocumentTypes  Mapping
	Correspondents Mapping
	StoragePaths   Mapping
}

// ByKind returns the cache for the given kind.
func (m *Mappings) ByKind(kind EntityKind) Mapping {
	switch kind {
	case KindTag:
		return m.Tags
	case KindDocumentType:
		return m.DocumentTypes
	case KindCorrespondent:
		return m.Correspondents
	case KindStoragePath:
		return m.StoragePaths
	}
	return nil
}
