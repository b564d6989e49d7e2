// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline orchestrates a classification run: scan documents,
// classify, resolve labels to store ids, build and filter patches, write
// back, and account tokens and cost.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pdiddy/papersort/pkg/types"
)

// EntityCreator is the subset of the document store the resolver needs.
type EntityCreator interface {
	CreateEntity(ctx context.Context, kind types.EntityKind, label string) (int, error)
}

// Resolver turns free-text labels from the model into store ids, creating
// missing entities when allowed. Lookups are case-insensitive against the
// run's mapping cache; creations update the cache in place so later
// documents in the same run see them.
type Resolver struct {
	store       EntityCreator
	mappings    *types.Mappings
	allowCreate bool
	created     map[types.EntityKind][]string
	log         *slog.Logger
}

func NewResolver(store EntityCreator, mappings *types.Mappings, allowCreate bool, log *slog.Logger) *Resolver {
	return &Resolver{
		store:       store,
		mappings:    mappings,
		allowCreate: allowCreate,
		created:     map[types.EntityKind][]string{},
		log:         log,
	}
}

// Resolve maps a label to an id. The second return is false when the field
// should stay unset: empty label, or unknown label with creation disabled.
// A failed creation is an error; it means the run is degraded, not the
// document.
func (r *Resolver) Resolve(ctx context.Context, kind types.EntityKind, label string) (int, bool, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false, nil
	}

	mapping := r.mappings.ByKind(kind)
	key := strings.ToLower(label)
	if id, ok := mapping[key]; ok {
		return id, true, nil
	}

	if !r.allowCreate {
		r.log.Info("entity unknown and auto-create disabled", "kind", kind, "label", label)
		return 0, false, nil
	}

	id, err := r.store.CreateEntity(ctx, kind, label)
	if err != nil {
		return 0, false, err
	}
	mapping[key] = id
	r.created[kind] = append(r.created[kind], label)
	r.log.Info("created entity", "kind", kind, "label", label, "id", id)
	return id, true, nil
}

// Created reports the labels created during this run, per kind.
func (r *Resolver) Created() map[types.EntityKind][]string { return r.created }

// SanitizeClassification drops obviously wrong model values. A
// correspondent that matches an existing storage path label is almost
// always a field mix-up and is discarded.
func SanitizeClassification(c types.Classification, storagePaths types.Mapping, log *slog.Logger) types.Classification {
	correspondent := strings.TrimSpace(c.Correspondent)
	if correspondent != "" {
		if _, collides := storagePaths[strings.ToLower(correspondent)]; collides {
			log.Warn("discarding correspondent that matches a storage path", "correspondent", correspondent)
			c.Correspondent = ""
		}
	}
	return c
}

// NormalizeISODate reduces a date or datetime string to YYYY-MM-DD. The
// second return is false for empty or unparseable input.
func NormalizeISODate(value string) (string, bool) {
	candidate := strings.TrimSpace(value)
	if candidate == "" {
		return "", false
	}
	if i := strings.IndexAny(candidate, "T "); i >= 0 {
		candidate = candidate[:i]
	}
	parsed, err := time.Parse("2006-01-02", candidate)
	if err != nil {
		return "", false
	}
	return parsed.Format("2006-01-02"), true
}
