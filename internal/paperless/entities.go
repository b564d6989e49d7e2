// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package paperless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/papersort/pkg/types"
)

// entityRecord is a tag, document type, correspondent, or storage path as
// the API lists it. Storage paths carry their label in path; everything
// else uses name.
type entityRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

type entityPage struct {
	Next    string         `json:"next"`
	Results []entityRecord `json:"results"`
}

// ListEntities loads every entity of the given kind as a lowercase
// label-to-id mapping. Entities without a usable label are skipped.
func (c *Client) ListEntities(ctx context.Context, kind types.EntityKind) (types.Mapping, error) {
	mapping := types.Mapping{}

	params := url.Values{"page_size": {"100"}}
	next := kind.Endpoint()
	for next != "" {
		var page entityPage
		if err := c.request(ctx, http.MethodGet, next, params, nil, &page, 0); err != nil {
			return nil, storeErr(fmt.Sprintf("listing %s", kind), err)
		}
		params = nil

		for _, item := range page.Results {
			label := strings.TrimSpace(item.Name)
			if label == "" {
				label = strings.TrimSpace(item.Path)
			}
			if label == "" {
				continue
			}
			mapping[strings.ToLower(label)] = item.ID
		}
		next = page.Next
	}

	return mapping, nil
}

// storagePathPayloads returns the creation payload shapes tried in order
// for storage paths. Paperless versions disagree on which fields the
// endpoint requires, so each shape gets a single attempt.
func storagePathPayloads(label string) []map[string]string {
	return []map[string]string{
		{"name": label, "path": label},
		{"path": label},
		{"name": label},
	}
}

// CreateEntity creates a named entity of the given kind and returns its id.
// Storage paths work through the payload-shape fallback; other kinds post
// a plain name payload with the usual retry budget.
func (c *Client) CreateEntity(ctx context.Context, kind types.EntityKind, label string) (int, error) {
	label = strings.TrimSpace(label)
	op := fmt.Sprintf("creating %s %q", kind, label)
	if label == "" {
		return 0, storeErr(op, fmt.Errorf("empty label"))
	}

	if kind == types.KindStoragePath {
		var lastErr error
		for _, payload := range storagePathPayloads(label) {
			var created entityRecord
			if err := c.request(ctx, http.MethodPost, kind.Endpoint(), nil, payload, &created, 1); err != nil {
				lastErr = err
				continue
			}
			if created.ID == 0 {
				return 0, storeErr(op, fmt.Errorf("response without id"))
			}
			return created.ID, nil
		}
		return 0, storeErr(op, lastErr)
	}

	var created entityRecord
	if err := c.request(ctx, http.MethodPost, kind.Endpoint(), nil, map[string]string{"name": label}, &created, 0); err != nil {
		return 0, storeErr(op, err)
	}
	if created.ID == 0 {
		return 0, storeErr(op, fmt.Errorf("response without id"))
	}
	return created.ID, nil
}
