// Package catalog resolves opaque item identifiers to media source paths by
// querying the upstream media-library server.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrNoMatchingSource is returned when the upstream item has no media
	// source with the requested ID.
	ErrNoMatchingSource = errors.New("catalog: no matching media source")
	// ErrUpstream is returned when the upstream cannot be reached or
	// responds with a non-2xx status.
	ErrUpstream = errors.New("catalog: upstream request failed")
)

// Client resolves (item, media source) pairs to the path the library server
// knows for them. The path may be a local filesystem path, a remote URL, or
// a .strm indirection file.
type Client interface {
	ResolvePath(ctx context.Context, itemID, mediaSourceID, token string) (string, error)
}
