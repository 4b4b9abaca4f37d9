// Package storage publishes generated artifacts and returns a public URL for
// them.
package storage

import "context"

// Backend publishes data under name and returns the URL it can be fetched
// from. Failures wrap domain.ErrPublication.
type Backend interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}
