// Package storage archives analytics reports as blobs.
package storage

import "context"

// Archive defines the contract for blob archive operations
type Archive interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns blob names with the given prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}
