package storage

import "context"

// Storage persists run artifacts relative to a base directory.
type Storage interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	// Append adds data to the end of path, creating it when missing.
	Append(ctx context.Context, path string, data []byte) error
}
