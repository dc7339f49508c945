package storagepool

import (
	"context"
	"io"
)

// Driver is the storage driver contract consumed by the pool (spec §6):
// one scheme, streamed save/load, delete, existence check. Callers of
// Load are responsible for closing the returned stream on every exit
// path.
type Driver interface {
	Scheme() string
	Save(ctx context.Context, uri string, r io.Reader) error
	Load(ctx context.Context, uri string) (io.ReadCloser, error)
	Delete(ctx context.Context, uri string) error
	Exists(ctx context.Context, uri string) (bool, error)
}

// Renamer is an optional capability a Driver may implement: an atomic
// (or near-atomic) move from src to dst, used to promote a staging write
// to its final content-addressed URI without a copy+delete round trip.
type Renamer interface {
	Rename(ctx context.Context, src, dst string) error
}
