package artifact

import (
	"context"
	"strings"

	"github.com/dvloznov/audible-pipeline/internal/domain"
)

// Store persists artifacts by name. Readers never observe a partially
// written artifact: Write either replaces the previous artifact wholesale
// or leaves it untouched.
type Store interface {
	// Write atomically replaces the named artifact with t.
	Write(ctx context.Context, name string, t domain.Table) error

	// Read loads the named artifact.
	Read(ctx context.Context, name string) (domain.Table, error)

	// Location returns a human-readable location of the named artifact.
	Location(name string) string

	// Close releases backend resources.
	Close() error
}

// NewStore picks a backend from location: gs://bucket/prefix selects Cloud
// Storage, anything else is treated as a local directory.
func NewStore(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, gcsScheme) {
		return NewGCSStore(ctx, location)
	}
	return NewLocalStore(location)
}
