// Package store defines the persistence interface shared by the live
// document-store adapter and the in-memory fallback collection.
//
// Every mutation the live backend supports has a fallback-store
// equivalent with the same observable effect on subsequent queries:
// a create appears in listings, a delete disappears, an update changes
// fields. That symmetry is what lets the query engine treat either
// backend as an opaque snapshot source.
package store

import (
	"context"
	"errors"

	"github.com/lotwire/lotwire/pkg/vehicle"
)

// ErrNotFound is returned when a mutation target does not exist in
// the backend. Surfaced to the caller, never retried.
var ErrNotFound = errors.New("vehicle not found")

// Store is the inventory persistence contract.
//
// Snapshot returns the full collection in a stable order with no
// filtering or sorting applied; callers must treat it as opaque data
// and run all query logic themselves.
type Store interface {
	Snapshot(ctx context.Context) ([]vehicle.Vehicle, error)
	Get(ctx context.Context, id string) (*vehicle.Vehicle, error)
	Create(ctx context.Context, v *vehicle.Vehicle) error
	Update(ctx context.Context, v *vehicle.Vehicle) error
	Delete(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status vehicle.Status, note string) (*vehicle.Vehicle, error)
}
