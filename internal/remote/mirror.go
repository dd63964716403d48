// Package remote talks to the cloud copy of each user's catalog.
package remote

import (
	"context"

	"smartshop/internal/domain"
)

// Snapshot is one delivery from a subscription: either the owner's full
// product set or the error that interrupted the stream. A subscription keeps
// running after an error and delivers a fresh set once it recovers.
type Snapshot struct {
	Products []domain.Product
	Err      error
}

// Mirror is the remote catalog, scoped by owner. Writes are last-writer-wins
// per product.
type Mirror interface {
	Upsert(ctx context.Context, ownerID string, p domain.Product) error
	UpsertBatch(ctx context.Context, ownerID string, products []domain.Product) error
	Delete(ctx context.Context, ownerID, productID string) error
	// Subscribe delivers the owner's products on subscribe and after every
	// remote change until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error)
}
