package digest

import (
	"context"
	"fmt"

	"github.com/cherryfeed/cherry/internal/cache"
	"go.uber.org/zap"
)

// PurgeStore removes a user's digests from the system of record.
type PurgeStore interface {
	DeleteByUser(ctx context.Context, userID string) error
}

// Invalidator drops every cached digest of a user from both tiers.
type Invalidator struct {
	cache  *cache.Layer
	store  PurgeStore
	logger *zap.Logger
}

// NewInvalidator creates an Invalidator.
func NewInvalidator(layer *cache.Layer, store PurgeStore, logger *zap.Logger) *Invalidator {
	return &Invalidator{
		cache:  layer,
		store:  store,
		logger: logger.Named("digest_invalidator"),
	}
}

// Invalidate removes all digests of the user.
func (i *Invalidator) Invalidate(ctx context.Context, userID string) error {
	i.cache.Delete(ctx, cache.NamespaceDigest, userID+":*")

	if err := i.store.DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate digests of user %s: %w", userID, err)
	}

	i.logger.Debug("Invalidated digests", zap.String("userID", userID))

	return nil
}
