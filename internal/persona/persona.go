// Package persona serves the per-user context read by the digest engine.
package persona

import (
	"context"
	"time"

	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"go.uber.org/zap"
)

// Store is the system of record for personas.
type Store interface {
	Get(ctx context.Context, userID string) (*types.Persona, error)
	Touch(ctx context.Context, userID string, at time.Time) error
}

// Service reads personas through a read-through cache.
type Service struct {
	store  Store
	cache  *cache.Layer
	ttl    time.Duration
	logger *zap.Logger
}

// NewService creates a persona service.
func NewService(store Store, layer *cache.Layer, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		cache:  layer,
		ttl:    ttl,
		logger: logger.Named("persona"),
	}
}

// Get returns the persona of a user, or nil if the user has none.
func (s *Service) Get(ctx context.Context, userID string) (*types.Persona, error) {
	if cached, ok := cache.GetJSON[types.Persona](ctx, s.cache, cache.NamespacePersona, userID); ok {
		return cached, nil
	}

	persona, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if persona != nil {
		s.cache.SetJSON(ctx, cache.NamespacePersona, userID, persona, s.ttl)
	}

	return persona, nil
}

// LastActive returns the user's last activity time and whether it is known.
func (s *Service) LastActive(ctx context.Context, userID string) (time.Time, bool) {
	persona, err := s.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load persona", zap.String("userID", userID), zap.Error(err))
		return time.Time{}, false
	}

	if persona == nil || persona.LastActive.IsZero() {
		return time.Time{}, false
	}

	return persona.LastActive, true
}

// Touch records activity and drops the cached persona.
func (s *Service) Touch(ctx context.Context, userID string, at time.Time) error {
	if err := s.store.Touch(ctx, userID, at); err != nil {
		return err
	}

	s.cache.Delete(ctx, cache.NamespacePersona, userID)

	return nil
}
