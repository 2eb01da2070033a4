// Package watchlist manages users' weighted interests.
package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cherryfeed/cherry/internal/cache"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/queue"
	"github.com/cherryfeed/cherry/internal/validation"
	"go.uber.org/zap"
)

// ErrUnknownAction is returned when a watchlist job carries an unsupported action.
var ErrUnknownAction = errors.New("unknown watchlist action")

// Store is the system of record for watchlist entries.
type Store interface {
	ListByUser(ctx context.Context, userID string) ([]*types.WatchlistEntry, error)
	Create(ctx context.Context, entry *types.WatchlistEntry) error
	UpdateWeight(ctx context.Context, userID string, kind enum.WatchKind, value string, weight float64) (*types.WatchlistEntry, error)
	Delete(ctx context.Context, userID string, kind enum.WatchKind, value string) error
}

// Invalidator drops derived data of a user when their watchlist changes.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// EntryInput is a requested watchlist mutation.
type EntryInput struct {
	Kind   enum.WatchKind `json:"kind"   validate:"required,watchkind"`
	Value  string         `json:"value"  validate:"notblank,max=100"`
	Weight *float64       `json:"weight" validate:"omitempty,gte=0,lte=2"`
}

// Service serves watchlists through a read-through cache.
type Service struct {
	store       Store
	cache       *cache.Layer
	invalidator Invalidator
	ttl         time.Duration
	logger      *zap.Logger
}

// NewService creates a watchlist service.
func NewService(store Store, layer *cache.Layer, invalidator Invalidator, ttl time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		cache:       layer,
		invalidator: invalidator,
		ttl:         ttl,
		logger:      logger.Named("watchlist"),
	}
}

// List returns the user's watchlist.
func (s *Service) List(ctx context.Context, userID string) ([]*types.WatchlistEntry, error) {
	if cached, ok := cache.GetJSON[[]*types.WatchlistEntry](ctx, s.cache, cache.NamespaceWatchlist, userID); ok {
		return *cached, nil
	}

	entries, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if entries == nil {
		entries = []*types.WatchlistEntry{}
	}

	s.cache.SetJSON(ctx, cache.NamespaceWatchlist, userID, entries, s.ttl)

	return entries, nil
}

// Add creates a new entry. A missing weight defaults to 1.0.
func (s *Service) Add(ctx context.Context, userID string, input EntryInput) (*types.WatchlistEntry, error) {
	if err := validation.Struct(&input); err != nil {
		return nil, err
	}

	entry := types.NewWatchlistEntry(userID, input.Kind, input.Value, input.Weight)
	if err := s.store.Create(ctx, entry); err != nil {
		return nil, err
	}

	s.OnExternalWrite(ctx, userID)

	return entry, nil
}

// Update changes the weight of an existing entry.
func (s *Service) Update(ctx context.Context, userID string, input EntryInput) (*types.WatchlistEntry, error) {
	if err := validation.Struct(&input); err != nil {
		return nil, err
	}

	if input.Weight == nil {
		return nil, validation.NewError("weight", "required", "weight is required")
	}

	entry, err := s.store.UpdateWeight(ctx, userID, input.Kind, strings.TrimSpace(input.Value), types.ClampWatchWeight(*input.Weight))
	if err != nil {
		return nil, err
	}

	s.OnExternalWrite(ctx, userID)

	return entry, nil
}

// Remove deletes an entry.
func (s *Service) Remove(ctx context.Context, userID string, kind enum.WatchKind, value string) error {
	input := EntryInput{Kind: kind, Value: value}
	if err := validation.Struct(&input); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, userID, kind, strings.TrimSpace(value)); err != nil {
		return err
	}

	s.OnExternalWrite(ctx, userID)

	return nil
}

// Apply executes a watchlist mutation carried by a job.
func (s *Service) Apply(ctx context.Context, payload *queue.WatchlistPayload) error {
	input := EntryInput{
		Kind:   payload.Entry.Kind,
		Value:  payload.Entry.Value,
		Weight: payload.Entry.Weight,
	}

	var err error

	switch payload.Action {
	case enum.WatchlistActionAdd:
		_, err = s.Add(ctx, payload.UserID, input)
	case enum.WatchlistActionUpdate:
		_, err = s.Update(ctx, payload.UserID, input)
	case enum.WatchlistActionRemove:
		err = s.Remove(ctx, payload.UserID, input.Kind, input.Value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, payload.Action)
	}

	return err
}

// OnExternalWrite drops the cached watchlist and every digest derived from it.
func (s *Service) OnExternalWrite(ctx context.Context, userID string) {
	s.cache.Delete(ctx, cache.NamespaceWatchlist, userID)

	if s.invalidator == nil {
		return
	}

	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate digests after watchlist change",
			zap.String("userID", userID),
			zap.Error(err))
	}
}
