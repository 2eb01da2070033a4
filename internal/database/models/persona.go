package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cherryfeed/cherry/internal/database/dbretry"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// PersonaModel handles database operations for user personas.
type PersonaModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPersona creates a PersonaModel.
func NewPersona(db *bun.DB, logger *zap.Logger) *PersonaModel {
	return &PersonaModel{
		db:     db,
		logger: logger.Named("db_persona"),
	}
}

// Get returns the persona of a user, or nil if none exists.
func (r *PersonaModel) Get(ctx context.Context, userID string) (*types.Persona, error) {
	var persona types.Persona

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		return r.db.NewSelect().
			Model(&persona).
			Where("user_id = ?", userID).
			Scan(ctx)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get persona for user %s: %w", userID, err)
	}

	return &persona, nil
}

// Upsert stores a persona.
func (r *PersonaModel) Upsert(ctx context.Context, persona *types.Persona) error {
	persona.UpdatedAt = time.Now()

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(persona).
			On("CONFLICT (user_id) DO UPDATE").
			Set("last_active = EXCLUDED.last_active").
			Set("autonomy_flags = EXCLUDED.autonomy_flags").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert persona for user %s: %w", persona.UserID, err)
	}

	return nil
}

// Touch records the user's last activity time.
func (r *PersonaModel) Touch(ctx context.Context, userID string, at time.Time) error {
	persona := &types.Persona{
		UserID:        userID,
		LastActive:    at,
		AutonomyFlags: map[string]bool{},
		UpdatedAt:     time.Now(),
	}

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().
			Model(persona).
			On("CONFLICT (user_id) DO UPDATE").
			Set("last_active = EXCLUDED.last_active").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)

		return err
	})
	if err != nil {
		return fmt.Errorf("failed to touch persona for user %s: %w", userID, err)
	}

	return nil
}
