package database

import (
	"github.com/cherryfeed/cherry/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	watchlist *models.WatchlistModel
	persona   *models.PersonaModel
	content   *models.ContentModel
	digest    *models.DigestCacheModel
	job       *models.JobModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		watchlist: models.NewWatchlist(db, logger),
		persona:   models.NewPersona(db, logger),
		content:   models.NewContent(db, logger),
		digest:    models.NewDigestCache(db, logger),
		job:       models.NewJob(db, logger),
	}
}

// Watchlist returns the watchlist model repository.
func (r *Repository) Watchlist() *models.WatchlistModel {
	return r.watchlist
}

// Persona returns the persona model repository.
func (r *Repository) Persona() *models.PersonaModel {
	return r.persona
}

// Content returns the content model repository.
func (r *Repository) Content() *models.ContentModel {
	return r.content
}

// DigestCache returns the digest cache model repository.
func (r *Repository) DigestCache() *models.DigestCacheModel {
	return r.digest
}

// Job returns the job model repository.
func (r *Repository) Job() *models.JobModel {
	return r.job
}
