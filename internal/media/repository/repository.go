package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hometv/jukebox/internal/media/models"
)

// VideoRepository is the persistence contract the store depends on. The
// Postgres implementation lives in internal/storage/postgres; the in-memory
// one below backs tests and database-less runs.
type VideoRepository interface {
	Create(ctx context.Context, v *models.Video) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error)
	GetByURL(ctx context.Context, url string) (*models.Video, error)
	Update(ctx context.Context, v *models.Video) error
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns videos newest-Added-first, filtered to a channel when one
	// is given.
	List(ctx context.Context, channel string) ([]models.Video, error)
	ListUnloaded(ctx context.Context) ([]models.Video, error)
	Channels(ctx context.Context) ([]string, error)
}
