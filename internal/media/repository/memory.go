package repository

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/hometv/jukebox/internal/media/models"
)

type MemoryRepository struct {
	mu   sync.RWMutex
	data map[uuid.UUID]*models.Video
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: make(map[uuid.UUID]*models.Video),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, v *models.Video) error {
	if v == nil || v.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[v.ID]; exists {
		return models.ErrConflict
	}

	// Защитная копия, чтобы внешняя сторона не могла мутировать хранимый объект
	cp := cloneVideo(v)
	r.data[v.ID] = cp

	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneVideo(v), nil
}

func (r *MemoryRepository) GetByURL(ctx context.Context, url string) (*models.Video, error) {
	if url == "" {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.data {
		if v.URL == url {
			return cloneVideo(v), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryRepository) Update(ctx context.Context, v *models.Video) error {
	if v == nil || v.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[v.ID]; !ok {
		return models.ErrNotFound
	}
	r.data[v.ID] = cloneVideo(v)
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.data[id]; !ok {
		return models.ErrNotFound
	}
	delete(r.data, id)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, channel string) ([]models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Video, 0, len(r.data))
	for _, v := range r.data {
		if channel != "" && !v.InChannel(channel) {
			continue
		}
		out = append(out, *cloneVideo(v))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Added.After(out[j].Added)
	})
	return out, nil
}

func (r *MemoryRepository) ListUnloaded(ctx context.Context) ([]models.Video, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Video
	for _, v := range r.data {
		if !v.Loaded {
			out = append(out, *cloneVideo(v))
		}
	}
	return out, nil
}

func (r *MemoryRepository) Channels(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, v := range r.data {
		for _, c := range v.Channels {
			seen[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func cloneVideo(v *models.Video) *models.Video {
	cp := *v
	cp.Channels = slices.Clone(v.Channels)
	return &cp
}
