// Package store implements the media store: channel and video records,
// their invariants, and a fan-out stream of domain events that the ingest
// pipeline and the sync engine subscribe to.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/media/models"
	"github.com/hometv/jukebox/internal/media/repository"
)

// Store owns all video/channel mutations. Writes are funneled through a
// single mutex, so events reach every subscriber in emission order.
type Store struct {
	repo   repository.VideoRepository
	logger zerolog.Logger
	clock  func() time.Time
	idGen  func() uuid.UUID

	mu sync.Mutex

	subMu sync.RWMutex
	subs  []func(models.Event)
}

func New(repo repository.VideoRepository, logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger.With().Str("component", "store").Logger(),
		clock:  time.Now,
		idGen:  uuid.New,
	}
}

// Subscribe registers a listener for store events. Dispatch is synchronous
// and in subscription order; handlers must not call back into the Store's
// mutation API.
func (s *Store) Subscribe(fn func(models.Event)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) emit(ev models.Event) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// AddVideo registers a URL, optionally under a channel. A new URL creates a
// fresh unloaded record; a known URL gains a channel membership. Submitting a
// membership the video already has is rejected.
func (s *Store) AddVideo(ctx context.Context, url, channel string) (*models.Video, error) {
	if url == "" {
		return nil, fmt.Errorf("missing video url: %w", models.ErrInvalidArgument)
	}
	channel = models.NormalizeChannel(channel)
	if channel != "" && !models.ValidChannelName(channel) {
		return nil, fmt.Errorf("channel name %q is reserved: %w", channel, models.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetByURL(ctx, url)
	switch {
	case errors.Is(err, models.ErrNotFound):
		v := &models.Video{
			ID:    s.idGen(),
			URL:   url,
			Added: s.clock(),
		}
		if channel != "" {
			v.Channels = []string{channel}
		}
		if err := s.repo.Create(ctx, v); err != nil {
			return nil, fmt.Errorf("create video: %w", err)
		}
		s.logger.Info().Str("video_id", v.ID.String()).Str("url", url).Str("channel", channel).Msg("video added")
		s.emit(models.VideoAdded{Video: *v, Channel: channel})
		return v, nil

	case err != nil:
		return nil, fmt.Errorf("lookup video by url: %w", err)
	}

	if channel == "" || existing.InChannel(channel) {
		return nil, models.ErrAlreadyInChannel
	}

	existing.Channels = append(existing.Channels, channel)
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("add channel membership: %w", err)
	}
	s.logger.Info().Str("video_id", existing.ID.String()).Str("channel", channel).Msg("channel membership added")
	s.emit(models.VideoUpdated{Video: *existing})
	return existing, nil
}

// RemoveVideo deletes a record entirely, or, when a channel is given, only
// that membership. A video left with zero memberships is kept; it still shows
// in the unfiltered listing and can be re-assigned later.
func (s *Store) RemoveVideo(ctx context.Context, id uuid.UUID, channel string) error {
	if id == uuid.Nil {
		return fmt.Errorf("missing video id: %w", models.ErrInvalidArgument)
	}
	channel = models.NormalizeChannel(channel)

	s.mu.Lock()
	defer s.mu.Unlock()

	if channel == "" {
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete video: %w", err)
		}
		s.logger.Info().Str("video_id", id.String()).Msg("video removed")
		s.emit(models.VideoRemoved{VideoID: id})
		return nil
	}

	v, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("lookup video: %w", err)
	}
	if !v.InChannel(channel) {
		return fmt.Errorf("video %s not in channel %q: %w", id, channel, models.ErrNotFound)
	}

	kept := v.Channels[:0]
	for _, c := range v.Channels {
		if c != channel {
			kept = append(kept, c)
		}
	}
	v.Channels = kept
	if err := s.repo.Update(ctx, v); err != nil {
		return fmt.Errorf("remove channel membership: %w", err)
	}
	s.logger.Info().Str("video_id", id.String()).Str("channel", channel).Msg("channel membership removed")
	s.emit(models.VideoUpdated{Video: *v})
	return nil
}

// SaveVideo persists a full-record mutation (metadata fill-in, loaded flip).
func (s *Store) SaveVideo(ctx context.Context, v *models.Video) error {
	if v == nil || v.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Update(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	s.emit(models.VideoUpdated{Video: *v})
	return nil
}

func (s *Store) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Store) GetVideos(ctx context.Context, channel string) ([]models.Video, error) {
	return s.repo.List(ctx, models.NormalizeChannel(channel))
}

func (s *Store) GetChannels(ctx context.Context) ([]string, error) {
	return s.repo.Channels(ctx)
}

func (s *Store) ReservedChannels() []string {
	return models.ReservedChannels()
}

// Cleanup removes every record left unloaded by a previous process lifetime.
// Jobs are not resumable across restarts, so those records can never become
// playable.
func (s *Store) Cleanup(ctx context.Context) error {
	unloaded, err := s.repo.ListUnloaded(ctx)
	if err != nil {
		return fmt.Errorf("list unloaded: %w", err)
	}
	for _, v := range unloaded {
		if err := s.RemoveVideo(ctx, v.ID, ""); err != nil {
			s.logger.Warn().Err(err).Str("video_id", v.ID.String()).Msg("cleanup remove failed")
		}
	}
	if len(unloaded) > 0 {
		s.logger.Info().Int("count", len(unloaded)).Msg("removed unloaded videos from previous run")
	}
	return nil
}
