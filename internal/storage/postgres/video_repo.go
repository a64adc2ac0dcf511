package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hometv/jukebox/internal/media/models"
)

// VideoRepo implements repository.VideoRepository on Postgres. Every
// mutation writes the matching domain event to the outbox table in the same
// transaction, so the Kafka export can never diverge from the committed
// state.
type VideoRepo struct {
	db     *sqlx.DB
	outbox *OutboxRepo
}

func NewVideoRepo(db *sqlx.DB) *VideoRepo {
	return &VideoRepo{db: db, outbox: NewOutboxRepo(db)}
}

const videoColumns = `id, url, added, created, author, title, description, duration, loaded`

func (r *VideoRepo) Create(ctx context.Context, v *models.Video) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
		INSERT INTO videos (` + videoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, q,
		v.ID, v.URL, v.Added, v.Created, v.Author, v.Title, v.Description, v.Duration, v.Loaded,
	)
	if err != nil {
		return fmt.Errorf("video create: %w", err)
	}

	if err := insertChannels(ctx, tx, v.ID, v.Channels); err != nil {
		return err
	}

	channel := ""
	if len(v.Channels) > 0 {
		channel = v.Channels[0]
	}
	if err := r.outbox.Add(ctx, tx, models.VideoAdded{Video: *v, Channel: channel}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *VideoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	var v models.Video
	if err := r.db.GetContext(ctx, &v, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("video get by id: %w", err)
	}
	if err := r.loadChannels(ctx, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VideoRepo) GetByURL(ctx context.Context, url string) (*models.Video, error) {
	const q = `SELECT ` + videoColumns + ` FROM videos WHERE url = $1`

	var v models.Video
	if err := r.db.GetContext(ctx, &v, q, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("video get by url: %w", err)
	}
	if err := r.loadChannels(ctx, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VideoRepo) Update(ctx context.Context, v *models.Video) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const q = `
		UPDATE videos
		SET url = $2, created = $3, author = $4, title = $5,
		    description = $6, duration = $7, loaded = $8
		WHERE id = $1
	`
	res, err := tx.ExecContext(ctx, q,
		v.ID, v.URL, v.Created, v.Author, v.Title, v.Description, v.Duration, v.Loaded,
	)
	if err != nil {
		return fmt.Errorf("video update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM video_channels WHERE video_id = $1`, v.ID); err != nil {
		return fmt.Errorf("clear channels: %w", err)
	}
	if err := insertChannels(ctx, tx, v.ID, v.Channels); err != nil {
		return err
	}

	if err := r.outbox.Add(ctx, tx, models.VideoUpdated{Video: *v}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *VideoRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("video delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}

	if err := r.outbox.Add(ctx, tx, models.VideoRemoved{VideoID: id}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *VideoRepo) List(ctx context.Context, channel string) ([]models.Video, error) {
	var (
		videos []models.Video
		err    error
	)
	if channel == "" {
		err = r.db.SelectContext(ctx, &videos,
			`SELECT `+videoColumns+` FROM videos ORDER BY added DESC`)
	} else {
		err = r.db.SelectContext(ctx, &videos, `
			SELECT `+videoColumns+` FROM videos
			WHERE id IN (SELECT video_id FROM video_channels WHERE name = $1)
			ORDER BY added DESC`, channel)
	}
	if err != nil {
		return nil, fmt.Errorf("video list: %w", err)
	}
	if err := r.loadChannelsAll(ctx, videos); err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *VideoRepo) ListUnloaded(ctx context.Context) ([]models.Video, error) {
	var videos []models.Video
	err := r.db.SelectContext(ctx, &videos,
		`SELECT `+videoColumns+` FROM videos WHERE NOT loaded ORDER BY added DESC`)
	if err != nil {
		return nil, fmt.Errorf("video list unloaded: %w", err)
	}
	if err := r.loadChannelsAll(ctx, videos); err != nil {
		return nil, err
	}
	return videos, nil
}

func (r *VideoRepo) Channels(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.SelectContext(ctx, &names,
		`SELECT DISTINCT name FROM video_channels ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("channel list: %w", err)
	}
	return names, nil
}

func (r *VideoRepo) loadChannels(ctx context.Context, v *models.Video) error {
	err := r.db.SelectContext(ctx, &v.Channels,
		`SELECT name FROM video_channels WHERE video_id = $1 ORDER BY name`, v.ID)
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}
	return nil
}

func (r *VideoRepo) loadChannelsAll(ctx context.Context, videos []models.Video) error {
	if len(videos) == 0 {
		return nil
	}

	var rows []struct {
		VideoID uuid.UUID `db:"video_id"`
		Name    string    `db:"name"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT video_id, name FROM video_channels ORDER BY name`); err != nil {
		return fmt.Errorf("load memberships: %w", err)
	}

	byVideo := make(map[uuid.UUID][]string, len(videos))
	for _, row := range rows {
		byVideo[row.VideoID] = append(byVideo[row.VideoID], row.Name)
	}
	for i := range videos {
		videos[i].Channels = byVideo[videos[i].ID]
	}
	return nil
}

func insertChannels(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, channels []string) error {
	for _, name := range channels {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO video_channels (video_id, name) VALUES ($1, $2)`, id, name)
		if err != nil {
			return fmt.Errorf("insert channel %q: %w", name, err)
		}
	}
	return nil
}
