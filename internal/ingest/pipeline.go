// Package ingest turns newly added video records into playable assets: it
// resolves metadata, downloads the media, and generates a thumbnail, one job
// at a time, through external command-line utilities.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/media/models"
)

// Store is the slice of the media store the pipeline reports back through.
type Store interface {
	SaveVideo(ctx context.Context, v *models.Video) error
	RemoveVideo(ctx context.Context, id uuid.UUID, channel string) error
}

// Events is the subscription side of the media store.
type Events interface {
	Subscribe(fn func(models.Event))
}

type Config struct {
	Store          Store
	Runner         Runner
	Dir            string
	FetchBin       string
	ConvertBin     string
	ThumbnailWidth int
	Logger         zerolog.Logger
}

// Pipeline drives a strictly serialized FIFO job queue: job N+1 never starts
// before job N reaches a terminal stage. A single in-flight download keeps
// bandwidth contention and child-process bookkeeping tractable.
type Pipeline struct {
	store      Store
	runner     Runner
	dir        string
	fetchBin   string
	convertBin string
	thumbWidth int
	logger     zerolog.Logger
	clock      func() time.Time

	mu      sync.Mutex
	queue   []*job
	current *job

	wake chan struct{}

	// jobDone, when set, is called after every job reaches a terminal stage.
	// Tests use it to observe queue progress.
	jobDone func(v models.Video, stage Stage)
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("download dir is required")
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.FetchBin == "" {
		cfg.FetchBin = "yt-dlp"
	}
	if cfg.ConvertBin == "" {
		cfg.ConvertBin = "convert"
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 600
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	return &Pipeline{
		store:      cfg.Store,
		runner:     cfg.Runner,
		dir:        dir,
		fetchBin:   cfg.FetchBin,
		convertBin: cfg.ConvertBin,
		thumbWidth: cfg.ThumbnailWidth,
		logger:     cfg.Logger.With().Str("component", "ingest").Logger(),
		clock:      time.Now,
		wake:       make(chan struct{}, 1),
	}, nil
}

// Bind subscribes the pipeline to store events: new videos are enqueued,
// removed videos cancel their job.
func (p *Pipeline) Bind(events Events) {
	events.Subscribe(func(ev models.Event) {
		switch e := ev.(type) {
		case models.VideoAdded:
			if !e.Video.Loaded {
				p.Enqueue(e.Video)
			}
		case models.VideoRemoved:
			p.Cancel(e.VideoID)
		}
	})
}

// Dir returns the resolved media directory. The pipeline owns it; nothing
// else writes there.
func (p *Pipeline) Dir() string {
	return p.dir
}

// Enqueue appends a job for the video. Safe to call from event handlers.
func (p *Pipeline) Enqueue(v models.Video) {
	p.mu.Lock()
	p.queue = append(p.queue, newJob(v))
	depth := len(p.queue)
	p.mu.Unlock()

	p.logger.Info().Str("video_id", v.ID.String()).Str("url", v.URL).Int("queued", depth).Msg("job queued")

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Cancel terminates the job for the given video id: an in-flight job gets
// its child processes killed, a queued-but-unstarted one is skipped when the
// worker reaches it.
func (p *Pipeline) Cancel(id uuid.UUID) {
	p.mu.Lock()
	var hit *job
	if p.current != nil && p.current.video.ID == id {
		hit = p.current
	}
	for _, j := range p.queue {
		if j.video.ID == id {
			hit = j
		}
	}
	p.mu.Unlock()

	if hit != nil {
		p.logger.Info().Str("video_id", id.String()).Msg("cancelling job")
		hit.cancel()
	}
}

// Start runs the queue worker until the context is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.logger.Info().Str("dir", p.dir).Msg("ingest pipeline started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		}

		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j := p.next()
			if j == nil {
				p.logger.Debug().Msg("downloads complete")
				break
			}
			p.process(ctx, j)
			p.finish(j)
		}
	}
}

func (p *Pipeline) next() *job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 {
		j := p.queue[0]
		p.queue = p.queue[1:]
		if j.isCancelled() {
			j.advance(StageCancelled)
			p.notifyDone(j)
			continue
		}
		p.current = j
		return j
	}
	return nil
}

func (p *Pipeline) finish(j *job) {
	p.mu.Lock()
	if p.current == j {
		p.current = nil
	}
	p.mu.Unlock()
	p.notifyDone(j)
}

func (p *Pipeline) notifyDone(j *job) {
	if p.jobDone != nil {
		p.jobDone(j.video, j.currentStage())
	}
}

func (p *Pipeline) process(ctx context.Context, j *job) {
	log := p.logger.With().Str("video_id", j.video.ID.String()).Str("url", j.video.URL).Logger()

	j.advance(StageFetchingMetadata)
	log.Info().Msg("fetching metadata")
	out, err := p.run(j, p.fetchBin, "--dump-json", "--playlist-items", "1", j.video.URL)
	if p.bail(ctx, j, log, err, "metadata fetch") {
		return
	}
	info, err := parseInfo(out)
	if p.bail(ctx, j, log, err, "metadata parse") {
		return
	}

	// Persist metadata before downloading so the canonical URL and titles
	// are not lost if the download fails later.
	info.apply(&j.video, p.clock())
	log.Info().Str("title", j.video.Title).Msg("saving metadata")
	if p.bail(ctx, j, log, p.store.SaveVideo(ctx, &j.video), "save metadata") {
		return
	}

	videoFmt, audioFmt := selectFormats(info)
	if videoFmt == nil {
		p.fail(ctx, j, log, fmt.Errorf("no downloadable video format"))
		return
	}

	j.advance(StageDownloading)
	log.Info().Msg("downloading")
	target := filepath.Join(p.dir, j.video.ID.String(), j.video.ID.String())
	args := []string{"--write-thumbnail", "--no-progress", "--playlist-items", "1"}
	if audioFmt != nil {
		args = append(args, "-f", videoFmt.FormatID+"+"+audioFmt.FormatID)
	}
	args = append(args, "-o", target, j.video.URL)
	_, err = p.run(j, p.fetchBin, args...)
	if p.bail(ctx, j, log, err, "download") {
		return
	}

	j.advance(StageGeneratingThumbnail)
	log.Info().Msg("resizing thumbnail")
	_, err = p.run(j, p.convertBin, target+".jpg", "-resize", strconv.Itoa(p.thumbWidth), target+"-resized.jpg")
	if p.bail(ctx, j, log, err, "thumbnail resize") {
		return
	}

	if j.isCancelled() {
		p.cleanupCancelled(j, log)
		return
	}

	j.video.Loaded = true
	if p.bail(ctx, j, log, p.store.SaveVideo(ctx, &j.video), "mark loaded") {
		return
	}
	j.release()
	j.advance(StageLoaded)
	log.Info().Msg("video loaded")
}

// run spawns one external process on behalf of the job and waits for it.
func (p *Pipeline) run(j *job, name string, args ...string) ([]byte, error) {
	h, err := p.runner.Start(name, args...)
	if err != nil {
		return nil, err
	}
	j.track(h)
	return h.Wait()
}

// bail handles the shared stage-exit logic: a cancelled job takes the
// cleanup path regardless of err, a failed stage removes the record. Returns
// true when the job is over.
func (p *Pipeline) bail(ctx context.Context, j *job, log zerolog.Logger, err error, stage string) bool {
	if j.isCancelled() {
		p.cleanupCancelled(j, log)
		return true
	}
	if err != nil {
		p.fail(ctx, j, log, fmt.Errorf("%s: %w", stage, err))
		return true
	}
	return false
}

// fail is terminal: no retry is attempted. The record is removed so a video
// never lingers unloaded, and partial artifacts are deleted.
func (p *Pipeline) fail(ctx context.Context, j *job, log zerolog.Logger, err error) {
	log.Warn().Err(err).Msg("ingest failed")
	j.killAll()
	p.removeArtifacts(j.video.ID)
	if err := p.store.RemoveVideo(ctx, j.video.ID, ""); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Warn().Err(err).Msg("remove failed video record")
	}
	j.advance(StageFailed)
}

// cleanupCancelled runs after the record was already removed by the caller
// that triggered the cancellation, so only the artifacts need deleting.
func (p *Pipeline) cleanupCancelled(j *job, log zerolog.Logger) {
	log.Info().Msg("job cancelled")
	j.killAll()
	p.removeArtifacts(j.video.ID)
	j.advance(StageCancelled)
}

func (p *Pipeline) removeArtifacts(id uuid.UUID) {
	if err := os.RemoveAll(filepath.Join(p.dir, id.String())); err != nil {
		p.logger.Warn().Err(err).Str("video_id", id.String()).Msg("delete artifacts")
	}
}
