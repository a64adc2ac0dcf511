package ingest

import (
	"sync"

	"github.com/hometv/jukebox/internal/media/models"
)

type Stage string

const (
	StageQueued              Stage = "queued"
	StageFetchingMetadata    Stage = "fetching_metadata"
	StageDownloading         Stage = "downloading"
	StageGeneratingThumbnail Stage = "generating_thumbnail"
	StageLoaded              Stage = "loaded"
	StageFailed              Stage = "failed"
	StageCancelled           Stage = "cancelled"
)

func (s Stage) Terminal() bool {
	return s == StageLoaded || s == StageFailed || s == StageCancelled
}

func canAdvance(from, to Stage) bool {
	if to == StageFailed || to == StageCancelled {
		return !from.Terminal()
	}
	switch from {
	case StageQueued:
		return to == StageFetchingMetadata
	case StageFetchingMetadata:
		return to == StageDownloading
	case StageDownloading:
		return to == StageGeneratingThumbnail
	case StageGeneratingThumbnail:
		return to == StageLoaded
	default:
		return false
	}
}

// job is one ingestion attempt for a single video. It owns every process
// handle it spawns so cancellation can kill them in bulk regardless of which
// stage the job is in.
type job struct {
	video models.Video

	mu        sync.Mutex
	stage     Stage
	procs     []Handle
	cancelled bool
}

func newJob(v models.Video) *job {
	return &job{video: v, stage: StageQueued}
}

func (j *job) advance(to Stage) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !canAdvance(j.stage, to) {
		return false
	}
	j.stage = to
	return true
}

func (j *job) currentStage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

// track registers a spawned process with the job. If the job was cancelled
// while the process was starting, it is killed on the spot.
func (j *job) track(h Handle) {
	j.mu.Lock()
	cancelled := j.cancelled
	if !cancelled {
		j.procs = append(j.procs, h)
	}
	j.mu.Unlock()
	if cancelled {
		h.Kill()
	}
}

// cancel flags the job and kills everything it has spawned. The worker
// notices the flag after the in-flight Wait returns and runs the cleanup
// path.
func (j *job) cancel() {
	j.mu.Lock()
	j.cancelled = true
	procs := j.procs
	j.procs = nil
	j.mu.Unlock()
	for _, h := range procs {
		h.Kill()
	}
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

func (j *job) killAll() {
	j.mu.Lock()
	procs := j.procs
	j.procs = nil
	j.mu.Unlock()
	for _, h := range procs {
		h.Kill()
	}
}

// release drops the tracked handles without killing; used on the success
// path once all stages completed.
func (j *job) release() {
	j.mu.Lock()
	j.procs = nil
	j.mu.Unlock()
}
