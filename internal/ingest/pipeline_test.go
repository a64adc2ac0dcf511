package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hometv/jukebox/internal/media/models"
)

func intPtr(n int) *int { return &n }

func testInfoJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(videoInfo{
		Formats: []format{
			{FormatID: "22", Ext: "mp4", Height: intPtr(720)},
			{FormatID: "137", Ext: "mp4", Height: intPtr(1080)},
			{FormatID: "140", Ext: "m4a", Filesize: 1000},
			{FormatID: "139", Ext: "m4a", Filesize: 500},
		},
		UploadDate:  "20200102",
		Uploader:    "someone",
		Title:       "a title",
		Description: "words",
		WebpageURL:  "https://example.com/canonical",
		Duration:    93.7,
	})
	require.NoError(t, err)
	return data
}

type pipelineEnv struct {
	pipeline *Pipeline
	store    *StoreMock
	runner   *fakeRunner
	done     chan Stage
	cancel   context.CancelFunc
}

func startPipeline(t *testing.T, runner *fakeRunner) *pipelineEnv {
	t.Helper()

	st := new(StoreMock)
	p, err := New(Config{
		Store:  st,
		Runner: runner,
		Dir:    t.TempDir(),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	done := make(chan Stage, 16)
	p.jobDone = func(_ models.Video, stage Stage) { done <- stage }

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Start(ctx) }()
	t.Cleanup(cancel)

	return &pipelineEnv{pipeline: p, store: st, runner: runner, done: done, cancel: cancel}
}

func waitStage(t *testing.T, done chan Stage) Stage {
	t.Helper()
	select {
	case s := <-done:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job to finish")
		return ""
	}
}

func TestPipeline_SuccessFlow(t *testing.T) {
	info := testInfoJSON(t)
	runner := &fakeRunner{
		script: func(name string, args []string) *fakeHandle {
			if len(args) > 0 && args[0] == "--dump-json" {
				return doneHandle(info, nil)
			}
			return doneHandle(nil, nil)
		},
	}
	env := startPipeline(t, runner)

	var saved []models.Video
	env.store.On("SaveVideo", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			saved = append(saved, *args.Get(1).(*models.Video))
		}).
		Return(nil)

	id := uuid.New()
	env.pipeline.Enqueue(models.Video{ID: id, URL: "https://example.com/pasted"})

	require.Equal(t, StageLoaded, waitStage(t, env.done))

	// Metadata is persisted before the download, completion after it.
	require.Len(t, saved, 2)
	assert.False(t, saved[0].Loaded)
	assert.Equal(t, "a title", saved[0].Title)
	assert.Equal(t, "someone", saved[0].Author)
	assert.Equal(t, 93, saved[0].Duration)
	assert.Equal(t, "https://example.com/canonical", saved[0].URL)
	require.NotNil(t, saved[0].Created)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), *saved[0].Created)
	assert.True(t, saved[1].Loaded)

	calls := env.runner.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"yt-dlp", "--dump-json", "--playlist-items", "1", "https://example.com/pasted"}, calls[0])

	target := filepath.Join(env.pipeline.Dir(), id.String(), id.String())
	assert.Equal(t, []string{
		"yt-dlp", "--write-thumbnail", "--no-progress", "--playlist-items", "1",
		"-f", "137+139", "-o", target, "https://example.com/canonical",
	}, calls[1])
	assert.Equal(t, []string{"convert", target + ".jpg", "-resize", "600", target + "-resized.jpg"}, calls[2])

	env.store.AssertNotCalled(t, "RemoveVideo", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_MetadataFailureRemovesRecord(t *testing.T) {
	runner := &fakeRunner{
		script: func(name string, args []string) *fakeHandle {
			return doneHandle(nil, errors.New("exit status 1"))
		},
	}
	env := startPipeline(t, runner)

	id := uuid.New()
	env.store.On("RemoveVideo", mock.Anything, id, "").Return(nil).Once()

	env.pipeline.Enqueue(models.Video{ID: id, URL: "https://example.com/bad"})

	require.Equal(t, StageFailed, waitStage(t, env.done))
	env.store.AssertExpectations(t)
	env.store.AssertNotCalled(t, "SaveVideo", mock.Anything, mock.Anything)
}

func TestPipeline_RecordAlreadyGoneOnFailure(t *testing.T) {
	runner := &fakeRunner{
		script: func(name string, args []string) *fakeHandle {
			return doneHandle([]byte("not json"), nil)
		},
	}
	env := startPipeline(t, runner)

	id := uuid.New()
	// A concurrent removal is not an error for the failure path.
	env.store.On("RemoveVideo", mock.Anything, id, "").Return(models.ErrNotFound).Once()

	env.pipeline.Enqueue(models.Video{ID: id, URL: "https://example.com/gone"})

	require.Equal(t, StageFailed, waitStage(t, env.done))
	env.store.AssertExpectations(t)
}

func TestPipeline_JobsRunOneAtATime(t *testing.T) {
	info := testInfoJSON(t)
	first := blockingHandle(info)

	var handed bool
	runner := &fakeRunner{}
	runner.script = func(name string, args []string) *fakeHandle {
		if len(args) > 0 && args[0] == "--dump-json" && !handed {
			handed = true
			return first
		}
		if len(args) > 0 && args[0] == "--dump-json" {
			return doneHandle(info, nil)
		}
		return doneHandle(nil, nil)
	}
	env := startPipeline(t, runner)
	env.store.On("SaveVideo", mock.Anything, mock.Anything).Return(nil)

	a := models.Video{ID: uuid.New(), URL: "https://example.com/a"}
	b := models.Video{ID: uuid.New(), URL: "https://example.com/b"}
	env.pipeline.Enqueue(a)
	env.pipeline.Enqueue(b)

	// While A's metadata fetch is stuck, B must not have started.
	time.Sleep(50 * time.Millisecond)
	for _, call := range env.runner.recorded() {
		assert.NotContains(t, call, b.URL)
	}

	first.finish()
	require.Equal(t, StageLoaded, waitStage(t, env.done))
	require.Equal(t, StageLoaded, waitStage(t, env.done))

	// Every command of A precedes every command of B.
	calls := env.runner.recorded()
	require.Len(t, calls, 6)
	assert.Contains(t, strings.Join(calls[0], " "), "https://example.com/a")
	assert.Contains(t, strings.Join(calls[3], " "), "https://example.com/b")
}

func TestPipeline_CancelInFlightKillsProcess(t *testing.T) {
	info := testInfoJSON(t)
	download := blockingHandle(nil)

	runner := &fakeRunner{}
	runner.script = func(name string, args []string) *fakeHandle {
		if len(args) > 0 && args[0] == "--dump-json" {
			return doneHandle(info, nil)
		}
		if name == "yt-dlp" {
			return download
		}
		return doneHandle(nil, nil)
	}
	env := startPipeline(t, runner)
	env.store.On("SaveVideo", mock.Anything, mock.Anything).Return(nil)

	id := uuid.New()
	env.pipeline.Enqueue(models.Video{ID: id, URL: "https://example.com/v"})

	// Let the job reach the download, then cancel mid-flight.
	require.Eventually(t, func() bool {
		return len(env.runner.recorded()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	artifacts := filepath.Join(env.pipeline.Dir(), id.String())
	require.NoError(t, os.MkdirAll(artifacts, 0o755))

	env.pipeline.Cancel(id)

	require.Equal(t, StageCancelled, waitStage(t, env.done))
	assert.True(t, download.killed.Load())

	// Cancellation deletes partial artifacts but never touches the record:
	// whoever removed the video already did that.
	_, err := os.Stat(artifacts)
	assert.True(t, os.IsNotExist(err))
	env.store.AssertNotCalled(t, "RemoveVideo", mock.Anything, mock.Anything, mock.Anything)

	// Only the metadata save happened, never the loaded flip.
	env.store.AssertNumberOfCalls(t, "SaveVideo", 1)
}

func TestPipeline_CancelQueuedJobNeverRuns(t *testing.T) {
	info := testInfoJSON(t)
	first := blockingHandle(info)

	var handed bool
	runner := &fakeRunner{}
	runner.script = func(name string, args []string) *fakeHandle {
		if len(args) > 0 && args[0] == "--dump-json" && !handed {
			handed = true
			return first
		}
		return doneHandle(nil, nil)
	}
	env := startPipeline(t, runner)
	env.store.On("SaveVideo", mock.Anything, mock.Anything).Return(nil)

	a := models.Video{ID: uuid.New(), URL: "https://example.com/a"}
	b := models.Video{ID: uuid.New(), URL: "https://example.com/b"}
	env.pipeline.Enqueue(a)
	env.pipeline.Enqueue(b)

	env.pipeline.Cancel(b.ID)
	first.finish()

	require.Equal(t, StageLoaded, waitStage(t, env.done))
	require.Equal(t, StageCancelled, waitStage(t, env.done))

	for _, call := range env.runner.recorded() {
		assert.NotContains(t, call, b.URL)
	}
}

func TestPipeline_BindEnqueuesAddedAndCancelsRemoved(t *testing.T) {
	runner := &fakeRunner{script: func(string, []string) *fakeHandle { return doneHandle(nil, nil) }}
	st := new(StoreMock)
	p, err := New(Config{Store: st, Runner: runner, Dir: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	var handler func(models.Event)
	p.Bind(subscribeFunc(func(fn func(models.Event)) { handler = fn }))
	require.NotNil(t, handler)

	v := models.Video{ID: uuid.New(), URL: "https://example.com/v"}
	handler(models.VideoAdded{Video: v})
	require.Len(t, p.queue, 1)

	// Already loaded records (startup replays, reprocessing noise) are skipped.
	handler(models.VideoAdded{Video: models.Video{ID: uuid.New(), Loaded: true}})
	require.Len(t, p.queue, 1)

	handler(models.VideoRemoved{VideoID: v.ID})
	assert.True(t, p.queue[0].isCancelled())
}

type subscribeFunc func(fn func(models.Event))

func (f subscribeFunc) Subscribe(fn func(models.Event)) { f(fn) }

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Dir: t.TempDir()})
	require.ErrorContains(t, err, "store is required")

	_, err = New(Config{Store: new(StoreMock)})
	require.ErrorContains(t, err, "download dir is required")
}
