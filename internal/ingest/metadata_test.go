package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometv/jukebox/internal/media/models"
)

func TestParseInfo_Errors(t *testing.T) {
	_, err := parseInfo([]byte("not json"))
	require.ErrorContains(t, err, "parse metadata")

	_, err = parseInfo([]byte(`{"formats": []}`))
	require.ErrorContains(t, err, "no formats")
}

func TestApply(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full metadata", func(t *testing.T) {
		v := models.Video{URL: "https://example.com/pasted"}
		info := &videoInfo{
			UploadDate:  "20191120",
			Uploader:    "someone",
			Title:       "a title",
			Description: "words",
			WebpageURL:  "https://example.com/canonical",
			Duration:    120.9,
		}
		info.apply(&v, now)

		require.NotNil(t, v.Created)
		assert.Equal(t, time.Date(2019, 11, 20, 0, 0, 0, 0, time.UTC), *v.Created)
		assert.Equal(t, "someone", v.Author)
		assert.Equal(t, "a title", v.Title)
		assert.Equal(t, "https://example.com/canonical", v.URL)
		assert.Equal(t, 120, v.Duration)
	})

	t.Run("missing upload date falls back to now", func(t *testing.T) {
		v := models.Video{URL: "https://example.com/pasted"}
		info := &videoInfo{Title: "t"}
		info.apply(&v, now)

		require.NotNil(t, v.Created)
		assert.Equal(t, now, *v.Created)
		// No canonical URL reported: the pasted one stays.
		assert.Equal(t, "https://example.com/pasted", v.URL)
	})
}

func TestSelectFormats(t *testing.T) {
	tests := []struct {
		name      string
		formats   []format
		wantVideo string
		wantAudio string
	}{
		{
			name: "highest resolution wins",
			formats: []format{
				{FormatID: "low", Ext: "mp4", Height: intPtr(360)},
				{FormatID: "high", Ext: "mp4", Height: intPtr(1080)},
				{FormatID: "mid", Ext: "mp4", Height: intPtr(720)},
			},
			wantVideo: "high",
		},
		{
			name: "smallest compatible audio",
			formats: []format{
				{FormatID: "v", Ext: "mp4", Height: intPtr(720)},
				{FormatID: "big", Ext: "m4a", Filesize: 2000},
				{FormatID: "small", Ext: "m4a", Filesize: 900},
			},
			wantVideo: "v",
			wantAudio: "small",
		},
		{
			name: "unknown audio size loses to known",
			formats: []format{
				{FormatID: "v", Ext: "mp4", Height: intPtr(720)},
				{FormatID: "nosize", Ext: "m4a"},
				{FormatID: "sized", Ext: "m4a", Filesize: 5000},
			},
			wantVideo: "v",
			wantAudio: "sized",
		},
		{
			name: "webm pairs only with webm",
			formats: []format{
				{FormatID: "v", Ext: "webm", Height: intPtr(1080)},
				{FormatID: "m4a-audio", Ext: "m4a", Filesize: 100},
				{FormatID: "webm-audio", Ext: "webm", Filesize: 900},
			},
			wantVideo: "v",
			wantAudio: "webm-audio",
		},
		{
			name: "unknown container gets no pairing",
			formats: []format{
				{FormatID: "v", Ext: "flv", Height: intPtr(480)},
				{FormatID: "a", Ext: "m4a", Filesize: 100},
			},
			wantVideo: "v",
		},
		{
			name: "audio only listing has no video",
			formats: []format{
				{FormatID: "a", Ext: "m4a", Filesize: 100},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			video, audio := selectFormats(&videoInfo{Formats: tc.formats})

			if tc.wantVideo == "" {
				assert.Nil(t, video)
				assert.Nil(t, audio)
				return
			}
			require.NotNil(t, video)
			assert.Equal(t, tc.wantVideo, video.FormatID)

			if tc.wantAudio == "" {
				assert.Nil(t, audio)
			} else {
				require.NotNil(t, audio)
				assert.Equal(t, tc.wantAudio, audio.FormatID)
			}
		})
	}
}

func TestStageTransitions(t *testing.T) {
	j := newJob(models.Video{})
	assert.Equal(t, StageQueued, j.currentStage())

	assert.True(t, j.advance(StageFetchingMetadata))
	assert.False(t, j.advance(StageLoaded)) // skipping stages is not allowed
	assert.True(t, j.advance(StageDownloading))
	assert.True(t, j.advance(StageGeneratingThumbnail))
	assert.True(t, j.advance(StageLoaded))

	// Terminal stages never move again.
	assert.False(t, j.advance(StageFailed))
	assert.False(t, j.advance(StageCancelled))
	assert.Equal(t, StageLoaded, j.currentStage())
}

func TestJobCancelKillsTrackedProcesses(t *testing.T) {
	j := newJob(models.Video{})
	h := blockingHandle(nil)
	j.track(h)

	j.cancel()
	assert.True(t, h.killed.Load())
	assert.True(t, j.isCancelled())

	// Processes started after cancellation are killed immediately.
	late := blockingHandle(nil)
	j.track(late)
	assert.True(t, late.killed.Load())
}
