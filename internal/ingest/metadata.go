package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hometv/jukebox/internal/media/models"
)

// videoInfo is the slice of the fetch utility's --dump-json output we care
// about.
type videoInfo struct {
	Formats     []format `json:"formats"`
	UploadDate  string   `json:"upload_date"`
	Uploader    string   `json:"uploader"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	WebpageURL  string   `json:"webpage_url"`
	Duration    float64  `json:"duration"`
}

type format struct {
	FormatID string `json:"format_id"`
	Ext      string `json:"ext"`
	Height   *int   `json:"height"`
	Filesize int64  `json:"filesize"`
}

func parseInfo(data []byte) (*videoInfo, error) {
	var info videoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if len(info.Formats) == 0 {
		return nil, fmt.Errorf("metadata lists no formats")
	}
	return &info, nil
}

// apply fills the metadata fields on the record. The canonical URL replaces
// whatever the user pasted.
func (info *videoInfo) apply(v *models.Video, now time.Time) {
	created := now
	if t, err := time.Parse("20060102", info.UploadDate); err == nil {
		created = t
	}
	v.Created = &created
	v.Author = info.Uploader
	v.Title = info.Title
	v.Description = info.Description
	if info.WebpageURL != "" {
		v.URL = info.WebpageURL
	}
	v.Duration = int(info.Duration)
}

// Containers that can share a merge target without remuxing surprises. The
// fetch utility's default picks the best audio and video independently and
// merges incompatible pairs into MKV, which plays back glitchy in browser
// video elements, so when the best video stream's container is in one of
// these sets we pin an audio stream from the same set.
var compatSets = [][]string{
	{"mp3", "mp4", "m4a", "m4p", "m4b", "m4r", "m4v", "ismv", "isma", "mov"},
	{"webm"},
}

// selectFormats picks the highest-resolution video stream and, when its
// container needs explicit pairing, the smallest compatible audio-only
// stream. A nil audio format means the utility's default muxing applies.
func selectFormats(info *videoInfo) (video, audio *format) {
	for i := range info.Formats {
		f := &info.Formats[i]
		if f.Height == nil {
			continue
		}
		if video == nil || *f.Height > *video.Height {
			video = f
		}
	}
	if video == nil {
		return nil, nil
	}

	var compat []string
	for _, set := range compatSets {
		for _, ext := range set {
			if ext == video.Ext {
				compat = set
			}
		}
	}
	if compat == nil {
		return video, nil
	}

	for i := range info.Formats {
		f := &info.Formats[i]
		if f.Height != nil || !containsExt(compat, f.Ext) {
			continue
		}
		// Unknown sizes (0) lose to any known size.
		if audio == nil || (f.Filesize > 0 && (audio.Filesize <= 0 || f.Filesize < audio.Filesize)) {
			audio = f
		}
	}
	return video, audio
}

func containsExt(set []string, ext string) bool {
	for _, e := range set {
		if e == ext {
			return true
		}
	}
	return false
}
