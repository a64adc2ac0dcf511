package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/hometv/jukebox/internal/media/models"
)

type AddVideoRequest struct {
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

type VideoResponse struct {
	ID          uuid.UUID  `json:"id"`
	URL         string     `json:"url"`
	Added       time.Time  `json:"added"`
	Created     *time.Time `json:"created,omitempty"`
	Author      string     `json:"author"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Duration    int        `json:"duration"`
	Loaded      bool       `json:"loaded"`
	Channels    []string   `json:"channels"`
}

type ChannelsResponse struct {
	Channels []string `json:"channels"`
	Reserved []string `json:"reserved"`
}

func toVideoResponse(v *models.Video) VideoResponse {
	channels := v.Channels
	if channels == nil {
		channels = []string{}
	}
	return VideoResponse{
		ID:          v.ID,
		URL:         v.URL,
		Added:       v.Added,
		Created:     v.Created,
		Author:      v.Author,
		Title:       v.Title,
		Description: v.Description,
		Duration:    v.Duration,
		Loaded:      v.Loaded,
		Channels:    channels,
	}
}

func toVideoResponses(videos []models.Video) []VideoResponse {
	out := make([]VideoResponse, 0, len(videos))
	for i := range videos {
		out = append(out, toVideoResponse(&videos[i]))
	}
	return out
}
