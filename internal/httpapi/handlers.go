package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/media/models"
	"github.com/hometv/jukebox/internal/media/store"
)

// Pipeline is the slice of the ingest pipeline the API needs for the
// reprocess trigger.
type Pipeline interface {
	Enqueue(v models.Video)
}

type Handler struct {
	store    *store.Store
	pipeline Pipeline
	mediaDir string
	logger   zerolog.Logger
}

func New(st *store.Store, pipeline Pipeline, mediaDir string, logger zerolog.Logger) *Handler {
	return &Handler{
		store:    st,
		pipeline: pipeline,
		mediaDir: mediaDir,
		logger:   logger.With().Str("component", "httpapi").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Videos handles GET /videos (list) and POST /videos (submit a URL).
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		videos, err := h.store.GetVideos(r.Context(), r.URL.Query().Get("channel"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toVideoResponses(videos))

	case http.MethodPost:
		defer r.Body.Close()
		var req AddVideoRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorJSON(w, http.StatusBadRequest, "invalid json body")
			return
		}
		v, err := h.store.AddVideo(r.Context(), req.URL, req.Channel)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toVideoResponse(v))

	default:
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// Video handles DELETE /videos/{id}. An optional channel query removes only
// that membership.
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/videos/")
	if idStr == "" || idStr == r.URL.Path {
		writeErrorJSON(w, http.StatusBadRequest, "missing id")
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.store.RemoveVideo(r.Context(), id, r.URL.Query().Get("channel")); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Channels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	channels, err := h.store.GetChannels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, ChannelsResponse{
		Channels: channels,
		Reserved: h.store.ReservedChannels(),
	})
}

// Reprocess re-enqueues every stored video into the pipeline. Deliberate
// re-ingest is the only retry mechanism the system has.
func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	videos, err := h.store.GetVideos(r.Context(), "")
	if err != nil {
		h.writeError(w, err)
		return
	}
	for _, v := range videos {
		h.pipeline.Enqueue(v)
	}
	h.logger.Info().Int("count", len(videos)).Msg("reprocess triggered")
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": len(videos)})
}

// Content serves media assets: /content/thumbnail/{id} and
// /content/video/{id}. The video file's extension is unknown up front, so it
// is found by probing the video's directory.
func (h *Handler) Content(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/content/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	kind := strings.ToLower(parts[0])
	id, err := uuid.Parse(parts[1])
	if err != nil {
		http.NotFound(w, r)
		return
	}
	dir := filepath.Join(h.mediaDir, id.String())

	switch kind {
	case "thumbnail":
		http.ServeFile(w, r, filepath.Join(dir, id.String()+"-resized.jpg"))

	case "video":
		entries, err := os.ReadDir(dir)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		for _, entry := range entries {
			name := entry.Name()
			ext := filepath.Ext(name)
			if ext != ".jpg" && strings.TrimSuffix(name, ext) == id.String() {
				http.ServeFile(w, r, filepath.Join(dir, name))
				return
			}
		}
		http.NotFound(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrAlreadyInChannel):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrConflict):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("internal error")
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
