package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// NewRouter wires the REST routes and the websocket endpoint. When a
// username or password is configured, everything sits behind basic auth.
func NewRouter(h *Handler, ws http.Handler, username, password string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.Health)

	// POST /videos, GET /videos?channel=
	mux.HandleFunc("/videos", h.Videos)

	// DELETE /videos/{id}?channel=
	// Важно: trailing slash, чтобы handler мог TrimPrefix("/videos/")
	mux.HandleFunc("/videos/", h.Video)

	mux.HandleFunc("/channels", h.Channels)
	mux.HandleFunc("/reprocess", h.Reprocess)
	mux.HandleFunc("/content/", h.Content)

	if ws != nil {
		mux.Handle("/ws", ws)
	}

	if username == "" && password == "" {
		return mux
	}
	return basicAuth(mux, username, password)
}

func basicAuth(next http.Handler, username, password string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="jukebox"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
