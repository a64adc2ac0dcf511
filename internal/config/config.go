package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	DownloadDir string

	FetchBin       string
	ConvertBin     string
	ThumbnailWidth int

	KafkaBrokers   []string
	KafkaTopic     string
	OutboxInterval time.Duration
	OutboxBatch    int

	UDPAddr string

	AuthUsername string
	AuthPassword string
}

// Load reads configuration from the environment, with .env as a convenience
// for local runs. DATABASE_URL may be empty: the service then keeps all
// state in memory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:    getString("HTTP_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DownloadDir: getString("DOWNLOAD_DIR", "downloads"),

		FetchBin:       getString("FETCH_BIN", "yt-dlp"),
		ConvertBin:     getString("CONVERT_BIN", "convert"),
		ThumbnailWidth: getInt("THUMBNAIL_WIDTH", 600),

		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getString("KAFKA_TOPIC", "jukebox.media.events"),
		OutboxInterval: getDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:    getInt("OUTBOX_BATCH_SIZE", 100),

		UDPAddr: getString("UDP_ADDR", ":41234"),

		AuthUsername: os.Getenv("AUTH_USERNAME"),
		AuthPassword: os.Getenv("AUTH_PASSWORD"),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
