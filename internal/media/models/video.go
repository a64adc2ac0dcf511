package models

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Video is a single submitted media record. Metadata fields stay empty until
// the ingest pipeline fills them in; Loaded flips to true only once the media
// file and the resized thumbnail both exist on disk.
type Video struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	URL         string     `db:"url" json:"url"`
	Added       time.Time  `db:"added" json:"added"`
	Created     *time.Time `db:"created" json:"created,omitempty"`
	Author      string     `db:"author" json:"author"`
	Title       string     `db:"title" json:"title"`
	Description string     `db:"description" json:"description"`
	Duration    int        `db:"duration" json:"duration"`
	Loaded      bool       `db:"loaded" json:"loaded"`
	Channels    []string   `db:"-" json:"channels"`
}

func (v *Video) InChannel(name string) bool {
	return slices.Contains(v.Channels, name)
}

// reservedChannels are names the web layer routes on; a channel may not take
// one of them.
var reservedChannels = []string{
	"new",
	"all",
	"admin",
	"api",
	"images",
	"scripts",
	"styles",
	"_",
}

func ReservedChannels() []string {
	return slices.Clone(reservedChannels)
}

// NormalizeChannel lower-cases a channel name. Empty stays empty ("no channel").
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidChannelName reports whether a normalized name may be used as a channel.
func ValidChannelName(name string) bool {
	if name == "" {
		return false
	}
	return !slices.Contains(reservedChannels, name)
}
