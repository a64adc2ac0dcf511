// Package tuner implements the live synchronization engine: ephemeral
// per-tuner playback state, room-scoped broadcasts to playback front ends and
// the admin console, and the non-repeating next-video selection.
package tuner

import (
	"context"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/media/models"
)

// DefaultTuner is the tuner identity used when a connection does not claim
// one.
const DefaultTuner = "default"

// Conn is one attached transport connection. The websocket hub adapts real
// connections; tests plug in fakes.
type Conn interface {
	Send(event string, data any) error
}

// VideoLister is the read side of the media store the engine selects from.
type VideoLister interface {
	GetVideos(ctx context.Context, channel string) ([]models.Video, error)
}

// Events is the subscription side of the media store.
type Events interface {
	Subscribe(fn func(models.Event))
}

// state is the ephemeral per-tuner record. It is never persisted; it is
// created on first connection and survives disconnects so a reconnecting
// instance resumes where it left off.
type state struct {
	name       string
	channel    string
	videoID    string
	info       bool
	audio      bool
	played     map[string]struct{}
	conns      map[Conn]struct{}
	controller Conn
}

// Snapshot is the wire form of a tuner state, built from fully updated state
// before any send so joiners never observe torn state.
type Snapshot struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	VideoID string `json:"video"`
	Info    bool   `json:"info"`
	Audio   bool   `json:"audio"`
}

// Engine owns every tuner state and the admin audience. All mutations take
// the one mutex, so no two state changes interleave.
type Engine struct {
	store  VideoLister
	logger zerolog.Logger

	mu     sync.Mutex
	tuners map[string]*state
	admins map[Conn]struct{}

	// pick returns a uniform index in [0,n); injected for deterministic
	// tests.
	pick func(n int) int
}

func NewEngine(store VideoLister, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "tuner").Logger(),
		tuners: make(map[string]*state),
		admins: make(map[Conn]struct{}),
		pick:   rand.Intn,
	}
}

// Bind relays store events to every connected party, so front ends keep
// their local video lists current without polling. A removed video is also
// dropped from played sets; the current video id is deliberately kept until
// the next explicit advance.
func (e *Engine) Bind(events Events) {
	events.Subscribe(func(ev models.Event) {
		if removed, ok := ev.(models.VideoRemoved); ok {
			id := removed.VideoID.String()
			e.mu.Lock()
			for _, st := range e.tuners {
				delete(st.played, id)
			}
			e.mu.Unlock()
		}
		e.broadcastAll(ev.EventType(), ev)
	})
}

func (e *Engine) ensure(name string) *state {
	if name == "" {
		name = DefaultTuner
	}
	st, ok := e.tuners[name]
	if !ok {
		st = &state{
			name:   name,
			played: make(map[string]struct{}),
			conns:  make(map[Conn]struct{}),
		}
		e.tuners[name] = st
	}
	return st
}

// TunerOn is called once per new connection claiming a tuner identity. A
// reconnecting instance may carry a video id, adopted only when the tuner has
// none yet, and may always replace the channel.
func (e *Engine) TunerOn(conn Conn, name, channel, videoID string) {
	e.mu.Lock()
	st := e.ensure(name)
	if conn != nil {
		st.conns[conn] = struct{}{}
	}
	if videoID != "" && st.videoID == "" {
		st.videoID = videoID
	}
	st.channel = models.NormalizeChannel(channel)
	name = st.name
	e.mu.Unlock()

	e.logger.Info().Str("tuner", name).Str("channel", channel).Msg("tuner connected")
	e.sendTunerState(name)
}

// TunerChanged overwrites the tuner state with whatever the front end
// reports (advance, channel change, display toggles) and re-broadcasts.
func (e *Engine) TunerChanged(conn Conn, name, channel, videoID string, info, audio bool) {
	e.mu.Lock()
	st := e.ensure(name)
	if conn != nil {
		st.conns[conn] = struct{}{}
	}
	st.channel = models.NormalizeChannel(channel)
	st.videoID = videoID
	st.info = info
	st.audio = audio
	if videoID != "" {
		st.played[videoID] = struct{}{}
	}
	name = st.name
	e.mu.Unlock()

	e.sendTunerState(name)
}

// TunerAdmin subscribes a connection to the admin audience and immediately
// sends it the full map of known tuner states.
func (e *Engine) TunerAdmin(conn Conn) {
	e.mu.Lock()
	e.admins[conn] = struct{}{}
	all := e.snapshotAllLocked()
	e.mu.Unlock()

	e.logger.Info().Msg("admin connected")
	if err := conn.Send("tunerChanged", all); err != nil {
		e.Disconnect(conn)
	}
}

// ControllerOn attaches a hardware-controller connection to a tuner.
func (e *Engine) ControllerOn(conn Conn, name string) {
	e.mu.Lock()
	st := e.ensure(name)
	st.controller = conn
	if conn != nil {
		st.conns[conn] = struct{}{}
	}
	e.mu.Unlock()

	e.logger.Info().Str("tuner", name).Msg("controller connected")
}

// Disconnect removes the connection from every tuner it joined and from the
// admin audience. Tuner states are kept for reconnection.
func (e *Engine) Disconnect(conn Conn) {
	e.mu.Lock()
	for _, st := range e.tuners {
		delete(st.conns, conn)
		if st.controller == conn {
			st.controller = nil
		}
	}
	delete(e.admins, conn)
	e.mu.Unlock()
}

// ToggleInfo flips the info overlay for a tuner and re-broadcasts.
func (e *Engine) ToggleInfo(name string) {
	e.mu.Lock()
	st := e.ensure(name)
	st.info = !st.info
	name = st.name
	e.mu.Unlock()
	e.sendTunerState(name)
}

// ToggleAudio flips the audio flag for a tuner and re-broadcasts.
func (e *Engine) ToggleAudio(name string) {
	e.mu.Lock()
	st := e.ensure(name)
	st.audio = !st.audio
	name = st.name
	e.mu.Unlock()
	e.sendTunerState(name)
}

// SeekForward relays a seek command to every connection in the tuner group.
func (e *Engine) SeekForward(name string) { e.broadcastRoom(name, "seekForward", nil) }

// SeekBack relays a seek command to every connection in the tuner group.
func (e *Engine) SeekBack(name string) { e.broadcastRoom(name, "seekBack", nil) }

// NextMode relays a mode-cycle command to every connection in the tuner
// group.
func (e *Engine) NextMode(name string) { e.broadcastRoom(name, "nextMode", nil) }

// ControllerStatus is the battery/connection payload a hardware controller
// reports.
type ControllerStatus struct {
	Status  string `json:"status,omitempty"`
	Battery *int   `json:"battery,omitempty"`
	Knob    string `json:"knob,omitempty"`
}

// Controller relays controller status to the tuner group and, because the
// admin console shows controller health, to the admin audience too.
func (e *Engine) Controller(name string, status ControllerStatus) {
	e.broadcastRoom(name, "controller", status)
	e.mu.Lock()
	admins := connSetToSlice(e.admins)
	e.mu.Unlock()
	e.sendEach(admins, "controller", status)
}

// SelectNextVideo picks the tuner's next video: loaded videos of its channel
// not yet played this cycle, uniformly at random. When the cycle is
// exhausted it restarts, excluding the current video whenever the channel
// has more than one loaded video, so the same video never plays twice in a
// row. With zero loaded videos the broadcast carries an empty id.
func (e *Engine) SelectNextVideo(ctx context.Context, name string) {
	e.mu.Lock()
	st := e.ensure(name)
	name = st.name
	channel := st.channel
	e.mu.Unlock()

	videos, err := e.store.GetVideos(ctx, channel)
	if err != nil {
		e.logger.Warn().Err(err).Str("tuner", name).Str("channel", channel).Msg("list videos for selection")
		return
	}

	e.mu.Lock()
	loaded := make([]string, 0, len(videos))
	for _, v := range videos {
		if v.Loaded {
			loaded = append(loaded, v.ID.String())
		}
	}

	candidates := unplayed(loaded, st.played)
	if len(candidates) == 0 {
		st.played = make(map[string]struct{})
		candidates = loaded
		if len(loaded) > 1 {
			candidates = without(loaded, st.videoID)
		}
	}

	if len(candidates) == 0 {
		st.videoID = ""
	} else {
		id := candidates[e.pick(len(candidates))]
		st.videoID = id
		st.played[id] = struct{}{}
	}
	e.mu.Unlock()

	e.sendTunerState(name)
}

func unplayed(ids []string, played map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := played[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

// Snapshots returns the current state of every tuner, keyed by name.
func (e *Engine) Snapshots() map[string]Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotAllLocked()
}

func (e *Engine) snapshotAllLocked() map[string]Snapshot {
	out := make(map[string]Snapshot, len(e.tuners))
	for name, st := range e.tuners {
		out[name] = snapshotLocked(st)
	}
	return out
}

func snapshotLocked(st *state) Snapshot {
	return Snapshot{
		Name:    st.name,
		Channel: st.channel,
		VideoID: st.videoID,
		Info:    st.info,
		Audio:   st.audio,
	}
}

// sendTunerState broadcasts a tuner's snapshot to its own group and the full
// map to the admin audience.
func (e *Engine) sendTunerState(name string) {
	e.mu.Lock()
	st, ok := e.tuners[name]
	if !ok {
		e.mu.Unlock()
		return
	}
	snap := snapshotLocked(st)
	all := e.snapshotAllLocked()
	room := connSetToSlice(st.conns)
	admins := connSetToSlice(e.admins)
	e.mu.Unlock()

	e.sendEach(room, "tunerChanged", snap)
	e.sendEach(admins, "tunerChanged", all)
}

func (e *Engine) broadcastRoom(name, event string, data any) {
	if name == "" {
		name = DefaultTuner
	}
	e.mu.Lock()
	st, ok := e.tuners[name]
	var room []Conn
	if ok {
		room = connSetToSlice(st.conns)
	}
	e.mu.Unlock()
	e.sendEach(room, event, data)
}

// broadcastAll reaches every connection in every room plus the admins.
func (e *Engine) broadcastAll(event string, data any) {
	e.mu.Lock()
	seen := make(map[Conn]struct{})
	for _, st := range e.tuners {
		for c := range st.conns {
			seen[c] = struct{}{}
		}
	}
	for c := range e.admins {
		seen[c] = struct{}{}
	}
	conns := connSetToSlice(seen)
	e.mu.Unlock()
	e.sendEach(conns, event, data)
}

// sendEach delivers to each connection; a failed peer is dropped from all
// future broadcasts.
func (e *Engine) sendEach(conns []Conn, event string, data any) {
	for _, c := range conns {
		if err := c.Send(event, data); err != nil {
			e.logger.Debug().Err(err).Str("event", event).Msg("dropping unreachable connection")
			e.Disconnect(c)
		}
	}
}

func connSetToSlice(set map[Conn]struct{}) []Conn {
	out := make([]Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
