package tuner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// envelope is the wire framing: a named event with a JSON payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type tunerOnMsg struct {
	Tuner   string `json:"tuner"`
	Channel string `json:"channel"`
	Video   string `json:"video"`
}

type tunerChangedMsg struct {
	Tuner   string `json:"tuner"`
	Channel string `json:"channel"`
	Video   string `json:"video"`
	Info    bool   `json:"info"`
	Audio   bool   `json:"audio"`
}

type controllerMsg struct {
	Tuner string           `json:"tuner"`
	State ControllerStatus `json:"state"`
}

// Hub upgrades HTTP connections to websockets and shuttles envelopes between
// them and the engine.
type Hub struct {
	engine   *Engine
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewHub(engine *Engine, logger zerolog.Logger) *Hub {
	return &Hub{
		engine: engine,
		logger: logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Tuners are same-host displays or LAN boxes; no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{
		ws:   ws,
		send: make(chan []byte, 16),
	}
	go c.writeLoop()
	h.readLoop(c)
}

func (h *Hub) readLoop(c *wsConn) {
	defer func() {
		h.engine.Disconnect(c)
		c.close()
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		h.dispatch(c, data)
	}
}

func (h *Hub) dispatch(c *wsConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Debug().Err(err).Msg("malformed envelope")
		return
	}

	switch env.Event {
	case "tunerOn":
		var m tunerOnMsg
		_ = json.Unmarshal(env.Data, &m)
		h.engine.TunerOn(c, m.Tuner, m.Channel, m.Video)

	case "tunerChanged":
		var m tunerChangedMsg
		_ = json.Unmarshal(env.Data, &m)
		h.engine.TunerChanged(c, m.Tuner, m.Channel, m.Video, m.Info, m.Audio)

	case "tunerAdmin":
		h.engine.TunerAdmin(c)

	case "tunerNext":
		h.engine.SelectNextVideo(context.Background(), decodeTuner(env.Data))

	case "seekForward":
		h.engine.SeekForward(decodeTuner(env.Data))

	case "seekBack":
		h.engine.SeekBack(decodeTuner(env.Data))

	case "nextMode":
		h.engine.NextMode(decodeTuner(env.Data))

	case "info":
		h.engine.ToggleInfo(decodeTuner(env.Data))

	case "audio":
		h.engine.ToggleAudio(decodeTuner(env.Data))

	case "controllerOn":
		h.engine.ControllerOn(c, decodeTuner(env.Data))

	case "controller":
		var m controllerMsg
		_ = json.Unmarshal(env.Data, &m)
		h.engine.Controller(m.Tuner, m.State)

	default:
		h.logger.Debug().Str("event", env.Event).Msg("unknown event")
	}
}

// decodeTuner accepts either a bare string or {"tuner": "..."} payload.
func decodeTuner(data json.RawMessage) string {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		return name
	}
	var m struct {
		Tuner string `json:"tuner"`
	}
	_ = json.Unmarshal(data, &m)
	return m.Tuner
}

// wsConn adapts a gorilla connection to the engine's Conn interface. Writes
// go through a buffered channel and a single write pump; a peer that cannot
// keep up is dropped rather than allowed to stall broadcasts.
type wsConn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Send(event string, data any) error {
	b, err := json.Marshal(envelope{Event: event, Data: mustMarshal(data)})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) writeLoop() {
	for b := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			c.close()
			// Drain so pending Sends cannot block.
			for range c.send {
			}
			return
		}
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}

func mustMarshal(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}
