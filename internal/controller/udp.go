// Package controller bridges hardware knob controllers into the tuner
// engine. Controllers speak a tiny UDP datagram protocol: "<tuner> <event>",
// or a bare "<event>" which targets the default tuner.
package controller

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hometv/jukebox/internal/tuner"
)

type Bridge struct {
	engine *tuner.Engine
	addr   string
	logger zerolog.Logger
}

func NewBridge(engine *tuner.Engine, addr string, logger zerolog.Logger) *Bridge {
	return &Bridge{
		engine: engine,
		addr:   addr,
		logger: logger.With().Str("component", "controller_bridge").Logger(),
	}
}

// Listen reads datagrams until the context is cancelled. Malformed packets
// are logged and dropped; the bridge never terminates on bad input.
func (b *Bridge) Listen(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", b.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	b.logger.Info().Str("addr", b.addr).Msg("controller bridge listening")

	buf := make([]byte, 512)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		b.handle(ctx, strings.TrimSpace(string(buf[:n])))
	}
}

func (b *Bridge) handle(ctx context.Context, msg string) {
	if msg == "" {
		return
	}

	name := tuner.DefaultTuner
	event := msg
	if i := strings.IndexByte(msg, ' '); i >= 0 {
		name = msg[:i]
		event = strings.TrimSpace(msg[i+1:])
	}

	switch {
	case event == "clockwise":
		b.engine.SeekForward(name)
	case event == "anticlockwise":
		b.engine.SeekBack(name)
	case event == "release":
		b.engine.NextMode(name)
	case event == "connected" || event == "disconnected":
		b.engine.Controller(name, tuner.ControllerStatus{Status: event})
	case strings.HasPrefix(event, "battery:"):
		level, err := strconv.Atoi(strings.TrimPrefix(event, "battery:"))
		if err != nil {
			b.logger.Warn().Str("msg", msg).Msg("bad battery datagram")
			return
		}
		b.engine.Controller(name, tuner.ControllerStatus{Battery: &level})
	default:
		b.logger.Debug().Str("msg", msg).Msg("unknown controller event")
	}
}
