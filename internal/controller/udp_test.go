package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hometv/jukebox/internal/media/models"
	"github.com/hometv/jukebox/internal/tuner"
)

type sent struct {
	event string
	data  any
}

type fakeConn struct {
	mu   sync.Mutex
	sent []sent
}

func (c *fakeConn) Send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sent{event: event, data: data})
	return nil
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, s := range c.sent {
		out = append(out, s.event)
	}
	return out
}

type emptyLister struct{}

func (emptyLister) GetVideos(ctx context.Context, channel string) ([]models.Video, error) {
	return nil, nil
}

func newBridge(t *testing.T) (*Bridge, *tuner.Engine) {
	t.Helper()
	e := tuner.NewEngine(emptyLister{}, zerolog.Nop())
	return NewBridge(e, "127.0.0.1:0", zerolog.Nop()), e
}

func TestHandle_KnobEvents(t *testing.T) {
	b, e := newBridge(t)
	ctx := context.Background()

	living := &fakeConn{}
	def := &fakeConn{}
	e.TunerOn(living, "livingroom", "music", "")
	e.TunerOn(def, "", "", "")

	b.handle(ctx, "livingroom clockwise")
	b.handle(ctx, "livingroom anticlockwise")
	// A bare event targets the default tuner.
	b.handle(ctx, "release")

	assert.Subset(t, living.events(), []string{"seekForward", "seekBack"})
	assert.NotContains(t, living.events(), "nextMode")
	assert.Contains(t, def.events(), "nextMode")
	assert.NotContains(t, def.events(), "seekForward")
}

func TestHandle_ControllerStatus(t *testing.T) {
	b, e := newBridge(t)
	ctx := context.Background()

	def := &fakeConn{}
	e.TunerOn(def, "", "", "")

	b.handle(ctx, "connected")
	b.handle(ctx, "battery:75")

	var statuses []tuner.ControllerStatus
	def.mu.Lock()
	for _, s := range def.sent {
		if s.event == "controller" {
			statuses = append(statuses, s.data.(tuner.ControllerStatus))
		}
	}
	def.mu.Unlock()

	require.Len(t, statuses, 2)
	assert.Equal(t, "connected", statuses[0].Status)
	require.NotNil(t, statuses[1].Battery)
	assert.Equal(t, 75, *statuses[1].Battery)
}

func TestHandle_MalformedDropped(t *testing.T) {
	b, e := newBridge(t)
	ctx := context.Background()

	def := &fakeConn{}
	e.TunerOn(def, "", "", "")
	before := len(def.events())

	b.handle(ctx, "")
	b.handle(ctx, "battery:notanumber")
	b.handle(ctx, "somethingelse")

	assert.Len(t, def.events(), before)
}

func TestListen_StopsOnContextCancel(t *testing.T) {
	b, _ := newBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Listen(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
}
