package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/hometv/jukebox/internal/media/models"
)

type StoreMock struct {
	mock.Mock
}

func (m *StoreMock) SaveVideo(ctx context.Context, v *models.Video) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *StoreMock) RemoveVideo(ctx context.Context, id uuid.UUID, channel string) error {
	args := m.Called(ctx, id, channel)
	return args.Error(0)
}

// fakeHandle is a scripted child process. Wait blocks until release is
// closed; a killed handle reports an error the way a SIGKILLed process would.
type fakeHandle struct {
	release chan struct{}
	once    sync.Once
	out     []byte
	err     error
	killed  atomic.Bool
}

func doneHandle(out []byte, err error) *fakeHandle {
	h := &fakeHandle{release: make(chan struct{}), out: out, err: err}
	h.once.Do(func() { close(h.release) })
	return h
}

func blockingHandle(out []byte) *fakeHandle {
	return &fakeHandle{release: make(chan struct{}), out: out}
}

func (h *fakeHandle) finish() {
	h.once.Do(func() { close(h.release) })
}

func (h *fakeHandle) Wait() ([]byte, error) {
	<-h.release
	if h.killed.Load() {
		return nil, errors.New("killed")
	}
	return h.out, h.err
}

func (h *fakeHandle) Kill() {
	h.killed.Store(true)
	h.finish()
}

// fakeRunner records every spawned command and delegates behavior to the
// test's script.
type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	script func(name string, args []string) *fakeHandle
}

func (r *fakeRunner) Start(name string, args ...string) (Handle, error) {
	call := append([]string{name}, args...)
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return r.script(name, args), nil
}

func (r *fakeRunner) recorded() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}
