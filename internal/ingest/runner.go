package ingest

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Handle is a started external process. Wait blocks until exit and returns
// collected stdout; Kill must be callable at any moment, including mid-I/O.
type Handle interface {
	Wait() ([]byte, error)
	Kill()
}

// Runner spawns external utilities. The exec-backed implementation below is
// used in production; tests substitute a fake to script exits and hangs.
type Runner interface {
	Start(name string, args ...string) (Handle, error)
}

// ExecRunner runs commands through os/exec. Each child gets its own process
// group so Kill takes down the whole tree (yt-dlp forks ffmpeg for muxing).
type ExecRunner struct{}

func (ExecRunner) Start(name string, args ...string) (Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &execHandle{cmd: cmd}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (h *execHandle) Wait() ([]byte, error) {
	if err := h.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(h.stderr.String())
		if msg == "" {
			return h.stdout.Bytes(), fmt.Errorf("%s: %w", h.cmd.Path, err)
		}
		return h.stdout.Bytes(), fmt.Errorf("%s: %w: %s", h.cmd.Path, err, msg)
	}
	return h.stdout.Bytes(), nil
}

func (h *execHandle) Kill() {
	if h.cmd.Process == nil {
		return
	}
	// Negative pid signals the process group.
	_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
	_ = h.cmd.Process.Kill()
}
