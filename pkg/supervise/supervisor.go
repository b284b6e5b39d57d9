// Package supervise launches and reaps per-room game-server subprocesses.
// A spawned child owns its log file and its reaper goroutine; stopping a
// child signals its whole process group and leaves the reap to the goroutine
// already blocked on it.
package supervise

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// Game-server ports are picked pseudo-randomly from this range.
	portMin = 20000
	portMax = 30000

	// graceWindow is how long a child must survive before the spawn is
	// considered successful.
	graceWindow = 500 * time.Millisecond
)

// ErrSpawnFailed means the child exited within the grace window.
var ErrSpawnFailed = errors.New("supervise: game server failed to start")

// ExitFunc is invoked (on the reaper goroutine) when a supervised child
// exits for any reason after a successful spawn.
type ExitFunc func(roomID string, exitCode int)

// Handle identifies one live (or reaped) subprocess.
type Handle struct {
	pid  int
	port int

	roomID string
	cmd    *exec.Cmd
	log    *os.File
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
}

// PID returns the child's process id (also its process group id).
func (h *Handle) PID() int { return h.pid }

// Port returns the port the child was launched with.
func (h *Handle) Port() int { return h.port }

// Alive reports whether the child has not yet been reaped.
func (h *Handle) Alive() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the recorded exit code; only meaningful once Alive() is
// false.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Supervisor spawns game servers and dispatches their exits.
type Supervisor struct {
	logDir string
	onExit ExitFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a supervisor writing child logs under logDir (os.TempDir()
// when empty). onExit runs once per successfully spawned child, after it
// exits.
func New(logDir string, onExit ExitFunc) *Supervisor {
	if logDir == "" {
		logDir = os.TempDir()
	}
	return &Supervisor{
		logDir: logDir,
		onExit: onExit,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// pickPort returns a pseudo-random port in [portMin, portMax].
func (s *Supervisor) pickPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return portMin + s.rng.Intn(portMax-portMin+1)
}

// buildCommand substitutes the port placeholder (or appends the port) and
// always appends the player count flag.
func buildCommand(command string, port, players int) string {
	if strings.Contains(command, "{port}") {
		command = strings.ReplaceAll(command, "{port}", fmt.Sprintf("%d", port))
	} else {
		command = fmt.Sprintf("%s %d", command, port)
	}
	return fmt.Sprintf("%s --players %d", command, players)
}

// Spawn starts `command` in workDir with a fresh port, a new process group
// and a log file keyed by the port. The child must survive the grace window
// or the spawn fails and everything is undone.
func (s *Supervisor) Spawn(roomID, command, workDir string, playerCount int) (*Handle, error) {
	port := s.pickPort()
	cmdline := buildCommand(command, port, playerCount)

	if err := os.MkdirAll(s.logDir, 0755); err != nil {
		return nil, fmt.Errorf("supervise: create log dir: %w", err)
	}
	logPath := filepath.Join(s.logDir, fmt.Sprintf("game_server_%d.log", port))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("supervise: create log file: %w", err)
	}

	cmd := exec.Command("/bin/sh", "-c", cmdline)
	cmd.Dir = workDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// New process group so Stop can take down the whole command tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		os.Remove(logPath)
		return nil, fmt.Errorf("supervise: start %q: %w", cmdline, err)
	}

	h := &Handle{
		pid:    cmd.Process.Pid,
		port:   port,
		roomID: roomID,
		cmd:    cmd,
		log:    logFile,
		done:   make(chan struct{}),
	}

	// Single reaper per child: records the exit code, releases the log file,
	// then signals done.
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitCode = exitCode(err)
		h.mu.Unlock()
		logFile.Close()
		close(h.done)
	}()

	select {
	case <-h.done:
		return nil, fmt.Errorf("%w (exit code %d, log: %s)", ErrSpawnFailed, h.ExitCode(), logPath)
	case <-time.After(graceWindow):
	}

	// Spawn succeeded; dispatch the exit when it eventually comes.
	go func() {
		<-h.done
		if s.onExit != nil {
			s.onExit(h.roomID, h.ExitCode())
		}
	}()

	return h, nil
}

// Stop signals the child's process group with SIGTERM. The reaper goroutine
// observes the exit; Stop never blocks on it.
func (s *Supervisor) Stop(h *Handle) {
	if h == nil || !h.Alive() {
		return
	}
	// Negative pid targets the process group created at spawn.
	syscall.Kill(-h.pid, syscall.SIGTERM)
}

// exitCode maps a Wait error to a shell-style exit code. Signal deaths
// report as negative signal numbers, matching how the room log describes
// them.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if status, ok := ee.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -int(status.Signal())
		}
		return ee.ExitCode()
	}
	return -1
}
