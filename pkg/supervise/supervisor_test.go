package supervise

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		port    int
		players int
		want    string
	}{
		{"placeholder", "python server.py --port {port}", 25000, 2, "python server.py --port 25000 --players 2"},
		{"double placeholder", "run {port} {port}", 21000, 4, "run 21000 21000 --players 4"},
		{"no placeholder appends", "python server.py", 25000, 3, "python server.py 25000 --players 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildCommand(tt.command, tt.port, tt.players); got != tt.want {
				t.Errorf("buildCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

func TestPickPortInRange(t *testing.T) {
	s := New(t.TempDir(), nil)
	for i := 0; i < 200; i++ {
		p := s.pickPort()
		if p < portMin || p > portMax {
			t.Fatalf("port %d outside [%d, %d]", p, portMin, portMax)
		}
	}
}

func TestSpawnAndStop(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	// The trailing comment keeps the substituted port and the appended
	// player flags out of sleep's argv.
	h, err := s.Spawn("ROOM_0001", "sleep 30 # {port}", dir, 2)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !h.Alive() {
		t.Fatal("child should be alive after the grace window")
	}
	if h.Port() < portMin || h.Port() > portMax {
		t.Errorf("port %d out of range", h.Port())
	}

	logPath := filepath.Join(dir, "game_server_"+strconv.Itoa(h.Port())+".log")
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file missing: %v", err)
	}

	s.Stop(h)
	waitGone(t, h, 2*time.Second)
}

func TestSpawnFailureWithinGrace(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	_, err := s.Spawn("ROOM_0001", "exit 3 # {port}", dir, 2)
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("error should carry the exit code: %v", err)
	}
}

func TestExitCallbackFires(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	var gotRoom string
	gotCode := -999
	done := make(chan struct{})
	s := New(dir, func(roomID string, exitCode int) {
		mu.Lock()
		gotRoom, gotCode = roomID, exitCode
		mu.Unlock()
		close(done)
	})

	h, err := s.Spawn("ROOM_0042", "sleep 0.7 # {port}", dir, 1)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("exit callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotRoom != "ROOM_0042" || gotCode != 0 {
		t.Errorf("callback got (%s, %d), want (ROOM_0042, 0)", gotRoom, gotCode)
	}
	if h.Alive() {
		t.Error("handle should be dead after the callback")
	}
}

func TestChildOutputLands(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	h, err := s.Spawn("ROOM_0001", "printf hello; sleep 1 # {port}", dir, 1)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitGone(t, h, 3*time.Second)

	data, err := os.ReadFile(filepath.Join(dir, "game_server_"+strconv.Itoa(h.Port())+".log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("log = %q, want %q", data, "hello")
	}
}

func TestStopDeadHandleIsNoop(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	h, err := s.Spawn("ROOM_0001", "sleep 0.6 # {port}", dir, 1)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	waitGone(t, h, 3*time.Second)
	s.Stop(h)
	s.Stop(nil)
}

func waitGone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for h.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("child never exited")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
