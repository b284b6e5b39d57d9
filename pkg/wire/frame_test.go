package wire

import (
	"encoding/binary"
	"net"
	"testing"
	"time"
)

// pipePair returns two framed conns joined by an in-memory pipe.
func pipePair() (*Conn, *Conn) {
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	payloads := [][]byte{
		[]byte(`{"action":"list_games"}`),
		[]byte(`{}`),
		make([]byte, 64*1024),
	}

	go func() {
		for _, p := range payloads {
			client.WriteFrame(p)
		}
	}()

	for i, want := range payloads {
		got, err := server.ReadFrame(time.Second)
		if err != nil {
			t.Fatalf("frame %d: read: %v", i, err)
		}
		if len(got) != len(want) {
			t.Fatalf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	go client.WriteFrame(nil)

	got, err := server.ReadFrame(time.Second)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}

func TestFrameClosedBetweenFrames(t *testing.T) {
	client, server := pipePair()
	defer server.Close()

	client.Close()
	if _, err := server.ReadFrame(time.Second); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestFrameTruncatedMidPayload(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(b)
	defer server.Close()

	go func() {
		// Announce 100 bytes, deliver 10, then hang up.
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 100)
		a.Write(header[:])
		a.Write(make([]byte, 10))
		a.Close()
	}()

	if _, err := server.ReadFrame(time.Second); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestFrameOversizeRejected(t *testing.T) {
	a, b := net.Pipe()
	server := NewConn(b)
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
		a.Write(header[:])
	}()

	if _, err := server.ReadFrame(time.Second); err != ErrTooLarge {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}

	if err := NewConn(a).WriteFrame(make([]byte, MaxFrameSize+1)); err != ErrTooLarge {
		t.Errorf("write side: expected ErrTooLarge, got %v", err)
	}
}

func TestFrameReadDeadline(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	_, err := server.ReadFrame(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeout(err) {
		t.Errorf("IsTimeout(%v) = false, want true", err)
	}
}

func TestRequestResponseEnvelope(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	go func() {
		client.WriteJSON(Request{Action: "join_room", Data: []byte(`{"room_id":"ROOM_0001","version":"1.0.0"}`)})
	}()

	req, err := server.ReadRequest(time.Second)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if req.Action != "join_room" {
		t.Errorf("action = %q, want join_room", req.Action)
	}

	var data struct {
		RoomID  string `json:"room_id"`
		Version string `json:"version"`
	}
	if err := DecodeData(req.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data.RoomID != "ROOM_0001" || data.Version != "1.0.0" {
		t.Errorf("decoded %+v", data)
	}
}

func TestResponseHelpers(t *testing.T) {
	ok := OK("done", map[string]int{"n": 1})
	if !ok.IsSuccess() || ok.Message != "done" {
		t.Errorf("OK() = %+v", ok)
	}
	e := Err("bad thing: %d", 7)
	if e.IsSuccess() || e.Message != "bad thing: 7" {
		t.Errorf("Err() = %+v", e)
	}
}
