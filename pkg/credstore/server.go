package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/crystal-arcade/gamestore/pkg/wire"
)

// request is the collection protocol envelope:
// {"collection":"Developer"|"Player","action":"create"|"query","data":{...}}.
type request struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type credentialData struct {
	Type     string `json:"type,omitempty"` // query type, "login"
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Server serves the collection protocol over framed TCP.
type Server struct {
	store    *Store
	listener net.Listener

	mu      sync.Mutex
	closing bool
}

// NewServer wraps a Store.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Listen binds the TCP listener. Port 0 asks the OS for an ephemeral port.
func (s *Server) Listen(host string, port int) (int, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return 0, fmt.Errorf("credstore: listen: %w", err)
	}
	s.listener = ln
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// Serve accepts connections until Shutdown. Accepts poll with a short
// deadline so shutdown is observed promptly.
func (s *Server) Serve() {
	for {
		s.listener.(*net.TCPListener).SetDeadline(time.Now().Add(time.Second))
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosing() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Printf("[DB] Accept error: %v", err)
			return
		}
		go s.handle(wire.NewConn(conn))
	}
}

// Shutdown stops the accept loop and closes the listener.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) handle(conn *wire.Conn) {
	addr := conn.RemoteAddr()
	log.Printf("[DB] Connected from %s", addr)
	defer func() {
		conn.Close()
		log.Printf("[DB] Disconnected from %s", addr)
	}()

	for {
		raw, err := conn.ReadFrame(0)
		if err != nil {
			return
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			conn.WriteJSON(wire.Err("Invalid JSON"))
			continue
		}

		log.Printf("[DB] Request from %s: %s.%s", addr, req.Collection, req.Action)
		conn.WriteJSON(s.dispatch(req))
	}
}

func (s *Server) dispatch(req request) wire.Response {
	var data credentialData
	if err := wire.DecodeData(req.Data, &data); err != nil {
		return wire.Err("Invalid JSON")
	}

	switch req.Action {
	case "create":
		return s.create(req.Collection, data)
	case "query":
		return s.query(req.Collection, data)
	}
	return wire.Err("Unknown action: %s", req.Action)
}

func (s *Server) create(collection string, data credentialData) wire.Response {
	if data.Name == "" || data.Password == "" {
		return wire.Err("Missing name or password")
	}
	switch err := s.store.Create(collection, data.Name, data.Password); {
	case err == nil:
		return wire.OK(collection+" created", map[string]string{"name": data.Name})
	case errors.Is(err, ErrExists):
		return wire.Err("%s already exists", collection)
	default:
		return wire.Err("Failed to save %s", collection)
	}
}

func (s *Server) query(collection string, data credentialData) wire.Response {
	if data.Type != "login" {
		return wire.Err("Unknown query type")
	}
	if data.Name == "" || data.Password == "" {
		return wire.Err("Missing credentials")
	}
	switch err := s.store.Verify(collection, data.Name, data.Password); {
	case err == nil:
		return wire.OK("Login success", map[string]string{"name": data.Name})
	case errors.Is(err, ErrNotFound):
		return wire.Err("%s not found", collection)
	case errors.Is(err, ErrWrongPassword):
		return wire.Err("Wrong password")
	default:
		return wire.Err("Internal error: %v", err)
	}
}
