// Package server wires the catalog, room registry, presence table and
// credential client behind the two framed-JSON TCP endpoints: the developer
// port and the player lobby port. Both listen on OS-assigned ports by
// default and publish them through sibling .dev_port / .lobby_port files so
// bundled clients can find the server without a fixed address.
package server

import (
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/crystal-arcade/gamestore/pkg/catalog"
	"github.com/crystal-arcade/gamestore/pkg/cred"
	"github.com/crystal-arcade/gamestore/pkg/events"
	"github.com/crystal-arcade/gamestore/pkg/presence"
	"github.com/crystal-arcade/gamestore/pkg/room"
	"github.com/crystal-arcade/gamestore/pkg/supervise"
	"github.com/crystal-arcade/gamestore/pkg/wire"
)

const (
	endpointDeveloper = "developer"
	endpointLobby     = "lobby"

	devPortFile   = ".dev_port"
	lobbyPortFile = ".lobby_port"

	handshakeTimeout = 10 * time.Second
)

// Server is the game store process: catalog, rooms, presence and the two
// endpoint listeners.
type Server struct {
	conf     *Conf
	catalog  *catalog.Catalog
	rooms    *room.Registry
	presence *presence.Table
	creds    *cred.Client
	bus      *events.Bus
	activity *activityLogger
	metrics  *Metrics

	devLn   net.Listener
	lobbyLn net.Listener

	// DevPort and LobbyPort are the bound ports, valid after Start.
	DevPort   int
	LobbyPort int

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// supervisorAdapter narrows supervise.Supervisor to the registry's interface.
type supervisorAdapter struct {
	s *supervise.Supervisor
}

func (a supervisorAdapter) Spawn(roomID, command, workDir string, playerCount int) (room.ServerProcess, error) {
	h, err := a.s.Spawn(roomID, command, workDir, playerCount)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (a supervisorAdapter) Stop(p room.ServerProcess) {
	if h, ok := p.(*supervise.Handle); ok {
		a.s.Stop(h)
	}
}

// New assembles a server from config. The catalog tree is created under the
// data root if missing.
func New(conf *Conf) (*Server, error) {
	cat, err := catalog.Open(conf.DataRoot)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conf:    conf,
		catalog: cat,
		bus:     events.NewBus(),
		creds:   cred.NewClient(conf.CredHost, conf.CredPort),
	}

	sup := supervise.New(conf.GameLogDir, func(roomID string, exitCode int) {
		s.rooms.OnGameServerExit(roomID, exitCode)
	})
	s.rooms = room.NewRegistry(cat, supervisorAdapter{sup}, s.bus)
	s.presence = presence.NewTable(s.rooms)
	s.activity = newActivityLogger(s.bus)

	if conf.MetricsEnabled {
		s.metrics = NewMetrics(s, time.Now())
		s.bus.SubscribeGlobal(s.metrics)
	}
	return s, nil
}

// Start binds both listeners, writes the port files and launches the accept
// loops. It returns once the server is accepting.
func (s *Server) Start() error {
	var err error
	s.devLn, s.DevPort, err = s.listen(s.conf.DevPort)
	if err != nil {
		return fmt.Errorf("server: developer listener: %w", err)
	}
	s.lobbyLn, s.LobbyPort, err = s.listen(s.conf.LobbyPort)
	if err != nil {
		s.devLn.Close()
		return fmt.Errorf("server: lobby listener: %w", err)
	}

	if err := s.writePortFile(devPortFile, s.DevPort); err != nil {
		return err
	}
	if err := s.writePortFile(lobbyPortFile, s.LobbyPort); err != nil {
		return err
	}

	log.Printf("[Store] Developer endpoint on port %d", s.DevPort)
	log.Printf("[Store] Lobby endpoint on port %d", s.LobbyPort)

	if s.metrics != nil {
		s.metrics.ServeMetrics(s.conf.Host, s.conf.MetricsPort)
	}

	s.wg.Add(2)
	go s.acceptLoop(s.devLn, endpointDeveloper)
	go s.acceptLoop(s.lobbyLn, endpointLobby)
	return nil
}

// Shutdown stops the accept loops and waits for them to drain. Live client
// connections are not torn down; they end when their peers disconnect.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	if s.devLn != nil {
		s.devLn.Close()
	}
	if s.lobbyLn != nil {
		s.lobbyLn.Close()
	}
	s.wg.Wait()

	s.activity.close()
	s.bus.Cleanup()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) listen(port int) (net.Listener, int, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.conf.Host, port))
	if err != nil {
		return nil, 0, err
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

// writePortFile publishes a bound port for out-of-band discovery.
func (s *Server) writePortFile(name string, port int) error {
	dir := s.conf.PortFileDir
	if dir == "" {
		dir = s.conf.DataRoot
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)), 0644); err != nil {
		return fmt.Errorf("server: write %s: %w", path, err)
	}
	return nil
}

// acceptLoop polls with a short deadline so Shutdown is observed promptly.
func (s *Server) acceptLoop(ln net.Listener, endpoint string) {
	defer s.wg.Done()
	for {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(time.Second))
		}
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Printf("[Store] Accept error on %s: %v", endpoint, err)
			return
		}
		if s.metrics != nil {
			s.metrics.connectionsTotal.WithLabelValues(endpoint).Inc()
		}
		go s.handleConn(wire.NewConn(conn), endpoint)
	}
}

// handleConn runs the handshake, then hands the connection to the endpoint's
// session loop.
func (s *Server) handleConn(conn *wire.Conn, endpoint string) {
	defer conn.Close()

	raw, err := conn.ReadFrame(handshakeTimeout)
	if err != nil {
		return
	}
	var hs wire.Handshake
	if err := wire.DecodeData(raw, &hs); err != nil {
		conn.WriteJSON(wire.HandshakeReply{Status: "error", Message: "Invalid handshake"})
		return
	}

	want := "developer"
	if endpoint == endpointLobby {
		want = "player"
	}
	if hs.ClientType != want {
		conn.WriteJSON(wire.HandshakeReply{
			Status:  "error",
			Message: fmt.Sprintf("This port serves %s clients; got client_type %q", want, hs.ClientType),
		})
		return
	}

	if err := conn.WriteJSON(wire.HandshakeReply{
		Status:     "success",
		Message:    fmt.Sprintf("Connected to the %s endpoint", endpoint),
		ServerType: endpoint,
	}); err != nil {
		return
	}

	switch endpoint {
	case endpointDeveloper:
		s.developerSession(conn)
	default:
		s.playerSession(conn)
	}
}

// countRequest feeds the per-action counter when metrics are on.
func (s *Server) countRequest(endpoint, action string) {
	if s.metrics != nil {
		s.metrics.requestsTotal.WithLabelValues(endpoint, action).Inc()
	}
}
