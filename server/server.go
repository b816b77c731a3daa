package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/evmacro/evmacro/devices"
	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

// Server owns the unix socket endpoint. Each accepted connection gets its
// own goroutine, its own grab-ownership identity, and an in-order
// request/response loop; notifications are interleaved by the hub.
type Server struct {
	socketPath string
	socketMode os.FileMode
	dispatcher *Dispatcher
	hub        *Hub
	registry   *devices.Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[*socketConn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(socketPath string, socketMode os.FileMode, dispatcher *Dispatcher, hub *Hub, registry *devices.Registry) *Server {
	return &Server{
		socketPath: socketPath,
		socketMode: socketMode,
		dispatcher: dispatcher,
		hub:        hub,
		registry:   registry,
		conns:      make(map[*socketConn]struct{}),
	}
}

// Start binds the socket and begins accepting connections. Bind failures
// are fatal to daemon startup; everything after that is per-connection.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	// a previous daemon instance may have left the socket behind
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, s.socketMode); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket mode: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	utils.Info("Listening on %s (mode %04o)", s.socketPath, s.socketMode)

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			utils.Warn("Accept failed: %v", err)
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()

	c := newSocketConn(raw)
	sess := &Session{Owner: uuid.NewString()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		raw.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.hub.add(c)
	go c.notifyLoop()

	utils.Verbose("Client connected: %s", sess.Owner)

	defer func() {
		s.hub.remove(c)
		close(c.done)
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		raw.Close()
		if s.registry != nil {
			s.registry.ReleaseOwner(sess.Owner)
		}
		utils.Verbose("Client disconnected: %s", sess.Owner)
	}()

	for {
		payload, err := ReadFrame(raw)
		if err != nil {
			if types.KindOf(err) == types.KindMalformed {
				c.sendJSON(errorResponse(nil, ErrCodeInvalidRequest, "Invalid Request", err.Error()))
			}
			return
		}

		var req JSONRPCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			// a client speaking garbage gets one parse error, then the
			// connection is dropped
			c.sendJSON(errorResponse(nil, ErrCodeParseError, "Parse error", "expecting jsonrpc payload"))
			return
		}

		if req.JSONRPC != "2.0" {
			c.sendJSON(errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid Request", "'jsonrpc' must be '2.0'"))
			continue
		}
		if req.ID == nil {
			c.sendJSON(errorResponse(nil, ErrCodeInvalidRequest, "Invalid Request", "'id' field is required"))
			continue
		}

		utils.Verbose("Request ID: %v, Method: %s, Params: %s", req.ID, req.Method, string(req.Params))

		if err := c.sendJSON(s.dispatcher.Dispatch(sess, req)); err != nil {
			return
		}
	}
}

// Close stops accepting, disconnects every client, and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]*socketConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.conn.Close()
	}
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// notifyQueueSize bounds how many unsent notifications one connection may
// hold before further ones are dropped for it.
const notifyQueueSize = 64

// socketConn serializes writes so responses and hub notifications never
// interleave mid-frame. Notifications go through a bounded queue drained
// by notifyLoop, so a stalled client cannot block the broadcast path.
type socketConn struct {
	conn     net.Conn
	writeMu  sync.Mutex
	notifyCh chan []byte
	done     chan struct{}
}

func newSocketConn(conn net.Conn) *socketConn {
	return &socketConn{
		conn:     conn,
		notifyCh: make(chan []byte, notifyQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *socketConn) notifyLoop() {
	for {
		select {
		case payload := <-c.notifyCh:
			c.writeMu.Lock()
			err := WriteFrame(c.conn, payload)
			c.writeMu.Unlock()
			if err != nil {
				// a dead connection is reaped by its own read loop
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *socketConn) sendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteFrame(c.conn, payload)
}

func (c *socketConn) sendNotification(payload []byte) {
	select {
	case c.notifyCh <- payload:
	case <-c.done:
	default:
		// queue full; the client is not keeping up
	}
}

// WriteTokenFile persists the session token clients must present when
// authentication is enabled. The file is owner-readable only.
func WriteTokenFile(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}
