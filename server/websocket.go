package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evmacro/evmacro/devices"
	"github.com/evmacro/evmacro/utils"
)

// WSServer is the secondary endpoint for GUI clients: the same method
// registry and notification hub as the unix socket, over a WebSocket.
type WSServer struct {
	addr       string
	dispatcher *Dispatcher
	hub        *Hub
	registry   *devices.Registry
	httpServer *http.Server
}

func NewWSServer(addr string, dispatcher *Dispatcher, hub *Hub, registry *devices.Registry) *WSServer {
	return &WSServer{
		addr:       addr,
		dispatcher: dispatcher,
		hub:        hub,
		registry:   registry,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     isSameOrigin,
}

func isSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	return originURL.Host == r.Host
}

// Start begins serving in a background goroutine. Bind errors surface
// through the returned channel since ListenAndServe blocks.
func (ws *WSServer) Start() <-chan error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.handleUpgrade)

	ws.httpServer = &http.Server{
		Addr:         ws.addr,
		Handler:      mux,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		utils.Info("WebSocket endpoint on ws://%s/ws", ws.addr)
		if err := ws.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

func (ws *WSServer) Close() error {
	if ws.httpServer == nil {
		return nil
	}
	return ws.httpServer.Close()
}

func (ws *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	wsConn := newWSConnection(conn)
	sess := &Session{Owner: uuid.NewString()}

	ws.hub.add(wsConn)
	go wsConn.notifyLoop()
	defer func() {
		ws.hub.remove(wsConn)
		close(wsConn.done)
		if ws.registry != nil {
			ws.registry.ReleaseOwner(sess.Owner)
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			utils.Verbose("WebSocket connection closed: %v", err)
			break
		}

		if messageType != websocket.TextMessage {
			wsConn.sendJSON(errorResponse(nil, ErrCodeInvalidRequest, "Invalid Request", "only text messages accepted for requests"))
			continue
		}

		ws.handleMessage(wsConn, sess, message)
	}
}

func (ws *WSServer) handleMessage(wsConn *wsConnection, sess *Session, message []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(message, &req); err != nil {
		wsConn.sendJSON(errorResponse(nil, ErrCodeParseError, "Parse error", "expecting jsonrpc payload"))
		return
	}

	if req.JSONRPC != "2.0" {
		wsConn.sendJSON(errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid Request", "'jsonrpc' must be '2.0'"))
		return
	}

	if req.ID == nil {
		wsConn.sendJSON(errorResponse(nil, ErrCodeInvalidRequest, "Invalid Request", "'id' field is required"))
		return
	}

	utils.Verbose("WebSocket Request ID: %v, Method: %s, Params: %s", req.ID, req.Method, string(req.Params))

	wsConn.sendJSON(ws.dispatcher.Dispatch(sess, req))
}

// wsConnection serializes writes: the read loop and the notification hub
// both write to the same socket. Notifications go through the same bounded
// queue scheme as unix-socket connections.
type wsConnection struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	notifyCh chan []byte
	done     chan struct{}
}

func newWSConnection(conn *websocket.Conn) *wsConnection {
	return &wsConnection{
		conn:     conn,
		notifyCh: make(chan []byte, notifyQueueSize),
		done:     make(chan struct{}),
	}
}

func (wsc *wsConnection) notifyLoop() {
	for {
		select {
		case payload := <-wsc.notifyCh:
			wsc.writeMu.Lock()
			err := wsc.conn.WriteMessage(websocket.TextMessage, payload)
			wsc.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-wsc.done:
			return
		}
	}
}

func (wsc *wsConnection) sendJSON(v interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.WriteJSON(v)
}

func (wsc *wsConnection) sendNotification(payload []byte) {
	select {
	case wsc.notifyCh <- payload:
	case <-wsc.done:
	default:
	}
}
