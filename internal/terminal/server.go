package terminal

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/enderfga/sasha-relay/internal/database"
	"github.com/google/uuid"
)

// Resize dimensions are clamped to these upper bounds.
const (
	MaxResizeCols uint16 = 500
	MaxResizeRows uint16 = 200
)

const maxFrameSize = 1024 * 1024

// Connection tracks the state of one open terminal websocket. Connections
// are not persisted: a reconnect is a new Connection.
type Connection struct {
	ID            string
	Authenticated bool
	Cols          uint16
	Rows          uint16
	PID           int
	LastActivity  time.Time
}

// Server accepts terminal websockets, enforces the auth-first handshake and
// relays frames between the client and a remote process host.
type Server struct {
	Host        ProcessHost
	VerifyToken func(token string) bool
	AuthTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewServer(host ProcessHost, verify func(string) bool, authTimeout time.Duration) *Server {
	if authTimeout <= 0 {
		authTimeout = 10 * time.Second
	}
	return &Server{
		Host:        host,
		VerifyToken: verify,
		AuthTimeout: authTimeout,
		conns:       make(map[string]*Connection),
	}
}

// OpenConnections reports the number of currently attached terminals.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.conns[c.ID] = c
	s.mu.Unlock()
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func queryDim(r *http.Request, name string, fallback uint16) uint16 {
	if q := r.URL.Query().Get(name); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= int(^uint16(0)) {
			return uint16(n)
		}
	}
	return fallback
}

// ServeHTTP handles one terminal websocket connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[terminal] Failed to accept websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()
	clientConn.SetReadLimit(maxFrameSize)

	ctx := r.Context()

	conn := &Connection{
		ID:           uuid.New().String(),
		Cols:         queryDim(r, "cols", 80),
		Rows:         queryDim(r, "rows", 24),
		LastActivity: time.Now(),
	}
	s.register(conn)
	defer s.unregister(conn.ID)

	audit := s.auditConnect(conn.ID, r.RemoteAddr)

	var writeMu sync.Mutex
	send := func(f Frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return clientConn.Write(ctx, websocket.MessageText, data)
	}

	// Phase 1: auth handshake. Ignore anything but auth until the deadline.
	if !s.handshake(ctx, clientConn, conn, send) {
		s.auditDisconnect(audit, nil)
		return
	}

	// Phase 2: ask the host for a process
	proc, err := s.Host.Start(ctx, conn.Cols, conn.Rows)
	if err != nil {
		log.Printf("[terminal] Host start failed for %s: %v", conn.ID, err)
		send(Frame{Type: FrameError, Message: "Failed to start shell"})
		clientConn.Close(4500, "Failed to start shell")
		s.auditDisconnect(audit, nil)
		return
	}
	defer proc.Close()

	conn.PID = proc.PID()
	if err := send(Frame{Type: FrameReady, SessionID: conn.ID, PID: conn.PID}); err != nil {
		s.auditDisconnect(audit, nil)
		return
	}
	log.Printf("[terminal] Session ready: connection=%s pid=%d", conn.ID, conn.PID)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Client → process
	go func() {
		defer relayCancel()
		limiter := newTokenBucket(inputRateBurst, inputRateLimit)
		for {
			_, data, err := clientConn.Read(relayCtx)
			if err != nil {
				return
			}
			var f Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			conn.LastActivity = time.Now()

			switch f.Type {
			case FrameInput:
				if !limiter.allow() {
					continue
				}
				if err := proc.Write([]byte(f.Data)); err != nil {
					return
				}
			case FrameResize:
				if f.Cols == 0 || f.Rows == 0 {
					continue
				}
				cols, rows := f.Cols, f.Rows
				if cols > MaxResizeCols {
					cols = MaxResizeCols
				}
				if rows > MaxResizeRows {
					rows = MaxResizeRows
				}
				conn.Cols, conn.Rows = cols, rows
				proc.Resize(cols, rows)
			case FramePing:
				send(Frame{Type: FramePong})
			}
		}
	}()

	// Process → client
	exitCode := 0
	for {
		var chunk []byte
		var ok bool
		select {
		case <-relayCtx.Done():
			s.auditDisconnect(audit, nil)
			return
		case chunk, ok = <-proc.Output():
		}
		if !ok {
			exitCode = proc.ExitCode()
			break
		}
		if err := send(Frame{Type: FrameOutput, Data: string(chunk)}); err != nil {
			s.auditDisconnect(audit, nil)
			return
		}
	}

	send(Frame{Type: FrameExit, Code: exitCode})
	log.Printf("[terminal] Session ended: connection=%s code=%d", conn.ID, exitCode)
	s.auditDisconnect(audit, &exitCode)
	clientConn.Close(websocket.StatusNormalClosure, "")
}

// handshake reads frames until a valid auth arrives or the timeout fires.
// input/resize before authentication are ignored per the protocol.
func (s *Server) handshake(ctx context.Context, clientConn *websocket.Conn, conn *Connection, send func(Frame) error) bool {
	authCtx, cancel := context.WithTimeout(ctx, s.AuthTimeout)
	defer cancel()

	for {
		_, data, err := clientConn.Read(authCtx)
		if err != nil {
			clientConn.Close(4408, "Authentication timeout")
			return false
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type != FrameAuth {
			continue
		}
		if !s.VerifyToken(f.Token) {
			log.Printf("[terminal] Authentication failed: connection=%s", conn.ID)
			send(Frame{Type: FrameError, Message: "Authentication failed"})
			clientConn.Close(4401, "Authentication failed")
			return false
		}
		conn.Authenticated = true
		conn.LastActivity = time.Now()
		s.auditAuthenticated(conn.ID)
		return true
	}
}

func (s *Server) auditConnect(connectionID, remoteAddr string) *database.TerminalAudit {
	if database.DB == nil {
		return nil
	}
	row := &database.TerminalAudit{ConnectionID: connectionID, RemoteAddr: remoteAddr}
	if err := database.DB.Create(row).Error; err != nil {
		log.Printf("[terminal] Audit create failed: %v", err)
		return nil
	}
	return row
}

func (s *Server) auditAuthenticated(connectionID string) {
	if database.DB == nil {
		return
	}
	database.DB.Model(&database.TerminalAudit{}).
		Where("connection_id = ?", connectionID).
		Update("authenticated", true)
}

func (s *Server) auditDisconnect(row *database.TerminalAudit, exitCode *int) {
	if row == nil || database.DB == nil {
		return
	}
	now := time.Now()
	updates := map[string]any{"disconnected_at": &now}
	if exitCode != nil {
		updates["exit_code"] = exitCode
	}
	database.DB.Model(row).Updates(updates)
}
