package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// RemoteHost reaches the process host over a websocket speaking the same
// framed protocol: it authenticates, waits for ready and then exposes the
// upstream session as a Process.
type RemoteHost struct {
	URL         string
	Token       string
	DialTimeout time.Duration
}

func NewRemoteHost(url, token string) *RemoteHost {
	return &RemoteHost{URL: url, Token: token, DialTimeout: 10 * time.Second}
}

func (h *RemoteHost) Start(ctx context.Context, cols, rows uint16) (Process, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("no terminal host configured")
	}

	dialCtx, cancel := context.WithTimeout(ctx, h.DialTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?cols=%d&rows=%d", h.URL, cols, rows)
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial terminal host: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	auth, _ := json.Marshal(Frame{Type: FrameAuth, Token: h.Token})
	if err := conn.Write(dialCtx, websocket.MessageText, auth); err != nil {
		conn.CloseNow()
		return nil, fmt.Errorf("send auth to terminal host: %w", err)
	}

	// Wait for ready; the host may interleave other frames first.
	var ready Frame
	for {
		_, data, err := conn.Read(dialCtx)
		if err != nil {
			conn.CloseNow()
			return nil, fmt.Errorf("terminal host handshake: %w", err)
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Type == FrameError {
			conn.CloseNow()
			return nil, fmt.Errorf("terminal host rejected connection: %s", f.Message)
		}
		if f.Type == FrameReady {
			ready = f
			break
		}
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	proc := &remoteProcess{
		conn:   conn,
		pid:    ready.PID,
		out:    make(chan []byte, 32),
		ctx:    pumpCtx,
		cancel: pumpCancel,
	}
	go proc.pump(pumpCtx)
	return proc, nil
}

const hostWriteTimeout = 10 * time.Second

type remoteProcess struct {
	conn    *websocket.Conn
	pid     int
	out     chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex

	exitMu   sync.Mutex
	exitCode int
}

func (p *remoteProcess) pump(ctx context.Context) {
	defer close(p.out)
	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case FrameOutput:
			select {
			case p.out <- []byte(f.Data):
			case <-ctx.Done():
				return
			}
		case FrameExit:
			p.exitMu.Lock()
			p.exitCode = f.Code
			p.exitMu.Unlock()
			return
		case FrameError:
			log.Printf("[terminal] Host error: %s", f.Message)
			return
		}
	}
}

func (p *remoteProcess) send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	// Bounded so a wedged host cannot block input or resize forever.
	ctx, cancel := context.WithTimeout(p.ctx, hostWriteTimeout)
	defer cancel()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (p *remoteProcess) Output() <-chan []byte { return p.out }

func (p *remoteProcess) ExitCode() int {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitCode
}

func (p *remoteProcess) Write(data []byte) error {
	return p.send(Frame{Type: FrameInput, Data: string(data)})
}

func (p *remoteProcess) Resize(cols, rows uint16) error {
	return p.send(Frame{Type: FrameResize, Cols: cols, Rows: rows})
}

func (p *remoteProcess) PID() int { return p.pid }

func (p *remoteProcess) Close() error {
	p.cancel()
	return p.conn.Close(websocket.StatusNormalClosure, "")
}
