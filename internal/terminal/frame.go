package terminal

// Frame kinds for the JSON-framed terminal protocol. One frame per logical
// event, text-encoded on the websocket.
const (
	FrameAuth   = "auth"   // client→server, must be first
	FrameResize = "resize" // client→server
	FrameInput  = "input"  // client→server
	FrameReady  = "ready"  // server→client, exactly once after auth
	FrameOutput = "output" // server→client
	FrameExit   = "exit"   // server→client, terminal
	FrameError  = "error"  // server→client, may precede close
	FramePing   = "ping"   // client→server
	FramePong   = "pong"   // server→client
)

// Frame is one protocol envelope. Only the fields for its Type are set.
type Frame struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Data      string `json:"data,omitempty"`
	Cols      uint16 `json:"cols,omitempty"`
	Rows      uint16 `json:"rows,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Code      int    `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}
