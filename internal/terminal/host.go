package terminal

import "context"

// ProcessHost is the remote collaborator that owns the actual shell. The
// relay never spawns or signals processes itself.
type ProcessHost interface {
	Start(ctx context.Context, cols, rows uint16) (Process, error)
}

// Process is one running remote process. Output chunks are order-preserving
// and arbitrarily sized; the channel closes when the process ends, after
// which ExitCode is valid. Close abandons the process stream; there is no
// cancel signal, closing the transport is the only abort.
type Process interface {
	Output() <-chan []byte
	ExitCode() int
	Write(data []byte) error
	Resize(cols, rows uint16) error
	PID() int
	Close() error
}
