package termclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrTapActive is returned when a probe is requested while another one
// still owns the output tap.
var ErrTapActive = errors.New("output tap already active")

// ErrProbeTimeout is returned when the probe deadline passes before the
// end marker shows up.
var ErrProbeTimeout = errors.New("probe timed out")

// tap captures terminal output between a pair of unique markers while
// passing everything else through to the interactive handler.
type tap struct {
	start string
	end   string

	mu        sync.Mutex
	acc       string
	captured  strings.Builder
	capturing bool
	finished  bool
	result    string
	err       error
	timer     Timer
	done      chan struct{}
}

// RunProbe executes command in the remote shell and returns the bytes
// it printed between the injected markers. Only one probe may run at a
// time; interactive output keeps flowing around it.
func (c *Client) RunProbe(ctx context.Context, command string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateReady && st != StateActive {
		return "", errors.New("terminal not ready")
	}

	id := ulid.Make().String()
	t := &tap{
		start: fmt.Sprintf("__TAP_%s_START__", id),
		end:   fmt.Sprintf("__TAP_%s_END__", id),
		done:  make(chan struct{}),
	}

	c.tapMu.Lock()
	if c.tap != nil {
		c.tapMu.Unlock()
		return "", ErrTapActive
	}
	c.tap = t
	c.tapMu.Unlock()

	if timeout > 0 {
		t.timer = c.clock.AfterFunc(timeout, func() {
			c.abortTap(t, ErrProbeTimeout)
		})
	}

	// The markers are split with empty shell quotes so the echoed
	// command line never matches them, only the echo output does.
	line := fmt.Sprintf("echo %s && %s && echo %s\n", splitMarker(t.start), command, splitMarker(t.end))
	if err := c.SendInput(line); err != nil {
		c.abortTap(t, err)
		return "", err
	}

	select {
	case <-t.done:
		return t.snapshot()
	case <-ctx.Done():
		c.abortTap(t, ctx.Err())
		return "", ctx.Err()
	}
}

// abortTap finishes a tap early and hands any held-back output to the
// interactive handler.
func (c *Client) abortTap(t *tap, err error) {
	tail := t.abort(err)
	c.clearTap(t)
	if tail != "" && c.cfg.OnOutput != nil {
		c.cfg.OnOutput(tail)
	}
}

func (c *Client) clearTap(t *tap) {
	c.tapMu.Lock()
	if c.tap == t {
		c.tap = nil
	}
	c.tapMu.Unlock()
}

func splitMarker(m string) string {
	return m[:5] + "''" + m[5:]
}

// consume feeds one output chunk through the tap. It returns the bytes
// that should still reach the interactive handler and whether the tap
// has completed. Markers may arrive split across chunk boundaries.
func (t *tap) consume(chunk string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return chunk, true
	}
	t.acc += chunk
	var pass strings.Builder

	if !t.capturing {
		idx := strings.Index(t.acc, t.start)
		if idx < 0 {
			keep := len(t.start) - 1
			if len(t.acc) > keep {
				pass.WriteString(t.acc[:len(t.acc)-keep])
				t.acc = t.acc[len(t.acc)-keep:]
			}
			return pass.String(), false
		}
		pass.WriteString(t.acc[:idx])
		t.acc = t.acc[idx+len(t.start):]
		t.capturing = true
	}

	if idx := strings.Index(t.acc, t.end); idx >= 0 {
		t.captured.WriteString(t.acc[:idx])
		rest := t.acc[idx+len(t.end):]
		t.acc = ""
		t.finishLocked(strings.TrimSpace(t.captured.String()), nil)
		pass.WriteString(rest)
		return pass.String(), true
	}

	keep := len(t.end) - 1
	if len(t.acc) > keep {
		t.captured.WriteString(t.acc[:len(t.acc)-keep])
		t.acc = t.acc[len(t.acc)-keep:]
	}
	return pass.String(), false
}

// abort tears the tap down early. Output held back while waiting for a
// marker still belongs to the interactive stream, so it is returned for
// the caller to pass through.
func (t *tap) abort(err error) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return ""
	}
	var tail string
	if !t.capturing {
		tail = t.acc
	}
	t.acc = ""
	t.finishLocked("", err)
	return tail
}

func (t *tap) finishLocked(result string, err error) {
	if t.finished {
		return
	}
	t.finished = true
	t.result = result
	t.err = err
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	close(t.done)
}

func (t *tap) snapshot() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// GPUStat is one row of nvidia-smi CSV output.
type GPUStat struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Utilization int    `json:"utilization"`
	MemoryUsed  int    `json:"memoryUsed"`
	MemoryTotal int    `json:"memoryTotal"`
	Temperature int    `json:"temperature"`
}

// ParseGPUCSV parses the output of
//
//	nvidia-smi --query-gpu=index,name,utilization.gpu,memory.used,memory.total,temperature.gpu --format=csv,noheader,nounits
//
// Malformed rows are skipped.
func ParseGPUCSV(raw string) []GPUStat {
	var stats []GPUStat
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 6 {
			continue
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		stats = append(stats, GPUStat{
			Index:       idx,
			Name:        parts[1],
			Utilization: atoiOrZero(parts[2]),
			MemoryUsed:  atoiOrZero(parts[3]),
			MemoryTotal: atoiOrZero(parts[4]),
			Temperature: atoiOrZero(parts[5]),
		})
	}
	return stats
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
