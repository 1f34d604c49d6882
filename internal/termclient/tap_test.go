package termclient

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/enderfga/sasha-relay/internal/terminal"
)

type probeRig struct {
	clock  *fakeClock
	conn   *scriptConn
	client *Client

	mu     sync.Mutex
	output string
}

func newProbeRig(t *testing.T) *probeRig {
	t.Helper()
	rig := &probeRig{clock: newFakeClock(), conn: newScriptConn()}
	rig.client = New(Config{
		Token: "tok",
		Clock: rig.clock,
		Dial:  func(ctx context.Context) (Conn, error) { return rig.conn, nil },
		OnOutput: func(data string) {
			rig.mu.Lock()
			rig.output += data
			rig.mu.Unlock()
		},
	})
	t.Cleanup(func() { rig.client.Close() })

	rig.client.Connect()
	waitForState(t, rig.client, StateAuthenticating)
	rig.conn.incoming <- terminal.Frame{Type: terminal.FrameReady, SessionID: "s", PID: 1}
	waitForState(t, rig.client, StateReady)
	return rig
}

func (r *probeRig) interactive() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// probeMarkers waits for the injected command line and recovers the raw
// markers from it (the line itself carries them split by shell quotes).
func (r *probeRig) probeMarkers(t *testing.T) (start, end string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range r.conn.sentFrames() {
			if f.Type == terminal.FrameInput && strings.Contains(f.Data, "echo ") {
				parts := strings.Split(f.Data, " ")
				for _, p := range parts {
					p = strings.TrimSpace(p)
					if strings.Contains(p, "''") {
						marker := strings.Replace(p, "''", "", 1)
						if strings.HasSuffix(marker, "_START__") {
							start = marker
						}
						if strings.HasSuffix(marker, "_END__") {
							end = marker
						}
					}
				}
				if start != "" && end != "" {
					return start, end
				}
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("probe command never sent")
	return "", ""
}

func (r *probeRig) feed(data string) {
	r.conn.incoming <- terminal.Frame{Type: terminal.FrameOutput, Data: data}
}

func TestRunProbeCapturesBetweenMarkers(t *testing.T) {
	rig := newProbeRig(t)

	type probeResult struct {
		out string
		err error
	}
	done := make(chan probeResult, 1)
	go func() {
		out, err := rig.client.RunProbe(context.Background(), "nvidia-smi", 0)
		done <- probeResult{out, err}
	}()

	start, end := rig.probeMarkers(t)

	rig.feed("unrelated interactive output\n")
	rig.feed(start + "\n")
	rig.feed("0, A100, 55, 10000, 40000, 61\n")
	rig.feed("1, A100, 12, 2000, 40000, 48\n")
	rig.feed(end + "\nprompt$ ")

	res := <-done
	if res.err != nil {
		t.Fatalf("probe: %v", res.err)
	}
	want := "0, A100, 55, 10000, 40000, 61\n1, A100, 12, 2000, 40000, 48"
	if res.out != want {
		t.Errorf("captured = %q, want %q", res.out, want)
	}

	// Interactive output around the capture still reaches the handler.
	rig.feed("after the probe\n")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(rig.interactive(), "after the probe") {
		time.Sleep(2 * time.Millisecond)
	}
	got := rig.interactive()
	if !strings.Contains(got, "unrelated interactive output") {
		t.Errorf("pre-capture output lost: %q", got)
	}
	if strings.Contains(got, "A100") {
		t.Errorf("captured bytes leaked to interactive handler: %q", got)
	}
	if !strings.Contains(got, "after the probe") {
		t.Errorf("post-capture output lost: %q", got)
	}
}

func TestRunProbeMarkersSplitAcrossFrames(t *testing.T) {
	rig := newProbeRig(t)

	done := make(chan string, 1)
	go func() {
		out, err := rig.client.RunProbe(context.Background(), "cat /proc/loadavg", 0)
		if err != nil {
			t.Errorf("probe: %v", err)
		}
		done <- out
	}()

	start, end := rig.probeMarkers(t)

	// Every marker arrives torn in half.
	rig.feed(start[:len(start)/2])
	rig.feed(start[len(start)/2:] + "\n0.42 0.40")
	rig.feed(" 0.35\n" + end[:3])
	rig.feed(end[3:] + "\n")

	if out := <-done; out != "0.42 0.40 0.35" {
		t.Errorf("captured = %q", out)
	}
}

func TestRunProbeSingleSlot(t *testing.T) {
	rig := newProbeRig(t)

	done := make(chan error, 1)
	go func() {
		_, err := rig.client.RunProbe(context.Background(), "sleep 60", 0)
		done <- err
	}()
	rig.probeMarkers(t)

	if _, err := rig.client.RunProbe(context.Background(), "echo hi", 0); !errors.Is(err, ErrTapActive) {
		t.Errorf("second probe error = %v, want ErrTapActive", err)
	}

	// Finish the first probe.
	start, end := rig.probeMarkers(t)
	rig.feed(start + "\nx\n" + end + "\n")
	if err := <-done; err != nil {
		t.Errorf("first probe: %v", err)
	}

	// Slot free again.
	go func() {
		out, err := rig.client.RunProbe(context.Background(), "echo hi", 0)
		if err != nil || out != "hi" {
			t.Errorf("third probe out=%q err=%v", out, err)
		}
		done <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	var s2, e2 string
	for time.Now().Before(deadline) {
		s2, e2 = rig.lastMarkers()
		if s2 != "" && s2 != start {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	if s2 == "" || s2 == start {
		t.Fatal("third probe never sent a fresh command")
	}
	rig.feed(s2 + "\nhi\n" + e2 + "\n")
	<-done
}

// lastMarkers recovers the markers of the most recent probe command.
func (r *probeRig) lastMarkers() (start, end string) {
	for _, f := range r.conn.sentFrames() {
		if f.Type != terminal.FrameInput || !strings.Contains(f.Data, "''") {
			continue
		}
		var s, e string
		for _, p := range strings.Split(f.Data, " ") {
			p = strings.TrimSpace(p)
			if strings.Contains(p, "''") {
				marker := strings.Replace(p, "''", "", 1)
				if strings.HasSuffix(marker, "_START__") {
					s = marker
				}
				if strings.HasSuffix(marker, "_END__") {
					e = marker
				}
			}
		}
		if s != "" && e != "" {
			start, end = s, e
		}
	}
	return start, end
}

func TestRunProbeTimeoutRestoresPassthrough(t *testing.T) {
	rig := newProbeRig(t)

	done := make(chan error, 1)
	go func() {
		_, err := rig.client.RunProbe(context.Background(), "hangs forever", 5*time.Second)
		done <- err
	}()
	start, _ := rig.probeMarkers(t)

	// Capture starts but never finishes.
	rig.feed(start + "\npartial data")

	rig.clock.advance(5 * time.Second)
	if err := <-done; !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("probe error = %v, want ErrProbeTimeout", err)
	}

	// The tap is gone: output flows to the interactive handler again.
	rig.feed("back to normal\n")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !strings.Contains(rig.interactive(), "back to normal") {
		time.Sleep(2 * time.Millisecond)
	}
	if !strings.Contains(rig.interactive(), "back to normal") {
		t.Errorf("passthrough not restored: %q", rig.interactive())
	}
}

func TestRunProbeTimeoutFlushesHeldOutput(t *testing.T) {
	rig := newProbeRig(t)

	done := make(chan error, 1)
	go func() {
		_, err := rig.client.RunProbe(context.Background(), "never answers", 5*time.Second)
		done <- err
	}()
	start, _ := rig.probeMarkers(t)

	// Long enough that the tap passes a prefix through and holds back a
	// potential marker tail.
	chunk := strings.Repeat("interactive ", 6)
	held := len(start) - 1
	prefix := chunk[:len(chunk)-held]

	rig.feed(chunk)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rig.interactive() != prefix {
		time.Sleep(2 * time.Millisecond)
	}
	if got := rig.interactive(); got != prefix {
		t.Fatalf("interactive before timeout = %q, want %q", got, prefix)
	}

	rig.clock.advance(5 * time.Second)
	if err := <-done; !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("probe error = %v, want ErrProbeTimeout", err)
	}

	// The held-back tail belongs to the interactive stream.
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && rig.interactive() != chunk {
		time.Sleep(2 * time.Millisecond)
	}
	if got := rig.interactive(); got != chunk {
		t.Errorf("interactive after timeout = %q, want %q", got, chunk)
	}
}

func TestRunProbeCommandHidesMarkers(t *testing.T) {
	rig := newProbeRig(t)

	go rig.client.RunProbe(context.Background(), "true", 0)
	start, end := rig.probeMarkers(t)

	var line string
	for _, f := range rig.conn.sentFrames() {
		if f.Type == terminal.FrameInput {
			line = f.Data
		}
	}
	if strings.Contains(line, start) || strings.Contains(line, end) {
		t.Errorf("raw marker present in typed command: %q", line)
	}
}

func TestRunProbeRequiresConnection(t *testing.T) {
	c := New(Config{
		Token: "tok",
		Clock: newFakeClock(),
		Dial:  func(ctx context.Context) (Conn, error) { return newScriptConn(), nil },
	})
	defer c.Close()

	if _, err := c.RunProbe(context.Background(), "echo hi", 0); err == nil {
		t.Error("expected error before a session is up")
	}
}

func TestParseGPUCSV(t *testing.T) {
	raw := "0, NVIDIA A100-SXM4-40GB, 55, 10432, 40960, 61\n" +
		"1, NVIDIA A100-SXM4-40GB, 0, 3, 40960, 33\n" +
		"garbage line\n"

	stats := ParseGPUCSV(raw)
	if len(stats) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(stats))
	}
	if stats[0].Index != 0 || stats[0].Name != "NVIDIA A100-SXM4-40GB" {
		t.Errorf("row 0 = %+v", stats[0])
	}
	if stats[0].Utilization != 55 || stats[0].MemoryUsed != 10432 || stats[0].MemoryTotal != 40960 || stats[0].Temperature != 61 {
		t.Errorf("row 0 numbers = %+v", stats[0])
	}
	if stats[1].Index != 1 || stats[1].Utilization != 0 {
		t.Errorf("row 1 = %+v", stats[1])
	}
}

func TestParseGPUCSVEmpty(t *testing.T) {
	if stats := ParseGPUCSV(""); len(stats) != 0 {
		t.Errorf("expected no rows, got %d", len(stats))
	}
}
