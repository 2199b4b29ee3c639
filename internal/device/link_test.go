package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hymnis/dsul-go/internal/light"
)

const testInfoFrame = "v001.000.000ll001lb000:150#"

// fakePort is a scripted serial port: every written frame is answered by
// whatever the script returns, bytes that are not there yet read as a
// timeout, exactly like go.bug.st/serial does.
type fakePort struct {
	mu       sync.Mutex
	script   func(frame string) string
	pending  []byte
	written  []string
	writeErr error
	readErr  error
	closed   bool
}

func ackingPort() *fakePort {
	return &fakePort{script: func(frame string) string {
		if frame == frameResend {
			return testInfoFrame
		}
		return frameOK
	}}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.written = append(p.written, string(b))
	if p.script != nil {
		p.pending = append(p.pending, p.script(string(b))...)
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.pending) == 0 {
		return 0, nil // read timeout
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) frames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

// testLink wires a link to fake ports, counting open attempts.
func testLink(t *testing.T, ports ...*fakePort) (*Link, *int) {
	t.Helper()
	opens := new(int)
	l := NewLink("/dev/fake", 38400, 50*time.Millisecond, 0)
	l.openPort = func() (wirePort, error) {
		if *opens >= len(ports) {
			t.Fatal("unexpected reopen attempt")
		}
		port := ports[*opens]
		*opens++
		return port, nil
	}
	return l, opens
}

func TestOpenPerformsHandshake(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)

	if err := l.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !l.Connected() {
		t.Error("link should be connected after Open")
	}

	info, ok := l.Info()
	if !ok || info.FirmwareVersion != "1.0.0" || info.BrightnessMax != 150 {
		t.Errorf("Info() = %+v, %v", info, ok)
	}
	if got := port.frames(); len(got) == 0 || got[0] != frameResend {
		t.Errorf("handshake should start with %q, wrote %v", frameResend, got)
	}
}

func TestOpenUnavailable(t *testing.T) {
	l := NewLink("/dev/fake", 38400, 50*time.Millisecond, 0)
	l.openPort = func() (wirePort, error) {
		return nil, errors.New("no such device")
	}

	err := l.Open(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Open = %v, want ErrUnavailable", err)
	}
	if l.Connected() {
		t.Error("link must not report connected")
	}
}

func TestSendWritesCommandAndReadsAck(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	delta := light.Delta{Field: light.FieldColor, RGB: light.RGB{R: 255}}
	if err := l.Send(context.Background(), delta); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frames := port.frames()
	if frames[len(frames)-1] != "+l255000000#" {
		t.Errorf("last frame = %q", frames[len(frames)-1])
	}
}

func TestSendOpensLazily(t *testing.T) {
	port := ackingPort()
	l, opens := testLink(t, port)

	err := l.Send(context.Background(), light.Delta{Field: light.FieldDim, Dim: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if *opens != 1 {
		t.Errorf("opens = %d, want 1", *opens)
	}
}

func TestSendTimeout(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	// commands go unanswered from here on
	port.mu.Lock()
	port.script = nil
	port.mu.Unlock()

	err := l.Send(context.Background(), light.Delta{Field: light.FieldBrightness, Brightness: 10})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Send = %v, want ErrTimeout", err)
	}
	// a silent device is not a broken session
	if !l.Connected() {
		t.Error("timeout should not tear the session down")
	}
}

func TestSendRejectClosesSession(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	port.mu.Lock()
	port.script = func(string) string { return frameReject }
	port.mu.Unlock()

	err := l.Send(context.Background(), light.Delta{Field: light.FieldMode, ModeTag: 9})
	if !errors.Is(err, ErrIO) {
		t.Errorf("Send = %v, want ErrIO", err)
	}
	if l.Connected() {
		t.Error("reject should close the session")
	}
}

func TestSendReopensOnceAfterIOError(t *testing.T) {
	broken := ackingPort()
	replacement := ackingPort()
	l, opens := testLink(t, broken, replacement)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	broken.mu.Lock()
	broken.readErr = errors.New("device unplugged")
	broken.mu.Unlock()

	err := l.Send(context.Background(), light.Delta{Field: light.FieldDim})
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Send = %v, want ErrIO", err)
	}
	if l.Connected() {
		t.Fatal("session should be closed after i/o error")
	}

	// next send makes exactly one transparent reopen attempt
	if err := l.Send(context.Background(), light.Delta{Field: light.FieldDim}); err != nil {
		t.Fatalf("Send after reopen: %v", err)
	}
	if *opens != 2 {
		t.Errorf("opens = %d, want 2", *opens)
	}
}

func TestPingDoesNotReopen(t *testing.T) {
	port := ackingPort()
	l, opens := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	l.Close()
	if err := l.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping on closed link = %v, want ErrUnavailable", err)
	}
	if *opens != 1 {
		t.Errorf("opens = %d, Ping must not reopen", *opens)
	}
}

func TestAwaitAckAnswersDevicePing(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	// device pings first, then acks the command
	port.mu.Lock()
	port.script = func(frame string) string {
		if frame == frameOK {
			return "" // our pong needs no answer
		}
		return framePing + frameOK
	}
	port.mu.Unlock()

	if err := l.Send(context.Background(), light.Delta{Field: light.FieldDim}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if frames := strings.Join(port.frames(), ""); !strings.Contains(frames, frameOK) {
		t.Errorf("device ping should be answered, wrote %q", frames)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	port := ackingPort()
	l, _ := testLink(t, port)
	if err := l.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed {
		t.Error("underlying port not closed")
	}
}
