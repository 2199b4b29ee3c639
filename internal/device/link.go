package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/hymnis/dsul-go/internal/light"
)

// Typed link failures, surfaced to clients as error kinds.
var (
	// ErrUnavailable means the serial port could not be opened (or reopened).
	ErrUnavailable = errors.New("serial port unavailable")
	// ErrTimeout means the firmware sent no acknowledgement within the timeout.
	ErrTimeout = errors.New("no acknowledgement from device")
	// ErrIO means a write or read failed mid-session, or the firmware rejected
	// the command.
	ErrIO = errors.New("serial i/o failure")
)

// wirePort is the slice of go.bug.st/serial.Port the link needs. Tests swap
// in a scripted implementation.
type wirePort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Link owns the serial connection to the light. All methods are safe for
// concurrent use, but the command processor is the only caller that issues
// commands, one at a time.
//
// Failure policy: an i/o failure closes the session and the next Send makes
// exactly one transparent reopen attempt. There is no background reconnect
// loop; every request either succeeds or surfaces its failure.
type Link struct {
	portName  string
	baudrate  int
	timeout   time.Duration
	bootDelay time.Duration

	openPort func() (wirePort, error)

	mu   sync.Mutex
	port wirePort
	buf  []byte
	info Info
	seen bool // info handshake completed at least once
}

// NewLink creates a link for the given serial port. It does not open the
// port; call Open, or let the first Send do it.
func NewLink(portName string, baudrate int, timeout, bootDelay time.Duration) *Link {
	l := &Link{
		portName:  portName,
		baudrate:  baudrate,
		timeout:   timeout,
		bootDelay: bootDelay,
	}
	l.openPort = func() (wirePort, error) {
		return serial.Open(portName, &serial.Mode{BaudRate: baudrate})
	}
	return l
}

// Open establishes the serial session and performs the information
// handshake. Returns ErrUnavailable if the port cannot be opened.
func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.openLocked(ctx)
}

func (l *Link) openLocked(ctx context.Context) error {
	if l.port != nil {
		return nil
	}

	port, err := l.openPort()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, l.portName, err)
	}
	l.port = port
	l.buf = nil

	// The MCU resets when the port opens and is deaf until it leaves its
	// bootloader.
	if l.bootDelay > 0 {
		select {
		case <-time.After(l.bootDelay):
		case <-ctx.Done():
			l.closeLocked()
			return ctx.Err()
		}
	}

	if err := l.handshakeLocked(); err != nil {
		l.closeLocked()
		return err
	}

	log.Info().
		Str("port", l.portName).
		Int("baudrate", l.baudrate).
		Str("firmware", l.info.FirmwareVersion).
		Int("leds", l.info.Leds).
		Msg("Serial link established")
	return nil
}

// handshakeLocked asks the device for its information block and records it.
func (l *Link) handshakeLocked() error {
	if err := l.writeFrame(frameResend); err != nil {
		return err
	}

	deadline := time.Now().Add(l.timeout)
	for {
		frame, err := l.readFrame(deadline)
		if err != nil {
			return err
		}
		switch frame {
		case frameOK, frameReject, frameResend:
			// not the information block, keep reading
		case framePing:
			if err := l.writeFrame(frameOK); err != nil {
				return err
			}
		default:
			l.info = parseInfo(frame)
			l.seen = true
			return nil
		}
	}
}

// Send writes the command for a single attribute change and waits for the
// firmware's acknowledgement. If the session is down it makes one reopen
// attempt first.
func (l *Link) Send(ctx context.Context, d light.Delta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.openLocked(ctx); err != nil {
		return err
	}

	cmd := encodeDelta(d)
	log.Debug().Str("command", cmd).Msg("Serial write")

	if err := l.writeFrame(cmd); err != nil {
		l.closeLocked()
		return err
	}
	if err := l.awaitAck(); err != nil {
		if errors.Is(err, ErrIO) {
			l.closeLocked()
		}
		return err
	}
	return nil
}

// Ping sends a keep-alive and waits for the acknowledgement. Unlike Send it
// never reopens a downed session; reconnection stays tied to client requests.
func (l *Link) Ping(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return ErrUnavailable
	}
	if err := l.writeFrame(framePing); err != nil {
		l.closeLocked()
		return err
	}
	if err := l.awaitAck(); err != nil {
		if errors.Is(err, ErrIO) {
			l.closeLocked()
		}
		return err
	}
	return nil
}

// awaitAck reads frames until the firmware answers the outstanding command.
// Pings from the device are answered inline; stray data frames are ignored.
func (l *Link) awaitAck() error {
	deadline := time.Now().Add(l.timeout)
	for {
		frame, err := l.readFrame(deadline)
		if err != nil {
			return err
		}
		switch frame {
		case frameOK:
			return nil
		case frameReject:
			return fmt.Errorf("%w: firmware rejected command", ErrIO)
		case framePing:
			if err := l.writeFrame(frameOK); err != nil {
				return err
			}
		default:
			// unsolicited data frame, not ours to handle here
			log.Debug().Str("frame", frame).Msg("Ignoring unsolicited serial frame")
		}
	}
}

func (l *Link) writeFrame(frame string) error {
	if _, err := l.port.Write([]byte(frame)); err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	return nil
}

// readFrame returns the next '#'-terminated frame, buffering any bytes read
// past the terminator for the following call.
func (l *Link) readFrame(deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(l.buf, frameTerminator); i >= 0 {
			frame := string(l.buf[:i+1])
			l.buf = l.buf[i+1:]
			return frame, nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return "", ErrTimeout
		}
		if err := l.port.SetReadTimeout(remain); err != nil {
			return "", fmt.Errorf("%w: set read timeout: %v", ErrIO, err)
		}

		chunk := make([]byte, 64)
		n, err := l.port.Read(chunk)
		if err != nil {
			return "", fmt.Errorf("%w: read: %v", ErrIO, err)
		}
		if n == 0 {
			// go.bug.st/serial reports a read timeout as (0, nil)
			return "", ErrTimeout
		}
		l.buf = append(l.buf, chunk[:n]...)
	}
}

// Info returns the device information block from the last handshake.
func (l *Link) Info() (Info, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info, l.seen
}

// Connected reports whether a serial session is currently established.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Close releases the serial port. Safe to call multiple times.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeLocked()
	return nil
}

func (l *Link) closeLocked() {
	if l.port == nil {
		return
	}
	if err := l.port.Close(); err != nil {
		log.Warn().Err(err).Str("port", l.portName).Msg("Closing serial port failed")
	}
	l.port = nil
	l.buf = nil
}
