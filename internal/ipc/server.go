package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Server accepts client connections on a single endpoint and runs their
// requests through the handler. Frame decoding is concurrent per connection;
// the handler (the command processor) serializes execution itself.
type Server struct {
	network     string
	addr        string
	idleTimeout time.Duration
	maxFrame    int
	handler     Handler

	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server for the given endpoint. See Endpoint for how
// host/port/socket combine.
func NewServer(host string, port int, socket string, idleTimeout time.Duration, maxFrame int, handler Handler) *Server {
	network, addr := Endpoint(host, port, socket)
	return &Server{
		network:     network,
		addr:        addr,
		idleTimeout: idleTimeout,
		maxFrame:    maxFrame,
		handler:     handler,
	}
}

// Listen binds the endpoint. Binding is separate from Serve so that a failure
// here can abort daemon startup.
func (s *Server) Listen() error {
	if s.network == "unix" {
		// a previous daemon may have left its socket file behind
		if err := os.Remove(s.addr); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	ln, err := net.Listen(s.network, s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Info().Str("network", s.network).Str("addr", s.addr).Msg("IPC server listening")
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until the context is cancelled, then waits for
// per-connection goroutines to drain.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("IPC accept failed")
			continue
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}

	s.wg.Wait()
	if s.network == "unix" {
		os.Remove(s.addr)
	}
	log.Info().Msg("IPC server stopped")
	return nil
}

// handleConn serves one client. A separate goroutine decodes frames so a
// disconnect is noticed even while a request of this client sits in the
// execution queue; its context then cancels and the queued request is
// dropped before it reaches the device.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	logger := log.With().Str("conn", uuid.NewString()[:8]).Logger()
	logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The read deadline for the next frame is armed before the previous
	// response goes out, so its expiry alone does not mean the client is
	// idle. A timeout closes the connection only when no request is in
	// flight and nothing has moved in either direction for a full window;
	// otherwise the reader re-arms and keeps waiting.
	var busy atomic.Bool
	var lastActive atomic.Int64
	lastActive.Store(time.Now().UnixNano())

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			if s.idleTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
			}
			payload, err := ReadFrame(conn, s.maxFrame)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					quietFor := time.Since(time.Unix(0, lastActive.Load()))
					if busy.Load() || quietFor < s.idleTimeout {
						continue
					}
				}
				readErr <- err
				cancel()
				return
			}
			busy.Store(true)
			lastActive.Store(time.Now().UnixNano())
			select {
			case frames <- payload:
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-connCtx.Done():
			s.finishConn(conn, readErr, logger)
			return
		case err := <-readErr:
			s.logReadEnd(err, logger)
			if errors.Is(err, ErrBadFrame) {
				// answer, then drop the connection: framing is lost
				s.writeResponse(conn, Errorf(KindMalformed, "%v", err), logger)
			}
			return
		case payload := <-frames:
			resp := s.dispatch(connCtx, payload, logger)
			if connCtx.Err() != nil {
				// the client vanished while the request ran; whatever
				// the handler produced is not deliverable
				s.finishConn(conn, readErr, logger)
				return
			}
			ok := s.writeResponse(conn, resp, logger)
			lastActive.Store(time.Now().UnixNano())
			busy.Store(false)
			if !ok {
				return
			}
		}
	}
}

// finishConn handles the shutdown race where both the context and the read
// error become ready at once; a malformed frame still gets its answer.
func (s *Server) finishConn(conn net.Conn, readErr <-chan error, logger zerolog.Logger) {
	select {
	case err := <-readErr:
		s.logReadEnd(err, logger)
		if errors.Is(err, ErrBadFrame) {
			s.writeResponse(conn, Errorf(KindMalformed, "%v", err), logger)
		}
	default:
	}
}

func (s *Server) logReadEnd(err error, logger zerolog.Logger) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug().Msg("Client disconnected")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug().Msg("Closing idle connection")
	default:
		logger.Debug().Err(err).Msg("Connection read ended")
	}
}

func (s *Server) dispatch(ctx context.Context, payload []byte, logger zerolog.Logger) Response {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Warn().Err(err).Msg("Undecodable request frame")
		return Errorf(KindMalformed, "undecodable request: %v", err)
	}

	logger.Debug().Str("op", req.Op).Msg("Request received")
	resp := s.handler.Handle(ctx, req)
	if resp.IsError() {
		logger.Info().Str("op", req.Op).Str("kind", resp.Error.Kind).Str("message", resp.Error.Message).Msg("Request failed")
	}
	return resp
}

func (s *Server) writeResponse(conn net.Conn, resp Response, logger zerolog.Logger) bool {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error().Err(err).Msg("Response marshalling failed")
		return false
	}
	if s.idleTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.idleTimeout))
	}
	if err := WriteFrame(conn, data); err != nil {
		// client is gone; the response is simply discarded
		logger.Debug().Err(err).Msg("Response write failed")
		return false
	}
	return true
}
