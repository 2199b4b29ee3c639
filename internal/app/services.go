package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/hymnis/dsul-go/internal/config"
	"github.com/hymnis/dsul-go/internal/device"
	"github.com/hymnis/dsul-go/internal/ipc"
	"github.com/hymnis/dsul-go/internal/light"
	"github.com/hymnis/dsul-go/internal/processor"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	State     *light.State
	Link      *device.Link
	Processor *processor.Processor
	Server    *ipc.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	s.State = light.NewState(cfg.InitialState())

	s.Link = device.NewLink(
		cfg.Serial.Port,
		cfg.Serial.Baudrate,
		cfg.Serial.Timeout.Duration(),
		cfg.Serial.BootDelay.Duration(),
	)

	s.Processor = processor.New(cfg.Limits(), s.State, s.Link, Version, processor.Options{
		PingInterval: cfg.Serial.PingInterval.Duration(),
		RateLimit:    cfg.Serial.RateLimit,
		RateBurst:    cfg.Serial.RateBurst,
	})

	s.Server = ipc.NewServer(
		cfg.IPC.Host,
		cfg.IPC.Port,
		cfg.IPC.Socket,
		cfg.IPC.IdleTimeout.Duration(),
		cfg.IPC.MaxFrame,
		s.Processor,
	)

	return s, nil
}

// Start starts all services in the correct order. A serial port that cannot
// be opened is not fatal; the daemon serves queries from the last known
// state and the link reopens on the next mutating request. Failing to bind
// the IPC endpoint is fatal.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Processor.Start(ctx)

	if err := s.Processor.ConnectDevice(ctx); err != nil {
		log.Warn().Err(err).Str("port", s.cfg.Serial.Port).Msg("Device link not available at startup")
	}

	if err := s.Server.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Server.Serve(ctx); err != nil {
			onFatalError(err)
		}
	}()

	return nil
}

// Stop gracefully stops all services. The app context is already cancelled
// when this runs; it waits for in-flight work to drain.
func (s *Services) Stop() error {
	s.Processor.Wait()
	return s.Link.Close()
}
