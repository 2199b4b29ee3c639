// Package processor is the single authority that turns client requests into
// validated state changes. All device writes funnel through one worker
// goroutine, so no two commands ever overlap on the serial wire.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hymnis/dsul-go/internal/device"
	"github.com/hymnis/dsul-go/internal/ipc"
	"github.com/hymnis/dsul-go/internal/light"
)

// Link is the slice of the device link the processor drives.
type Link interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, d light.Delta) error
	Ping(ctx context.Context) error
	Info() (device.Info, bool)
}

// Options tune the processor's queue and device pacing.
type Options struct {
	QueueSize    int
	PingInterval time.Duration // 0 disables the device keep-alive
	RateLimit    float64       // device commands per second, 0 disables pacing
	RateBurst    int
}

type task struct {
	delta light.Delta
	ping  bool
	ctx   context.Context
	reply chan ipc.Response
}

// Processor validates requests against the configured limits, drives the
// device link and owns the only mutation path into the light state.
type Processor struct {
	limits  light.Limits
	state   *light.State
	link    Link
	limiter *rate.Limiter
	version string

	pingInterval time.Duration
	tasks        chan task
	wg           sync.WaitGroup
}

// New creates a processor. Start must be called before Handle is useful for
// mutating requests.
func New(limits light.Limits, state *light.State, link Link, version string, opts Options) *Processor {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	p := &Processor{
		limits:       limits,
		state:        state,
		link:         link,
		version:      version,
		pingInterval: opts.PingInterval,
		tasks:        make(chan task, opts.QueueSize),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return p
}

// ConnectDevice opens the serial link and records its health. A failure is
// not fatal: the daemon keeps serving queries from the last known state.
func (p *Processor) ConnectDevice(ctx context.Context) error {
	err := p.link.Open(ctx)
	p.state.SetConnected(err == nil)
	return err
}

// Start launches the execution worker and, if configured, the keep-alive
// pinger. Both stop when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)

	if p.pingInterval > 0 {
		p.wg.Add(1)
		go p.pingLoop(ctx)
	}
}

// Wait blocks until the worker goroutines have stopped.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Handle implements ipc.Handler. Queries are answered from the state and
// limits directly; mutations are validated here and then serialized through
// the execution queue.
func (p *Processor) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Op {
	case ipc.OpGetState:
		return ipc.OkState(stateView(p.state.Snapshot()))

	case ipc.OpListOptions:
		return ipc.OkOptions(ipc.OptionsPayload{
			Colors:        p.limits.ColorNames(),
			Modes:         p.limits.ModeNames(),
			BrightnessMin: p.limits.MinBrightness,
			BrightnessMax: p.limits.MaxBrightness,
		})

	case ipc.OpGetInfo:
		payload := ipc.InfoPayload{DaemonVersion: p.version}
		if info, ok := p.link.Info(); ok {
			payload.FirmwareVersion = info.FirmwareVersion
			payload.Leds = info.Leds
		}
		return ipc.OkInfo(payload)

	case ipc.OpSetColor:
		rgb, ok := p.limits.Color(req.Name)
		if !ok {
			return ipc.Errorf(ipc.KindInvalidValue, "unknown color %q", req.Name)
		}
		return p.submit(ctx, light.Delta{Field: light.FieldColor, Color: req.Name, RGB: rgb})

	case ipc.OpSetBrightness:
		if !p.limits.BrightnessInRange(req.Value) {
			// out-of-range is rejected, never clamped, so client and daemon
			// agree on the resulting state
			return ipc.Errorf(ipc.KindInvalidValue, "brightness %d outside [%d,%d]",
				req.Value, p.limits.MinBrightness, p.limits.MaxBrightness)
		}
		return p.submit(ctx, light.Delta{Field: light.FieldBrightness, Brightness: req.Value})

	case ipc.OpSetMode:
		tag, ok := p.limits.Mode(req.Name)
		if !ok {
			return ipc.Errorf(ipc.KindInvalidValue, "unknown mode %q", req.Name)
		}
		return p.submit(ctx, light.Delta{Field: light.FieldMode, Mode: req.Name, ModeTag: tag})

	case ipc.OpSetDim:
		return p.submit(ctx, light.Delta{Field: light.FieldDim, Dim: req.On})

	default:
		return ipc.Errorf(ipc.KindMalformed, "unknown operation %q", req.Op)
	}
}

// submit queues a validated delta and waits for its result. Requests enter
// the queue in frame-completion order; a client that disconnects before its
// turn has the request dropped at dequeue.
func (p *Processor) submit(ctx context.Context, d light.Delta) ipc.Response {
	t := task{delta: d, ctx: ctx, reply: make(chan ipc.Response, 1)}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return ipc.Errorf(ipc.KindAborted, "request abandoned before execution")
	}

	select {
	case resp := <-t.reply:
		return resp
	case <-ctx.Done():
		// execution still completes; the response is discarded with the client
		return ipc.Errorf(ipc.KindAborted, "client gone before completion")
	}
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.tasks:
			if t.ctx.Err() != nil {
				log.Debug().Msg("Dropping request from disconnected client")
				continue
			}
			if t.ping {
				p.pingDevice(ctx)
				continue
			}
			t.reply <- p.execute(ctx, t.delta)
		}
	}
}

// execute performs the hardware write and, only on success, the paired state
// mutation. A failed write leaves the state untouched: the device is the
// source of truth for whether a change took.
func (p *Processor) execute(ctx context.Context, d light.Delta) ipc.Response {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return ipc.Errorf(ipc.KindLinkUnavailable, "daemon shutting down")
		}
	}

	if err := p.link.Send(ctx, d); err != nil {
		p.state.SetConnected(false)
		log.Warn().Err(err).Msg("Device command failed")
		return ipc.Errorf(errorKind(err), "%v", err)
	}

	p.state.Apply(d)
	p.state.SetConnected(true)

	snap := p.state.Snapshot()
	log.Info().
		Str("color", snap.Color).
		Int("brightness", snap.Brightness).
		Str("mode", snap.Mode).
		Bool("dim", snap.Dim).
		Msg("State applied")
	return ipc.OkState(stateView(snap))
}

func (p *Processor) pingLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := task{ping: true, ctx: ctx, reply: make(chan ipc.Response, 1)}
			select {
			case p.tasks <- t:
			default:
				// queue is busy with real requests, skip this round
			}
		}
	}
}

// pingDevice keeps the firmware session warm and the connected flag honest.
// It never reopens a downed link; reconnection stays tied to client requests.
func (p *Processor) pingDevice(ctx context.Context) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
	}

	err := p.link.Ping(ctx)
	p.state.SetConnected(err == nil)
	switch {
	case err == nil:
		log.Debug().Msg("Device ping ok")
	case errors.Is(err, device.ErrUnavailable):
		log.Debug().Msg("Device ping skipped, link down")
	default:
		log.Warn().Err(err).Msg("Device ping failed")
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, device.ErrUnavailable):
		return ipc.KindLinkUnavailable
	case errors.Is(err, device.ErrTimeout):
		return ipc.KindLinkTimeout
	default:
		return ipc.KindLinkIOError
	}
}

func stateView(s light.Snapshot) ipc.StatePayload {
	return ipc.StatePayload{
		Color:      s.Color,
		Brightness: s.Brightness,
		Mode:       s.Mode,
		Dim:        s.Dim,
		Connected:  s.Connected,
	}
}
