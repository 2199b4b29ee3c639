package ipc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hymnis/dsul-go/internal/device"
	"github.com/hymnis/dsul-go/internal/ipc"
	"github.com/hymnis/dsul-go/internal/light"
	"github.com/hymnis/dsul-go/internal/processor"
)

// wiredLink acknowledges everything, standing in for a healthy device.
type wiredLink struct{}

func (wiredLink) Open(ctx context.Context) error                { return nil }
func (wiredLink) Send(ctx context.Context, d light.Delta) error { return nil }
func (wiredLink) Ping(ctx context.Context) error                { return nil }
func (wiredLink) Info() (device.Info, bool)                     { return device.Info{}, false }

// TestDaemonScenario walks the documented client session: a color change, a
// rejected brightness, and a mode change whose client disconnects before
// reading the response.
func TestDaemonScenario(t *testing.T) {
	limits := light.Limits{
		Colors:        map[string]light.RGB{"red": {R: 255}, "green": {G: 255}, "blue": {B: 255}},
		Modes:         map[string]int{"steady": 1, "pulse": 2},
		MinBrightness: 0,
		MaxBrightness: 255,
	}
	state := light.NewState(light.Snapshot{Color: "red", Brightness: 100, Mode: "steady"})
	proc := processor.New(limits, state, wiredLink{}, "test", processor.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	proc.Start(ctx)

	server := ipc.NewServer("127.0.0.1", 0, "", time.Second, 1024, proc)
	require.NoError(t, server.Listen())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-serveDone
		proc.Wait()
	})

	port := server.Addr().(*net.TCPAddr).Port
	dial := func() *ipc.Client {
		c, err := ipc.Dial("127.0.0.1", port, "", time.Second, 1024)
		require.NoError(t, err)
		return c
	}

	// SET_COLOR blue: applied, everything else untouched
	c := dial()
	resp, err := c.Do(ipc.Request{Op: ipc.OpSetColor, Name: "blue"})
	require.NoError(t, err)
	require.False(t, resp.IsError())
	assert.Equal(t, "blue", resp.State.Color)
	assert.Equal(t, 100, resp.State.Brightness)
	assert.Equal(t, "steady", resp.State.Mode)

	// SET_BRIGHTNESS 300: rejected, state unchanged
	resp, err = c.Do(ipc.Request{Op: ipc.OpSetBrightness, Value: 300})
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Equal(t, ipc.KindInvalidValue, resp.Error.Kind)

	resp, err = c.Do(ipc.Request{Op: ipc.OpGetState})
	require.NoError(t, err)
	assert.Equal(t, "blue", resp.State.Color)
	assert.Equal(t, 100, resp.State.Brightness)
	c.Close()

	// SET_MODE pulse, client disconnects before reading the response: the
	// fully received request is still applied
	raw, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(raw, []byte(`{"op":"SET_MODE","name":"pulse"}`)))
	raw.Close()

	require.Eventually(t, func() bool {
		c := dial()
		defer c.Close()
		resp, err := c.Do(ipc.Request{Op: ipc.OpGetState})
		return err == nil && resp.State != nil && resp.State.Mode == "pulse"
	}, 2*time.Second, 20*time.Millisecond, "mode change from disconnected client should still apply")
}
