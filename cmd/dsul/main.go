package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hymnis/dsul-go/internal/app"
	"github.com/hymnis/dsul-go/internal/config"
	"github.com/hymnis/dsul-go/internal/ipc"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Path to configuration file")

	// Endpoint
	address := flag.String("address", "", "Daemon host address (overrides config)")
	port := flag.Int("port", 0, "Daemon port (overrides config)")
	socket := flag.String("socket", "", "Daemon unix socket path (overrides config, disables host/port)")
	timeout := flag.Duration("timeout", 5*time.Second, "Connection and request timeout")

	// Actions
	color := flag.String("color", "", "Set the given color")
	brightness := flag.Int("brightness", -1, "Set the given brightness")
	mode := flag.String("mode", "", "Set the given mode")
	dim := flag.String("dim", "", "Set dim mode: on or off")
	get := flag.Bool("get", false, "Show the current light state")
	list := flag.Bool("list", false, "List available colors, modes and brightness bounds")
	info := flag.Bool("info", false, "Show daemon and firmware information")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("dsul " + app.Version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatalf("dsul: %v", err)
	}
	if *address != "" {
		cfg.IPC.Host = *address
	}
	if *port > 0 {
		cfg.IPC.Port = *port
	}
	if *socket != "" {
		cfg.IPC.Socket = *socket
	}

	requests, err := buildRequests(*color, *brightness, *mode, *dim, *get, *list, *info)
	if err != nil {
		fatalf("dsul: %v", err)
	}
	if len(requests) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	client, err := ipc.Dial(cfg.IPC.Host, cfg.IPC.Port, cfg.IPC.Socket, *timeout, cfg.IPC.MaxFrame)
	if err != nil {
		fatalf("dsul: %v", err)
	}
	defer client.Close()

	for _, req := range requests {
		resp, err := client.Do(req)
		if err != nil {
			fatalf("dsul: %s: %v", req.Op, err)
		}
		if resp.IsError() {
			fatalf("dsul: %s: %s", resp.Error.Kind, resp.Error.Message)
		}
		printResponse(req.Op, resp)
	}
}

// buildRequests collects the requested operations, mutations first, in a
// fixed order.
func buildRequests(color string, brightness int, mode, dim string, get, list, info bool) ([]ipc.Request, error) {
	var requests []ipc.Request
	if color != "" {
		requests = append(requests, ipc.Request{Op: ipc.OpSetColor, Name: color})
	}
	if brightness >= 0 {
		requests = append(requests, ipc.Request{Op: ipc.OpSetBrightness, Value: brightness})
	}
	if mode != "" {
		requests = append(requests, ipc.Request{Op: ipc.OpSetMode, Name: mode})
	}
	if dim != "" {
		on, err := parseOnOff(dim)
		if err != nil {
			return nil, err
		}
		requests = append(requests, ipc.Request{Op: ipc.OpSetDim, On: on})
	}
	if get {
		requests = append(requests, ipc.Request{Op: ipc.OpGetState})
	}
	if list {
		requests = append(requests, ipc.Request{Op: ipc.OpListOptions})
	}
	if info {
		requests = append(requests, ipc.Request{Op: ipc.OpGetInfo})
	}
	return requests, nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid dim value %q, want on or off", s)
}

func printResponse(op string, resp ipc.Response) {
	switch {
	case resp.State != nil:
		s := resp.State
		connected := "no"
		if s.Connected {
			connected = "yes"
		}
		dim := "off"
		if s.Dim {
			dim = "on"
		}
		fmt.Printf("color: %s\nbrightness: %d\nmode: %s\ndim: %s\nconnected: %s\n",
			s.Color, s.Brightness, s.Mode, dim, connected)
	case resp.Options != nil:
		o := resp.Options
		fmt.Printf("colors: %s\nmodes: %s\nbrightness: %d-%d\n",
			strings.Join(o.Colors, ", "), strings.Join(o.Modes, ", "),
			o.BrightnessMin, o.BrightnessMax)
	case resp.Info != nil:
		i := resp.Info
		fmt.Printf("daemon: %s\n", i.DaemonVersion)
		if i.FirmwareVersion != "" {
			fmt.Printf("firmware: %s\nleds: %d\n", i.FirmwareVersion, i.Leds)
		}
	default:
		fmt.Printf("%s: ok\n", op)
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.dsul.yaml"
	}
	return "dsul.yaml"
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
