// Package ipc implements the daemon's client-facing protocol: length-prefixed
// JSON frames over TCP or a unix stream socket.
package ipc

import (
	"context"
	"fmt"
)

// Request operations.
const (
	OpGetState      = "GET_STATE"
	OpSetColor      = "SET_COLOR"
	OpSetBrightness = "SET_BRIGHTNESS"
	OpSetMode       = "SET_MODE"
	OpSetDim        = "SET_DIM"
	OpListOptions   = "LIST_OPTIONS"
	OpGetInfo       = "GET_INFO"
)

// Error kinds carried in error responses.
const (
	KindInvalidValue    = "InvalidValue"
	KindMalformed       = "MalformedRequest"
	KindLinkUnavailable = "LinkUnavailable"
	KindLinkTimeout     = "LinkTimeout"
	KindLinkIOError     = "LinkIOError"

	// KindAborted marks a reply to a client that vanished while its request
	// was queued or executing. The server discards responses once the
	// connection is gone, so this kind never reaches the wire and says
	// nothing about link health.
	KindAborted = "RequestAborted"
)

// Request is one decoded client frame. Which argument field matters depends
// on Op: Name for SET_COLOR/SET_MODE, Value for SET_BRIGHTNESS, On for
// SET_DIM.
type Request struct {
	Op    string `json:"op"`
	Name  string `json:"name,omitempty"`
	Value int    `json:"value,omitempty"`
	On    bool   `json:"on,omitempty"`
}

// StatePayload mirrors light.Snapshot on the wire.
type StatePayload struct {
	Color      string `json:"color"`
	Brightness int    `json:"brightness"`
	Mode       string `json:"mode"`
	Dim        bool   `json:"dim"`
	Connected  bool   `json:"connected"`
}

// OptionsPayload enumerates the configured value domain.
type OptionsPayload struct {
	Colors        []string `json:"colors"`
	Modes         []string `json:"modes"`
	BrightnessMin int      `json:"brightness_min"`
	BrightnessMax int      `json:"brightness_max"`
}

// InfoPayload describes the daemon and, when a handshake succeeded, the
// firmware behind it.
type InfoPayload struct {
	DaemonVersion   string `json:"daemon_version"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Leds            int    `json:"leds,omitempty"`
}

// ErrorPayload carries a machine-readable kind and a human-readable message.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is one reply frame. Status is "ok" or "error"; exactly one of the
// payload pointers is set.
type Response struct {
	Status  string          `json:"status"`
	State   *StatePayload   `json:"state,omitempty"`
	Options *OptionsPayload `json:"options,omitempty"`
	Info    *InfoPayload    `json:"info,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// IsError reports whether the response carries an error payload.
func (r Response) IsError() bool {
	return r.Status != "ok"
}

// OkState builds a success response carrying a state snapshot.
func OkState(state StatePayload) Response {
	return Response{Status: "ok", State: &state}
}

// OkOptions builds a success response carrying the configured options.
func OkOptions(options OptionsPayload) Response {
	return Response{Status: "ok", Options: &options}
}

// OkInfo builds a success response carrying daemon/firmware information.
func OkInfo(info InfoPayload) Response {
	return Response{Status: "ok", Info: &info}
}

// Errorf builds an error response of the given kind.
func Errorf(kind, format string, args ...interface{}) Response {
	return Response{
		Status: "error",
		Error:  &ErrorPayload{Kind: kind, Message: fmt.Sprintf(format, args...)},
	}
}

// Handler executes one decoded request. The context belongs to the client
// connection and is cancelled when the client goes away.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// Endpoint maps the mutually exclusive IPC settings to a dial/listen target.
// A socket path takes precedence over host/port.
func Endpoint(host string, port int, socket string) (network, addr string) {
	if socket != "" {
		return "unix", socket
	}
	return "tcp", fmt.Sprintf("%s:%d", host, port)
}
