// Package device owns the serial session to the light's microcontroller and
// speaks its byte protocol: ASCII command frames terminated by '#', each
// answered by a single ack frame within the configured timeout.
package device

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/hymnis/dsul-go/internal/light"
)

const frameTerminator = '#'

// Firmware frames. Frames starting with '+' carry data or a definite answer,
// frames starting with '-' ask the peer for something.
const (
	frameOK     = "+!#" // command acknowledged
	frameReject = "+?#" // command unknown or rejected
	framePing   = "-?#" // ping, peer answers with frameOK
	frameResend = "-!#" // request for (re)transmission of information
)

func encodeColor(c light.RGB) string {
	return fmt.Sprintf("+l%03d%03d%03d#", c.R, c.G, c.B)
}

func encodeBrightness(v int) string {
	return fmt.Sprintf("+b%03d#", v)
}

func encodeMode(tag int) string {
	return fmt.Sprintf("+m%03d#", tag)
}

func encodeDim(on bool) string {
	if on {
		return "+d1#"
	}
	return "+d0#"
}

// encodeDelta renders a single attribute change as a firmware command frame.
func encodeDelta(d light.Delta) string {
	switch d.Field {
	case light.FieldColor:
		return encodeColor(d.RGB)
	case light.FieldBrightness:
		return encodeBrightness(d.Brightness)
	case light.FieldMode:
		return encodeMode(d.ModeTag)
	case light.FieldDim:
		return encodeDim(d.Dim)
	}
	return ""
}

// Info is what the firmware reports in response to an information request.
type Info struct {
	FirmwareVersion string
	Leds            int
	BrightnessMin   int
	BrightnessMax   int
}

var (
	reVersion    = regexp.MustCompile(`v(\d{3})\.(\d{3})\.(\d{3})`)
	reLeds       = regexp.MustCompile(`ll(\d{3})`)
	reBrightness = regexp.MustCompile(`lb(\d{3}):(\d{3})`)
)

// parseInfo extracts the known fields from an information frame. Fields the
// firmware did not include are left at their zero value.
func parseInfo(data string) Info {
	var info Info
	if m := reVersion.FindStringSubmatch(data); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch, _ := strconv.Atoi(m[3])
		info.FirmwareVersion = fmt.Sprintf("%d.%d.%d", major, minor, patch)
	}
	if m := reLeds.FindStringSubmatch(data); m != nil {
		info.Leds, _ = strconv.Atoi(m[1])
	}
	if m := reBrightness.FindStringSubmatch(data); m != nil {
		info.BrightnessMin, _ = strconv.Atoi(m[1])
		info.BrightnessMax, _ = strconv.Atoi(m[2])
	}
	return info
}
