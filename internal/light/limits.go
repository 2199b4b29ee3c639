package light

import "sort"

// RGB is a single color as three 8-bit channel values.
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// Limits is the validated, immutable domain of values the daemon accepts.
// It is built once from configuration and never mutated afterwards.
type Limits struct {
	Colors        map[string]RGB
	Modes         map[string]int // name -> firmware animation tag
	MinBrightness int
	MaxBrightness int
}

// Color resolves a configured color name.
func (l Limits) Color(name string) (RGB, bool) {
	c, ok := l.Colors[name]
	return c, ok
}

// Mode resolves a configured mode name to its firmware tag.
func (l Limits) Mode(name string) (int, bool) {
	tag, ok := l.Modes[name]
	return tag, ok
}

// BrightnessInRange reports whether v is within the configured bounds.
func (l Limits) BrightnessInRange(v int) bool {
	return v >= l.MinBrightness && v <= l.MaxBrightness
}

// ColorNames returns the configured color names, sorted.
func (l Limits) ColorNames() []string {
	names := make([]string, 0, len(l.Colors))
	for name := range l.Colors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ModeNames returns the configured mode names, sorted.
func (l Limits) ModeNames() []string {
	names := make([]string, 0, len(l.Modes))
	for name := range l.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
