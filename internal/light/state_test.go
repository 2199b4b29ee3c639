package light

import "testing"

func TestStateApply(t *testing.T) {
	tests := []struct {
		name  string
		delta Delta
		check func(Snapshot) bool
	}{
		{
			name:  "color",
			delta: Delta{Field: FieldColor, Color: "blue", RGB: RGB{B: 255}},
			check: func(s Snapshot) bool { return s.Color == "blue" },
		},
		{
			name:  "brightness",
			delta: Delta{Field: FieldBrightness, Brightness: 42},
			check: func(s Snapshot) bool { return s.Brightness == 42 },
		},
		{
			name:  "mode",
			delta: Delta{Field: FieldMode, Mode: "blink", ModeTag: 2},
			check: func(s Snapshot) bool { return s.Mode == "blink" },
		},
		{
			name:  "dim",
			delta: Delta{Field: FieldDim, Dim: true},
			check: func(s Snapshot) bool { return s.Dim },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(Snapshot{Color: "red", Brightness: 100, Mode: "solid"})
			s.Apply(tt.delta)
			if got := s.Snapshot(); !tt.check(got) {
				t.Errorf("Apply(%v) = %+v", tt.delta, got)
			}
		})
	}
}

func TestStateApplyTouchesOnlyItsField(t *testing.T) {
	s := NewState(Snapshot{Color: "red", Brightness: 100, Mode: "solid"})
	s.Apply(Delta{Field: FieldColor, Color: "blue"})

	got := s.Snapshot()
	if got.Brightness != 100 || got.Mode != "solid" || got.Dim {
		t.Errorf("color delta changed unrelated fields: %+v", got)
	}
}

func TestStateSnapshotIsCopy(t *testing.T) {
	s := NewState(Snapshot{Color: "red"})
	snap := s.Snapshot()
	snap.Color = "green"

	if s.Snapshot().Color != "red" {
		t.Error("mutating a snapshot must not affect the state")
	}
}

func TestStateSetConnected(t *testing.T) {
	s := NewState(Snapshot{})
	s.SetConnected(true)
	if !s.Snapshot().Connected {
		t.Error("expected connected flag set")
	}
	s.SetConnected(false)
	if s.Snapshot().Connected {
		t.Error("expected connected flag cleared")
	}
}

func TestLimitsLookups(t *testing.T) {
	limits := Limits{
		Colors:        map[string]RGB{"red": {R: 255}, "blue": {B: 255}},
		Modes:         map[string]int{"solid": 1, "blink": 2},
		MinBrightness: 10,
		MaxBrightness: 150,
	}

	if _, ok := limits.Color("red"); !ok {
		t.Error("expected red to resolve")
	}
	if _, ok := limits.Color("mauve"); ok {
		t.Error("mauve should not resolve")
	}
	if tag, ok := limits.Mode("blink"); !ok || tag != 2 {
		t.Errorf("Mode(blink) = %d, %v", tag, ok)
	}

	for _, tt := range []struct {
		v    int
		want bool
	}{{9, false}, {10, true}, {150, true}, {151, false}} {
		if got := limits.BrightnessInRange(tt.v); got != tt.want {
			t.Errorf("BrightnessInRange(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}

	names := limits.ColorNames()
	if len(names) != 2 || names[0] != "blue" || names[1] != "red" {
		t.Errorf("ColorNames() = %v, want sorted [blue red]", names)
	}
}
