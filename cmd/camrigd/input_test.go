package main

import "testing"

func TestTranslateKey(t *testing.T) {
	const step = 5.0
	key := func(code uint16, value int32) inputEvent {
		return inputEvent{Type: EV_KEY, Code: code, Value: value}
	}

	tests := []struct {
		name   string
		ev     inputEvent
		want   Action
		wantOK bool
	}{
		{name: "left press nudges", ev: key(KEY_LEFT, evValuePress), want: Nudge{PanDeg: -step}, wantOK: true},
		{name: "up press nudges", ev: key(KEY_UP, evValuePress), want: Nudge{TiltDeg: step}, wantOK: true},
		{name: "right repeat holds", ev: key(KEY_RIGHT, evValueRepeat), want: HoldStart{Pan: 1}, wantOK: true},
		{name: "down repeat holds", ev: key(KEY_DOWN, evValueRepeat), want: HoldStart{Tilt: -1}, wantOK: true},
		{name: "arrow release", ev: key(KEY_DOWN, evValueRelease), want: HoldRelease{}, wantOK: true},
		{name: "m toggles monitoring", ev: key(KEY_M, evValuePress), want: ToggleMonitoring{}, wantOK: true},
		{name: "h homes", ev: key(KEY_H, evValuePress), want: Home{}, wantOK: true},
		{name: "home key homes", ev: key(KEY_HOME, evValuePress), want: Home{}, wantOK: true},
		{name: "m repeat ignored", ev: key(KEY_M, evValueRepeat)},
		{name: "m release ignored", ev: key(KEY_M, evValueRelease)},
		{name: "unmapped key", ev: key(30, evValuePress)},
		{name: "non-key event", ev: inputEvent{Type: 0x02, Code: KEY_LEFT, Value: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translateKey(tt.ev, step)
			if ok != tt.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestKeyDirection(t *testing.T) {
	if _, _, ok := keyDirection(KEY_M); ok {
		t.Fatalf("KEY_M is not a direction")
	}
	pan, tilt, ok := keyDirection(KEY_UP)
	if !ok || pan != 0 || tilt != 1 {
		t.Fatalf("KEY_UP = (%d, %d, %v), want (0, 1, true)", pan, tilt, ok)
	}
}
