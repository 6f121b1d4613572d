package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from a file descriptor and sends them to a channel
// This runs in a dedicated goroutine and blocks on read operations
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
			return
		}

		reader.Reset(buf) // Reset reader to reuse it
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// keyDirection maps arrow keys to (pan, tilt) directions.
func keyDirection(code uint16) (pan, tilt int, ok bool) {
	switch code {
	case KEY_LEFT:
		return -1, 0, true
	case KEY_RIGHT:
		return 1, 0, true
	case KEY_UP:
		return 0, 1, true
	case KEY_DOWN:
		return 0, -1, true
	}
	return 0, 0, false
}

// translateKey converts a keypad event into an Action.
//
//	arrow press   -> Nudge (one discrete step)
//	arrow repeat  -> HoldStart (continuous motion while auto-repeat runs)
//	arrow release -> HoldRelease
//	M             -> ToggleMonitoring
//	H / Home      -> Home
func translateKey(ev inputEvent, stepDeg float64) (Action, bool) {
	if ev.Type != EV_KEY {
		return nil, false
	}

	if pan, tilt, ok := keyDirection(ev.Code); ok {
		switch ev.Value {
		case evValuePress:
			return Nudge{PanDeg: float64(pan) * stepDeg, TiltDeg: float64(tilt) * stepDeg}, true
		case evValueRepeat:
			return HoldStart{Pan: pan, Tilt: tilt}, true
		case evValueRelease:
			return HoldRelease{}, true
		}
		return nil, false
	}

	if ev.Value != evValuePress {
		return nil, false
	}
	switch ev.Code {
	case KEY_M:
		return ToggleMonitoring{}, true
	case KEY_H, KEY_HOME:
		return Home{}, true
	}
	return nil, false
}

// runInput reads keypad devices and forwards translated actions to the daemon.
// It returns when ctx is canceled or a device fails.
func runInput(ctx context.Context, devices []string, stepDeg float64, actions chan<- Event, logger *slog.Logger) error {
	if len(devices) == 0 {
		return fmt.Errorf("no input devices configured")
	}

	files := make([]*os.File, 0, len(devices))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w", dev, err)
		}
		files = append(files, f)
	}

	events := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	if len(files) == 1 {
		go readInputEvents(files[0], events, readErr)
	} else {
		go readInputEventsMulti(files, events, readErr, stop)
	}

	logger.Info("input listening", "devices", devices)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("input reader stopped: %w", err)

		case ev := <-events:
			act, ok := translateKey(ev, stepDeg)
			if !ok {
				continue
			}
			select {
			case actions <- act:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
