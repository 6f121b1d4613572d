package main

import "time"

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_H     = 35
	KEY_M     = 50
	KEY_HOME  = 102
	KEY_UP    = 103
	KEY_LEFT  = 105
	KEY_RIGHT = 106
	KEY_DOWN  = 108
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Nudge dispatcher defaults
const (
	defaultDeadzone       = 0.1  // Joystick magnitude below which ticks are no-ops
	defaultGainExponent   = 1.6  // gain(m) = m^exponent
	defaultMaxSpeedDegPS  = 45.0 // Full-deflection speed (deg/s)
	defaultDragTickMS     = 100  // Joystick tick interval (ms)
	defaultHoldTickMS     = 50   // Held-button tick interval (ms)
	defaultDiscreteStep   = 5.0  // Single key press / click step (deg)
	defaultHoldStepDivide = 10.0 // Held button moves step/holdStepDivide per tick
	defaultNudgeRatePerS  = 10.0 // Discrete nudges allowed per second
	defaultNudgeBurst     = 5

	// The rig rejects relative steps larger than this; keep requests inside it.
	maxRelativeStepDeg = 15.0
)

// Monitoring sweep defaults
const (
	sweepPanExtentDeg    = 60.0
	sweepTiltExtentDeg   = 30.0
	sweepStepDeg         = 2.0
	sweepPanStepMS       = 250
	sweepTiltStepMS      = 600
	sweepSettleMS        = 800
	sweepDegenerateRange = 0.01 // Axis range at or below this is held constant
)

// Polling, settings and feedback defaults
const (
	defaultPollIntervalMS     = 1000
	defaultUnavailableAfter   = 5 // Consecutive poll failures before the cache is cleared
	defaultSettingsDebounceMS = 200
	defaultToastTTL           = 2500 * time.Millisecond
	defaultRequestTimeoutMS   = 0 // No per-request timeout; a slow rig delays the next step
)

// Home position reported by the rig's home endpoint.
const (
	homePanDeg  = 0.0
	homeTiltDeg = 0.0
)
