package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// rigCall records one request made against fakeRig.
type rigCall struct {
	Method string
	A, B   float64
	Patch  SettingsPatch
}

// fakeRig is an in-memory RigAPI. Moves are clamped to the configured limits like
// the real rig does.
type fakeRig struct {
	mu       sync.Mutex
	state    PanTiltState
	settings CameraSettings
	calls    []rigCall

	moveErr  error
	patchErr error
	pollErr  error
	fetchErr error

	// absFail makes the n-th (1-based) MoveAbsolute call fail.
	absFail map[int]error
	absN    int

	// patchGate, when set, blocks every PatchSettings until it receives a value.
	patchGate chan struct{}
	// absGate, when set, blocks every MoveAbsolute until it receives a value or closes.
	absGate chan struct{}
}

var _ RigAPI = (*fakeRig)(nil)

func newFakeRig(st PanTiltState) *fakeRig {
	return &fakeRig{state: st, settings: DefaultCameraSettings()}
}

func testLimits() Limits {
	return Limits{Pan: Range{-90, 90}, Tilt: Range{-30, 30}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f *fakeRig) record(c rigCall) {
	f.calls = append(f.calls, c)
}

func (f *fakeRig) Calls() []rigCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rigCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRig) CallsOf(method string) []rigCall {
	var out []rigCall
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRig) Count(method string) int { return len(f.CallsOf(method)) }

func (f *fakeRig) SetPollErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErr = err
}

func (f *fakeRig) GetSettings(ctx context.Context) (CameraSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(rigCall{Method: "GetSettings"})
	if f.fetchErr != nil {
		return CameraSettings{}, f.fetchErr
	}
	return f.settings, nil
}

func (f *fakeRig) PatchSettings(ctx context.Context, patch SettingsPatch) (CameraSettings, error) {
	f.mu.Lock()
	f.record(rigCall{Method: "PatchSettings", Patch: patch.Clone()})
	gate := f.patchGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return CameraSettings{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.patchErr != nil {
		return CameraSettings{}, f.patchErr
	}
	next, err := ApplyPatch(f.settings, patch)
	if err != nil {
		return CameraSettings{}, &APIError{Status: 422, Message: err.Error()}
	}
	f.settings = next
	return f.settings, nil
}

func (f *fakeRig) GetPanTilt(ctx context.Context) (PanTiltState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(rigCall{Method: "GetPanTilt"})
	if f.pollErr != nil {
		return PanTiltState{}, f.pollErr
	}
	return f.state, nil
}

func (f *fakeRig) MoveAbsolute(ctx context.Context, panDeg, tiltDeg float64) (PanTiltState, error) {
	f.mu.Lock()
	f.record(rigCall{Method: "MoveAbsolute", A: panDeg, B: tiltDeg})
	gate := f.absGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return PanTiltState{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.absN++
	if err := f.absFail[f.absN]; err != nil {
		return PanTiltState{}, err
	}
	if f.moveErr != nil {
		return PanTiltState{}, f.moveErr
	}
	f.state.PanDeg, f.state.TiltDeg = f.state.ClampTarget(panDeg, tiltDeg)
	return f.state, nil
}

func (f *fakeRig) MoveRelative(ctx context.Context, dpanDeg, dtiltDeg float64) (PanTiltState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(rigCall{Method: "MoveRelative", A: dpanDeg, B: dtiltDeg})
	if f.moveErr != nil {
		return PanTiltState{}, f.moveErr
	}
	f.state.PanDeg, f.state.TiltDeg = f.state.ClampTarget(f.state.PanDeg+dpanDeg, f.state.TiltDeg+dtiltDeg)
	return f.state, nil
}

func (f *fakeRig) PTZNudge(ctx context.Context, panDeg, tiltDeg float64) (*PanTiltState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(rigCall{Method: "PTZNudge", A: panDeg, B: tiltDeg})
	if f.moveErr != nil {
		return nil, f.moveErr
	}
	f.state.PanDeg, f.state.TiltDeg = f.state.ClampTarget(f.state.PanDeg+panDeg, f.state.TiltDeg+tiltDeg)
	st := f.state
	return &st, nil
}

func (f *fakeRig) Home(ctx context.Context) (PanTiltState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(rigCall{Method: "Home"})
	if f.moveErr != nil {
		return PanTiltState{}, f.moveErr
	}
	f.state.PanDeg, f.state.TiltDeg = homePanDeg, homeTiltDeg
	return f.state, nil
}
