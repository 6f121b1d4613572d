package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Camera rig HTTP API client
// ============================================================================
//
// Endpoints (all JSON unless noted):
//   GET   /api/camera/settings    -> CameraSettings
//   PATCH /api/camera/settings    partial settings -> CameraSettings
//   GET   /api/pantilt            -> PanTiltState
//   POST  /api/pantilt/absolute   {pan_deg, tilt_deg} -> PanTiltState
//   POST  /api/pantilt/relative   {dpan_deg, dtilt_deg} -> PanTiltState
//   POST  /api/ptz/relative       {pan_deg, tilt_deg} -> best-effort JSON or empty
//   POST  /api/pantilt/home       -> PanTiltState
//   GET   /api/snapshot.jpg       -> JPEG
//   GET   /api/stream.mjpg        -> multipart MJPEG
//
// Non-2xx responses become *APIError. The message is the response body text
// when present, otherwise the HTTP status text.
// ============================================================================

const (
	nudgeEndpointPanTilt = "pantilt"
	nudgeEndpointPTZ     = "ptz"
)

// RigAPI is the subset of the rig API used by the daemon's components.
type RigAPI interface {
	GetSettings(ctx context.Context) (CameraSettings, error)
	PatchSettings(ctx context.Context, patch SettingsPatch) (CameraSettings, error)
	GetPanTilt(ctx context.Context) (PanTiltState, error)
	MoveAbsolute(ctx context.Context, panDeg, tiltDeg float64) (PanTiltState, error)
	MoveRelative(ctx context.Context, dpanDeg, dtiltDeg float64) (PanTiltState, error)
	PTZNudge(ctx context.Context, panDeg, tiltDeg float64) (*PanTiltState, error)
	Home(ctx context.Context) (PanTiltState, error)
}

// APIError is a non-2xx response from the rig.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// RigClient talks to the camera rig over HTTP.
type RigClient struct {
	baseURL string
	http    *http.Client
}

var _ RigAPI = (*RigClient)(nil)

// NewRigClient creates a client for baseURL (e.g. "http://camrig.local:8000").
// timeout <= 0 disables the per-request timeout; callers still control
// cancellation through ctx.
func NewRigClient(baseURL string, timeout time.Duration) *RigClient {
	hc := &http.Client{}
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &RigClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

// GetSettings fetches the current camera settings.
func (c *RigClient) GetSettings(ctx context.Context) (CameraSettings, error) {
	var s CameraSettings
	err := c.doJSON(ctx, http.MethodGet, "/api/camera/settings", nil, &s)
	return s, err
}

// PatchSettings sends a partial settings update and returns the full updated settings.
func (c *RigClient) PatchSettings(ctx context.Context, patch SettingsPatch) (CameraSettings, error) {
	var s CameraSettings
	err := c.doJSON(ctx, http.MethodPatch, "/api/camera/settings", patch, &s)
	return s, err
}

// GetPanTilt fetches the servo position and soft limits.
func (c *RigClient) GetPanTilt(ctx context.Context) (PanTiltState, error) {
	var st PanTiltState
	err := c.doJSON(ctx, http.MethodGet, "/api/pantilt", nil, &st)
	return st, err
}

type absoluteMoveRequest struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}

type relativeMoveRequest struct {
	DPanDeg  float64 `json:"dpan_deg"`
	DTiltDeg float64 `json:"dtilt_deg"`
}

// ptzNudgeRequest is the /api/ptz/relative body: a delta in degrees.
type ptzNudgeRequest struct {
	PanDeg  float64 `json:"pan_deg"`
	TiltDeg float64 `json:"tilt_deg"`
}

// MoveAbsolute moves both servos to an absolute position.
func (c *RigClient) MoveAbsolute(ctx context.Context, panDeg, tiltDeg float64) (PanTiltState, error) {
	var st PanTiltState
	err := c.doJSON(ctx, http.MethodPost, "/api/pantilt/absolute", absoluteMoveRequest{PanDeg: panDeg, TiltDeg: tiltDeg}, &st)
	return st, err
}

// MoveRelative moves both servos by a delta.
func (c *RigClient) MoveRelative(ctx context.Context, dpanDeg, dtiltDeg float64) (PanTiltState, error) {
	var st PanTiltState
	err := c.doJSON(ctx, http.MethodPost, "/api/pantilt/relative", relativeMoveRequest{DPanDeg: dpanDeg, DTiltDeg: dtiltDeg}, &st)
	return st, err
}

// PTZNudge posts an immediate nudge to /api/ptz/relative.
// The response is best-effort: a nil state with a nil error means the rig
// answered 2xx without a usable pan/tilt body.
func (c *RigClient) PTZNudge(ctx context.Context, panDeg, tiltDeg float64) (*PanTiltState, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/ptz/relative", ptzNudgeRequest{PanDeg: panDeg, TiltDeg: tiltDeg}, "application/json")
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var st PanTiltState
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, nil
	}
	if st.Limits.Pan.Span() == 0 && st.Limits.Tilt.Span() == 0 {
		return nil, nil
	}
	return &st, nil
}

// Home moves both servos to the home position.
func (c *RigClient) Home(ctx context.Context) (PanTiltState, error) {
	var st PanTiltState
	err := c.doJSON(ctx, http.MethodPost, "/api/pantilt/home", nil, &st)
	return st, err
}

// Snapshot fetches a single JPEG frame.
func (c *RigClient) Snapshot(ctx context.Context) ([]byte, error) {
	return c.do(ctx, http.MethodGet, "/api/snapshot.jpg", nil, "image/jpeg")
}

// errStopFrames can be returned from a Frames callback to end the stream cleanly.
var errStopFrames = errors.New("stop frames")

// Frames reads the MJPEG stream and calls fn with each JPEG part body until
// ctx is canceled, the stream ends, or fn returns an error.
// Returning errStopFrames from fn ends the stream without an error.
func (c *RigClient) Frames(ctx context.Context, fn func(jpeg []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stream.mjpg", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	// The stream is long-lived; do not apply the per-request timeout.
	hc := *c.http
	hc.Timeout = 0

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET /api/stream.mjpg: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("parse stream content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("unexpected stream content type %q", mediaType)
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream part: %w", err)
		}
		frame, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream frame: %w", err)
		}
		if err := fn(frame); err != nil {
			if errors.Is(err, errStopFrames) {
				return nil
			}
			return err
		}
	}
}

func (c *RigClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	body, err := c.do(ctx, method, path, in, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *RigClient) do(ctx context.Context, method, path string, in any, accept string) ([]byte, error) {
	var reqBody io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode request: %w", method, path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s %s: create request: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	return b, nil
}

// checkStatus converts a non-2xx response into *APIError.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := errorMessage(b)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// errorMessage returns the body text, unwrapping a JSON {"detail": "..."} body
// as produced by the rig's validation errors.
func errorMessage(body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	var detail struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(body, &detail) == nil {
		if s, ok := detail.Detail.(string); ok && s != "" {
			return s
		}
	}
	return text
}
