package main

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// CameraSettings is the rig's full camera settings object.
type CameraSettings struct {
	ExposureMode   string  `json:"exposure_mode"`
	ExposureTimeUS int     `json:"exposure_time_us"`
	ISOGain        float64 `json:"iso_gain"`
	AWBEnable      bool    `json:"awb_enable"`
	AWBMode        string  `json:"awb_mode"`
	LowLight       bool    `json:"low_light"`
	Brightness     float64 `json:"brightness"`
	Contrast       float64 `json:"contrast"`
	Saturation     float64 `json:"saturation"`
	Sharpness      float64 `json:"sharpness"`
	EV             float64 `json:"ev"`
	Zoom           float64 `json:"zoom"`
}

// DefaultCameraSettings returns the rig's factory settings ("reset to defaults").
func DefaultCameraSettings() CameraSettings {
	return CameraSettings{
		ExposureMode:   "auto",
		ExposureTimeUS: 5000,
		ISOGain:        2.0,
		AWBEnable:      true,
		AWBMode:        "auto",
		LowLight:       false,
		Brightness:     0,
		Contrast:       1.05,
		Saturation:     1.15,
		Sharpness:      1.10,
		EV:             0,
		Zoom:           1.0,
	}
}

// AsPatch returns every field of s as a patch.
func (s CameraSettings) AsPatch() SettingsPatch {
	return SettingsPatch{
		"exposure_mode":    s.ExposureMode,
		"exposure_time_us": s.ExposureTimeUS,
		"iso_gain":         s.ISOGain,
		"awb_enable":       s.AWBEnable,
		"awb_mode":         s.AWBMode,
		"low_light":        s.LowLight,
		"brightness":       s.Brightness,
		"contrast":         s.Contrast,
		"saturation":       s.Saturation,
		"sharpness":        s.Sharpness,
		"ev":               s.EV,
		"zoom":             s.Zoom,
	}
}

// wbPresetKey is a pseudo-setting combining white balance and low-light mode.
// It is sent to the rig as-is and expanded locally for display.
const wbPresetKey = "wb_preset"

// SettingsPatch is a partial settings update keyed by setting name.
type SettingsPatch map[string]any

// Merge copies every key of other into p (last write wins per key).
func (p SettingsPatch) Merge(other SettingsPatch) {
	maps.Copy(p, other)
}

// Clone returns a shallow copy of p.
func (p SettingsPatch) Clone() SettingsPatch {
	if p == nil {
		return SettingsPatch{}
	}
	return maps.Clone(p)
}

// Keys returns the patch keys in sorted order (for logging).
func (p SettingsPatch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expandForDisplay returns a copy of p with wb_preset replaced by the concrete
// fields it stands for.
//
//	wb_preset=low_light -> awb_mode=low_light, low_light=true, awb_enable=true
//	wb_preset=<other>   -> awb_mode=<other>, low_light=false
func (p SettingsPatch) expandForDisplay() SettingsPatch {
	out := p.Clone()
	raw, ok := out[wbPresetKey]
	if !ok {
		return out
	}
	delete(out, wbPresetKey)

	preset := strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))
	if preset == "" {
		return out
	}
	out["awb_mode"] = preset
	if preset == "low_light" {
		out["low_light"] = true
		out["awb_enable"] = true
	} else {
		out["low_light"] = false
	}
	return out
}

// ApplyPatch returns s with the patch applied for display. wb_preset is expanded.
// Unknown keys are ignored; values are converted weakly (e.g. JSON numbers to int).
func ApplyPatch(s CameraSettings, p SettingsPatch) (CameraSettings, error) {
	if len(p) == 0 {
		return s, nil
	}
	out := s
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return s, fmt.Errorf("settings decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(p.expandForDisplay())); err != nil {
		return s, fmt.Errorf("apply settings patch: %w", err)
	}
	return out, nil
}

// SettingsView is the reducer-owned optimistic settings state.
//
// Confirmed is the last settings object returned by the rig. Displayed is what
// clients see: Confirmed plus every optimistic patch not yet confirmed.
type SettingsView struct {
	Confirmed CameraSettings
	Displayed CameraSettings
	Known     bool

	// LastFlushID is the newest coalescer flush whose outcome has been applied.
	LastFlushID uint64

	// recentFlushes holds the ids of recently applied flushes. Every caller in a
	// batch reports the same flush; only the first report is applied.
	recentFlushes []uint64
}

const recentFlushesKept = 16

// MarkFlush records that the outcome of flush id is being applied. It returns
// false if that flush was already applied.
func (v *SettingsView) MarkFlush(id uint64) bool {
	if slices.Contains(v.recentFlushes, id) {
		return false
	}
	v.recentFlushes = append(v.recentFlushes, id)
	if len(v.recentFlushes) > recentFlushesKept {
		v.recentFlushes = v.recentFlushes[len(v.recentFlushes)-recentFlushesKept:]
	}
	return true
}

// ApplyOptimistic applies a local patch to the displayed settings.
// This is intended to be called only by the daemon goroutine (single-owner).
func (v *SettingsView) ApplyOptimistic(p SettingsPatch) error {
	next, err := ApplyPatch(v.Displayed, p)
	if err != nil {
		return err
	}
	v.Displayed = next
	return nil
}

// Confirm records a server-confirmed settings object and re-applies still-pending
// patches on top of it.
// This is intended to be called only by the daemon goroutine (single-owner).
func (v *SettingsView) Confirm(server CameraSettings, pending SettingsPatch) {
	v.Confirmed = server
	v.Known = true
	v.Displayed = server
	if next, err := ApplyPatch(server, pending); err == nil {
		v.Displayed = next
	}
}

// Rollback discards failed optimistic changes, restoring the last confirmed settings
// plus any patches that are still queued for a later flush.
// This is intended to be called only by the daemon goroutine (single-owner).
func (v *SettingsView) Rollback(pending SettingsPatch) {
	if !v.Known {
		// Nothing confirmed yet; keep what is shown until the first successful load.
		return
	}
	v.Displayed = v.Confirmed
	if next, err := ApplyPatch(v.Confirmed, pending); err == nil {
		v.Displayed = next
	}
}
