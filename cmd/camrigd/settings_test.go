package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatch_WeaklyTypedJSONValues(t *testing.T) {
	var p SettingsPatch
	require.NoError(t, json.Unmarshal([]byte(`{"exposure_time_us": 8000, "ev": -0.5, "exposure_mode": "manual"}`), &p))

	got, err := ApplyPatch(DefaultCameraSettings(), p)
	require.NoError(t, err)
	assert.Equal(t, 8000, got.ExposureTimeUS)
	assert.Equal(t, -0.5, got.EV)
	assert.Equal(t, "manual", got.ExposureMode)

	// Untouched fields keep their values.
	assert.Equal(t, DefaultCameraSettings().Saturation, got.Saturation)
}

func TestApplyPatch_UnknownKeysIgnored(t *testing.T) {
	got, err := ApplyPatch(DefaultCameraSettings(), SettingsPatch{"hdr": true, "zoom": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Zoom)
}

func TestApplyPatch_InvalidValue(t *testing.T) {
	base := DefaultCameraSettings()
	got, err := ApplyPatch(base, SettingsPatch{"awb_enable": "sometimes"})
	require.Error(t, err)
	assert.Equal(t, base, got, "failed patch leaves settings unchanged")
}

func TestApplyPatch_WBPresetLowLight(t *testing.T) {
	base := DefaultCameraSettings()
	base.AWBEnable = false

	got, err := ApplyPatch(base, SettingsPatch{wbPresetKey: "low_light"})
	require.NoError(t, err)
	assert.Equal(t, "low_light", got.AWBMode)
	assert.True(t, got.LowLight)
	assert.True(t, got.AWBEnable)
}

func TestApplyPatch_WBPresetOther(t *testing.T) {
	base := DefaultCameraSettings()
	base.LowLight = true

	got, err := ApplyPatch(base, SettingsPatch{wbPresetKey: "Daylight"})
	require.NoError(t, err)
	assert.Equal(t, "daylight", got.AWBMode)
	assert.False(t, got.LowLight)
}

func TestSettingsPatch_ExpandKeepsOriginal(t *testing.T) {
	p := SettingsPatch{wbPresetKey: "cloudy", "ev": 1.0}
	out := p.expandForDisplay()

	assert.Equal(t, SettingsPatch{"awb_mode": "cloudy", "low_light": false, "ev": 1.0}, out)
	assert.Contains(t, p, wbPresetKey, "the patch sent to the rig keeps wb_preset")
}

func TestSettingsPatch_MergeLastWriteWins(t *testing.T) {
	p := SettingsPatch{"ev": 1.0, "zoom": 2.0}
	p.Merge(SettingsPatch{"ev": -1.0})
	assert.Equal(t, SettingsPatch{"ev": -1.0, "zoom": 2.0}, p)
	assert.Equal(t, []string{"ev", "zoom"}, p.Keys())
}

func TestSettingsView_ConfirmReappliesPending(t *testing.T) {
	var v SettingsView
	server := DefaultCameraSettings()

	v.Confirm(server, SettingsPatch{"brightness": 0.3})
	assert.True(t, v.Known)
	assert.Equal(t, server, v.Confirmed)
	assert.Equal(t, 0.3, v.Displayed.Brightness)
}

func TestSettingsView_RollbackRestoresConfirmed(t *testing.T) {
	var v SettingsView
	v.Confirm(DefaultCameraSettings(), nil)

	require.NoError(t, v.ApplyOptimistic(SettingsPatch{"contrast": 1.8, "zoom": 3.0}))
	assert.Equal(t, 1.8, v.Displayed.Contrast)

	// zoom is still queued for a later flush; contrast failed.
	v.Rollback(SettingsPatch{"zoom": 3.0})
	assert.Equal(t, DefaultCameraSettings().Contrast, v.Displayed.Contrast)
	assert.Equal(t, 3.0, v.Displayed.Zoom)
}

func TestSettingsView_RollbackBeforeFirstLoad(t *testing.T) {
	var v SettingsView
	require.NoError(t, v.ApplyOptimistic(SettingsPatch{"ev": 1.0}))

	v.Rollback(nil)
	assert.False(t, v.Known)
	assert.Equal(t, 1.0, v.Displayed.EV)
}
