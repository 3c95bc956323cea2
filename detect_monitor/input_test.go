package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typeText(d *Dashboard, text string) {
	for _, r := range text {
		d.handleKey(tcell.KeyRune, r)
	}
}

func TestHandleKeyQuit(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)

	assert.True(t, d.handleKey(tcell.KeyRune, 'q'))
	assert.True(t, d.handleKey(tcell.KeyRune, 'Q'))
	assert.True(t, d.handleKey(tcell.KeyCtrlC, 0))
	assert.False(t, d.handleKey(tcell.KeyRune, 'x'))
}

func TestHandleKeyModes(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)

	d.handleKey(tcell.KeyRune, '3')
	assert.Equal(t, ModeRecordings, d.view.Mode())
	d.handleKey(tcell.KeyRune, '1')
	assert.Equal(t, ModeDetections, d.view.Mode())
	d.handleKey(tcell.KeyBacktab, 0)
	assert.Equal(t, ModeRecordings, d.view.Mode())
	d.handleKey(tcell.KeyTab, 0)
	assert.Equal(t, ModeDetections, d.view.Mode())
}

func TestHandleKeyPauseAndClear(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)
	appendDetection(d.state, "STOP", 0.42, "sign")
	appendDetection(d.state, "EXIT", 0.1)

	d.handleKey(tcell.KeyRune, 'p')
	assert.True(t, d.dispatcher.Paused())
	d.handleKey(tcell.KeyRune, 'p')
	assert.False(t, d.dispatcher.Paused())

	d.view.ScrollUp(1)
	d.handleKey(tcell.KeyRune, 'c')
	assert.Equal(t, 0, d.state.Len())
	assert.True(t, d.view.Following())

	// numbering restarts after a clear
	rec := d.state.AppendDetection(DetectionRecord{})
	assert.Equal(t, 1, rec.Seq)
}

func TestDeviceModalSwitchesDevice(t *testing.T) {
	d, _, dialer := newTestDashboard(t, 100, 24)
	require.NoError(t, d.scope.Start(context.Background()))
	first := dialer.nextConn(t)

	d.handleKey(tcell.KeyRune, 'd')
	require.True(t, d.deviceModal.IsShowing())
	assert.Equal(t, "glass-1", d.deviceModal.Value())

	// keys go to the editor while it is open
	d.handleKey(tcell.KeyCtrlU, 0)
	assert.False(t, d.handleKey(tcell.KeyRune, 'q'))
	d.handleKey(tcell.KeyBackspace2, 0)
	typeText(d, "glass 2")
	assert.Equal(t, "glass2", d.deviceModal.Value(), "spaces are rejected")
	d.handleKey(tcell.KeyBackspace, 0)
	typeText(d, "-2")
	d.handleKey(tcell.KeyEnter, 0)

	assert.False(t, d.deviceModal.IsShowing())
	assert.Equal(t, "glass-2", d.scope.DeviceID())
	assert.Equal(t, "Device: glass-2", d.notice)

	second := dialer.nextConn(t)
	assert.Equal(t, "glass-2", second.deviceID)
	assert.True(t, first.IsClosed())
}

func TestDeviceModalRejectsEmptyID(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)

	d.handleKey(tcell.KeyRune, 'd')
	d.handleKey(tcell.KeyCtrlU, 0)
	d.handleKey(tcell.KeyEnter, 0)

	assert.True(t, d.deviceModal.IsShowing())
	assert.Equal(t, ErrEmptyDeviceID.Error(), d.deviceModal.ErrorMessage())
	assert.Equal(t, "glass-1", d.scope.DeviceID())

	d.handleKey(tcell.KeyEsc, 0)
	assert.False(t, d.deviceModal.IsShowing())
	assert.Empty(t, d.deviceModal.ErrorMessage())
}

func TestHandleKeyReconnect(t *testing.T) {
	d, _, dialer := newTestDashboard(t, 100, 24)
	require.NoError(t, d.scope.Start(context.Background()))
	first := dialer.nextConn(t)

	d.handleKey(tcell.KeyRune, 'r')

	second := dialer.nextConn(t)
	assert.True(t, first.IsClosed())
	assert.Equal(t, "glass-1", second.deviceID)
	assert.Equal(t, []string{"glass-1", "glass-1"}, dialer.Dials())
}

func TestGPSModalSwallowsFirstKey(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)
	d.locState.SetStatus(gpsStatusFailed)
	require.True(t, d.locState.ShouldShowGPSFailureModal())

	assert.False(t, d.handleKey(tcell.KeyRune, 'q'))
	assert.False(t, d.locState.ShouldShowGPSFailureModal())
	assert.True(t, d.handleKey(tcell.KeyRune, 'q'))
}

func TestExportKeyWritesJSON(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)
	d.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	appendDetection(d.state, "STOP", 0.42, "sign")
	appendDetection(d.state, "", 0.1)

	d.handleKey(tcell.KeyRune, 'e')
	require.True(t, d.exportModal.IsShowing())
	d.handleKey(tcell.KeyRune, 'j')
	assert.False(t, d.exportModal.IsShowing())

	path := filepath.Join(d.exportDir, "detections_2024-03-01_12-30-00.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []DetectionRecord
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "STOP", records[0].Texts)
	assert.Equal(t, "sign", records[0].Detections[0].Object)
	assert.Equal(t, 2, records[1].Seq)
	assert.Equal(t, "Exported detections_2024-03-01_12-30-00.json", d.notice)

	// a second export in the same second does not overwrite the first
	d.handleKey(tcell.KeyRune, 'e')
	d.handleKey(tcell.KeyEnter, 0)
	assert.FileExists(t, filepath.Join(d.exportDir, "detections_2024-03-01_12-30-00-1.json"))
}

func TestExportKeyWritesKML(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)
	d.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }
	path := filepath.Join(d.exportDir, "detections_2024-03-01_12-30-00.kml")

	appendDetection(d.state, "STOP", 0.42, "sign")
	d.handleKey(tcell.KeyRune, 'e')
	d.handleKey(tcell.KeyDown, 0)
	d.handleKey(tcell.KeyEnter, 0)
	assert.NoFileExists(t, path)
	assert.Contains(t, d.notice, "Nothing to export")

	d.state.AppendDetection(DetectionRecord{
		Detection: Detection{Texts: "EXIT", Detections: []DetectedObject{{Object: "door"}}},
		Location:  &GeoLocation{Latitude: 48.1, Longitude: 11.5},
	})
	d.handleKey(tcell.KeyRune, 'e')
	d.handleKey(tcell.KeyRune, 'k')

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#2: door")
}

func TestHandleMouseWheel(t *testing.T) {
	d, _, _ := newTestDashboard(t, 100, 24)
	d.view.Sync(10, 2)
	require.Equal(t, 8, d.view.ScrollOffset())

	d.handleMouse(tcell.WheelUp)
	assert.Equal(t, 7, d.view.ScrollOffset())
	assert.False(t, d.view.Following())

	d.handleMouse(tcell.WheelDown)
	assert.Equal(t, 8, d.view.ScrollOffset())
	d.handleMouse(tcell.WheelDown)
	assert.Equal(t, 8, d.view.ScrollOffset())
}

func TestHandleEventRedraws(t *testing.T) {
	d, s, _ := newTestDashboard(t, 100, 24)
	appendDetection(d.state, "STOP", 0.42, "sign")

	quit := d.HandleEvent(tcell.NewEventKey(tcell.KeyRune, '2', tcell.ModNone))
	assert.False(t, quit)
	assert.Contains(t, screenText(s), "Not implemented")

	assert.True(t, d.HandleEvent(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)))
}
