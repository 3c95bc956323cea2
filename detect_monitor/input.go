package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gdamore/tcell/v2"
)

// HandleEvent processes one tcell event, redraws, and reports whether
// the user asked to quit
func (d *Dashboard) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if d.handleKey(ev.Key(), ev.Rune()) {
			return true
		}
	case *tcell.EventMouse:
		d.handleMouse(ev.Buttons())
	case *tcell.EventResize:
		d.screen.Sync()
	default:
		return false
	}
	d.Draw()
	return false
}

// handleKey processes keyboard input. Modals take priority over the
// dashboard keys.
func (d *Dashboard) handleKey(key tcell.Key, r rune) bool {
	if d.exportModal.IsShowing() {
		d.handleExportModalKey(key, r)
		return false
	}
	if d.deviceModal.IsShowing() {
		d.handleDeviceModalKey(key, r)
		return false
	}

	// If a GPS modal is showing, any key dismisses it
	if d.locState.ShouldShowGPSFailureModal() {
		d.locState.DismissGPSFailure()
		return false
	}
	if d.locState.ShouldShowGPSReconnectModal() {
		d.locState.DismissGPSReconnect()
		return false
	}

	switch key {
	case tcell.KeyCtrlC:
		return true
	case tcell.KeyTab:
		d.view.SetMode(d.view.Mode().Next())
	case tcell.KeyBacktab:
		d.view.SetMode(d.view.Mode().Prev())
	case tcell.KeyUp:
		d.view.ScrollUp(1)
	case tcell.KeyDown:
		d.view.ScrollDown(1)
	case tcell.KeyPgUp:
		d.view.ScrollUp(d.view.PageSize())
	case tcell.KeyPgDn:
		d.view.ScrollDown(d.view.PageSize())
	case tcell.KeyHome:
		d.view.Home()
	case tcell.KeyEnd:
		d.view.End()
	case tcell.KeyRune:
		switch r {
		case 'q', 'Q':
			return true
		case 'e', 'E':
			d.exportModal.Show()
		case 'd', 'D':
			d.deviceModal.Show(d.scope.DeviceID())
		case 'c', 'C':
			d.handleClear()
		case 'p', 'P':
			d.handlePause()
		case 'r', 'R':
			d.handleReconnect()
		case 'j': // vim-style
			d.view.ScrollDown(1)
		case 'k':
			d.view.ScrollUp(1)
		case 'g':
			d.view.Home()
		case 'G':
			d.view.End()
		case '1', '2', '3':
			d.view.SetMode(Mode(r - '1'))
		}
	}
	return false
}

func (d *Dashboard) handleExportModalKey(key tcell.Key, r rune) {
	switch key {
	case tcell.KeyEsc:
		d.exportModal.Hide()
	case tcell.KeyUp:
		d.exportModal.SelectPrev()
	case tcell.KeyDown, tcell.KeyTab:
		d.exportModal.SelectNext()
	case tcell.KeyEnter:
		selected := d.exportModal.GetSelected()
		d.exportModal.Hide()
		if selected == 0 {
			d.handleExport()
		} else {
			d.handleExportKML()
		}
	case tcell.KeyRune:
		switch r {
		case 'j', 'J':
			d.exportModal.Hide()
			d.handleExport()
		case 'k', 'K':
			d.exportModal.Hide()
			d.handleExportKML()
		}
	}
}

func (d *Dashboard) handleDeviceModalKey(key tcell.Key, r rune) {
	switch key {
	case tcell.KeyEsc:
		d.deviceModal.Hide()
	case tcell.KeyEnter:
		d.applyDeviceID(strings.TrimSpace(d.deviceModal.Value()))
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		d.deviceModal.Backspace()
	case tcell.KeyCtrlU:
		d.deviceModal.ClearInput()
	case tcell.KeyRune:
		d.deviceModal.Insert(r)
	}
}

// applyDeviceID switches the scope to id. On error the modal stays open.
func (d *Dashboard) applyDeviceID(id string) {
	if err := d.scope.SetDeviceID(id); err != nil {
		d.logger.Warn("device switch rejected", "device", id, "error", err)
		d.deviceModal.SetError(err.Error())
		return
	}
	d.deviceModal.Hide()
	d.setNotice("Device: " + id)
}

// handleExport exports detections to a timestamped JSON file
func (d *Dashboard) handleExport() {
	filename := d.exportFilename(".json")
	if err := d.state.ExportJSON(filename); err != nil {
		d.logger.Error("json export failed", "file", filename, "error", err)
		d.setNotice("Export failed: " + err.Error())
		return
	}
	d.logger.Info("exported detections", "file", filename, "format", "json")
	d.setNotice("Exported " + filepath.Base(filename))
}

// handleExportKML exports located detections to a timestamped KML file
func (d *Dashboard) handleExportKML() {
	filename := d.exportFilename(".kml")
	err := ExportKML(filename, d.state.Detections())
	switch {
	case errors.Is(err, ErrNoLocatedDetections):
		d.setNotice("Nothing to export: " + err.Error())
	case err != nil:
		d.logger.Error("kml export failed", "file", filename, "error", err)
		d.setNotice("Export failed: " + err.Error())
	default:
		d.logger.Info("exported detections", "file", filename, "format", "kml")
		d.setNotice("Exported " + filepath.Base(filename))
	}
}

func (d *Dashboard) exportFilename(ext string) string {
	timestamp := d.now().Format("2006-01-02_15-04-05")
	prefix := filepath.Join(d.exportDir, fmt.Sprintf("detections_%s", timestamp))
	return findNonCollidingFilename(prefix, ext)
}

// handleClear empties the detection log and resumes following
func (d *Dashboard) handleClear() {
	d.state.Clear()
	d.view.Reset()
	d.logger.Info("detection log cleared")
}

func (d *Dashboard) handlePause() {
	paused := d.dispatcher.TogglePause()
	d.logger.Info("pause toggled", "paused", paused)
}

// handleReconnect drops the current connection and dials again right away
func (d *Dashboard) handleReconnect() {
	d.logger.Info("manual reconnect", "device", d.scope.DeviceID())
	if err := d.scope.Reconnect(); err != nil {
		d.setNotice("Reconnect failed: " + err.Error())
	}
}

// handleMouse scrolls the detection list with the wheel
func (d *Dashboard) handleMouse(buttons tcell.ButtonMask) {
	switch {
	case buttons&tcell.WheelUp != 0:
		d.view.ScrollUp(1)
	case buttons&tcell.WheelDown != 0:
		d.view.ScrollDown(1)
	}
}
