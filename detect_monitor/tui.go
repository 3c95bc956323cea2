package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/samber/lo"
)

// Placeholder used by the detection list for empty texts or objects
const noneFound = "Non Found"

// Dashboard ties the shared state to a tcell screen. All of its methods
// run on the UI goroutine.
type Dashboard struct {
	screen      tcell.Screen
	state       *DashboardState
	scope       *ConnectionScope
	dispatcher  *Dispatcher
	locState    *LocationState
	logger      *slog.Logger
	view        *ViewState
	exportModal *ExportModalState
	deviceModal *DeviceModalState

	exportDir string
	now       func() time.Time

	// result of the last user action, shown in the status bar for a while
	notice   string
	noticeAt time.Time
}

// How long a notice stays in the status bar
const noticeTTL = 5 * time.Second

func NewDashboard(s tcell.Screen, state *DashboardState, scope *ConnectionScope, dispatcher *Dispatcher, locState *LocationState, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dashboard{
		screen:      s,
		state:       state,
		scope:       scope,
		dispatcher:  dispatcher,
		locState:    locState,
		logger:      logger,
		view:        NewViewState(),
		exportModal: &ExportModalState{},
		deviceModal: &DeviceModalState{},
		exportDir:   ".",
		now:         time.Now,
	}
}

func (d *Dashboard) setNotice(msg string) {
	d.notice = msg
	d.noticeAt = d.now()
}

// connectionStatus is what the status bar and the modal need to know
// about the current connection
type connectionStatus struct {
	state    ConnState
	attempts int
	since    time.Duration
	target   string
	deviceID string
}

func describeConnection(c *Connection, now time.Time) connectionStatus {
	if c == nil {
		return connectionStatus{state: StateDisposed}
	}
	st := connectionStatus{
		state:    c.State(),
		attempts: c.Attempts(),
		target:   c.Target(),
		deviceID: c.DeviceID(),
	}
	if t := c.LastErrorTime(); !t.IsZero() {
		st.since = now.Sub(t).Round(time.Second)
	}
	return st
}

func (st connectionStatus) Connected() bool {
	return st.state == StateOpen
}

// Label is the connection part of the status bar
func (st connectionStatus) Label() string {
	switch {
	case st.state == StateOpen:
		return "✓ CONNECTED"
	case st.state == StateFailed:
		return "✗ GAVE UP (r: retry)"
	case st.state == StateDisposed:
		return "✗ CLOSED"
	case st.attempts > 0:
		return fmt.Sprintf("✗ DISCONNECTED (attempt %d, %v ago)", st.attempts, st.since)
	default:
		return "○ CONNECTING..."
	}
}

// showModal reports whether the disconnection overlay is due. The first
// connect attempt is not treated as a disconnection.
func (st connectionStatus) showModal() bool {
	return !st.Connected() && st.attempts > 0
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

// Draw renders the whole dashboard
func (d *Dashboard) Draw() {
	s := d.screen
	s.Clear()
	width, height := s.Size()

	snap := d.state.Snapshot()
	conn := describeConnection(d.scope.Current(), d.now())

	headerStyle := tcell.StyleDefault.Bold(true).Background(tcell.ColorNavy).Foreground(tcell.ColorWhite)
	header := fmt.Sprintf(" Client Connection: %s - Device Status: %s - Device: %s",
		onOff(conn.Connected()), snap.DeviceStatus, d.scope.DeviceID())
	drawText(s, 0, 0, width, headerStyle, header)

	d.drawModeBar(1, width)

	listTop, listBottom := 2, height-1
	switch d.view.Mode() {
	case ModeDetections:
		d.drawDetections(snap, listTop, listBottom, width)
	default:
		drawPlaceholder(s, listTop, listBottom, width, d.view.Mode())
	}

	d.drawStatusBar(height-1, width, snap, conn)

	if conn.showModal() {
		drawDisconnectionModal(s, conn)
	}
	if d.locState.ShouldShowGPSFailureModal() {
		drawGPSFailureModal(s)
	}
	if d.locState.ShouldShowGPSReconnectModal() {
		drawGPSReconnectionModal(s, d.locState)
	}
	if d.deviceModal.IsShowing() {
		drawDeviceModal(s, d.deviceModal)
	}
	if d.exportModal.IsShowing() {
		drawExportModal(s, d.exportModal)
	}

	s.Show()
}

func (d *Dashboard) drawModeBar(row, width int) {
	barStyle := tcell.StyleDefault.Background(tcell.ColorDarkSlateGray).Foreground(tcell.ColorWhite)
	activeStyle := tcell.StyleDefault.Bold(true).Background(tcell.ColorDarkGreen).Foreground(tcell.ColorWhite)
	drawText(d.screen, 0, row, width, barStyle, "")

	col := 0
	for i, m := range modes {
		label := fmt.Sprintf(" %d %s ", i+1, m)
		style := barStyle
		if m == d.view.Mode() {
			style = activeStyle
		}
		n := len([]rune(label))
		if col+n > width {
			break
		}
		drawText(d.screen, col, row, n, style, label)
		col += n + 1
	}
}

// detectionLines formats one record the way the list shows it
func detectionLines(rec DetectionRecord) [3]string {
	texts := rec.Texts
	if texts == "" {
		texts = noneFound
	}
	objects := noneFound
	if len(rec.Detections) > 0 {
		labels := lo.Map(rec.Detections, func(o DetectedObject, _ int) string { return o.Object })
		objects = strings.Join(labels, ", ")
	}

	first := fmt.Sprintf("Detection No : %d - Took: %.2f secs", rec.Seq, rec.TimeTaken)
	if rec.Location != nil {
		first += fmt.Sprintf("  @ %.5f, %.5f", rec.Location.Latitude, rec.Location.Longitude)
	}
	return [3]string{
		first,
		"Texts: " + texts,
		"Objects: " + objects,
	}
}

func (d *Dashboard) drawDetections(snap Snapshot, top, bottom, width int) {
	s := d.screen
	titleStyle := tcell.StyleDefault.Bold(true).Foreground(tcell.ColorWhite)
	drawText(s, 0, top, width, titleStyle, " Reading Real-time Detections")
	top++

	visible := max((bottom-top)/detectionRows, 1)
	d.view.Sync(len(snap.Detections), visible)

	if len(snap.Detections) == 0 {
		waitStyle := tcell.StyleDefault.Foreground(tcell.ColorGray)
		drawText(s, 1, top, width-1, waitStyle, "Waiting for detections...")
		return
	}

	seqStyle := tcell.StyleDefault.Bold(true).Foreground(tcell.ColorYellow)
	normalStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	row := top
	offset := d.view.ScrollOffset()
	for i := offset; i < len(snap.Detections) && row+detectionRows-1 <= bottom; i++ {
		lines := detectionLines(snap.Detections[i])
		drawText(s, 1, row, width-1, seqStyle, lines[0])
		drawText(s, 3, row+1, width-3, normalStyle, lines[1])
		drawText(s, 3, row+2, width-3, normalStyle, lines[2])
		row += detectionRows
	}

	indicatorStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow)
	if offset > 0 {
		drawText(s, width-10, top, 10, indicatorStyle, "▲ MORE ▲")
	}
	if offset+visible < len(snap.Detections) {
		drawText(s, width-10, bottom-1, 10, indicatorStyle, "▼ MORE ▼")
	}
}

func drawPlaceholder(s tcell.Screen, top, bottom, width int, m Mode) {
	titleStyle := tcell.StyleDefault.Bold(true).Foreground(tcell.ColorWhite)
	drawText(s, 0, top, width, titleStyle, " "+m.String())
	textStyle := tcell.StyleDefault.Foreground(tcell.ColorGray)
	drawCenteredText(s, 0, top+(bottom-top)/2, width, textStyle, "Not implemented")
}

func (d *Dashboard) drawStatusBar(row, width int, snap Snapshot, conn connectionStatus) {
	statusStyle := tcell.StyleDefault.Background(tcell.ColorDarkSlateGray).Foreground(tcell.ColorWhite)
	parts := []string{"q: Quit | d: Device | r: Reconnect | e: Export | c: Clear | p: Pause | Tab/1-3: Mode | ↑↓/jk/End"}
	if d.dispatcher.Paused() {
		parts = append(parts, "[PAUSED]")
	}
	parts = append(parts, conn.Label())
	if snap.Dropped > 0 {
		parts = append(parts, fmt.Sprintf("Dropped: %d", snap.Dropped))
	}
	if !d.view.Following() && d.view.Mode() == ModeDetections {
		parts = append(parts, "[SCROLL LOCK]")
	}
	if gps := gpsStatusText(d.locState); gps != "" {
		parts = append(parts, gps)
	}
	if d.notice != "" && d.now().Sub(d.noticeAt) < noticeTTL {
		parts = append(parts, d.notice)
	}
	drawText(d.screen, 0, row, width, statusStyle, strings.Join(parts, " | "))
}

func gpsStatusText(locState *LocationState) string {
	status, fixQuality, satellites, satellitesInView, _ := locState.GetStatus()
	switch status {
	case gpsStatusDetecting:
		return "GPS: Detecting..."
	case gpsStatusFailed:
		return "GPS: FAILED"
	case gpsStatusNoFix:
		return fmt.Sprintf("GPS: No Fix (%d / %d)", satellitesInView, satellites)
	case gpsStatusFix:
		if loc := locState.GetCurrent(); loc != nil {
			return fmt.Sprintf("GPS: Fix (%.4f, %.4f) Q:%d %d / %d",
				loc.Latitude, loc.Longitude, fixQuality, satellitesInView, satellites)
		}
		return fmt.Sprintf("GPS: Fix Q:%d %d / %d", fixQuality, satellitesInView, satellites)
	}
	return ""
}

// drawText draws text at a specific position
func drawText(s tcell.Screen, x, y, width int, style tcell.Style, text string) {
	runes := []rune(text)
	col := 0
	for i := 0; i < len(runes) && col < width; i++ {
		s.SetContent(x+col, y, runes[i], nil, style)
		col++
	}
	// Fill remaining space with blanks
	for col < width {
		s.SetContent(x+col, y, ' ', nil, style)
		col++
	}
}

// drawCenteredText draws text centered within a given width
func drawCenteredText(s tcell.Screen, x, y, width int, style tcell.Style, text string) {
	runes := []rune(text)
	textX := x + (width-len(runes))/2
	for i, ch := range runes {
		if textX+i >= x && textX+i < x+width {
			s.SetContent(textX+i, y, ch, nil, style)
		}
	}
}

// drawModalFrame fills a centered box with a double-line border and a title
// and returns its top-left corner
func drawModalFrame(s tcell.Screen, modalWidth, modalHeight int, borderStyle, bgStyle tcell.Style, title string) (int, int) {
	width, height := s.Size()
	modalX := (width - modalWidth) / 2
	modalY := (height - modalHeight) / 2

	for y := modalY; y < modalY+modalHeight; y++ {
		for x := modalX; x < modalX+modalWidth; x++ {
			s.SetContent(x, y, ' ', nil, bgStyle)
		}
	}

	for x := modalX; x < modalX+modalWidth; x++ {
		s.SetContent(x, modalY, '═', nil, borderStyle)
		s.SetContent(x, modalY+modalHeight-1, '═', nil, borderStyle)
	}
	for y := modalY; y < modalY+modalHeight; y++ {
		s.SetContent(modalX, y, '║', nil, borderStyle)
		s.SetContent(modalX+modalWidth-1, y, '║', nil, borderStyle)
	}
	s.SetContent(modalX, modalY, '╔', nil, borderStyle)
	s.SetContent(modalX+modalWidth-1, modalY, '╗', nil, borderStyle)
	s.SetContent(modalX, modalY+modalHeight-1, '╚', nil, borderStyle)
	s.SetContent(modalX+modalWidth-1, modalY+modalHeight-1, '╝', nil, borderStyle)

	drawCenteredText(s, modalX, modalY+1, modalWidth, borderStyle, title)
	return modalX, modalY
}

// drawDisconnectionModal dims the screen and shows the reconnect progress
func drawDisconnectionModal(s tcell.Screen, conn connectionStatus) {
	width, height := s.Size()
	modalWidth := min(60, width)
	modalHeight := 9
	modalX := (width - modalWidth) / 2
	modalY := (height - modalHeight) / 2

	dimStyle := tcell.StyleDefault.Foreground(tcell.ColorGray).Background(tcell.ColorBlack)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if y >= modalY && y < modalY+modalHeight && x >= modalX && x < modalX+modalWidth {
				continue
			}
			mainc, combc, _, _ := s.GetContent(x, y)
			s.SetContent(x, y, mainc, combc, dimStyle)
		}
	}

	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorRed).Background(tcell.ColorBlack).Bold(true)
	textStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorDarkRed)
	buttonStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorWhite).Bold(true)
	x, y := drawModalFrame(s, modalWidth, modalHeight, borderStyle, textStyle, " CONNECTION LOST ")

	line1 := fmt.Sprintf("Device %q is unreachable", conn.deviceID)
	line2 := fmt.Sprintf("Reconnection attempt: %d", conn.attempts)
	line3 := fmt.Sprintf("Time since last failure: %v", conn.since)
	if conn.state == StateFailed {
		line2 = fmt.Sprintf("Gave up after %d attempts", conn.attempts)
	}
	drawCenteredText(s, x, y+3, modalWidth, textStyle, line1)
	drawCenteredText(s, x, y+4, modalWidth, textStyle, conn.target)
	drawCenteredText(s, x, y+5, modalWidth, textStyle, line2)
	drawCenteredText(s, x, y+6, modalWidth, textStyle, line3)
	drawCenteredText(s, x, y+modalHeight-2, modalWidth, buttonStyle, " [R] Retry  [D] Device  [Q] Quit ")
}

// drawGPSFailureModal draws a yellow-background modal when GPS auto-detection fails
func drawGPSFailureModal(s tcell.Screen) {
	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorYellow).Bold(true)
	textStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorYellow)
	x, y := drawModalFrame(s, 60, 7, borderStyle, textStyle, " GPS AUTO-DETECTION FAILED ")

	drawCenteredText(s, x, y+3, 60, textStyle, "Could not detect GPS device baud rate.")
	drawCenteredText(s, x, y+4, 60, textStyle, "Detections will not carry a location.")
	drawCenteredText(s, x, y+5, 60, textStyle, "Press any key to dismiss.")
}

// drawGPSReconnectionModal draws an orange-background modal when GPS is reconnecting
func drawGPSReconnectionModal(s tcell.Screen, locState *LocationState) {
	attempts, elapsed := locState.GetGPSReconnectInfo()
	elapsed = elapsed.Round(time.Second)

	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorOrange).Bold(true)
	textStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorOrange)
	x, y := drawModalFrame(s, 60, 8, borderStyle, textStyle, " GPS CONNECTION LOST ")

	drawCenteredText(s, x, y+3, 60, textStyle, "GPS connection interrupted!")
	drawCenteredText(s, x, y+4, 60, textStyle, fmt.Sprintf("Reconnection attempt: %d", attempts))
	drawCenteredText(s, x, y+5, 60, textStyle, fmt.Sprintf("Time since disconnect: %v", elapsed))
	drawCenteredText(s, x, y+6, 60, textStyle, "Press any key to dismiss.")
}

func drawDeviceModal(s tcell.Screen, m *DeviceModalState) {
	const modalWidth, modalHeight = 60, 8
	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorNavy).Bold(true)
	bgStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	inputStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorWhite)
	errStyle := tcell.StyleDefault.Foreground(tcell.ColorYellow).Background(tcell.ColorNavy).Bold(true)
	x, y := drawModalFrame(s, modalWidth, modalHeight, borderStyle, bgStyle, " SWITCH DEVICE ")

	drawText(s, x+3, y+3, modalWidth-6, bgStyle, "Device id:")
	fieldWidth := modalWidth - 6
	value := []rune(m.Value())
	if len(value) >= fieldWidth {
		value = value[len(value)-fieldWidth+1:]
	}
	drawText(s, x+3, y+4, fieldWidth, inputStyle, string(value)+"_")
	if msg := m.ErrorMessage(); msg != "" {
		drawCenteredText(s, x, y+5, modalWidth, errStyle, msg)
	}
	drawCenteredText(s, x, y+6, modalWidth, bgStyle, "Enter: Connect | Esc: Cancel")
}

func drawExportModal(s tcell.Screen, m *ExportModalState) {
	const modalWidth = 50
	modalHeight := 6 + len(exportOptions)
	borderStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorDarkGreen).Bold(true)
	bgStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorDarkGreen)
	selectedStyle := tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(tcell.ColorWhite).Bold(true)
	x, y := drawModalFrame(s, modalWidth, modalHeight, borderStyle, bgStyle, " EXPORT DETECTIONS ")

	for i, opt := range exportOptions {
		style := bgStyle
		prefix := "  "
		if i == m.GetSelected() {
			style = selectedStyle
			prefix = "▶ "
		}
		drawText(s, x+3, y+3+i, modalWidth-6, style, prefix+opt)
	}
	drawCenteredText(s, x, y+modalHeight-2, modalWidth, bgStyle, "j: JSON | k: KML | Enter | Esc")
}
