package main

import "fmt"

// Mode selects what the main panel shows
type Mode int

const (
	ModeDetections Mode = iota
	ModeCapturing
	ModeRecordings
)

var modes = []Mode{ModeDetections, ModeCapturing, ModeRecordings}

func (m Mode) String() string {
	switch m {
	case ModeDetections:
		return "Real-time Detections"
	case ModeCapturing:
		return "Real-time Capturing"
	case ModeRecordings:
		return "Recordings"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) Next() Mode {
	return Mode((int(m) + 1) % len(modes))
}

func (m Mode) Prev() Mode {
	return Mode((int(m) + len(modes) - 1) % len(modes))
}

// Rows used by one detection in the list, including the blank separator
const detectionRows = 4

// ViewState tracks the active mode and the position of the detection list.
// It is owned by the UI goroutine.
type ViewState struct {
	mode         Mode
	scrollOffset int // index of the first visible record
	follow       bool
	visible      int // records that fit on screen at the last sync
	total        int
}

func NewViewState() *ViewState {
	return &ViewState{mode: ModeDetections, follow: true, visible: 1}
}

func (v *ViewState) Mode() Mode {
	return v.mode
}

// SetMode switches the panel; the scroll position is kept
func (v *ViewState) SetMode(m Mode) {
	for _, known := range modes {
		if m == known {
			v.mode = m
			return
		}
	}
}

func (v *ViewState) Following() bool {
	return v.follow
}

func (v *ViewState) ScrollOffset() int {
	return v.scrollOffset
}

// Sync adapts the scroll position to the current log length and the
// number of records that fit. In follow mode the newest record is kept
// in view.
func (v *ViewState) Sync(total, visible int) {
	v.total = total
	v.visible = max(visible, 1)
	if v.follow {
		v.scrollOffset = v.maxOffset()
		return
	}
	v.scrollOffset = min(max(v.scrollOffset, 0), v.maxOffset())
}

func (v *ViewState) maxOffset() int {
	return max(v.total-v.visible, 0)
}

func (v *ViewState) ScrollUp(n int) {
	v.follow = false
	v.scrollOffset = max(v.scrollOffset-n, 0)
}

func (v *ViewState) ScrollDown(n int) {
	v.scrollOffset = min(v.scrollOffset+n, v.maxOffset())
}

func (v *ViewState) Home() {
	v.follow = false
	v.scrollOffset = 0
}

// End jumps to the newest record and resumes following
func (v *ViewState) End() {
	v.follow = true
	v.scrollOffset = v.maxOffset()
}

func (v *ViewState) PageSize() int {
	return v.visible
}

// Reset is used after the log is cleared
func (v *ViewState) Reset() {
	v.scrollOffset = 0
	v.total = 0
	v.follow = true
}

// ExportModalState tracks the export format picker
type ExportModalState struct {
	showing        bool
	selectedOption int // 0 = JSON, 1 = KML
}

var exportOptions = []string{"JSON (all detections)", "KML (detections with a GPS fix)"}

func (m *ExportModalState) Show() {
	m.showing = true
	m.selectedOption = 0
}

func (m *ExportModalState) Hide() {
	m.showing = false
}

func (m *ExportModalState) IsShowing() bool {
	return m.showing
}

func (m *ExportModalState) SelectNext() {
	m.selectedOption = (m.selectedOption + 1) % len(exportOptions)
}

func (m *ExportModalState) SelectPrev() {
	m.selectedOption = (m.selectedOption + len(exportOptions) - 1) % len(exportOptions)
}

func (m *ExportModalState) GetSelected() int {
	return m.selectedOption
}

// Longest device id accepted by the device modal
const maxDeviceIDLength = 64

// DeviceModalState is the single-line editor used to switch devices
type DeviceModalState struct {
	showing bool
	input   []rune
	errMsg  string
}

// Show opens the editor prefilled with the current device id
func (m *DeviceModalState) Show(current string) {
	m.showing = true
	m.input = []rune(current)
	m.errMsg = ""
}

func (m *DeviceModalState) Hide() {
	m.showing = false
	m.errMsg = ""
}

func (m *DeviceModalState) IsShowing() bool {
	return m.showing
}

func (m *DeviceModalState) Insert(r rune) {
	if len(m.input) >= maxDeviceIDLength || r == ' ' {
		return
	}
	m.input = append(m.input, r)
	m.errMsg = ""
}

func (m *DeviceModalState) Backspace() {
	if len(m.input) > 0 {
		m.input = m.input[:len(m.input)-1]
	}
}

func (m *DeviceModalState) ClearInput() {
	m.input = m.input[:0]
}

func (m *DeviceModalState) Value() string {
	return string(m.input)
}

func (m *DeviceModalState) SetError(msg string) {
	m.errMsg = msg
}

func (m *DeviceModalState) ErrorMessage() string {
	return m.errMsg
}
