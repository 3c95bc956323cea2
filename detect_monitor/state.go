package main

import (
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Default number of detection records kept in memory
const defaultHistoryCapacity = 1000

// DetectedObject is a single labeled object inside a detection
type DetectedObject struct {
	Object     string    `json:"object"`
	Confidence float64   `json:"confidence,omitempty"`
	Box        []float64 `json:"box,omitempty"` // [x1, y1, x2, y2]
}

// Detection is one unit of inference output received from the device
type Detection struct {
	Texts      string           `json:"texts"`
	Detections []DetectedObject `json:"detections"`
	TimeTaken  float64          `json:"time_taken"`
}

// DetectionRecord is a Detection as stored in the log
type DetectionRecord struct {
	Seq int `json:"seq"`
	Detection
	ReceivedAt   time.Time    `json:"received_at"`
	DeviceID     string       `json:"device_id"`
	ConnectionID string       `json:"connection_id"`
	Location     *GeoLocation `json:"location,omitempty"`
}

// Snapshot is a consistent copy of the dashboard state for one frame
type Snapshot struct {
	DeviceStatus string
	Detections   []DetectionRecord
	Received     int
	Evicted      int
	Dropped      int
	Version      uint64
}

// DashboardState holds the device status and the bounded detection log.
// Status is last-write-wins; the log is append-only until Clear.
type DashboardState struct {
	mu           sync.RWMutex
	deviceStatus string
	detections   *RingBuffer[DetectionRecord]
	received     int
	evicted      int
	dropped      int
	version      uint64
}

func NewDashboardState(capacity int) *DashboardState {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &DashboardState{
		deviceStatus: "Off",
		detections:   NewRingBuffer[DetectionRecord](capacity),
	}
}

// SetDeviceStatus overwrites the device status and reports whether it changed
func (ds *DashboardState) SetDeviceStatus(status string) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.deviceStatus == status {
		return false
	}
	ds.deviceStatus = status
	ds.version++
	return true
}

func (ds *DashboardState) DeviceStatus() string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.deviceStatus
}

// AppendDetection assigns the next sequence number and appends the record
func (ds *DashboardState) AppendDetection(rec DetectionRecord) DetectionRecord {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.received++
	rec.Seq = ds.received
	if ds.detections.Push(rec) {
		ds.evicted++
	}
	ds.version++
	return rec
}

// Detections returns the retained records, oldest first
func (ds *DashboardState) Detections() []DetectionRecord {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.detections.GetAll()
}

func (ds *DashboardState) Len() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.detections.Size()
}

// MarkDropped counts a message that could not be dispatched
func (ds *DashboardState) MarkDropped() {
	ds.mu.Lock()
	ds.dropped++
	ds.version++
	ds.mu.Unlock()
}

func (ds *DashboardState) Snapshot() Snapshot {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return Snapshot{
		DeviceStatus: ds.deviceStatus,
		Detections:   ds.detections.GetAll(),
		Received:     ds.received,
		Evicted:      ds.evicted,
		Dropped:      ds.dropped,
		Version:      ds.version,
	}
}

// Clear drops the detection log and restarts numbering.
// Device status is kept since it reflects the device, not the session.
func (ds *DashboardState) Clear() {
	ds.mu.Lock()
	ds.detections.Clear()
	ds.received = 0
	ds.evicted = 0
	ds.version++
	ds.mu.Unlock()
}

func (ds *DashboardState) ExportJSON(filename string) error {
	records := ds.Detections()

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
