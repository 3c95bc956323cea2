package main

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// EventType is the declared type of an inbound message
type EventType string

const (
	EventDeviceStatus    EventType = "device_status"
	EventObjectDetection EventType = "object_detection"
	EventUnknown         EventType = "unknown"
)

// ErrMalformedMessage marks a message that could not be decoded
var ErrMalformedMessage = errors.New("malformed message")

// ProtocolError describes a single dropped message
type ProtocolError struct {
	Event  string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "malformed message"
	if e.Event != "" {
		msg += " (" + e.Event + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedMessage}
	}
	return []error{ErrMalformedMessage, e.Err}
}

// envelope is the wire shape of every message
type envelope struct {
	Event *string         `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type deviceStatusPayload struct {
	Status *string `json:"status"`
}

type objectDetectionPayload struct {
	Data *Detection `json:"data"`
}

// Source identifies the connection a message arrived on
type Source struct {
	DeviceID     string
	ConnectionID string
}

// Dispatcher parses inbound messages and applies them to DashboardState
type Dispatcher struct {
	state     *DashboardState
	locations *LocationState
	logger    *slog.Logger
	paused    atomic.Bool
	now       func() time.Time

	// onStatusChange is called when the device status changes value
	onStatusChange func(status string)
}

// DispatcherOption customizes a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithLocations tags each detection with the current GPS fix
func WithLocations(ls *LocationState) DispatcherOption {
	return func(d *Dispatcher) {
		d.locations = ls
	}
}

// WithStatusHook registers fn for device status changes
func WithStatusHook(fn func(status string)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onStatusChange = fn
	}
}

func NewDispatcher(state *DashboardState, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := &Dispatcher{
		state:  state,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// TogglePause flips the pause flag and returns the new value.
// While paused detections are discarded; device status still updates.
func (d *Dispatcher) TogglePause() bool {
	for {
		old := d.paused.Load()
		if d.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (d *Dispatcher) Paused() bool {
	return d.paused.Load()
}

// Handle is the MessageHandler wired into the connection scope.
// A malformed message is counted, logged and dropped.
func (d *Dispatcher) Handle(c *Connection, payload []byte) {
	src := Source{DeviceID: c.DeviceID(), ConnectionID: c.ID()}
	if _, err := d.Dispatch(payload, src); err != nil {
		d.state.MarkDropped()
		d.logger.Warn("dropping message", "error", err, "device", src.DeviceID, "conn_id", src.ConnectionID)
	}
}

// Dispatch decodes one raw message and routes it by event type
func (d *Dispatcher) Dispatch(raw []byte, src Source) (EventType, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return EventUnknown, &ProtocolError{Reason: "invalid json", Err: err}
	}
	if env.Event == nil {
		return EventUnknown, &ProtocolError{Reason: "missing event field"}
	}

	switch EventType(*env.Event) {
	case EventDeviceStatus:
		return EventDeviceStatus, d.handleDeviceStatus(env.Data)
	case EventObjectDetection:
		return EventObjectDetection, d.handleObjectDetection(env.Data, src)
	default:
		d.logger.Debug("ignoring event", "event", *env.Event)
		return EventUnknown, nil
	}
}

func (d *Dispatcher) handleDeviceStatus(data json.RawMessage) error {
	var payload deviceStatusPayload
	if err := decodePayload(data, &payload); err != nil {
		return &ProtocolError{Event: string(EventDeviceStatus), Reason: "invalid data", Err: err}
	}
	if payload.Status == nil {
		return &ProtocolError{Event: string(EventDeviceStatus), Reason: "missing data.status"}
	}

	if d.state.SetDeviceStatus(*payload.Status) {
		d.logger.Info("device status changed", "status", *payload.Status)
		if d.onStatusChange != nil {
			d.onStatusChange(*payload.Status)
		}
	}
	return nil
}

func (d *Dispatcher) handleObjectDetection(data json.RawMessage, src Source) error {
	var payload objectDetectionPayload
	if err := decodePayload(data, &payload); err != nil {
		return &ProtocolError{Event: string(EventObjectDetection), Reason: "invalid data", Err: err}
	}
	if payload.Data == nil {
		return &ProtocolError{Event: string(EventObjectDetection), Reason: "missing data.data"}
	}
	if d.paused.Load() {
		return nil
	}

	det := *payload.Data
	if det.Detections == nil {
		det.Detections = []DetectedObject{}
	}
	rec := d.state.AppendDetection(DetectionRecord{
		Detection:    det,
		ReceivedAt:   d.now().UTC(),
		DeviceID:     src.DeviceID,
		ConnectionID: src.ConnectionID,
		Location:     d.locations.GetCurrent(),
	})
	d.logger.Debug("detection received", "seq", rec.Seq, "objects", len(det.Detections), "time_taken", det.TimeTaken)
	return nil
}

func decodePayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
