package main

import (
	"sync"
	"time"
)

// GPS status values shown in the status bar
const (
	gpsStatusNone      = "no_gps"
	gpsStatusDetecting = "detecting"
	gpsStatusFailed    = "failed"
	gpsStatusNoFix     = "no_fix"
	gpsStatusFix       = "fix"
)

// GeoLocation represents a geographic position with accuracy and timestamp
type GeoLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Elevation float64   `json:"elevation"`
	Accuracy  float64   `json:"accuracy"` // HDOP or similar quality metric
	Timestamp time.Time `json:"timestamp"`
}

// LocationState manages the current GPS/GNSS location in a thread-safe manner
type LocationState struct {
	mu                    sync.RWMutex
	current               *GeoLocation
	lastUpdate            time.Time
	fixQuality            int // 0 = no fix, 1 = GPS fix, 2 = DGPS fix, etc.
	satellites            int
	satellitesInView      int
	status                string
	gpsFailureDismissed   bool
	gpsConnected          bool
	gpsReconnecting       bool
	gpsReconnectDismissed bool
	gpsLastDisconnectTime time.Time
	gpsReconnectAttempts  int
}

// NewLocationState creates a new location state manager
func NewLocationState() *LocationState {
	return &LocationState{
		status: gpsStatusNone,
	}
}

// SetCurrent updates the current location
func (ls *LocationState) SetCurrent(loc *GeoLocation, fixQuality int, satellites int, satellitesInView int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.current = loc
	ls.lastUpdate = time.Now()
	ls.fixQuality = fixQuality
	ls.satellites = satellites
	ls.satellitesInView = satellitesInView

	if fixQuality > 0 {
		ls.status = gpsStatusFix
	} else {
		ls.status = gpsStatusNoFix
	}
}

// GetCurrent returns a copy of the current location, or nil without a fix.
// A nil receiver reports no location so callers can run without GPS.
func (ls *LocationState) GetCurrent() *GeoLocation {
	if ls == nil {
		return nil
	}
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	if ls.current == nil || ls.status != gpsStatusFix {
		return nil
	}
	loc := *ls.current
	return &loc
}

// GetStatus returns the current GPS status and details
func (ls *LocationState) GetStatus() (status string, fixQuality int, satellites int, satellitesInView int, lastUpdate time.Time) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.status, ls.fixQuality, ls.satellites, ls.satellitesInView, ls.lastUpdate
}

func (ls *LocationState) SetStatus(status string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.status = status
}

func (ls *LocationState) DismissGPSFailure() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.gpsFailureDismissed = true
}

func (ls *LocationState) ShouldShowGPSFailureModal() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.status == gpsStatusFailed && !ls.gpsFailureDismissed
}

// SetGPSConnected updates the GPS connection state
func (ls *LocationState) SetGPSConnected(connected bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	wasConnected := ls.gpsConnected
	ls.gpsConnected = connected

	if !connected && wasConnected {
		ls.gpsReconnecting = true
		ls.gpsLastDisconnectTime = time.Now()
		ls.gpsReconnectAttempts = 0
		ls.gpsReconnectDismissed = false
	} else if connected && !wasConnected {
		ls.gpsReconnecting = false
		ls.gpsReconnectAttempts = 0
	}
}

func (ls *LocationState) SetGPSReconnectAttempt() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.gpsReconnectAttempts++
}

func (ls *LocationState) DismissGPSReconnect() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.gpsReconnectDismissed = true
}

func (ls *LocationState) ShouldShowGPSReconnectModal() bool {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.gpsReconnecting && !ls.gpsReconnectDismissed
}

// GetGPSReconnectInfo returns reconnection details
func (ls *LocationState) GetGPSReconnectInfo() (attempts int, elapsed time.Duration) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return ls.gpsReconnectAttempts, time.Since(ls.gpsLastDisconnectTime)
}
