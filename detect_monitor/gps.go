package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/adrianmo/go-nmea"
	"go.bug.st/serial"
)

// GPS baud rates to try, in order of likelihood
var gpsBaudRates = []int{9600, 115200, 38400, 4800}

// autoBaudDetect attempts to detect the correct baud rate for the GPS device.
// Returns 0 if detection failed.
func autoBaudDetect(ctx context.Context, portPath string) int {
	const detectionWindow = 2 * time.Second
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		for _, baudRate := range gpsBaudRates {
			if ctx.Err() != nil {
				return 0
			}
			port, err := openGPSPort(portPath, baudRate)
			if err != nil {
				continue
			}
			// Bound each read so detection cannot hang on a silent port
			if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
				port.Close()
				continue
			}

			ok := detectValidNMEA(port, detectionWindow)
			port.Close()
			if ok {
				return baudRate
			}
		}
	}

	return 0
}

func openGPSPort(portPath string, baudRate int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portPath, mode)
}

// detectValidNMEA reports whether two valid NMEA sentences arrive within duration
func detectValidNMEA(port io.Reader, duration time.Duration) bool {
	scanner := bufio.NewScanner(port)
	deadline := time.Now().Add(duration)

	validCount := 0
	for time.Now().Before(deadline) {
		if !scanner.Scan() {
			break
		}
		if _, err := nmea.Parse(scanner.Text()); err == nil {
			validCount++
			if validCount >= 2 {
				return true
			}
		}
	}

	return false
}

// readGPS reads GPS/GNSS data from a serial port and updates location state.
// It reconnects with linear backoff until ctx is cancelled.
func readGPS(ctx context.Context, portPath string, locState *LocationState, logger *slog.Logger) {
	logger = logger.With("gps_port", portPath)
	locState.SetStatus(gpsStatusDetecting)

	baudRate := autoBaudDetect(ctx, portPath)
	if baudRate == 0 {
		logger.Warn("gps baud rate detection failed, continuing without location")
		locState.SetStatus(gpsStatusFailed)
		return
	}
	logger.Info("gps detected", "baud", baudRate)

	reconnectDelay := 1 * time.Second
	maxReconnectDelay := 5 * time.Second

	for ctx.Err() == nil {
		port, err := openGPSPort(portPath, baudRate)
		if err != nil {
			logger.Debug("gps open failed", "error", err)
			locState.SetGPSReconnectAttempt()
			locState.SetGPSConnected(false)
			locState.SetStatus(gpsStatusNoFix)

			if !sleepContext(ctx, reconnectDelay) {
				return
			}
			reconnectDelay += 1 * time.Second
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
			continue
		}

		locState.SetGPSConnected(true)
		locState.SetStatus(gpsStatusNoFix)
		reconnectDelay = 1 * time.Second

		stop := context.AfterFunc(ctx, func() { port.Close() })
		err = readGPSLoop(port, locState)
		stop()
		port.Close()

		if ctx.Err() != nil {
			return
		}
		logger.Warn("gps connection lost", "error", err)
		locState.SetGPSConnected(false)
		locState.SetStatus(gpsStatusNoFix)

		if !sleepContext(ctx, reconnectDelay) {
			return
		}
	}
}

// readGPSLoop parses sentences until the port fails
func readGPSLoop(port io.Reader, locState *LocationState) error {
	scanner := bufio.NewScanner(port)
	scanner.Buffer(make([]byte, 4096), 16384)

	gsvSatellitesInView := 0
	for scanner.Scan() {
		parseNMEASentence(scanner.Text(), locState, &gsvSatellitesInView)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// parseNMEASentence parses an NMEA sentence and updates location state
func parseNMEASentence(line string, locState *LocationState, gsvSatellitesInView *int) {
	s, err := nmea.Parse(line)
	if err != nil {
		return
	}

	switch m := s.(type) {
	case nmea.GGA:
		handleGGA(m, locState, *gsvSatellitesInView)
	case nmea.RMC:
		handleRMC(m, locState, *gsvSatellitesInView)
	case nmea.GSV:
		// NumberSVsInView in the first message already carries the total
		if m.MessageNumber == 1 {
			*gsvSatellitesInView = int(m.NumberSVsInView)
		}
	}
}

// handleGGA processes a GGA sentence (position, elevation, fix quality)
func handleGGA(gga nmea.GGA, locState *LocationState, satellitesInView int) {
	fixQuality := parseFixQuality(gga.FixQuality)
	if fixQuality == 0 {
		locState.SetStatus(gpsStatusNoFix)
		return
	}

	loc := &GeoLocation{
		Latitude:  gga.Latitude,
		Longitude: gga.Longitude,
		Elevation: gga.Altitude,
		Accuracy:  gga.HDOP,
		Timestamp: time.Now().UTC(),
	}
	locState.SetCurrent(loc, fixQuality, int(gga.NumSatellites), satellitesInView)
}

// handleRMC is the fallback when no GGA is available; it carries no elevation
func handleRMC(rmc nmea.RMC, locState *LocationState, satellitesInView int) {
	if rmc.Validity != "A" {
		locState.SetStatus(gpsStatusNoFix)
		return
	}

	loc := &GeoLocation{
		Latitude:  rmc.Latitude,
		Longitude: rmc.Longitude,
		Timestamp: time.Now().UTC(),
	}
	locState.SetCurrent(loc, 1, 0, satellitesInView)
}

// parseFixQuality converts NMEA fix quality string to integer
func parseFixQuality(quality string) int {
	switch quality {
	case "1", "2", "3", "4", "5", "6":
		return int(quality[0] - '0')
	default:
		return 0
	}
}
