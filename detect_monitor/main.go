package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
)

func main() {
	// Command-line flags override the config file and the environment
	configPath := flag.String("config", "", "Config file (.toml, .yaml or .yml). Defaults are used if not specified.")
	baseURL := flag.String("url", "", "Websocket base URL; the device id is appended (default: "+defaultBaseURL+")")
	deviceID := flag.String("device", "", "Device id to connect to (default: "+defaultDeviceID+")")
	serialPort := flag.String("port", "", "Serial port of a USB-tethered device (e.g., /dev/ttyACM0). Replaces the websocket.")
	baudRate := flag.Int("baud", 0, "Baud rate for the serial port (default: 115200)")
	refreshRate := flag.Int("refresh", 0, "TUI refresh rate in updates per second (default: 4)")
	gpsPort := flag.String("gps", "", "GPS/GNSS serial port device (e.g., /dev/ttyUSB1). If not specified, no GPS data collected.")
	logFile := flag.String("log", "", "Log file (default: detect_monitor.log)")
	verbose := flag.Bool("v", false, "Debug logging")
	noSound := flag.Bool("no-sound", false, "Disable connection sounds")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.Socket.BaseURL = *baseURL
		case "device":
			cfg.Socket.DeviceID = *deviceID
		case "port":
			cfg.Serial.Port = *serialPort
		case "baud":
			cfg.Serial.Baud = *baudRate
		case "refresh":
			cfg.UI.RefreshRate = *refreshRate
		case "gps":
			cfg.GPS.Port = *gpsPort
		case "log":
			cfg.Log.File = *logFile
		case "v":
			if *verbose {
				cfg.Log.Level = "debug"
			}
		case "no-sound":
			cfg.UI.Sound = !*noSound
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newFileLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

// newFileLogger logs to a file since tcell owns the terminal
func newFileLogger(lc LogConfig) (*slog.Logger, func(), error) {
	level, err := parseLogLevel(lc.Level)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := NewDashboardState(cfg.History.Capacity)
	locState := NewLocationState()

	// Start GPS reading if a GPS port is configured
	if cfg.GPS.Port != "" {
		go readGPS(ctx, cfg.GPS.Port, locState, logger)
	}

	dispatcherOpts := []DispatcherOption{WithLocations(locState)}
	if cfg.UI.Notify {
		dispatcherOpts = append(dispatcherOpts, WithStatusHook(deviceStatusNotifier(logger)))
	}
	dispatcher := NewDispatcher(state, logger, dispatcherOpts...)

	var connOpts []ConnectionOption
	if cfg.UI.Sound {
		connOpts = append(connOpts, WithStateHook(connectionSounds()))
	}
	scope := NewConnectionScope(cfg.Socket.DeviceID, cfg.Dialer(), cfg.ReconnectPolicy(), dispatcher.Handle, logger, connOpts...)

	s, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := s.Init(); err != nil {
		return fmt.Errorf("initialize screen: %w", err)
	}
	defer s.Fini()

	s.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	s.EnableMouse() // Enable mouse support for scrolling

	logger.Info("starting", "target", cfg.Dialer().Target(cfg.Socket.DeviceID), "history", cfg.History.Capacity)
	if err := scope.Start(ctx); err != nil {
		return err
	}
	defer scope.Close()

	dash := NewDashboard(s, state, scope, dispatcher, locState, logger)

	ticker := time.NewTicker(cfg.RefreshInterval())
	defer ticker.Stop()

	dash.Draw()

	for {
		select {
		case <-ticker.C:
			dash.Draw()

		case <-ctx.Done():
			logger.Info("signal received, shutting down")
			return nil

		default:
			// Check for key events (non-blocking)
			if s.HasPendingEvent() {
				if dash.HandleEvent(s.PollEvent()) {
					logger.Info("quit requested")
					return nil
				}
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
