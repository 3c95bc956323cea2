package main

import (
	"log/slog"
	"time"

	"github.com/gen2brain/beeep"
)

// Sound notification functions - all run in goroutines to avoid blocking

func playDisconnectSound() {
	go func() {
		// Low frequency, longer duration - ominous
		beeep.Beep(400, 300)
	}()
}

func playReconnectAttemptSound() {
	go func() {
		// Mid frequency, short blip
		beeep.Beep(600, 100)
	}()
}

func playConnectedSound() {
	go func() {
		// Ascending two-tone success melody
		beeep.Beep(600, 150)
		time.Sleep(50 * time.Millisecond)
		beeep.Beep(800, 150)
	}()
}

func playGiveUpSound() {
	go func() {
		beeep.Beep(300, 600)
	}()
}

// connectionSounds returns a state hook that beeps on connection changes.
// The first dial is silent; reconnect attempts blip only after a loss.
func connectionSounds() func(*Connection, ConnState) {
	return func(c *Connection, state ConnState) {
		switch state {
		case StateOpen:
			playConnectedSound()
		case StateClosed, StateErrored:
			if c.Attempts() == 1 {
				playDisconnectSound()
			}
		case StateConnecting:
			if c.Attempts() > 0 {
				playReconnectAttemptSound()
			}
		case StateFailed:
			playGiveUpSound()
		}
	}
}

// deviceStatusNotifier raises a desktop notification for device status changes
func deviceStatusNotifier(logger *slog.Logger) func(status string) {
	return func(status string) {
		go func() {
			if err := beeep.Notify("Detect Monitor", "Device status: "+status, ""); err != nil {
				logger.Debug("desktop notification failed", "error", err)
			}
		}()
	}
}
