package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Largest accepted inbound message, in bytes
const maxMessageSize = 1024 * 1024

// WebSocketDialer connects to <BaseURL><deviceID>
type WebSocketDialer struct {
	BaseURL string
	Header  http.Header
	dialer  *websocket.Dialer
}

func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	return &WebSocketDialer{
		BaseURL: baseURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  4 * 1024,
		},
	}
}

func (d *WebSocketDialer) Target(deviceID string) string {
	return d.BaseURL + url.PathEscape(deviceID)
}

func (d *WebSocketDialer) Dial(ctx context.Context, deviceID string) (Conn, error) {
	target := d.Target(deviceID)
	ws, resp, err := d.dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", target, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &wsConn{ws: ws}, nil
}

// wsConn adapts a gorilla websocket to Conn
type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return nil, &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Close sends a normal close frame when possible and releases the socket
func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// SerialDialer reads the same event frames, one JSON document per line,
// from a device tethered over USB serial. The device id is not part of
// the address.
type SerialDialer struct {
	Port     string
	BaudRate int
}

func (d *SerialDialer) Target(string) string {
	return d.Port
}

func (d *SerialDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	port, err := openSerialPort(d.Port, d.BaudRate)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.Port, err)
	}
	return newLineConn(port), nil
}

// openSerialPort attempts to open a serial port with the given configuration
func openSerialPort(portPath string, baudRate int) (io.ReadCloser, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(portPath, mode)
}

// lineConn turns a newline-delimited stream into messages
type lineConn struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
}

func newLineConn(rc io.ReadCloser) *lineConn {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)
	return &lineConn{rc: rc, scanner: scanner}
}

func (c *lineConn) ReadMessage() ([]byte, error) {
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return bytes.Clone(line), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *lineConn) Close() error {
	return c.rc.Close()
}
