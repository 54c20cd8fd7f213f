// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig holds the settings of a remote UART bridge
type WebSocketConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
}

// WebSocketPort drives the bus through a UART bridge reachable over
// WebSocket. Each transmission is one binary message whose first byte is the
// parity (0 space, 1 mark) followed by the data; the bridge is responsible
// for pacing. Received binary messages carry raw bus bytes.
type WebSocketPort struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	rx      chan []byte
	pending []byte
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// OpenWebSocket connects to a bridge with optional HTTP Basic auth
func OpenWebSocket(cfg WebSocketConfig) (*WebSocketPort, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if cfg.Username != "" && cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketPort(conn), nil
}

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	w := &WebSocketPort{
		conn:    conn,
		rx:      make(chan []byte, 64),
		timeout: TimeoutPolling,
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w
}

// readLoop moves incoming messages onto rx. A gorilla connection cannot be
// read again after a read deadline expires, so receive timeouts are handled
// on the channel instead.
func (w *WebSocketPort) readLoop() {
	defer close(w.rx)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.rx <- data:
		case <-w.done:
			return
		}
	}
}

// Transmit implements Transport
func (w *WebSocketPort) Transmit(data []byte, parity Parity) error {
	if len(data) == 0 {
		return nil
	}

	msg := make([]byte, 0, len(data)+1)
	msg = append(msg, byte(parity))
	msg = append(msg, data...)

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	select {
	case <-w.done:
		return ErrClosed
	default:
	}

	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	return nil
}

// SetTimeout implements Transport
func (w *WebSocketPort) SetTimeout(d time.Duration) {
	w.timeout = d
}

// Receive implements Transport. Bytes left over from a message that did not
// fit buf are returned first on the next call.
func (w *WebSocketPort) Receive(buf []byte) (int, error) {
	n := copy(buf, w.pending)
	w.pending = w.pending[n:]
	if n == len(buf) {
		return n, nil
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for n < len(buf) {
		select {
		case chunk, ok := <-w.rx:
			if !ok {
				if n > 0 {
					return n, nil
				}
				return 0, ErrClosed
			}
			c := copy(buf[n:], chunk)
			n += c
			w.pending = append(w.pending, chunk[c:]...)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			return n, nil
		}
	}
	return n, nil
}

// Close implements Transport
func (w *WebSocketPort) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}
