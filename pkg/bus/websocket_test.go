// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bridgeServer is a UART bridge stand-in. Every binary message it receives is
// recorded and answered with the messages produced by reply.
type bridgeServer struct {
	*httptest.Server
	received chan []byte
	auth     chan string
}

func newBridgeServer(t *testing.T, reply func(msg []byte) [][]byte) *bridgeServer {
	t.Helper()
	b := &bridgeServer{
		received: make(chan []byte, 16),
		auth:     make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		b.auth <- user + ":" + pass

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			b.received <- msg
			for _, out := range reply(msg) {
				if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *bridgeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(b.URL, "http")
}

func TestWebSocketTransmit_ParityPrefix(t *testing.T) {
	srv := newBridgeServer(t, func([]byte) [][]byte { return nil })

	port, err := OpenWebSocket(WebSocketConfig{URL: srv.wsURL()})
	require.NoError(t, err)
	defer port.Close()

	require.NoError(t, port.Transmit([]byte{0x21}, ParityMark))
	require.NoError(t, port.Transmit([]byte{0x06, 0x90}, ParitySpace))

	assert.Equal(t, []byte{0x01, 0x21}, <-srv.received)
	assert.Equal(t, []byte{0x00, 0x06, 0x90}, <-srv.received)
}

func TestWebSocketReceive_AcrossMessages(t *testing.T) {
	srv := newBridgeServer(t, func(msg []byte) [][]byte {
		// Regulator answers the handshake byte in two pieces
		if len(msg) == 2 && msg[1] == 0x90 {
			return [][]byte{{0x06}, {0x90}}
		}
		return nil
	})

	port, err := OpenWebSocket(WebSocketConfig{URL: srv.wsURL()})
	require.NoError(t, err)
	defer port.Close()

	require.NoError(t, port.Transmit([]byte{0x90}, ParityMark))

	port.SetTimeout(time.Second)
	buf := make([]byte, 2)
	n, err := port.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x06, 0x90}, buf)

	port.SetTimeout(20 * time.Millisecond)
	n, err = port.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "silence ends the receive without error")
}

func TestWebSocketReceive_KeepsLeftover(t *testing.T) {
	srv := newBridgeServer(t, func([]byte) [][]byte {
		return [][]byte{{0x21, 0x21, 0x22}}
	})

	port, err := OpenWebSocket(WebSocketConfig{URL: srv.wsURL()})
	require.NoError(t, err)
	defer port.Close()

	require.NoError(t, port.Transmit([]byte{0x00}, ParitySpace))

	port.SetTimeout(time.Second)
	one := make([]byte, 1)
	n, err := port.Receive(one)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x21), one[0])

	two := make([]byte, 2)
	n, err = port.Receive(two)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x21, 0x22}, two)
}

func TestWebSocket_BasicAuth(t *testing.T) {
	srv := newBridgeServer(t, func([]byte) [][]byte { return nil })

	port, err := OpenWebSocket(WebSocketConfig{URL: srv.wsURL(), Username: "bus", Password: "secret"})
	require.NoError(t, err)
	defer port.Close()

	assert.Equal(t, "bus:secret", <-srv.auth)
}

func TestWebSocket_Close(t *testing.T) {
	srv := newBridgeServer(t, func([]byte) [][]byte { return nil })

	port, err := OpenWebSocket(WebSocketConfig{URL: srv.wsURL()})
	require.NoError(t, err)

	require.NoError(t, port.Close())
	assert.ErrorIs(t, port.Transmit([]byte{0x06}, ParitySpace), ErrClosed)

	port.SetTimeout(time.Second)
	_, err = port.Receive(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenWebSocket_BadURL(t *testing.T) {
	_, err := OpenWebSocket(WebSocketConfig{URL: "http://example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
