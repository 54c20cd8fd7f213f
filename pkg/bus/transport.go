// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus provides the byte-level half-duplex channel the emulator uses to
// talk to the regulator: per-byte parity, transmit-enable gating, inter-byte
// pacing and bounded receives.
package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Parity selects how the ninth bit of a transmitted byte is set
type Parity int

const (
	// ParitySpace marks data bytes
	ParitySpace Parity = iota
	// ParityMark marks address bytes (polls, handshakes)
	ParityMark
)

// String returns the parity name
func (p Parity) String() string {
	switch p {
	case ParitySpace:
		return "SPACE"
	case ParityMark:
		return "MARK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(p))
	}
}

// Direction of a byte sequence as seen from the emulator
type Direction int

const (
	DirTX Direction = iota
	DirRX
)

// String returns "tx" or "rx"
func (d Direction) String() string {
	if d == DirRX {
		return "rx"
	}
	return "tx"
}

// Prefix returns the hex dump prefix, "2> " for sent and "1> " for received bytes
func (d Direction) Prefix() string {
	if d == DirRX {
		return "1> "
	}
	return "2> "
}

// Receive timeout tiers
const (
	TimeoutRead     = 10 * time.Millisecond
	TimeoutPolling  = 70 * time.Millisecond
	TimeoutExchange = 2000 * time.Millisecond
)

// DefaultPacing is the interval between the starts of consecutive bytes of a
// transmission.
const DefaultPacing = 3 * time.Millisecond

// ErrClosed is returned by a transport after Close
var ErrClosed = errors.New("bus: transport closed")

// Transport is the channel consumed by the protocol engine. Implementations
// are used from a single goroutine, apart from Close.
type Transport interface {
	// Transmit sends data with the given parity on every byte. Transmit
	// enable is held for the whole sequence.
	Transmit(data []byte, parity Parity) error
	// SetTimeout sets how long Receive waits for the next byte
	SetTimeout(d time.Duration)
	// Receive reads until buf is full or no byte arrived within the timeout.
	// Returning fewer bytes than requested, even zero, is not an error.
	Receive(buf []byte) (int, error)
	// Close releases the underlying port
	Close() error
}

// TxEnable selects the modem line that gates the line driver during transmit
type TxEnable int

const (
	TxEnableNone TxEnable = iota
	TxEnableRTS
	TxEnableDTR
)

// String returns the lowercase line name
func (t TxEnable) String() string {
	switch t {
	case TxEnableRTS:
		return "rts"
	case TxEnableDTR:
		return "dtr"
	default:
		return "none"
	}
}

// ParseTxEnable parses "none", "rts" or "dtr"
func ParseTxEnable(s string) (TxEnable, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TxEnableNone, nil
	case "rts":
		return TxEnableRTS, nil
	case "dtr":
		return TxEnableDTR, nil
	}
	return TxEnableNone, fmt.Errorf("unknown tx enable line %q (use none, rts or dtr)", s)
}
