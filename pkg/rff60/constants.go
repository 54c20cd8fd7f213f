// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rff60 implements the framing and CRC rules of the two-wire bus
// spoken between an REA-131B heating regulator and its RFF60 room units.
//
// Frames are short byte sequences. Address bytes (polls, the handshake byte)
// are sent with mark parity, everything else with space parity. Data frames
// start with MessageStart, end with MessageEnd and carry a CRC16/KERMIT over
// everything in between, low byte first.
package rff60

// Framing bytes
const (
	MessageStart = 0x82
	MessageEnd   = 0x03
	Ack          = 0x06
)

// RegulatorAddress is the bus address of the regulator itself. It doubles as
// the handshake byte of a data exchange.
const RegulatorAddress = 0x90

// CRC-16/KERMIT configuration (reflected form of polynomial 0x1021)
const (
	crcPolynomial = 0x8408
	crcInitial    = 0x0000
)

// Frame sizes
const (
	CommandFrameSize = 9
	HeaderFrameSize  = 9
	StatusFrameSize  = 24
	ConfigFrameSize  = 48
)

// Opcodes carried in bytes 4 and 5 of a command frame
const (
	OpStatus = 0x02
	OpConfig = 0x06

	statusLength = 0x10
	configLength = 0x28
)

// HeaderPrefixSize is the length of the fixed header of a regulator frame
const HeaderPrefixSize = 5

// Header prefixes expected from the regulator
var (
	headerReplyPrefix = [HeaderPrefixSize]byte{0x82, 0x10, 0xaa, 0x01, 0x00}
	statusFramePrefix = [HeaderPrefixSize]byte{0x82, 0x10, 0x20, 0x10, 0x02}
	configFramePrefix = [HeaderPrefixSize]byte{0x82, 0x10, 0x20, 0x28, 0x06}
)

// HeaderReplyPrefix returns the header of the regulator's reply to a select
func HeaderReplyPrefix() []byte { p := headerReplyPrefix; return p[:] }

// StatusFramePrefix returns the header of a status frame
func StatusFramePrefix() []byte { p := statusFramePrefix; return p[:] }

// ConfigFramePrefix returns the header of a config frame
func ConfigFramePrefix() []byte { p := configFramePrefix; return p[:] }

// AckReply returns the two-byte acknowledgement a regulator at the given
// address sends when it claims the bus, {0x06, regulator}.
func AckReply(regulator byte) []byte { return []byte{Ack, regulator} }

// Status frame field offsets
const (
	StatusOutsideTemp  = 10
	StatusHotWaterTemp = 11
	StatusMixerTemp    = 14
	StatusBoilerTemp   = 15
	StatusReducedTemp  = 16
	StatusComfortTemp  = 20
)

// Config frame field offsets
const (
	ConfigAddress    = 1
	ConfigMeasTemp   = 5
	ConfigKnob       = 6
	ConfigSelector   = 10
	ConfigDipSwitch  = 11
	setpointBase     = 23
	setpointStride   = 8
	setpointSlots    = 3
	configCRCStart   = 1
	configCRCLength  = ConfigFrameSize - 4
	commandCRCStart  = 1
	commandCRCLength = 5
)

// pollSequence is the ordered list of addresses polled on behalf of the
// regulator after a data exchange. Addresses that were never seen answering
// on a live bus have been left out.
var pollSequence = [...]byte{0x21, 0x22, 0xa3, 0x9c, 0x1d, 0x1e, 0x9f, 0x90}

// PollSequence returns a copy of the poll list
func PollSequence() [len(pollSequence)]byte { return pollSequence }

// PollRepeats is how often each address in PollSequence is sent.
const PollRepeats = 5

// FirstThermostatAddress is the data address of slot 0 in PollSequence.
const FirstThermostatAddress = 0x21
