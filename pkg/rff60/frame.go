// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rff60

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
)

// RegulatorDataAddress is the address the regulator puts in byte 1 of the
// frames it sends.
const RegulatorDataAddress = 0x10

// VerifyMessage reports whether buf is a complete data frame: start byte,
// end byte and a valid CRC over buf[1:len-3].
func VerifyMessage(buf []byte) bool {
	n := len(buf)
	if n < 4 {
		return false
	}
	if buf[0] != MessageStart || buf[n-1] != MessageEnd {
		return false
	}
	return CheckCRC(buf, 1, n-4)
}

// VerifyReply reports whether buf is exactly the want-byte acknowledgement:
// {0x06} for want == 1, {0x06, 0x90} for want == 2.
func VerifyReply(buf []byte, want int) bool {
	return VerifyRegulatorReply(buf, want, RegulatorAddress)
}

// VerifyRegulatorReply is VerifyReply for a regulator at another address
func VerifyRegulatorReply(buf []byte, want int, regulator byte) bool {
	ack := AckReply(regulator)
	if want < 1 || want > len(ack) {
		return false
	}
	return len(buf) == want && bytes.Equal(buf, ack[:want])
}

// HasPrefix reports whether buf starts with the given header bytes
func HasPrefix(buf, prefix []byte) bool {
	return bytes.HasPrefix(buf, prefix)
}

// PollAddress returns the 7-bit address with its even-parity bit in the MSB,
// e.g. 0x23 becomes 0xa3.
func PollAddress(addr byte) byte {
	addr &= 0x7f
	if bits.OnesCount8(addr)%2 == 1 {
		return addr | 0x80
	}
	return addr
}

// IsPollAddress reports whether b carries a correct even-parity MSB
func IsPollAddress(b byte) bool {
	return PollAddress(b) == b
}

// SetpointOffset returns where a thermostat's {comfort, comfort, reduced}
// triple lives in the config frame. Only the three thermostat slots
// 0x?1..0x?3 have one.
func SetpointOffset(address byte) (int, bool) {
	slot := int(address&0x0f) - 1
	if slot < 0 || slot >= setpointSlots {
		return 0, false
	}
	return setpointBase + slot*setpointStride, true
}

// SlotIndex returns the position in PollSequence where a thermostat with the
// given data address starts polling.
func SlotIndex(address byte) int {
	idx := int(address) - FirstThermostatAddress
	if idx < 0 {
		return 0
	}
	if idx > len(pollSequence) {
		return len(pollSequence)
	}
	return idx
}

// NewCommandFrame builds the 9-byte request a thermostat sends to read the
// status (OpStatus) or configuration (OpConfig) block.
func NewCommandFrame(address byte, op byte) []byte {
	length := byte(statusLength)
	if op == OpConfig {
		length = configLength
	}
	frame := []byte{MessageStart, address, 0x10, 0x01, op, length, 0, 0, MessageEnd}
	InsertCRC(frame, commandCRCStart, commandCRCLength)
	return frame
}

// NewPollReply builds the frame a thermostat sends after the regulator
// answered a poll with {0x06, 0x90}.
func NewPollReply(address byte, skip bool) []byte {
	return newHeader(address, 0x01, skip)
}

// NewSiblingHeader builds the header sent when one thermostat hands the bus
// over to another emulated thermostat.
func NewSiblingHeader(address byte, skip bool) []byte {
	return newHeader(address, 0x00, skip)
}

// NewHeaderReply builds the regulator's reply to {0x06, pollAddress}
func NewHeaderReply(skip bool) []byte {
	return newHeader(RegulatorDataAddress, 0x01, skip)
}

func newHeader(address, kind byte, skip bool) []byte {
	frame := []byte{MessageStart, address, 0xaa, kind, 0x00, 0, 0, 0, MessageEnd}
	if skip {
		frame[5] = 0x01
	}
	InsertCRC(frame, 1, 5)
	return frame
}

// SkipFlag extracts the skip-thermostats flag from a header reply
func SkipFlag(header []byte) bool {
	if len(header) < 6 {
		return false
	}
	return header[5]&0x01 == 0x01
}

// Status holds the values of a status frame
type Status struct {
	OutsideTemp  float64
	HotWaterTemp float64
	MixerTemp    float64
	BoilerTemp   float64
	ReducedTemp  byte
	ComfortTemp  byte
}

// ParseStatus extracts the temperatures and setpoints of a verified status frame
func ParseStatus(frame []byte) (Status, error) {
	if len(frame) != StatusFrameSize {
		return Status{}, fmt.Errorf("status frame length %d (expected %d)", len(frame), StatusFrameSize)
	}
	return Status{
		OutsideTemp:  FromSignedHalfDegrees(frame[StatusOutsideTemp]),
		HotWaterTemp: FromHalfDegrees(frame[StatusHotWaterTemp]),
		MixerTemp:    FromHalfDegrees(frame[StatusMixerTemp]),
		BoilerTemp:   FromHalfDegrees(frame[StatusBoilerTemp]),
		ReducedTemp:  frame[StatusReducedTemp],
		ComfortTemp:  frame[StatusComfortTemp],
	}, nil
}

// ConfigPatch holds the thermostat registers written back into a config frame
type ConfigPatch struct {
	Address     byte
	MeasTemp    byte
	Knob        byte
	Selector    byte
	DipSwitch   byte
	ComfortTemp byte
	ReducedTemp byte
}

// PatchConfig writes the registers into a 48-byte config frame and refreshes
// its CRC.
func PatchConfig(frame []byte, p ConfigPatch) error {
	if len(frame) != ConfigFrameSize {
		return fmt.Errorf("config frame length %d (expected %d)", len(frame), ConfigFrameSize)
	}
	offset, ok := SetpointOffset(p.Address)
	if !ok {
		return fmt.Errorf("address 0x%02x has no setpoint slot", p.Address)
	}
	frame[ConfigAddress] = p.Address
	frame[ConfigMeasTemp] = p.MeasTemp
	frame[ConfigKnob] = p.Knob
	frame[ConfigSelector] = p.Selector
	frame[ConfigDipSwitch] = p.DipSwitch
	frame[offset] = p.ComfortTemp
	frame[offset+1] = p.ComfortTemp
	frame[offset+2] = p.ReducedTemp
	InsertCRC(frame, configCRCStart, configCRCLength)
	return nil
}

// FromHalfDegrees converts an unsigned half-degree byte to °C
func FromHalfDegrees(b byte) float64 {
	return float64(b) / 2.0
}

// FromSignedHalfDegrees converts a two's complement half-degree byte to °C
func FromSignedHalfDegrees(b byte) float64 {
	return float64(int8(b)) / 2.0
}

// ToHalfDegrees converts °C to a signed half-degree byte, truncating toward
// zero. Values outside the int8 range saturate.
func ToHalfDegrees(t float64) byte {
	return byte(clampInt8(math.Trunc(t * 2)))
}

// ToHalfDegreesRounded converts °C to a signed half-degree byte, rounding
// half up.
func ToHalfDegreesRounded(t float64) byte {
	return byte(clampInt8(math.Floor(t*2 + 0.5)))
}

func clampInt8(v float64) int8 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt8:
		return math.MaxInt8
	case v < math.MinInt8:
		return math.MinInt8
	}
	return int8(v)
}
