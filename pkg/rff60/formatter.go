// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rff60

import (
	"fmt"
	"strings"
	"time"
)

// Selector is the operating-mode register of a thermostat
type Selector uint8

// Selector positions as encoded on the bus
const (
	SelectorTimer   Selector = 0
	SelectorComfort Selector = 3
	SelectorEco     Selector = 4
)

// String returns the dial label of the selector position
func (s Selector) String() string {
	switch s {
	case SelectorTimer:
		return "TIMER"
	case SelectorComfort:
		return "COMFORT"
	case SelectorEco:
		return "ECO"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(s))
	}
}

// ParseSelector parses TIMER, COMFORT or ECO (case-insensitive)
func ParseSelector(s string) (Selector, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TIMER":
		return SelectorTimer, nil
	case "COMFORT":
		return SelectorComfort, nil
	case "ECO":
		return SelectorEco, nil
	}
	return 0, fmt.Errorf("unknown selector position %q (use TIMER, COMFORT or ECO)", s)
}

// FrameKind identifies what a byte sequence on the bus is
type FrameKind int

// Frame kinds
const (
	KindUnknown FrameKind = iota
	KindPoll
	KindAck
	KindRegulatorAck
	KindSelect
	KindHeaderReply
	KindPollReply
	KindSiblingHeader
	KindStatusRequest
	KindConfigRequest
	KindStatusFrame
	KindConfigFrame
	KindConfigWrite
)

// String returns the human-readable name for a frame kind
func (k FrameKind) String() string {
	switch k {
	case KindPoll:
		return "POLL"
	case KindAck:
		return "ACK"
	case KindRegulatorAck:
		return "REGULATOR_ACK"
	case KindSelect:
		return "SELECT"
	case KindHeaderReply:
		return "HEADER_REPLY"
	case KindPollReply:
		return "POLL_REPLY"
	case KindSiblingHeader:
		return "SIBLING_HEADER"
	case KindStatusRequest:
		return "STATUS_REQUEST"
	case KindConfigRequest:
		return "CONFIG_REQUEST"
	case KindStatusFrame:
		return "STATUS"
	case KindConfigFrame:
		return "CONFIG"
	case KindConfigWrite:
		return "CONFIG_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Classify determines the frame kind from its length and fixed bytes.
// It does not check the CRC; use ValidateFrame for that.
func Classify(data []byte) FrameKind {
	switch len(data) {
	case 0:
		return KindUnknown
	case 1:
		if data[0] == Ack {
			return KindAck
		}
		if IsPollAddress(data[0]) {
			return KindPoll
		}
		return KindUnknown
	case 2:
		if VerifyReply(data, 2) {
			return KindRegulatorAck
		}
		if data[0] == Ack {
			return KindSelect
		}
		return KindUnknown
	}

	if data[0] != MessageStart {
		return KindUnknown
	}

	switch len(data) {
	case HeaderFrameSize:
		switch {
		case data[2] == 0xaa && data[1] == RegulatorDataAddress:
			return KindHeaderReply
		case data[2] == 0xaa && data[3] == 0x01:
			return KindPollReply
		case data[2] == 0xaa && data[3] == 0x00:
			return KindSiblingHeader
		case data[2] == 0x10 && data[4] == OpStatus:
			return KindStatusRequest
		case data[2] == 0x10 && data[4] == OpConfig:
			return KindConfigRequest
		}
	case StatusFrameSize:
		if HasPrefix(data, StatusFramePrefix()) {
			return KindStatusFrame
		}
	case ConfigFrameSize:
		if HasPrefix(data, ConfigFramePrefix()) {
			return KindConfigFrame
		}
		if HasPrefix(data[2:], ConfigFramePrefix()[2:]) {
			return KindConfigWrite
		}
	}
	return KindUnknown
}

// HexDump formats bytes as lowercase hex pairs behind a direction prefix,
// e.g. "2> 82 21 10 ".
func HexDump(prefix string, data []byte) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(data)*3)
	sb.WriteString(prefix)
	for _, b := range data {
		fmt.Fprintf(&sb, "%02x ", b)
	}
	return sb.String()
}

// FormatFrame formats a frame into a human-readable string
func FormatFrame(ts time.Time, prefix string, data []byte) string {
	kind := Classify(data)
	result := fmt.Sprintf("[%s] %s%s len=%d\n", ts.Format("15:04:05.000"), prefix, kind, len(data))
	result += formatDetails(kind, data)
	return result
}

func formatDetails(kind FrameKind, data []byte) string {
	switch kind {
	case KindPoll:
		return fmt.Sprintf("  Address: 0x%02X\n", data[0])

	case KindSelect:
		return fmt.Sprintf("  Selected: 0x%02X\n", data[1])

	case KindHeaderReply, KindPollReply, KindSiblingHeader:
		return fmt.Sprintf("  From: 0x%02X, Skip thermostats: %v, CRC: %s\n", data[1], SkipFlag(data), crcStatus(data))

	case KindStatusRequest, KindConfigRequest:
		return fmt.Sprintf("  Thermostat: 0x%02X, CRC: %s\n", data[1], crcStatus(data))

	case KindStatusFrame:
		st, err := ParseStatus(data)
		if err != nil {
			break
		}
		return fmt.Sprintf("  Outside: %.1f°C, Hot water: %.1f°C, Mixer: %.1f°C, Boiler: %.1f°C\n"+
			"  Reduced: %.1f°C, Comfort: %.1f°C, CRC: %s\n",
			st.OutsideTemp, st.HotWaterTemp, st.MixerTemp, st.BoilerTemp,
			FromHalfDegrees(st.ReducedTemp), FromHalfDegrees(st.ComfortTemp), crcStatus(data))

	case KindConfigFrame, KindConfigWrite:
		result := fmt.Sprintf("  Thermostat: 0x%02X, Room: %.1f°C, Knob: %+.1f, Selector: %s, DIP: 0x%02X\n",
			data[ConfigAddress], FromSignedHalfDegrees(data[ConfigMeasTemp]), FromSignedHalfDegrees(data[ConfigKnob]),
			Selector(data[ConfigSelector]), data[ConfigDipSwitch])
		for slot := byte(1); slot <= setpointSlots; slot++ {
			offset, _ := SetpointOffset(slot)
			result += fmt.Sprintf("  Slot %d: Comfort %.1f°C, Reduced %.1f°C\n",
				slot, FromHalfDegrees(data[offset]), FromHalfDegrees(data[offset+2]))
		}
		return result + fmt.Sprintf("  CRC: %s\n", crcStatus(data))
	}

	if len(data) <= 2 {
		return ""
	}

	// Default: hex dump
	result := "  Data: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n        "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}

func crcStatus(data []byte) string {
	if VerifyMessage(data) {
		return "OK"
	}
	return "BAD"
}
