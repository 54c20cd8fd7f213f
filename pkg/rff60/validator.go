// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rff60

import "fmt"

// AnomalyType represents different types of frame anomalies
type AnomalyType int

const (
	AnomalyBadStart AnomalyType = iota
	AnomalyBadEnd
	AnomalyCRCError
	AnomalyBadHeader
	AnomalyLengthMismatch
	AnomalyInvalidValue
)

// String returns a short name for the anomaly
func (a AnomalyType) String() string {
	switch a {
	case AnomalyBadStart:
		return "BAD_START"
	case AnomalyBadEnd:
		return "BAD_END"
	case AnomalyCRCError:
		return "CRC_ERROR"
	case AnomalyBadHeader:
		return "BAD_HEADER"
	case AnomalyLengthMismatch:
		return "LENGTH_MISMATCH"
	case AnomalyInvalidValue:
		return "INVALID_VALUE"
	default:
		return "UNKNOWN"
	}
}

// ValidationError represents a frame validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateFrame checks the envelope of a data frame and the registers it
// carries. Single-byte and two-byte handshakes are not data frames and are
// never reported. Returns an empty slice if the frame is valid.
func ValidateFrame(data []byte) []ValidationError {
	errors := []ValidationError{}

	if len(data) <= 2 {
		return errors
	}

	if data[0] != MessageStart {
		return append(errors, ValidationError{
			Type:    AnomalyBadStart,
			Message: fmt.Sprintf("Bad start byte 0x%02X (expected 0x%02X)", data[0], MessageStart),
			Details: map[string]interface{}{"start": data[0], "expected": MessageStart},
		})
	}

	n := len(data)
	if n < 4 {
		return append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("Frame too short (%d bytes)", n),
			Details: map[string]interface{}{"length": n},
		})
	}

	if data[n-1] != MessageEnd {
		errors = append(errors, ValidationError{
			Type:    AnomalyBadEnd,
			Message: fmt.Sprintf("Bad end byte 0x%02X (expected 0x%02X)", data[n-1], MessageEnd),
			Details: map[string]interface{}{"end": data[n-1], "expected": MessageEnd},
		})
	}

	if !CheckCRC(data, 1, n-4) {
		expected := CalculateCRC(data[1 : n-3])
		actual := uint16(data[n-3]) | uint16(data[n-2])<<8
		errors = append(errors, ValidationError{
			Type:    AnomalyCRCError,
			Message: fmt.Sprintf("CRC mismatch (expected 0x%04X, got 0x%04X)", expected, actual),
			Details: map[string]interface{}{"expected": expected, "actual": actual},
		})
	}

	switch n {
	case HeaderFrameSize:
		if Classify(data) == KindUnknown {
			errors = append(errors, ValidationError{
				Type:    AnomalyBadHeader,
				Message: fmt.Sprintf("Unknown header % X", data[1:5]),
				Details: map[string]interface{}{"header": data[1:5]},
			})
		}
	case StatusFrameSize:
		if !HasPrefix(data, StatusFramePrefix()) {
			errors = append(errors, ValidationError{
				Type:    AnomalyBadHeader,
				Message: fmt.Sprintf("Status header % X (expected % X)", data[:5], StatusFramePrefix()),
				Details: map[string]interface{}{"header": data[:5]},
			})
		}
	case ConfigFrameSize:
		if !HasPrefix(data[2:], ConfigFramePrefix()[2:]) {
			errors = append(errors, ValidationError{
				Type:    AnomalyBadHeader,
				Message: fmt.Sprintf("Config header % X (expected % X)", data[:5], ConfigFramePrefix()),
				Details: map[string]interface{}{"header": data[:5]},
			})
		}
		if Classify(data) == KindConfigWrite {
			errors = append(errors, validateConfig(data)...)
		}
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("Unexpected frame length %d", n),
			Details: map[string]interface{}{"length": n},
		})
	}

	return errors
}

// validateConfig checks the registers a thermostat wrote into a config frame
func validateConfig(data []byte) []ValidationError {
	errors := []ValidationError{}

	switch Selector(data[ConfigSelector]) {
	case SelectorTimer, SelectorComfort, SelectorEco:
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid selector 0x%02X", data[ConfigSelector]),
			Details: map[string]interface{}{"selector": data[ConfigSelector]},
		})
	}

	if data[ConfigDipSwitch]&0x80 == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("DIP switch 0x%02X missing high bit", data[ConfigDipSwitch]),
			Details: map[string]interface{}{"dip": data[ConfigDipSwitch]},
		})
	}

	return errors
}
