// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package emulator impersonates RFF60 room units on the bus of an REA-131B
// regulator. A Registry holds the emulated devices, an Engine owns the
// transport and answers the regulator on their behalf.
package emulator

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// VerboseLogging selects which diagnostics channels receive bus hex dumps
type VerboseLogging int

const (
	VerboseOff VerboseLogging = iota
	VerboseAPI
	VerboseSerial
	VerboseBoth
)

// String returns the option label
func (v VerboseLogging) String() string {
	switch v {
	case VerboseOff:
		return "OFF"
	case VerboseAPI:
		return "API"
	case VerboseSerial:
		return "SERIAL"
	case VerboseBoth:
		return "BOTH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(v))
	}
}

// API reports whether hex dumps go to the structured logger
func (v VerboseLogging) API() bool {
	return v == VerboseAPI || v == VerboseBoth
}

// Serial reports whether hex dumps go to the serial console writer
func (v VerboseLogging) Serial() bool {
	return v == VerboseSerial || v == VerboseBoth
}

// ParseVerboseLogging parses OFF, API, SERIAL or BOTH (case-insensitive)
func ParseVerboseLogging(s string) (VerboseLogging, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return VerboseOff, nil
	case "API":
		return VerboseAPI, nil
	case "SERIAL":
		return VerboseSerial, nil
	case "BOTH":
		return VerboseBoth, nil
	}
	return VerboseOff, fmt.Errorf("unknown verbose logging option %q (use OFF, API, SERIAL or BOTH)", s)
}

// ThermoSettings is a complete set of values pushed to one device. The
// logging and remote control values are bus-wide; the last device drained
// decides them.
type ThermoSettings struct {
	Selector           rff60.Selector
	TempOffset         float64
	TempMeasurement    float64
	IgnoreMeasuredTemp bool
	VerboseLogging     VerboseLogging
	RemoteControl      bool
}

// ThermoReadings are the regulator's sensor values taken from a status frame
type ThermoReadings struct {
	Address      byte      `json:"address"`
	Time         time.Time `json:"time"`
	OutsideTemp  float64   `json:"outside_temp"`
	HotWaterTemp float64   `json:"hot_water_temp"`
	MixerTemp    float64   `json:"mixer_temp"`
	BoilerTemp   float64   `json:"boiler_temp"`
}
