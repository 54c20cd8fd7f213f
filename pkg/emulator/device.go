// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"fmt"
	"sync/atomic"

	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// Register defaults of a freshly installed unit
const (
	DefaultReducedTemp = 0x20 // 16.0°C
	DefaultComfortTemp = 0x28 // 20.0°C
	DefaultMeasTemp    = 0x28 // 20.0°C
	DefaultKnob        = 0xfe // -1.0
	DefaultDipSwitch   = 0x81 // measured temperature ignored
	dipSwitchBase      = 0x80
)

// Registers is a read-only copy of a device's register file
type Registers struct {
	Address          byte
	PollAddress      byte
	RegulatorAddress byte
	Selector         rff60.Selector
	Knob             byte
	MeasTemp         byte
	DipSwitch        byte
	ReducedTemp      byte
	ComfortTemp      byte
	SkipThermostats  bool
}

// TempOffset returns the knob position in °C
func (r Registers) TempOffset() float64 {
	return rff60.FromSignedHalfDegrees(r.Knob)
}

// TempMeasurement returns the reported room temperature in °C
func (r Registers) TempMeasurement() float64 {
	return rff60.FromSignedHalfDegrees(r.MeasTemp)
}

// IgnoreMeasuredTemp reports whether the regulator is told to ignore the room temperature
func (r Registers) IgnoreMeasuredTemp() bool {
	return r.DipSwitch&0x01 == 0x01
}

// String returns a one-line summary
func (r Registers) String() string {
	return fmt.Sprintf("0x%02X sel=%s knob=0x%02X meas=0x%02X dip=0x%02X reduced=0x%02X comfort=0x%02X",
		r.Address, r.Selector, r.Knob, r.MeasTemp, r.DipSwitch, r.ReducedTemp, r.ComfortTemp)
}

// Device is one emulated thermostat.
//
// The register setters and getters belong to the engine goroutine (or to
// setup code before the engine starts). Other goroutines use SendSettings to
// change a device and Snapshot to look at it.
type Device struct {
	address          byte
	pollAddress      byte
	regulatorAddress byte

	selector        rff60.Selector
	knob            byte
	measTemp        byte
	dipSwitch       byte
	reducedTemp     byte
	comfortTemp     byte
	skipThermostats bool

	settings *Slot[ThermoSettings]
	snapshot atomic.Pointer[Registers]
}

func newDevice(address, pollAddress, regulatorAddress byte) *Device {
	d := &Device{
		address:          address,
		pollAddress:      pollAddress,
		regulatorAddress: regulatorAddress,
		selector:         rff60.SelectorTimer,
		knob:             DefaultKnob,
		measTemp:         DefaultMeasTemp,
		dipSwitch:        DefaultDipSwitch,
		reducedTemp:      DefaultReducedTemp,
		comfortTemp:      DefaultComfortTemp,
		settings:         NewSlot[ThermoSettings](),
	}
	d.publish()
	return d
}

// Address returns the data address used in frames
func (d *Device) Address() byte { return d.address }

// PollAddress returns the parity-encoded address the regulator polls
func (d *Device) PollAddress() byte { return d.pollAddress }

// RegulatorAddress returns the address of the bus master
func (d *Device) RegulatorAddress() byte { return d.regulatorAddress }

// SendSettings queues a settings value for the engine. Returns false if an
// earlier value has not been consumed yet; the new value is then dropped.
func (d *Device) SendSettings(s ThermoSettings) bool {
	return d.settings.Send(s)
}

// Snapshot returns the registers as last published by the engine
func (d *Device) Snapshot() Registers {
	return *d.snapshot.Load()
}

// SetSelector sets the mode selector register
func (d *Device) SetSelector(s rff60.Selector) {
	d.selector = s
	d.publish()
}

// Selector returns the mode selector register
func (d *Device) Selector() rff60.Selector {
	return d.selector
}

// SetTempOffset sets the knob register from an offset in °C, truncated to
// half degrees.
func (d *Device) SetTempOffset(offset float64) {
	d.knob = rff60.ToHalfDegrees(offset)
	d.publish()
}

// TempOffset returns the knob register in °C
func (d *Device) TempOffset() float64 {
	return rff60.FromSignedHalfDegrees(d.knob)
}

// SetTempMeasurement sets the room temperature register, rounded to the
// nearest half degree.
func (d *Device) SetTempMeasurement(temp float64) {
	d.measTemp = rff60.ToHalfDegreesRounded(temp)
	d.publish()
}

// TempMeasurement returns the room temperature register in °C
func (d *Device) TempMeasurement() float64 {
	return rff60.FromSignedHalfDegrees(d.measTemp)
}

// SetIgnoreMeasuredTemp sets bit 0 of the DIP switch register
func (d *Device) SetIgnoreMeasuredTemp(ignore bool) {
	d.dipSwitch = dipSwitchBase
	if ignore {
		d.dipSwitch |= 0x01
	}
	d.publish()
}

// IgnoreMeasuredTemp reports bit 0 of the DIP switch register
func (d *Device) IgnoreMeasuredTemp() bool {
	return d.dipSwitch&0x01 == 0x01
}

// applySettings copies the per-device part of s into the registers
func (d *Device) applySettings(s ThermoSettings) {
	d.SetSelector(s.Selector)
	d.SetTempOffset(s.TempOffset)
	d.SetTempMeasurement(s.TempMeasurement)
	d.SetIgnoreMeasuredTemp(s.IgnoreMeasuredTemp)
}

// configPatch returns the registers written into the regulator's config frame
func (d *Device) configPatch() rff60.ConfigPatch {
	return rff60.ConfigPatch{
		Address:     d.address,
		MeasTemp:    d.measTemp,
		Knob:        d.knob,
		Selector:    byte(d.selector),
		DipSwitch:   d.dipSwitch,
		ComfortTemp: d.comfortTemp,
		ReducedTemp: d.reducedTemp,
	}
}

// publish makes the current registers visible to Snapshot
func (d *Device) publish() {
	d.snapshot.Store(&Registers{
		Address:          d.address,
		PollAddress:      d.pollAddress,
		RegulatorAddress: d.regulatorAddress,
		Selector:         d.selector,
		Knob:             d.knob,
		MeasTemp:         d.measTemp,
		DipSwitch:        d.dipSwitch,
		ReducedTemp:      d.reducedTemp,
		ComfortTemp:      d.comfortTemp,
		SkipThermostats:  d.skipThermostats,
	})
}
