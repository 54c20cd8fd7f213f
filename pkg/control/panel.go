// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package control holds the user-facing state of every emulated thermostat
// and turns partial changes into complete settings values for the engine.
package control

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// Field names accepted by Set
const (
	FieldSelector        = "selector"
	FieldTempOffset      = "temp_offset"
	FieldTempMeasurement = "temp_measurement"
	FieldUseRoomTemp     = "use_room_temp"
	FieldRemoteControl   = "remote_control"
	FieldVerboseLogging  = "verbose_logging"
)

// Fields lists every field Set understands
var Fields = []string{
	FieldSelector,
	FieldTempOffset,
	FieldTempMeasurement,
	FieldUseRoomTemp,
	FieldRemoteControl,
	FieldVerboseLogging,
}

// Remote control option labels
const (
	RemoteEnabled  = "ENABLED"
	RemoteDisabled = "DISABLED"
)

// Panel errors
var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrUnknownField  = errors.New("unknown field")
	ErrDuplicateName = errors.New("device name already in use")
)

// SettingsSink receives complete settings values. *emulator.Device
// implements it.
type SettingsSink interface {
	SendSettings(s emulator.ThermoSettings) bool
}

type entry struct {
	sink     SettingsSink
	settings emulator.ThermoSettings
	pending  bool
}

// Panel is safe for concurrent use by any number of UIs and bridges.
type Panel struct {
	mu      sync.Mutex
	devices map[string]*entry
	remote  bool
	verbose emulator.VerboseLogging
	log     zerolog.Logger
}

// NewPanel creates an empty panel
func NewPanel(logger zerolog.Logger) *Panel {
	return &Panel{
		devices: make(map[string]*entry),
		log:     logger,
	}
}

// Add registers a device under name. The bus-wide fields of initial become
// the panel's global values.
func (p *Panel) Add(name string, sink SettingsSink, initial emulator.ThermoSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.devices[name]; exists {
		return fmt.Errorf("%q: %w", name, ErrDuplicateName)
	}
	p.devices[name] = &entry{sink: sink, settings: initial}
	p.remote = initial.RemoteControl
	p.verbose = initial.VerboseLogging
	return nil
}

// Names returns the registered device names in order
func (p *Panel) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.devices))
	for name := range p.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings returns the current settings of a device
func (p *Panel) Settings(name string) (emulator.ThermoSettings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(name)
	if err != nil {
		return emulator.ThermoSettings{}, err
	}
	return p.compose(e), nil
}

// RemoteControl reports the bus-wide remote control value
func (p *Panel) RemoteControl() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// VerboseLogging reports the bus-wide verbose logging value
func (p *Panel) VerboseLogging() emulator.VerboseLogging {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verbose
}

// SetSelector sets the mode selector from TIMER, COMFORT or ECO
func (p *Panel) SetSelector(name, selector string) error {
	sel, err := rff60.ParseSelector(selector)
	if err != nil {
		return err
	}
	return p.update(name, func(s *emulator.ThermoSettings) { s.Selector = sel })
}

// SetOffset sets the knob offset in °C
func (p *Panel) SetOffset(name string, offset float64) error {
	return p.update(name, func(s *emulator.ThermoSettings) { s.TempOffset = offset })
}

// SetMeasurement sets the room temperature reported to the regulator
func (p *Panel) SetMeasurement(name string, temp float64) error {
	return p.update(name, func(s *emulator.ThermoSettings) { s.TempMeasurement = temp })
}

// SetUseRoomTemp tells the regulator whether to use the reported room
// temperature. It is the inverse of the ignore-measured-temperature flag.
func (p *Panel) SetUseRoomTemp(name string, use bool) error {
	return p.update(name, func(s *emulator.ThermoSettings) { s.IgnoreMeasuredTemp = !use })
}

// SetRemoteControl enables or disables the engine on the bus and pushes the
// change to every device.
func (p *Panel) SetRemoteControl(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = enabled
	p.pushAll()
}

// SetVerboseLogging selects the hex dump channels and pushes the change to
// every device.
func (p *Panel) SetVerboseLogging(v emulator.VerboseLogging) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verbose = v
	p.pushAll()
}

// Apply pushes the current settings of name to its device
func (p *Panel) Apply(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(name)
	if err != nil {
		return err
	}
	p.push(name, e)
	return nil
}

// ApplyAll pushes the current settings of every device
func (p *Panel) ApplyAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushAll()
}

// Flush resends every settings value that was dropped because the device
// had not consumed the previous one. Returns the number still pending.
func (p *Panel) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	remaining := 0
	for name, e := range p.devices {
		if !e.pending {
			continue
		}
		p.push(name, e)
		if e.pending {
			remaining++
		}
	}
	return remaining
}

// Set changes one field from its text form. remote_control and
// verbose_logging are bus-wide and ignore name.
func (p *Panel) Set(name, field, value string) error {
	value = strings.TrimSpace(value)

	switch field {
	case FieldSelector:
		return p.SetSelector(name, value)
	case FieldTempOffset:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return p.SetOffset(name, v)
	case FieldTempMeasurement:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return p.SetMeasurement(name, v)
	case FieldUseRoomTemp:
		v, err := parseSwitch(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return p.SetUseRoomTemp(name, v)
	case FieldRemoteControl:
		v, err := ParseRemoteControl(value)
		if err != nil {
			return err
		}
		p.SetRemoteControl(v)
		return nil
	case FieldVerboseLogging:
		v, err := emulator.ParseVerboseLogging(value)
		if err != nil {
			return err
		}
		p.SetVerboseLogging(v)
		return nil
	}
	return fmt.Errorf("%q: %w", field, ErrUnknownField)
}

// ParseRemoteControl parses ENABLED or DISABLED (case-insensitive)
func ParseRemoteControl(s string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case RemoteEnabled:
		return true, nil
	case RemoteDisabled:
		return false, nil
	}
	return false, fmt.Errorf("unknown remote control option %q (use ENABLED or DISABLED)", s)
}

// RemoteControlLabel returns ENABLED or DISABLED
func RemoteControlLabel(enabled bool) string {
	if enabled {
		return RemoteEnabled
	}
	return RemoteDisabled
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("unknown switch value %q (use ON or OFF)", s)
}

func (p *Panel) update(name string, fn func(s *emulator.ThermoSettings)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.lookup(name)
	if err != nil {
		return err
	}
	fn(&e.settings)
	p.push(name, e)
	return nil
}

func (p *Panel) lookup(name string) (*entry, error) {
	e, ok := p.devices[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownDevice)
	}
	return e, nil
}

// compose merges the device fields with the bus-wide values
func (p *Panel) compose(e *entry) emulator.ThermoSettings {
	s := e.settings
	s.RemoteControl = p.remote
	s.VerboseLogging = p.verbose
	return s
}

func (p *Panel) push(name string, e *entry) {
	s := p.compose(e)
	e.pending = !e.sink.SendSettings(s)
	if e.pending {
		p.log.Debug().Str("device", name).Msg("settings pending, device has not consumed the previous value")
		return
	}
	p.log.Debug().
		Str("device", name).
		Str("selector", s.Selector.String()).
		Float64("temp_offset", s.TempOffset).
		Float64("temp_measurement", s.TempMeasurement).
		Bool("ignore_measured_temp", s.IgnoreMeasuredTemp).
		Str("verbose_logging", s.VerboseLogging.String()).
		Bool("remote_control", s.RemoteControl).
		Msg("settings sent")
}

func (p *Panel) pushAll() {
	for name, e := range p.devices {
		p.push(name, e)
	}
}
