// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// Registry errors
var (
	ErrDuplicatePollAddress = errors.New("poll address already registered")
	ErrRegistryFrozen       = errors.New("registry is frozen once the engine has started")
	ErrInvalidPollAddress   = errors.New("poll address does not carry even parity in bit 7")
	ErrNoSetpointSlot       = errors.New("address has no setpoint slot in the config frame")
	ErrInvalidRegulator     = errors.New("regulator address does not carry even parity in bit 7")
	ErrUnknownDevice        = errors.New("unknown device")
)

// Registry holds the emulated devices keyed by poll address, the readings
// mailbox and the bus-wide flags.
type Registry struct {
	mu      sync.RWMutex
	devices map[byte]*Device
	frozen  bool

	readings *Slot[ThermoReadings]

	remoteControl atomic.Bool
	apiLogging    atomic.Bool
	serialLogging atomic.Bool
}

// NewRegistry creates an empty registry. Remote control starts disabled,
// so the engine stays off the bus until the first settings arrive.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[byte]*Device),
		readings: NewSlot[ThermoReadings](),
	}
}

// AddInstance registers a device. It must be called before the engine
// starts.
func (r *Registry) AddInstance(address, pollAddress, regulatorAddress byte) (*Device, error) {
	if !rff60.IsPollAddress(pollAddress) {
		return nil, fmt.Errorf("device 0x%02X: poll address 0x%02X: %w", address, pollAddress, ErrInvalidPollAddress)
	}
	if !rff60.IsPollAddress(regulatorAddress) {
		return nil, fmt.Errorf("device 0x%02X: regulator address 0x%02X: %w", address, regulatorAddress, ErrInvalidRegulator)
	}
	if _, ok := rff60.SetpointOffset(address); !ok {
		return nil, fmt.Errorf("device 0x%02X: %w", address, ErrNoSetpointSlot)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return nil, ErrRegistryFrozen
	}
	if _, exists := r.devices[pollAddress]; exists {
		return nil, fmt.Errorf("device 0x%02X: poll address 0x%02X: %w", address, pollAddress, ErrDuplicatePollAddress)
	}

	d := newDevice(address, pollAddress, regulatorAddress)
	r.devices[pollAddress] = d
	return d, nil
}

// freeze rejects any further AddInstance
func (r *Registry) freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup finds a device by poll address
func (r *Registry) Lookup(pollAddress byte) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[pollAddress]
	return d, ok
}

// LookupAddress finds a device by data address
func (r *Registry) LookupAddress(address byte) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.devices {
		if d.address == address {
			return d, nil
		}
	}
	return nil, fmt.Errorf("address 0x%02X: %w", address, ErrUnknownDevice)
}

// Devices returns all devices ordered by poll address
func (r *Registry) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].pollAddress < devices[j].pollAddress
	})
	return devices
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SendReadings offers readings to the egress mailbox; dropped if one is pending
func (r *Registry) SendReadings(readings ThermoReadings) bool {
	return r.readings.Send(readings)
}

// ReceiveReadings takes the pending readings, if any
func (r *Registry) ReceiveReadings() (ThermoReadings, bool) {
	return r.readings.TryReceive()
}

// RemoteControl reports whether the engine is allowed on the bus
func (r *Registry) RemoteControl() bool { return r.remoteControl.Load() }

// APILogging reports whether hex dumps go to the structured logger
func (r *Registry) APILogging() bool { return r.apiLogging.Load() }

// SerialLogging reports whether hex dumps go to the serial console writer
func (r *Registry) SerialLogging() bool { return r.serialLogging.Load() }

// applyGlobals stores the bus-wide part of a settings value
func (r *Registry) applyGlobals(s ThermoSettings) {
	r.remoteControl.Store(s.RemoteControl)
	r.apiLogging.Store(s.VerboseLogging.API())
	r.serialLogging.Store(s.VerboseLogging.Serial())
}
