// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package control

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// sink records sent settings; full makes every send fail
type sink struct {
	sent []emulator.ThermoSettings
	full bool
}

func (s *sink) SendSettings(v emulator.ThermoSettings) bool {
	if s.full {
		return false
	}
	s.sent = append(s.sent, v)
	return true
}

func (s *sink) last(t *testing.T) emulator.ThermoSettings {
	t.Helper()
	require.NotEmpty(t, s.sent)
	return s.sent[len(s.sent)-1]
}

func newPanel(t *testing.T) (*Panel, *sink, *sink) {
	t.Helper()
	p := NewPanel(zerolog.Nop())
	mixer, main := &sink{}, &sink{}
	require.NoError(t, p.Add("mixer", mixer, emulator.ThermoSettings{TempMeasurement: 20}))
	require.NoError(t, p.Add("main", main, emulator.ThermoSettings{TempMeasurement: 20}))
	return p, mixer, main
}

func TestPanel_Add(t *testing.T) {
	p, _, _ := newPanel(t)
	assert.Equal(t, []string{"main", "mixer"}, p.Names())

	err := p.Add("mixer", &sink{}, emulator.ThermoSettings{})
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestPanel_DeviceFields(t *testing.T) {
	p, mixer, main := newPanel(t)

	require.NoError(t, p.SetSelector("mixer", "comfort"))
	require.NoError(t, p.SetOffset("mixer", 2.5))
	require.NoError(t, p.SetMeasurement("mixer", 21.5))
	require.NoError(t, p.SetUseRoomTemp("mixer", false))

	assert.Len(t, mixer.sent, 4, "every change pushes a complete value")
	assert.Empty(t, main.sent)

	assert.Equal(t, emulator.ThermoSettings{
		Selector:           rff60.SelectorComfort,
		TempOffset:         2.5,
		TempMeasurement:    21.5,
		IgnoreMeasuredTemp: true,
	}, mixer.last(t))

	require.NoError(t, p.SetUseRoomTemp("mixer", true))
	assert.False(t, mixer.last(t).IgnoreMeasuredTemp, "use_room_temp is inverted")

	assert.Error(t, p.SetSelector("mixer", "party"))
	assert.ErrorIs(t, p.SetOffset("garage", 1), ErrUnknownDevice)
}

func TestPanel_GlobalFields(t *testing.T) {
	p, mixer, main := newPanel(t)
	require.NoError(t, p.SetOffset("mixer", -1))

	p.SetRemoteControl(true)
	p.SetVerboseLogging(emulator.VerboseBoth)

	for _, s := range []*sink{mixer, main} {
		got := s.last(t)
		assert.True(t, got.RemoteControl)
		assert.Equal(t, emulator.VerboseBoth, got.VerboseLogging)
	}
	assert.Equal(t, -1.0, mixer.last(t).TempOffset, "device fields are kept")
	assert.True(t, p.RemoteControl())
	assert.Equal(t, emulator.VerboseBoth, p.VerboseLogging())

	s, err := p.Settings("main")
	require.NoError(t, err)
	assert.True(t, s.RemoteControl)
}

func TestPanel_Set(t *testing.T) {
	p, mixer, _ := newPanel(t)

	tests := []struct {
		field string
		value string
		check func(t *testing.T, s emulator.ThermoSettings)
	}{
		{FieldSelector, "ECO", func(t *testing.T, s emulator.ThermoSettings) {
			assert.Equal(t, rff60.SelectorEco, s.Selector)
		}},
		{FieldTempOffset, " -1.5 ", func(t *testing.T, s emulator.ThermoSettings) {
			assert.Equal(t, -1.5, s.TempOffset)
		}},
		{FieldTempMeasurement, "19", func(t *testing.T, s emulator.ThermoSettings) {
			assert.Equal(t, 19.0, s.TempMeasurement)
		}},
		{FieldUseRoomTemp, "ON", func(t *testing.T, s emulator.ThermoSettings) {
			assert.False(t, s.IgnoreMeasuredTemp)
		}},
		{FieldRemoteControl, "enabled", func(t *testing.T, s emulator.ThermoSettings) {
			assert.True(t, s.RemoteControl)
		}},
		{FieldVerboseLogging, "API", func(t *testing.T, s emulator.ThermoSettings) {
			assert.Equal(t, emulator.VerboseAPI, s.VerboseLogging)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			require.NoError(t, p.Set("mixer", tt.field, tt.value))
			tt.check(t, mixer.last(t))
		})
	}

	assert.ErrorIs(t, p.Set("mixer", "color", "red"), ErrUnknownField)
	assert.Error(t, p.Set("mixer", FieldTempOffset, "warm"))
	assert.Error(t, p.Set("mixer", FieldUseRoomTemp, "maybe"))
	assert.Error(t, p.Set("mixer", FieldRemoteControl, "sometimes"))
	assert.Error(t, p.Set("mixer", FieldVerboseLogging, "LOUD"))
}

func TestPanel_FlushResendsDropped(t *testing.T) {
	p, mixer, _ := newPanel(t)

	mixer.full = true
	require.NoError(t, p.SetOffset("mixer", 3))
	assert.Empty(t, mixer.sent)
	assert.Equal(t, 1, p.Flush())

	mixer.full = false
	assert.Equal(t, 0, p.Flush())
	assert.Equal(t, 3.0, mixer.last(t).TempOffset)
	assert.Equal(t, 0, p.Flush())
	assert.Len(t, mixer.sent, 1)
}

func TestPanel_WithDevice(t *testing.T) {
	reg := emulator.NewRegistry()
	dev, err := reg.AddInstance(0x21, 0x21, rff60.RegulatorAddress)
	require.NoError(t, err)

	p := NewPanel(zerolog.Nop())
	require.NoError(t, p.Add("mixer", dev, emulator.ThermoSettings{}))
	require.NoError(t, p.Apply("mixer"))
	require.NoError(t, p.SetOffset("mixer", 1), "drop is not an error")
	assert.Equal(t, 1, p.Flush())
}

func TestParseRemoteControl(t *testing.T) {
	v, err := ParseRemoteControl("ENABLED")
	require.NoError(t, err)
	assert.True(t, v)
	v, err = ParseRemoteControl("disabled")
	require.NoError(t, err)
	assert.False(t, v)
	_, err = ParseRemoteControl("on")
	assert.Error(t, err)

	assert.Equal(t, "ENABLED", RemoteControlLabel(true))
	assert.Equal(t, "DISABLED", RemoteControlLabel(false))
}
