// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/capture"
	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

func newTestEmulation(t *testing.T) *emulation {
	t.Helper()
	em, err := newEmulation(config.Default(), "Serial: test", zerolog.Nop())
	require.NoError(t, err)
	return em
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestParseHexBytes(t *testing.T) {
	tests := []struct {
		args []string
		want []byte
	}{
		{[]string{"21", "10", "01", "02", "10"}, []byte{0x21, 0x10, 0x01, 0x02, 0x10}},
		{[]string{"2110010210"}, []byte{0x21, 0x10, 0x01, 0x02, 0x10}},
		{[]string{"0x21:0x10", "1"}, []byte{0x21, 0x10, 0x01}},
		{[]string{"AA,bb"}, []byte{0xaa, 0xbb}},
	}
	for _, tt := range tests {
		got, err := parseHexBytes(tt.args)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got, tt.args)
	}

	_, err := parseHexBytes([]string{"zz"})
	assert.Error(t, err)
	_, err = parseHexBytes([]string{":"})
	assert.Error(t, err)
}

func TestCRCCommand(t *testing.T) {
	var out bytes.Buffer
	crcCmd.SetOut(&out)
	defer crcCmd.SetOut(nil)

	require.NoError(t, runCRC(crcCmd, []string{"21", "10", "01", "02", "10"}))
	assert.Contains(t, out.String(), "Wire:  99 d1")
	assert.Contains(t, out.String(), "Frame: 82 21 10 01 02 10 99 d1 03")
}

func TestNewEmulation(t *testing.T) {
	em := newTestEmulation(t)

	assert.Equal(t, 2, em.reg.Len())
	assert.Equal(t, map[byte]string{0x21: "mixer", 0x23: "main"}, em.names)
	assert.Equal(t, []string{"main", "mixer"}, em.panel.Names())

	s, err := em.panel.Settings("main")
	require.NoError(t, err)
	assert.Equal(t, 20.0, s.TempMeasurement)
	assert.True(t, s.IgnoreMeasuredTemp)
	assert.False(t, s.RemoteControl)
}

func TestExecConsole(t *testing.T) {
	em := newTestEmulation(t)
	var out bytes.Buffer

	assert.True(t, execConsole(em, "set mixer selector eco", &out))
	assert.True(t, execConsole(em, "set mixer temp_offset -1.5", &out))
	assert.True(t, execConsole(em, "remote on", &out))
	assert.True(t, execConsole(em, "logging serial", &out))
	assert.Empty(t, out.String())

	s, err := em.panel.Settings("mixer")
	require.NoError(t, err)
	assert.Equal(t, rff60.SelectorEco, s.Selector)
	assert.Equal(t, -1.5, s.TempOffset)
	assert.True(t, s.RemoteControl)
	assert.Equal(t, emulator.VerboseSerial, s.VerboseLogging)

	assert.True(t, execConsole(em, "devices", &out))
	assert.Contains(t, out.String(), "Remote control: ENABLED   Verbose logging: SERIAL")
	assert.Contains(t, out.String(), "mixer      ECO         -1.5    20.0 false")

	out.Reset()
	assert.True(t, execConsole(em, "set garage selector eco", &out))
	assert.Contains(t, out.String(), "Error: ")

	out.Reset()
	assert.True(t, execConsole(em, "set mixer", &out))
	assert.Contains(t, out.String(), "Usage: set")

	out.Reset()
	assert.True(t, execConsole(em, "readings", &out))
	assert.Equal(t, "No readings yet\n", out.String())

	out.Reset()
	assert.True(t, execConsole(em, "dance", &out))
	assert.Contains(t, out.String(), "Unknown command: dance")

	assert.True(t, execConsole(em, "   ", &out))
	assert.False(t, execConsole(em, "quit", &out))
}

func TestExecConsole_Readings(t *testing.T) {
	em := newTestEmulation(t)
	em.stats.ReadingsPublished(emulator.ThermoReadings{
		Address:     0x21,
		Time:        time.Date(2025, 1, 15, 6, 30, 0, 0, time.Local),
		OutsideTemp: 5.0,
		BoilerTemp:  60.0,
	})

	var out bytes.Buffer
	execConsole(em, "readings", &out)
	assert.Contains(t, out.String(), "mixer           5.0      0.0      0.0     60.0 06:30:00")
}

func TestMonitorModel_Keys(t *testing.T) {
	em := newTestEmulation(t)
	m := newMonitorModel(em, nil)
	require.Len(t, m.devices, 2)
	assert.Equal(t, "mixer", m.devices[0].name, "rows follow the configuration order")

	update := func(msg tea.Msg) {
		model, _ := m.Update(msg)
		m = model.(monitorModel)
	}

	update(key("r"))
	assert.True(t, em.panel.RemoteControl())

	update(key("v"))
	assert.Equal(t, emulator.VerboseAPI, em.panel.VerboseLogging())

	update(key("s"))
	update(key("+"))
	update(key("+"))
	update(key("["))
	update(key("u"))

	s, err := em.panel.Settings("mixer")
	require.NoError(t, err)
	assert.Equal(t, rff60.SelectorComfort, s.Selector)
	assert.Equal(t, 1.0, s.TempOffset)
	assert.Equal(t, 19.5, s.TempMeasurement)
	assert.False(t, s.IgnoreMeasuredTemp)

	update(tea.KeyMsg{Type: tea.KeyDown})
	update(key("-"))
	s, err = em.panel.Settings("main")
	require.NoError(t, err)
	assert.Equal(t, -0.5, s.TempOffset)

	assert.NotEmpty(t, m.eventLog)
	assert.Contains(t, m.View(), "RFF60 EMULATOR - MONITOR")

	_, cmd := m.Update(key("q"))
	assert.NotNil(t, cmd)
}

func TestMonitorModel_Messages(t *testing.T) {
	em := newTestEmulation(t)
	lines := make(chan string, 1)
	m := newMonitorModel(em, lines)

	r := emulator.ThermoReadings{Address: 0x23, Time: time.Now(), OutsideTemp: -4.5}
	em.stats.ReadingsPublished(r)
	model, _ := m.Update(readingsMsg(r))
	m = model.(monitorModel)

	require.Len(t, m.eventLog, 1)
	assert.Contains(t, m.eventLog[0].message, "main: outside -4.5°C")
	assert.Equal(t, "-4.5", m.table.Rows()[1][5])

	model, cmd := m.Update(logLineMsg("engine started"))
	m = model.(monitorModel)
	assert.NotNil(t, cmd, "the next log line is awaited")
	assert.Equal(t, "engine started", m.eventLog[1].message)

	lines <- "next"
	assert.Equal(t, logLineMsg("next"), cmd())
}

func TestMonitorModel_EngineStopped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		logs int
	}{
		{"transport failure", errors.New("serial port gone"), 1},
		{"shutdown", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMonitorModel(newTestEmulation(t), nil)

			model, cmd := m.Update(engineStoppedMsg{err: tt.err})
			m = model.(monitorModel)

			require.NotNil(t, cmd)
			assert.Equal(t, tea.QuitMsg{}, cmd())
			assert.True(t, m.quitting)
			require.Len(t, m.eventLog, tt.logs)
			if tt.err != nil {
				assert.True(t, m.eventLog[0].isError)
				assert.Contains(t, m.eventLog[0].message, "serial port gone")
			}
		})
	}
}

func TestNextSelector(t *testing.T) {
	assert.Equal(t, rff60.SelectorComfort, nextSelector(rff60.SelectorTimer))
	assert.Equal(t, rff60.SelectorEco, nextSelector(rff60.SelectorComfort))
	assert.Equal(t, rff60.SelectorTimer, nextSelector(rff60.SelectorEco))
}

func TestLineWriter(t *testing.T) {
	ch := make(chan string, 1)
	w := lineWriter(ch)

	n, err := w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, err = w.Write([]byte("dropped\n"))
	require.NoError(t, err, "a full channel drops the line")

	assert.Equal(t, "first", <-ch)
	assert.Empty(t, ch)
}

func TestDumpRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf)
	require.NoError(t, err)

	ts := time.Date(2025, 1, 15, 6, 30, 0, 0, time.Local)
	require.NoError(t, w.RecordFrame(ts, bus.DirRX, bus.ParitySpace, []byte{0x21}))
	require.NoError(t, w.RecordFrame(ts, bus.DirTX, bus.ParityMark, []byte{0x06, 0x21}))
	require.NoError(t, w.RecordFrame(ts, bus.DirRX, bus.ParitySpace, []byte{0x82, 0x21, 0x10, 0x01, 0x02, 0x10, 0x00, 0x00, 0x03}))
	require.NoError(t, w.Flush())

	r, err := capture.NewReader(&buf)
	require.NoError(t, err)

	dumpValidate = true
	defer func() { dumpValidate = false }()

	var out bytes.Buffer
	require.NoError(t, dumpRecords(r, &out))

	assert.Contains(t, out.String(), "[06:30:00.000] 2> ")
	assert.Contains(t, out.String(), " [M]\n")
	assert.Contains(t, out.String(), "[CRC_ERROR] CRC mismatch")
	assert.Contains(t, out.String(), "3 records")
}

func TestDiscovery(t *testing.T) {
	d := newDiscovery()
	for i := 0; i < 3; i++ {
		d.observe([]byte{0x21})
		d.observe([]byte{0xa3})
		d.observe([]byte{rff60.RegulatorAddress})
	}
	d.observe(rff60.NewPollReply(0x21, false))
	d.observe([]byte{0x23}) // parity bit missing, not a poll

	units := d.sorted()
	require.Len(t, units, 2)
	assert.Equal(t, discoveredUnit{address: 0x21, polls: 3, replies: 1}, units[0])
	assert.Equal(t, discoveredUnit{address: 0x23, polls: 3}, units[1])

	free := d.freeDevices()
	require.Len(t, free, 1)
	assert.Equal(t, "unit_23", free[0].Name)
	assert.Equal(t, config.HexByte(0xa3), free[0].PollAddress)

	var out bytes.Buffer
	require.NoError(t, d.print(&out))
	assert.Contains(t, out.String(), "Polled addresses: 2")
	assert.Contains(t, out.String(), "answered")
	assert.Contains(t, out.String(), "name: unit_23")
}
