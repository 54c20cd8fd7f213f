// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rff60emu/pkg/bus"
)

type recordedFrame struct {
	dir    bus.Direction
	parity bus.Parity
	data   []byte
}

type memRecorder struct {
	frames []recordedFrame
	err    error
}

func (m *memRecorder) RecordFrame(_ time.Time, dir bus.Direction, parity bus.Parity, data []byte) error {
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, recordedFrame{dir, parity, append([]byte(nil), data...)})
	return nil
}

func TestDiagnostics_HexDumps(t *testing.T) {
	reg, dev := newMixer(t)
	s := enabled()
	s.VerboseLogging = VerboseBoth
	require.True(t, dev.SendSettings(s))

	var logBuf, serialBuf bytes.Buffer
	rec := &memRecorder{}

	sim := newSimRegulator(0x21)
	sim.poll(0x21, 0x21)
	e, _ := newTestEngine(reg, sim,
		WithLogger(zerolog.New(&logBuf).Level(zerolog.DebugLevel)),
		WithSerialLog(&serialBuf),
		WithRecorder(rec),
	)

	require.NoError(t, e.Cycle(context.Background()))

	assert.Contains(t, serialBuf.String(), "1> 21 \n")
	assert.Contains(t, serialBuf.String(), "2> 06 21 \n")
	assert.Contains(t, serialBuf.String(), "1> 06 90 \n")
	assert.Contains(t, logBuf.String(), "2> 06 21")

	require.NotEmpty(t, rec.frames)
	assert.Equal(t, recordedFrame{bus.DirRX, bus.ParitySpace, []byte{0x21}}, rec.frames[0])
	assert.Equal(t, recordedFrame{bus.DirTX, bus.ParitySpace, []byte{0x06, 0x21}}, rec.frames[2])
}

func TestDiagnostics_DisabledChannelsPause(t *testing.T) {
	reg := NewRegistry()
	var sleeps []time.Duration
	d := &diagnostics{
		flags:       reg,
		log:         zerolog.Nop(),
		apiDelay:    3 * time.Millisecond,
		serialDelay: time.Millisecond,
		sleep:       func(d time.Duration) { sleeps = append(sleeps, d) },
	}

	d.frame(bus.DirTX, bus.ParityMark, []byte{0x90})
	assert.Equal(t, []time.Duration{3 * time.Millisecond, time.Millisecond}, sleeps)

	sleeps = nil
	var serialBuf bytes.Buffer
	d.serial = &serialBuf
	reg.applyGlobals(ThermoSettings{VerboseLogging: VerboseBoth})
	d.frame(bus.DirTX, bus.ParityMark, []byte{0x90})
	assert.Empty(t, sleeps)
	assert.Equal(t, "2> 90 \n", serialBuf.String())

	sleeps = nil
	d.frame(bus.DirRX, bus.ParitySpace, nil)
	assert.Empty(t, sleeps, "nothing to dump")
}

func TestDiagnostics_RecorderFailureDisablesCapture(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	d := &diagnostics{
		flags:    NewRegistry(),
		log:      zerolog.Nop(),
		recorder: rec,
		sleep:    func(time.Duration) {},
	}

	d.frame(bus.DirTX, bus.ParitySpace, []byte{0x06})
	assert.Nil(t, d.recorder)
}
