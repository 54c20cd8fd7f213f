// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// ============================================================
// Test Helpers
// ============================================================

type sentByte struct {
	value  byte
	parity serial.Parity
	rts    bool
}

// fakeSerial records what the SerialPort does to the UART. Methods the
// transport never calls fall through to the nil embedded interface.
type fakeSerial struct {
	serial.Port

	parity      serial.Parity
	modeChanges int
	rts         bool
	rtsHistory  []bool
	dtrHistory  []bool
	drains      int
	sent        []sentByte
	reads       [][]byte
	readErr     error
	readTimeout time.Duration
	closed      bool
}

func (f *fakeSerial) SetMode(m *serial.Mode) error {
	f.parity = m.Parity
	f.modeChanges++
	return nil
}

func (f *fakeSerial) Write(p []byte) (int, error) {
	for _, b := range p {
		f.sent = append(f.sent, sentByte{value: b, parity: f.parity, rts: f.rts})
	}
	return len(p), nil
}

func (f *fakeSerial) Drain() error {
	f.drains++
	return nil
}

func (f *fakeSerial) SetRTS(on bool) error {
	f.rts = on
	f.rtsHistory = append(f.rtsHistory, on)
	return nil
}

func (f *fakeSerial) SetDTR(on bool) error {
	f.dtrHistory = append(f.dtrHistory, on)
	return nil
}

func (f *fakeSerial) SetReadTimeout(d time.Duration) error {
	f.readTimeout = d
	return nil
}

// Read returns one queued chunk per call; an empty chunk or an empty queue
// behaves like a timeout.
func (f *fakeSerial) Read(p []byte) (int, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.reads) == 0 {
		return 0, nil
	}
	n := copy(p, f.reads[0])
	f.reads[0] = f.reads[0][n:]
	if len(f.reads[0]) == 0 {
		f.reads = f.reads[1:]
	}
	return n, nil
}

func (f *fakeSerial) Close() error {
	f.closed = true
	return nil
}

func newTestSerial(t *testing.T, txEnable TxEnable) (*SerialPort, *fakeSerial) {
	t.Helper()
	fake := &fakeSerial{parity: serial.SpaceParity}
	mode := serial.Mode{BaudRate: 9600, DataBits: 8, Parity: serial.SpaceParity, StopBits: serial.OneStopBit}
	s, err := newSerialPort(fake, mode, SerialConfig{TxEnable: txEnable})
	require.NoError(t, err)
	s.pacer.sleep = func(time.Duration) {}
	return s, fake
}

// ============================================================
// Transmit Tests
// ============================================================

func TestSerialTransmit_ParitySwitch(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)

	require.NoError(t, s.Transmit([]byte{0x06}, ParitySpace))
	require.NoError(t, s.Transmit([]byte{0x90}, ParityMark))
	require.NoError(t, s.Transmit([]byte{0x21, 0x21}, ParityMark))
	require.NoError(t, s.Transmit([]byte{0x82, 0x21}, ParitySpace))

	require.Len(t, fake.sent, 6)
	assert.Equal(t, serial.SpaceParity, fake.sent[0].parity)
	assert.Equal(t, serial.MarkParity, fake.sent[1].parity)
	assert.Equal(t, serial.MarkParity, fake.sent[2].parity)
	assert.Equal(t, serial.MarkParity, fake.sent[3].parity)
	assert.Equal(t, serial.SpaceParity, fake.sent[4].parity)

	// Mode only changes when the parity does
	assert.Equal(t, 2, fake.modeChanges)
}

func TestSerialTransmit_TxEnableRTS(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableRTS)

	require.NoError(t, s.Transmit([]byte{0x06, 0x21}, ParitySpace))

	for _, b := range fake.sent {
		assert.True(t, b.rts, "byte 0x%02x sent without tx enable", b.value)
	}
	assert.False(t, fake.rts, "tx enable must be released after transmit")
	assert.Equal(t, []bool{false, true, false}, fake.rtsHistory)
	assert.Empty(t, fake.dtrHistory)
	assert.GreaterOrEqual(t, fake.drains, 1)
}

func TestSerialTransmit_TxEnableDTR(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableDTR)

	require.NoError(t, s.Transmit([]byte{0x06}, ParitySpace))
	assert.Equal(t, []bool{false, true, false}, fake.dtrHistory)
	assert.Empty(t, fake.rtsHistory)
}

func TestSerialTransmit_PacesBetweenBytesOnly(t *testing.T) {
	s, _ := newTestSerial(t, TxEnableNone)

	now := time.Unix(0, 0)
	var sleeps []time.Duration
	s.pacer.now = func() time.Time { return now }
	s.pacer.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		now = now.Add(d)
	}

	require.NoError(t, s.Transmit([]byte{0x82, 0x21, 0x10, 0x01}, ParitySpace))
	assert.Equal(t, []time.Duration{DefaultPacing, DefaultPacing, DefaultPacing}, sleeps)

	sleeps = nil
	require.NoError(t, s.Transmit([]byte{0x90}, ParityMark))
	assert.Empty(t, sleeps, "a single byte needs no pacing")
}

func TestSerialTransmit_Empty(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableRTS)
	require.NoError(t, s.Transmit(nil, ParityMark))
	assert.Empty(t, fake.sent)
	assert.Equal(t, []bool{false}, fake.rtsHistory)
}

func TestSerialTransmit_AfterClose(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)
	require.NoError(t, s.Close())
	assert.True(t, fake.closed)

	err := s.Transmit([]byte{0x06}, ParitySpace)
	assert.ErrorIs(t, err, ErrClosed)
	require.NoError(t, s.Close(), "second close is a no-op")
}

// ============================================================
// Receive Tests
// ============================================================

func TestSerialReceive_CollectsUntilFull(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)
	fake.reads = [][]byte{{0x06}, {0x90}, {0x21}}

	buf := make([]byte, 2)
	n, err := s.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{0x06, 0x90}, buf)
}

func TestSerialReceive_StopsOnTimeout(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)
	fake.reads = [][]byte{{0x06}, {}, {0x90}}

	buf := make([]byte, 2)
	n, err := s.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(0x90), buf[0])

	n, err = s.Receive(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing on the wire is not an error")
}

func TestSerialReceive_ReadError(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)
	fake.readErr = errors.New("device unplugged")

	_, err := s.Receive(make([]byte, 9))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestSerialSetTimeout(t *testing.T) {
	s, fake := newTestSerial(t, TxEnableNone)
	assert.Equal(t, TimeoutPolling, fake.readTimeout)

	s.SetTimeout(TimeoutExchange)
	assert.Equal(t, TimeoutExchange, fake.readTimeout)

	s.SetTimeout(TimeoutRead)
	assert.Equal(t, TimeoutRead, fake.readTimeout)
}

// ============================================================
// Pacer / Enum Tests
// ============================================================

func TestPacer_DeadlineBased(t *testing.T) {
	now := time.Unix(0, 0)
	var sleeps []time.Duration

	p := newPacer(3 * time.Millisecond)
	p.now = func() time.Time { return now }
	p.sleep = func(d time.Duration) {
		sleeps = append(sleeps, d)
		now = now.Add(d)
	}

	p.start()
	p.wait() // t=0 -> sleep until 3ms
	now = now.Add(5 * time.Millisecond)
	p.wait() // deadline 6ms already passed at 8ms
	p.wait() // deadline 9ms, 1ms left

	assert.Equal(t, []time.Duration{3 * time.Millisecond, time.Millisecond}, sleeps)
}

func TestPacer_ZeroInterval(t *testing.T) {
	p := newPacer(0)
	p.sleep = func(time.Duration) { t.Fatal("zero interval must not sleep") }
	p.start()
	p.wait()
}

func TestParseTxEnable(t *testing.T) {
	tests := []struct {
		in   string
		want TxEnable
		ok   bool
	}{
		{"", TxEnableNone, true},
		{"none", TxEnableNone, true},
		{"RTS", TxEnableRTS, true},
		{" dtr ", TxEnableDTR, true},
		{"gpio4", TxEnableNone, false},
	}
	for _, tt := range tests {
		got, err := ParseTxEnable(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
			assert.Equal(t, tt.want.String(), got.String())
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestParityString(t *testing.T) {
	assert.Equal(t, "SPACE", ParitySpace.String())
	assert.Equal(t, "MARK", ParityMark.String())
	assert.Equal(t, "UNKNOWN(7)", Parity(7).String())
}
