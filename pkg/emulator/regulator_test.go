// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"bytes"
	"sync"
	"time"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// ============================================================
// Simulated Regulator
// ============================================================

type sentFrame struct {
	data   []byte
	parity bus.Parity
}

// simRegulator is a bus.Transport that answers like an REA-131B. Every
// Receive returns at most one queued chunk; an empty queue behaves like a
// timeout.
type simRegulator struct {
	mu sync.Mutex

	queue    [][]byte
	sent     []sentFrame
	written  [][]byte
	timeouts []time.Duration
	receives int
	closed   bool

	// answerPolls lists the poll addresses that get a header reply to {0x06, poll}
	answerPolls map[byte]bool
	skip        bool
	header      []byte // overrides the header reply when set
	status      []byte
	config      []byte

	// address is the regulator's own bus address, 0x90 unless set
	address byte

	// silentHandshake drops the {0x06, address} reply to a handshake
	silentHandshake bool

	// handshakeLimit answers only that many handshakes when non-zero
	handshakeLimit int
	handshakes     int

	// dropWriteAck and dropPollReplyAck leave the config write-back and the
	// poll reply unacknowledged
	dropWriteAck     bool
	dropPollReplyAck bool

	// onEmpty runs when Receive finds nothing queued
	onEmpty func()
}

func newSimRegulator(polls ...byte) *simRegulator {
	r := &simRegulator{
		answerPolls: make(map[byte]bool),
		address:     rff60.RegulatorAddress,
		status:      buildStatus(0x0a, 0x32, 0x50, 0x78, 0x24, 0x2a),
		config:      buildConfig(),
	}
	for _, p := range polls {
		r.answerPolls[p] = true
	}
	return r
}

// poll queues a lone mark byte as the regulator would send it
func (r *simRegulator) poll(addrs ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range addrs {
		r.queue = append(r.queue, []byte{a})
	}
}

func (r *simRegulator) reply(chunks ...[]byte) {
	for _, c := range chunks {
		r.queue = append(r.queue, append([]byte(nil), c...))
	}
}

func (r *simRegulator) Transmit(data []byte, parity bus.Parity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return bus.ErrClosed
	}
	frame := append([]byte(nil), data...)
	r.sent = append(r.sent, sentFrame{data: frame, parity: parity})

	if parity == bus.ParityMark {
		// The regulator claims the bus when its own address is polled
		if len(frame) != 1 || frame[0] != r.address || r.silentHandshake {
			return nil
		}
		if r.handshakeLimit > 0 && r.handshakes >= r.handshakeLimit {
			return nil
		}
		r.handshakes++
		r.reply(rff60.AckReply(r.address))
		return nil
	}

	switch {
	case len(frame) == 2 && frame[0] == rff60.Ack:
		if r.answerPolls[frame[1]] {
			header := r.header
			if header == nil {
				header = rff60.NewHeaderReply(r.skip)
			}
			r.reply(header)
		}
	case len(frame) == rff60.CommandFrameSize && frame[2] == 0x10:
		r.reply([]byte{rff60.Ack})
		if frame[4] == rff60.OpStatus {
			r.reply(r.status)
		} else {
			r.reply(r.config)
		}
	case len(frame) == rff60.HeaderFrameSize && frame[2] == 0xaa && frame[3] == 0x01:
		if !r.dropPollReplyAck {
			r.reply([]byte{rff60.Ack})
		}
	case len(frame) == rff60.ConfigFrameSize:
		r.written = append(r.written, frame)
		if !r.dropWriteAck {
			r.reply([]byte{rff60.Ack})
		}
	}
	return nil
}

func (r *simRegulator) SetTimeout(d time.Duration) {
	r.mu.Lock()
	r.timeouts = append(r.timeouts, d)
	r.mu.Unlock()
}

func (r *simRegulator) Receive(buf []byte) (int, error) {
	r.mu.Lock()
	r.receives++
	if r.closed {
		r.mu.Unlock()
		return 0, bus.ErrClosed
	}
	if len(r.queue) == 0 {
		onEmpty := r.onEmpty
		r.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
		return 0, nil
	}
	defer r.mu.Unlock()

	n := copy(buf, r.queue[0])
	r.queue[0] = r.queue[0][n:]
	if len(r.queue[0]) == 0 {
		r.queue = r.queue[1:]
	}
	return n, nil
}

func (r *simRegulator) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// count returns how often data was transmitted with the given parity
func (r *simRegulator) count(data []byte, parity bus.Parity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.sent {
		if f.parity == parity && bytes.Equal(f.data, data) {
			n++
		}
	}
	return n
}

// indexOf returns the position of the first transmission equal to data, or -1
func (r *simRegulator) indexOf(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.sent {
		if bytes.Equal(f.data, data) {
			return i
		}
	}
	return -1
}

// ============================================================
// Frame Builders
// ============================================================

func buildStatus(outside, hotWater, mixer, boiler, reduced, comfort byte) []byte {
	frame := make([]byte, rff60.StatusFrameSize)
	copy(frame, rff60.StatusFramePrefix())
	frame[rff60.StatusOutsideTemp] = outside
	frame[rff60.StatusHotWaterTemp] = hotWater
	frame[rff60.StatusMixerTemp] = mixer
	frame[rff60.StatusBoilerTemp] = boiler
	frame[rff60.StatusReducedTemp] = reduced
	frame[rff60.StatusComfortTemp] = comfort
	frame[len(frame)-1] = rff60.MessageEnd
	rff60.InsertCRC(frame, 1, len(frame)-4)
	return frame
}

func buildConfig() []byte {
	frame := make([]byte, rff60.ConfigFrameSize)
	copy(frame, rff60.ConfigFramePrefix())
	for i := len(rff60.ConfigFramePrefix()); i < len(frame)-3; i++ {
		frame[i] = byte(i)
	}
	frame[len(frame)-1] = rff60.MessageEnd
	rff60.InsertCRC(frame, 1, len(frame)-4)
	return frame
}
