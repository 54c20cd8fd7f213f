// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"fmt"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// abort counts a failed exchange for dev and wraps the reason
func (e *Engine) abort(dev *Device, format string, args ...interface{}) error {
	e.stats.ExchangeAborted(dev.address)
	return fmt.Errorf("%w: device %s: %s", ErrExchangeAborted, hexByte(dev.address), fmt.Sprintf(format, args...))
}

// abortErr is abort for transport failures; the cause stays in the chain
func (e *Engine) abortErr(dev *Device, step string, err error) error {
	e.stats.ExchangeAborted(dev.address)
	return fmt.Errorf("%w: device %s: %s: %w", ErrExchangeAborted, hexByte(dev.address), step, err)
}

// exchangeWithHeader answers the regulator's poll, learns the skip flag from
// its header reply and continues with the data exchange.
func (e *Engine) exchangeWithHeader(dev *Device) error {
	e.bus.SetTimeout(e.timing.ExchangeTimeout)

	if err := e.transmit([]byte{rff60.Ack, dev.pollAddress}, bus.ParitySpace); err != nil {
		return e.abortErr(dev, "select", err)
	}

	header, err := e.receiveFrame(dev, rff60.HeaderFrameSize, rff60.HeaderReplyPrefix(), "header reply")
	if err != nil {
		return err
	}
	dev.skipThermostats = rff60.SkipFlag(header)
	dev.publish()

	return e.dataExchange(dev, make(map[*Device]bool))
}

// dataExchange reads the status block, reads the config block and writes it
// back with the device's registers, then polls the remaining addresses.
// visited holds the devices already exchanged in this cycle.
func (e *Engine) dataExchange(dev *Device, visited map[*Device]bool) error {
	visited[dev] = true
	e.bus.SetTimeout(e.timing.ExchangeTimeout)

	// Status block
	if err := e.transmit([]byte{rff60.Ack}, bus.ParitySpace); err != nil {
		return e.abortErr(dev, "open exchange", err)
	}
	e.delay(e.timing.HandshakeDelay)
	if err := e.handshake(dev); err != nil {
		return err
	}
	if err := e.transmit(rff60.NewCommandFrame(dev.address, rff60.OpStatus), bus.ParitySpace); err != nil {
		return e.abortErr(dev, "status request", err)
	}
	if err := e.expectAck(dev, "status request"); err != nil {
		return err
	}
	frame, err := e.receiveFrame(dev, rff60.StatusFrameSize, rff60.StatusFramePrefix(), "status frame")
	if err != nil {
		return err
	}
	st, err := rff60.ParseStatus(frame)
	if err != nil {
		return e.abort(dev, "%v", err)
	}
	e.publishReadings(dev, st)
	e.delay(e.timing.FrameDelay)

	// Config block
	if err := e.handshake(dev); err != nil {
		return err
	}
	if err := e.transmit(rff60.NewCommandFrame(dev.address, rff60.OpConfig), bus.ParitySpace); err != nil {
		return e.abortErr(dev, "config request", err)
	}
	if err := e.expectAck(dev, "config request"); err != nil {
		return err
	}
	config, err := e.receiveFrame(dev, rff60.ConfigFrameSize, rff60.ConfigFramePrefix(), "config frame")
	if err != nil {
		return err
	}
	e.delay(e.timing.FrameDelay)

	// Config write-back
	if err := e.handshake(dev); err != nil {
		return err
	}
	if err := rff60.PatchConfig(config, dev.configPatch()); err != nil {
		return e.abort(dev, "%v", err)
	}
	if err := e.transmit(config, bus.ParitySpace); err != nil {
		return e.abortErr(dev, "config write", err)
	}
	if err := e.expectAck(dev, "config write"); err != nil {
		return err
	}

	e.stats.ExchangeCompleted(dev.address)
	e.log.Debug().Str("device", hexByte(dev.address)).Msg("completed data exchange")

	return e.pollSiblings(dev, visited)
}

// handshake sends the regulator address (0x90 by default) with mark parity
// and expects {0x06, address} back.
func (e *Engine) handshake(dev *Device) error {
	if err := e.transmit([]byte{dev.regulatorAddress}, bus.ParityMark); err != nil {
		return e.abortErr(dev, "handshake", err)
	}
	var reply [2]byte
	n, err := e.receive(reply[:])
	if err != nil {
		return e.abortErr(dev, "handshake", err)
	}
	if !rff60.VerifyRegulatorReply(reply[:n], 2, dev.regulatorAddress) {
		return e.abort(dev, "handshake: got % x, want % x", reply[:n], rff60.AckReply(dev.regulatorAddress))
	}
	e.delay(e.timing.AckDelay)
	return nil
}

// expectAck receives the regulator's single-byte acknowledgement
func (e *Engine) expectAck(dev *Device, step string) error {
	var reply [1]byte
	n, err := e.receive(reply[:])
	if err != nil {
		return e.abortErr(dev, step, err)
	}
	if !rff60.VerifyReply(reply[:n], 1) {
		return e.abort(dev, "%s: got % x, want 06", step, reply[:n])
	}
	return nil
}

// receiveFrame reads a size-byte frame and checks envelope, CRC and header
func (e *Engine) receiveFrame(dev *Device, size int, prefix []byte, name string) ([]byte, error) {
	frame := make([]byte, size)
	n, err := e.receive(frame)
	if err != nil {
		return nil, e.abortErr(dev, name, err)
	}
	frame = frame[:n]
	if n != size {
		return nil, e.abort(dev, "%s: got %d bytes, want %d", name, n, size)
	}
	if !rff60.VerifyMessage(frame) {
		return nil, e.abort(dev, "%s: failed envelope or CRC check", name)
	}
	if !rff60.HasPrefix(frame, prefix) {
		return nil, e.abort(dev, "%s: header % x, want % x", name, frame[:len(prefix)], prefix)
	}
	return frame, nil
}

// publishReadings stores the setpoints of a status frame and offers the
// sensor values to the readings mailbox.
func (e *Engine) publishReadings(dev *Device, st rff60.Status) {
	dev.reducedTemp = st.ReducedTemp
	dev.comfortTemp = st.ComfortTemp
	dev.publish()

	readings := ThermoReadings{
		Address:      dev.address,
		Time:         e.now(),
		OutsideTemp:  st.OutsideTemp,
		HotWaterTemp: st.HotWaterTemp,
		MixerTemp:    st.MixerTemp,
		BoilerTemp:   st.BoilerTemp,
	}
	e.stats.ReadingsPublished(readings)
	if !e.reg.SendReadings(readings) {
		e.log.Debug().Str("device", hexByte(dev.address)).Msg("readings mailbox full, dropped")
	}
}
