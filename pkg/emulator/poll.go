// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// siblingRepeat is the repetition of a poll byte at which another emulated
// device answers, the way a real unit would after hearing its address twice.
const siblingRepeat = 1

// pollSiblings polls the rest of the address list for the regulator after
// dev's exchange. Another emulated device in the list is answered for
// directly and its exchange replaces the remaining polling. A {0x06, address}
// from dev's regulator ends polling with a poll reply. Running out of
// addresses is not an error.
func (e *Engine) pollSiblings(dev *Device, visited map[*Device]bool) error {
	e.bus.SetTimeout(e.timing.PollingTimeout)
	e.log.Debug().Str("device", hexByte(dev.address)).Msg("polling")

	var reply [2]byte
	seq := rff60.PollSequence()
	for i := rff60.SlotIndex(dev.address); i < len(seq); i++ {
		addr := seq[i]

		for j := 0; j < rff60.PollRepeats; j++ {
			if err := e.transmit([]byte{addr}, bus.ParityMark); err != nil {
				return e.abortErr(dev, "poll", err)
			}

			if j == siblingRepeat {
				if sib, ok := e.reg.Lookup(addr); ok && sib != dev && !visited[sib] {
					return e.simulateSibling(dev, sib, visited)
				}
			}

			n, err := e.receive(reply[:])
			if err != nil {
				return e.abortErr(dev, "poll", err)
			}
			if n == 2 && rff60.VerifyRegulatorReply(reply[:n], 2, dev.regulatorAddress) {
				return e.answerRegulator(dev)
			}
		}
	}

	e.log.Debug().Str("device", hexByte(dev.address)).Msg("finished polling")
	return nil
}

// simulateSibling plays the part of sib answering its poll, then runs sib's
// data exchange as if the regulator had selected it.
func (e *Engine) simulateSibling(dev, sib *Device, visited map[*Device]bool) error {
	dev.skipThermostats = false
	dev.publish()

	if err := e.transmit([]byte{rff60.Ack, sib.pollAddress}, bus.ParitySpace); err != nil {
		return e.abortErr(dev, "sibling select", err)
	}
	if err := e.transmit(rff60.NewSiblingHeader(dev.address, dev.skipThermostats), bus.ParitySpace); err != nil {
		return e.abortErr(dev, "sibling header", err)
	}

	sib.skipThermostats = dev.skipThermostats
	sib.publish()
	e.stats.SiblingSimulated(dev.address, sib.address)
	e.log.Debug().
		Str("device", hexByte(dev.address)).
		Str("sibling", hexByte(sib.address)).
		Msg("finished polling, handing over to sibling")

	return e.dataExchange(sib, visited)
}

// answerRegulator sends the poll reply after the regulator claimed the bus
func (e *Engine) answerRegulator(dev *Device) error {
	if err := e.transmit(rff60.NewPollReply(dev.address, dev.skipThermostats), bus.ParitySpace); err != nil {
		return e.abortErr(dev, "poll reply", err)
	}
	if err := e.expectAck(dev, "poll reply"); err != nil {
		return err
	}
	e.stats.RegulatorReplied(dev.address)
	e.log.Debug().Str("device", hexByte(dev.address)).Msg("finished polling, got reply from regulator")
	return nil
}
