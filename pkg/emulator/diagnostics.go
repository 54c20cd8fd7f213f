// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

// FrameRecorder stores every byte sequence that crosses the bus
type FrameRecorder interface {
	RecordFrame(ts time.Time, dir bus.Direction, parity bus.Parity, data []byte) error
}

// diagnostics writes hex dumps of bus traffic. A disabled channel costs a
// fixed pause instead, so enabling a dump does not shift the bus timing.
type diagnostics struct {
	flags    *Registry
	log      zerolog.Logger
	serial   io.Writer
	recorder FrameRecorder

	apiDelay    time.Duration
	serialDelay time.Duration
	sleep       func(time.Duration)
}

func (d *diagnostics) frame(dir bus.Direction, parity bus.Parity, data []byte) {
	if len(data) == 0 {
		return
	}

	if d.recorder != nil {
		if err := d.recorder.RecordFrame(time.Now(), dir, parity, data); err != nil {
			d.log.Warn().Err(err).Msg("frame recording failed, capture disabled")
			d.recorder = nil
		}
	}

	line := rff60.HexDump(dir.Prefix(), data)

	if d.flags.APILogging() {
		d.log.Debug().Msg(line)
	} else {
		d.sleep(d.apiDelay)
	}

	if d.flags.SerialLogging() && d.serial != nil {
		fmt.Fprintln(d.serial, line)
	} else {
		d.sleep(d.serialDelay)
	}
}
