// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/rff60emu/pkg/bus"
)

// ErrExchangeAborted is returned when the regulator's answer is missing,
// malformed or unexpected. The engine drops the exchange and waits for the
// next poll; there is no retry.
var ErrExchangeAborted = errors.New("exchange aborted")

// receiveBufferSize bounds a wait-for-poll read
const receiveBufferSize = 1024

// Timing holds every pause and timeout of the engine
type Timing struct {
	ReadTimeout     time.Duration // wait for poll
	PollingTimeout  time.Duration // listen window after each poll byte
	ExchangeTimeout time.Duration // inside a data exchange

	RemoteDisabledPause time.Duration // idle time while remote control is off
	WaitPollDelay       time.Duration // between wait-for-poll reads
	HandshakeDelay      time.Duration // between 0x06 and 0x90 when opening an exchange
	AckDelay            time.Duration // after the regulator's {0x06, 0x90}
	FrameDelay          time.Duration // after a status or config frame

	APILogDelay    time.Duration // substitute for a disabled API dump
	SerialLogDelay time.Duration // substitute for a disabled serial dump
}

// DefaultTiming returns the timing observed on a live REA-131B bus
func DefaultTiming() Timing {
	return Timing{
		ReadTimeout:         bus.TimeoutRead,
		PollingTimeout:      bus.TimeoutPolling,
		ExchangeTimeout:     bus.TimeoutExchange,
		RemoteDisabledPause: time.Second,
		WaitPollDelay:       10 * time.Millisecond,
		HandshakeDelay:      70 * time.Millisecond,
		AckDelay:            time.Millisecond,
		FrameDelay:          6 * time.Millisecond,
		APILogDelay:         3 * time.Millisecond,
		SerialLogDelay:      time.Millisecond,
	}
}

// Engine runs the bus protocol on behalf of every device in a registry. It is
// the only user of the transport and the only writer of device registers.
type Engine struct {
	reg    *Registry
	bus    bus.Transport
	log    zerolog.Logger
	timing Timing
	stats  Collector
	diag   *diagnostics
	now    func() time.Time
	sleep  func(time.Duration)

	buf     [receiveBufferSize]byte
	running atomic.Bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger provides a custom logger instance for the engine.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = logger
	}
}

// WithTiming replaces the default timing
func WithTiming(t Timing) Option {
	return func(e *Engine) {
		e.timing = t
	}
}

// WithCollector injects a collector for engine events
func WithCollector(c Collector) Option {
	return func(e *Engine) {
		if c == nil {
			c = NoopCollector()
		}
		e.stats = c
	}
}

// WithSerialLog sets where serial-channel hex dumps are written (stderr by default)
func WithSerialLog(w io.Writer) Option {
	return func(e *Engine) {
		e.diag.serial = w
	}
}

// WithRecorder stores all bus traffic in r
func WithRecorder(r FrameRecorder) Option {
	return func(e *Engine) {
		e.diag.recorder = r
	}
}

// NewEngine creates an engine for the devices in reg talking over t
func NewEngine(reg *Registry, t bus.Transport, opts ...Option) *Engine {
	e := &Engine{
		reg:    reg,
		bus:    t,
		log:    zerolog.Nop(),
		timing: DefaultTiming(),
		stats:  NoopCollector(),
		now:    time.Now,
		sleep:  time.Sleep,
		diag: &diagnostics{
			flags:  reg,
			serial: os.Stderr,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	e.diag.log = e.log
	e.diag.apiDelay = e.timing.APILogDelay
	e.diag.serialDelay = e.timing.SerialLogDelay
	e.diag.sleep = e.sleep
	return e
}

// Run drives the bus until ctx is cancelled. The registry is frozen on entry.
// Cancellation is observed between cycles and while waiting for a poll,
// never in the middle of an exchange. Returns nil on cancellation and an
// error only if the transport fails for good.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	e.reg.freeze()
	e.log.Info().Int("devices", e.reg.Len()).Msg("engine started")

	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("engine stopped")
			return nil
		}

		err := e.Cycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrExchangeAborted):
			e.log.Debug().Err(err).Msg("exchange aborted")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			e.log.Info().Msg("engine stopped")
			return nil
		case errors.Is(err, bus.ErrClosed):
			return err
		default:
			return fmt.Errorf("engine: %w", err)
		}
	}
}

// Cycle performs one pass: drain settings, wait for a poll, exchange with
// the polled device and poll the bus on the regulator's behalf. Returns nil
// without touching the bus while remote control is disabled.
func (e *Engine) Cycle(ctx context.Context) error {
	e.stats.CycleStarted()

	dev, err := e.waitUntilPolled(ctx)
	if err != nil || dev == nil {
		return err
	}
	return e.exchangeWithHeader(dev)
}

// WaitUntilPolled listens for the next double poll of a registered device
// without answering it. The registry is frozen on entry. Used by bus probes.
func (e *Engine) WaitUntilPolled(ctx context.Context) (*Device, error) {
	e.reg.freeze()
	return e.waitUntilPolled(ctx)
}

// drainSettings applies every pending settings value. The bus-wide flags
// follow the last device drained.
func (e *Engine) drainSettings() {
	for _, d := range e.reg.Devices() {
		s, ok := d.settings.TryReceive()
		if !ok {
			continue
		}
		d.applySettings(s)
		e.reg.applyGlobals(s)
		e.stats.SettingsApplied(d.address)

		e.log.Debug().
			Str("device", hexByte(d.address)).
			Str("selector", d.selector.String()).
			Str("knob", hexByte(d.knob)).
			Str("meas_temp", hexByte(d.measTemp)).
			Str("dip_switch", hexByte(d.dipSwitch)).
			Bool("api_logging", e.reg.APILogging()).
			Bool("serial_logging", e.reg.SerialLogging()).
			Bool("remote_control", e.reg.RemoteControl()).
			Msg("settings applied")
	}
}

// waitUntilPolled listens until a registered poll address arrives twice in a
// row as a lone byte. Returns nil, nil when remote control is disabled.
func (e *Engine) waitUntilPolled(ctx context.Context) (*Device, error) {
	var prev byte
	havePrev := false

	e.log.Debug().Msg("waiting for polling")
	e.bus.SetTimeout(e.timing.ReadTimeout)

	for {
		e.drainSettings()

		if !e.reg.RemoteControl() {
			e.log.Debug().Msg("remote control is disabled")
			return nil, e.pause(ctx, e.timing.RemoteDisabledPause)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := e.receive(e.buf[:])
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil, err
			}
			e.log.Warn().Err(err).Msg("receive failed while waiting for poll")
		}

		if n == 1 {
			if dev, ok := e.reg.Lookup(e.buf[0]); ok {
				if havePrev && e.buf[0] == prev {
					e.stats.Polled(dev.address)
					e.bus.SetTimeout(e.timing.ExchangeTimeout)
					return dev, nil
				}
				prev = e.buf[0]
				havePrev = true
			}
		}

		if err := e.pause(ctx, e.timing.WaitPollDelay); err != nil {
			return nil, err
		}
	}
}

// pause sleeps for d unless ctx ends first
func (e *Engine) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// delay is an uninterruptible pause used inside exchanges
func (e *Engine) delay(d time.Duration) {
	if d > 0 {
		e.sleep(d)
	}
}

func (e *Engine) transmit(data []byte, parity bus.Parity) error {
	if err := e.bus.Transmit(data, parity); err != nil {
		return err
	}
	e.diag.frame(bus.DirTX, parity, data)
	return nil
}

func (e *Engine) receive(buf []byte) (int, error) {
	n, err := e.bus.Receive(buf)
	if n > 0 {
		e.diag.frame(bus.DirRX, bus.ParitySpace, buf[:n])
	}
	return n, err
}

func hexByte(b byte) string {
	return fmt.Sprintf("0x%02x", b)
}
