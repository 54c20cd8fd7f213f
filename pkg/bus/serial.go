// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bus

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds the settings of a local UART
type SerialConfig struct {
	Port     string
	BaudRate int
	TxEnable TxEnable
	Pacing   time.Duration
}

// SerialPort drives the bus through a local UART. Parity is switched with
// SetMode between bytes, which requires the output to be drained first.
type SerialPort struct {
	port     serial.Port
	mode     serial.Mode
	txEnable TxEnable
	pacer    *pacer

	mu      sync.Mutex // held for each parity switch + byte write
	parity  Parity
	closed  bool
	timeout time.Duration
	err     error
}

// OpenSerial opens a serial port configured for the bus: 8 data bits, one
// stop bit, space parity until the first mark byte is sent.
func OpenSerial(cfg SerialConfig) (*SerialPort, error) {
	mode := serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.SpaceParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	s, err := newSerialPort(port, mode, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

func newSerialPort(port serial.Port, mode serial.Mode, cfg SerialConfig) (*SerialPort, error) {
	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}

	s := &SerialPort{
		port:     port,
		mode:     mode,
		txEnable: cfg.TxEnable,
		pacer:    newPacer(pacing),
		parity:   ParitySpace,
	}

	if err := s.setTxEnable(false); err != nil {
		return nil, fmt.Errorf("failed to release tx enable: %w", err)
	}
	s.SetTimeout(TimeoutPolling)
	if s.err != nil {
		return nil, s.err
	}
	return s, nil
}

// Transmit implements Transport
func (s *SerialPort) Transmit(data []byte, parity Parity) error {
	if len(data) == 0 {
		return nil
	}

	if err := s.setTxEnable(true); err != nil {
		return fmt.Errorf("failed to assert tx enable: %w", err)
	}

	s.pacer.start()
	for i, b := range data {
		if err := s.writeByte(b, parity); err != nil {
			s.setTxEnable(false)
			return err
		}
		if i < len(data)-1 {
			s.pacer.wait()
		}
	}

	// The driver must stay enabled until the last stop bit is out
	if err := s.port.Drain(); err != nil {
		s.setTxEnable(false)
		return fmt.Errorf("failed to drain serial output: %w", err)
	}
	if err := s.setTxEnable(false); err != nil {
		return fmt.Errorf("failed to release tx enable: %w", err)
	}
	return nil
}

func (s *SerialPort) writeByte(b byte, parity Parity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if parity != s.parity {
		if err := s.port.Drain(); err != nil {
			return fmt.Errorf("failed to drain before parity switch: %w", err)
		}
		mode := s.mode
		mode.Parity = serialParity(parity)
		if err := s.port.SetMode(&mode); err != nil {
			return fmt.Errorf("failed to switch parity to %s: %w", parity, err)
		}
		s.mode = mode
		s.parity = parity
	}

	if _, err := s.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	return nil
}

func (s *SerialPort) setTxEnable(on bool) error {
	switch s.txEnable {
	case TxEnableRTS:
		return s.port.SetRTS(on)
	case TxEnableDTR:
		return s.port.SetDTR(on)
	}
	return nil
}

// SetTimeout implements Transport. A failure is reported by the next Receive.
func (s *SerialPort) SetTimeout(d time.Duration) {
	if d == s.timeout && s.err == nil {
		return
	}
	if err := s.port.SetReadTimeout(d); err != nil {
		s.err = fmt.Errorf("failed to set read timeout %v: %w", d, err)
		return
	}
	s.timeout = d
	s.err = nil
}

// Receive implements Transport. Each Read waits up to the timeout for the
// next byte, so the timeout restarts after every byte received.
func (s *SerialPort) Receive(buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}

	n := 0
	for n < len(buf) {
		m, err := s.port.Read(buf[n:])
		if err != nil {
			if s.isClosed() {
				return n, ErrClosed
			}
			return n, fmt.Errorf("serial read failed: %w", err)
		}
		if m == 0 {
			break
		}
		n += m
	}
	return n, nil
}

func (s *SerialPort) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements Transport
func (s *SerialPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

func serialParity(p Parity) serial.Parity {
	if p == ParityMark {
		return serial.MarkParity
	}
	return serial.SpaceParity
}
