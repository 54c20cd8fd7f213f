// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a copy of the engine statistics at one point in time
type Counters struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	Cycles             uint64
	Polls              uint64
	ExchangesOK        uint64
	ExchangesAborted   uint64
	SiblingSimulations uint64
	RegulatorReplies   uint64
	SettingsApplied    uint64
	ReadingsPublished  uint64

	LastReadings map[byte]ThermoReadings

	// Rates (calculated)
	CycleRate float64 // cycles/sec
	AbortRate float64 // aborted exchanges/sec
}

// Statistics counts engine events. It implements Collector and is safe for
// use from the engine and a UI goroutine at the same time.
type Statistics struct {
	mu sync.Mutex
	c  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.Reset()
	return s
}

func (s *Statistics) update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
	s.c.LastUpdateTime = time.Now()
}

// CycleStarted implements Collector
func (s *Statistics) CycleStarted() {
	s.update(func(c *Counters) { c.Cycles++ })
}

// Polled implements Collector
func (s *Statistics) Polled(byte) {
	s.update(func(c *Counters) { c.Polls++ })
}

// ExchangeCompleted implements Collector
func (s *Statistics) ExchangeCompleted(byte) {
	s.update(func(c *Counters) { c.ExchangesOK++ })
}

// ExchangeAborted implements Collector
func (s *Statistics) ExchangeAborted(byte) {
	s.update(func(c *Counters) { c.ExchangesAborted++ })
}

// SiblingSimulated implements Collector
func (s *Statistics) SiblingSimulated(byte, byte) {
	s.update(func(c *Counters) { c.SiblingSimulations++ })
}

// RegulatorReplied implements Collector
func (s *Statistics) RegulatorReplied(byte) {
	s.update(func(c *Counters) { c.RegulatorReplies++ })
}

// SettingsApplied implements Collector
func (s *Statistics) SettingsApplied(byte) {
	s.update(func(c *Counters) { c.SettingsApplied++ })
}

// ReadingsPublished implements Collector
func (s *Statistics) ReadingsPublished(r ThermoReadings) {
	s.update(func(c *Counters) {
		c.ReadingsPublished++
		c.LastReadings[r.Address] = r
	})
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.c
	c.LastReadings = make(map[byte]ThermoReadings, len(s.c.LastReadings))
	for k, v := range s.c.LastReadings {
		c.LastReadings[k] = v
	}
	c.calculateRates()
	return c
}

func (c *Counters) calculateRates() {
	elapsed := time.Since(c.StartTime).Seconds()
	if elapsed > 0 {
		c.CycleRate = float64(c.Cycles) / elapsed
		c.AbortRate = float64(c.ExchangesAborted) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()

	var okPercent, abortPercent float64
	if total := c.ExchangesOK + c.ExchangesAborted; total > 0 {
		okPercent = float64(c.ExchangesOK) * 100.0 / float64(total)
		abortPercent = float64(c.ExchangesAborted) * 100.0 / float64(total)
	}

	elapsed := time.Since(c.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Cycles:          %8d\n", c.Cycles)
	result += fmt.Sprintf("Polls:           %8d\n", c.Polls)
	result += fmt.Sprintf("Exchanges OK:    %8d (%.1f%%)\n", c.ExchangesOK, okPercent)

	if c.ExchangesAborted > 0 {
		result += fmt.Sprintf("Exchanges Abort: %8d (%.1f%%)\n", c.ExchangesAborted, abortPercent)
	}
	if c.SiblingSimulations > 0 {
		result += fmt.Sprintf("Sibling Polls:   %8d\n", c.SiblingSimulations)
	}

	result += fmt.Sprintf("Regulator Reply: %8d\n", c.RegulatorReplies)
	result += fmt.Sprintf("Settings Applied:%8d\n", c.SettingsApplied)
	result += fmt.Sprintf("Readings:        %8d\n", c.ReadingsPublished)
	result += fmt.Sprintf("Cycle Rate:      %8.1f cycles/sec\n", c.CycleRate)
	result += fmt.Sprintf("Abort Rate:      %8.1f aborts/sec\n", c.AbortRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.c = Counters{
		StartTime:      now,
		LastUpdateTime: now,
		LastReadings:   make(map[byte]ThermoReadings),
	}
}
