// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rff60

import (
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates of an observed bus
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	Polls            uint64
	Handshakes       uint64
	DataFrames       uint64
	UnknownFrames    uint64
	CRCErrors        uint64
	FramingErrors    uint64
	MalformedFrames  uint64
	BadHeaders       uint64
	LengthMismatches uint64
	InvalidValues    uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one received byte sequence and the result of ValidateFrame on it
func (s *Statistics) Update(data []byte, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	switch Classify(data) {
	case KindPoll:
		s.Polls++
	case KindAck, KindRegulatorAck, KindSelect:
		s.Handshakes++
	case KindUnknown:
		s.UnknownFrames++
	default:
		s.DataFrames++
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	// A frame with a bad envelope is counted once, by its first error
	switch validationErrors[0].Type {
	case AnomalyCRCError:
		s.CRCErrors++
		return
	case AnomalyBadStart, AnomalyBadEnd:
		s.FramingErrors++
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyBadHeader:
			s.BadHeaders++
			s.MalformedFrames++
		case AnomalyLengthMismatch:
			s.LengthMismatches++
			s.MalformedFrames++
		case AnomalyInvalidValue:
			s.InvalidValues++
		case AnomalyCRCError:
			s.CRCErrors++
		}
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.errorCount()) / elapsed
	}
}

func (s *Statistics) errorCount() uint64 {
	return s.CRCErrors + s.FramingErrors + s.MalformedFrames + s.InvalidValues
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))
	result += fmt.Sprintf("  Polls:            %5d\n", s.Polls)
	result += fmt.Sprintf("  Handshakes:       %5d\n", s.Handshakes)
	result += fmt.Sprintf("  Data Frames:      %5d\n", s.DataFrames)

	if s.UnknownFrames > 0 {
		result += fmt.Sprintf("Unknown Frames:  %8d (%.1f%%)\n", s.UnknownFrames, percent(s.UnknownFrames))
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d (%.1f%%)\n", s.FramingErrors, percent(s.FramingErrors))
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, percent(s.MalformedFrames))
		if s.BadHeaders > 0 {
			result += fmt.Sprintf("  Bad Header:       %5d\n", s.BadHeaders)
		}
		if s.LengthMismatches > 0 {
			result += fmt.Sprintf("  Length Mismatch:  %5d\n", s.LengthMismatches)
		}
	}
	if s.InvalidValues > 0 {
		result += fmt.Sprintf("Invalid Values:  %8d (%.1f%%)\n", s.InvalidValues, percent(s.InvalidValues))
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
