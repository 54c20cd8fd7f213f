// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package influx records regulator readings in InfluxDB v2.
//
// Every readings value becomes one point of the rff60_readings measurement,
// tagged with the device name and data address. Writes are batched and
// non-blocking; write errors are logged as they arrive.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
)

// Measurement is the InfluxDB measurement name for readings
const Measurement = "rff60_readings"

const (
	connectTimeout       = 10 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Sentinel errors
var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// pointWriter is the part of api.WriteAPI the sink uses
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Sink writes readings points
type Sink struct {
	client influxdb2.Client
	writer pointWriter
	names  map[byte]string
	log    zerolog.Logger
}

// Connect creates the client, checks the server with a ping and starts the
// batching write API. names maps data addresses to device names.
func Connect(cfg config.InfluxDBConfig, names map[byte]string, logger zerolog.Logger) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval.Duration
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	s := newSink(writeAPI, names, logger)
	s.client = client

	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn().Err(err).Msg("influxdb: write failed")
		}
	}()

	return s, nil
}

func newSink(w pointWriter, names map[byte]string, logger zerolog.Logger) *Sink {
	return &Sink{
		writer: w,
		names:  names,
		log:    logger,
	}
}

// WriteReadings queues one readings point. It matches the handler signature
// of emulator.PollReadings.
func (s *Sink) WriteReadings(r emulator.ThermoReadings) {
	s.writer.WritePoint(NewPoint(r, s.names))
}

// Close flushes pending points and closes the client
func (s *Sink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

// NewPoint converts a readings value. A zero timestamp becomes now.
func NewPoint(r emulator.ThermoReadings, names map[byte]string) *write.Point {
	address := fmt.Sprintf("0x%02x", r.Address)
	device, ok := names[r.Address]
	if !ok {
		device = address
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		Measurement,
		map[string]string{
			"device":  device,
			"address": address,
		},
		map[string]interface{}{
			"outside_temp":   r.OutsideTemp,
			"hot_water_temp": r.HotWaterTemp,
			"mixer_temp":     r.MixerTemp,
			"boiler_temp":    r.BoilerTemp,
		},
		ts,
	)
}
