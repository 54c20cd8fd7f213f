// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package emulator

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives engine events.
//
// Hooks run inline on the engine goroutine between bus operations and must
// not block.
type Collector interface {
	CycleStarted()
	Polled(address byte)
	ExchangeCompleted(address byte)
	ExchangeAborted(address byte)
	SiblingSimulated(from, to byte)
	RegulatorReplied(address byte)
	SettingsApplied(address byte)
	ReadingsPublished(r ThermoReadings)
}

type noopCollector struct{}

// NoopCollector returns a collector that discards all events.
func NoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) CycleStarted()                    {}
func (noopCollector) Polled(byte)                      {}
func (noopCollector) ExchangeCompleted(byte)           {}
func (noopCollector) ExchangeAborted(byte)             {}
func (noopCollector) SiblingSimulated(byte, byte)      {}
func (noopCollector) RegulatorReplied(byte)            {}
func (noopCollector) SettingsApplied(byte)             {}
func (noopCollector) ReadingsPublished(ThermoReadings) {}

type multiCollector []Collector

// Collectors fans events out to every non-nil collector
func Collectors(collectors ...Collector) Collector {
	var m multiCollector
	for _, c := range collectors {
		if c != nil {
			m = append(m, c)
		}
	}
	if len(m) == 0 {
		return NoopCollector()
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multiCollector) CycleStarted() {
	for _, c := range m {
		c.CycleStarted()
	}
}

func (m multiCollector) Polled(address byte) {
	for _, c := range m {
		c.Polled(address)
	}
}

func (m multiCollector) ExchangeCompleted(address byte) {
	for _, c := range m {
		c.ExchangeCompleted(address)
	}
}

func (m multiCollector) ExchangeAborted(address byte) {
	for _, c := range m {
		c.ExchangeAborted(address)
	}
}

func (m multiCollector) SiblingSimulated(from, to byte) {
	for _, c := range m {
		c.SiblingSimulated(from, to)
	}
}

func (m multiCollector) RegulatorReplied(address byte) {
	for _, c := range m {
		c.RegulatorReplied(address)
	}
}

func (m multiCollector) SettingsApplied(address byte) {
	for _, c := range m {
		c.SettingsApplied(address)
	}
}

func (m multiCollector) ReadingsPublished(r ThermoReadings) {
	for _, c := range m {
		c.ReadingsPublished(r)
	}
}

// PrometheusCollector exposes engine events as Prometheus metrics
type PrometheusCollector struct {
	cycles           prometheus.Counter
	polls            *prometheus.CounterVec
	exchanges        *prometheus.CounterVec
	siblings         *prometheus.CounterVec
	regulatorReplies *prometheus.CounterVec
	settingsApplied  *prometheus.CounterVec
	temperature      *prometheus.GaugeVec
	lastReadings     *prometheus.GaugeVec
}

// NewPrometheusCollector registers the emulator metrics with reg. Metrics
// already registered by an earlier collector are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var err error
	p := &PrometheusCollector{}

	if p.cycles, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rff60_cycles_total",
		Help: "Number of engine cycles started.",
	})); err != nil {
		return nil, err
	}
	if p.polls, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rff60_polls_total",
		Help: "Number of confirmed regulator polls per device.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.exchanges, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rff60_exchanges_total",
		Help: "Number of data exchanges per device and result.",
	}, []string{"address", "result"})); err != nil {
		return nil, err
	}
	if p.siblings, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rff60_sibling_simulations_total",
		Help: "Number of times one emulated device answered a poll for another.",
	}, []string{"from", "to"})); err != nil {
		return nil, err
	}
	if p.regulatorReplies, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rff60_regulator_replies_total",
		Help: "Number of poll phases ended by the regulator answering.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.settingsApplied, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rff60_settings_applied_total",
		Help: "Number of settings values applied per device.",
	}, []string{"address"})); err != nil {
		return nil, err
	}
	if p.temperature, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rff60_temperature_celsius",
		Help: "Last temperature reported by the regulator.",
	}, []string{"address", "sensor"})); err != nil {
		return nil, err
	}
	if p.lastReadings, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rff60_last_readings_timestamp_seconds",
		Help: "Unix time of the last status frame per device.",
	}, []string{"address"})); err != nil {
		return nil, err
	}

	return p, nil
}

// register adds c to reg or returns the collector registered before it
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func addressLabel(address byte) string {
	return fmt.Sprintf("0x%02x", address)
}

// CycleStarted implements Collector
func (p *PrometheusCollector) CycleStarted() {
	if p == nil {
		return
	}
	p.cycles.Inc()
}

// Polled implements Collector
func (p *PrometheusCollector) Polled(address byte) {
	if p == nil {
		return
	}
	p.polls.WithLabelValues(addressLabel(address)).Inc()
}

// ExchangeCompleted implements Collector
func (p *PrometheusCollector) ExchangeCompleted(address byte) {
	if p == nil {
		return
	}
	p.exchanges.WithLabelValues(addressLabel(address), "ok").Inc()
}

// ExchangeAborted implements Collector
func (p *PrometheusCollector) ExchangeAborted(address byte) {
	if p == nil {
		return
	}
	p.exchanges.WithLabelValues(addressLabel(address), "aborted").Inc()
}

// SiblingSimulated implements Collector
func (p *PrometheusCollector) SiblingSimulated(from, to byte) {
	if p == nil {
		return
	}
	p.siblings.WithLabelValues(addressLabel(from), addressLabel(to)).Inc()
}

// RegulatorReplied implements Collector
func (p *PrometheusCollector) RegulatorReplied(address byte) {
	if p == nil {
		return
	}
	p.regulatorReplies.WithLabelValues(addressLabel(address)).Inc()
}

// SettingsApplied implements Collector
func (p *PrometheusCollector) SettingsApplied(address byte) {
	if p == nil {
		return
	}
	p.settingsApplied.WithLabelValues(addressLabel(address)).Inc()
}

// ReadingsPublished implements Collector
func (p *PrometheusCollector) ReadingsPublished(r ThermoReadings) {
	if p == nil {
		return
	}
	addr := addressLabel(r.Address)
	p.temperature.WithLabelValues(addr, "outside").Set(r.OutsideTemp)
	p.temperature.WithLabelValues(addr, "hot_water").Set(r.HotWaterTemp)
	p.temperature.WithLabelValues(addr, "mixer").Set(r.MixerTemp)
	p.temperature.WithLabelValues(addr, "boiler").Set(r.BoilerTemp)
	p.lastReadings.WithLabelValues(addr).Set(float64(r.Time.Unix()))
}
