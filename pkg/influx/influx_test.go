// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package influx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
)

type memWriter struct {
	points  []*write.Point
	flushed int
}

func (m *memWriter) WritePoint(p *write.Point) { m.points = append(m.points, p) }
func (m *memWriter) Flush()                    { m.flushed++ }

func tags(p *write.Point) map[string]string {
	out := make(map[string]string)
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestNewPoint(t *testing.T) {
	ts := time.Date(2025, 1, 15, 6, 30, 0, 0, time.UTC)
	p := NewPoint(emulator.ThermoReadings{
		Address:      0x21,
		Time:         ts,
		OutsideTemp:  5.0,
		HotWaterTemp: 25.0,
		MixerTemp:    40.0,
		BoilerTemp:   60.0,
	}, map[byte]string{0x21: "mixer"})

	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, ts, p.Time())
	assert.Equal(t, map[string]string{"device": "mixer", "address": "0x21"}, tags(p))
	assert.Equal(t, map[string]interface{}{
		"outside_temp":   5.0,
		"hot_water_temp": 25.0,
		"mixer_temp":     40.0,
		"boiler_temp":    60.0,
	}, fields(p))
}

func TestNewPoint_Defaults(t *testing.T) {
	before := time.Now()
	p := NewPoint(emulator.ThermoReadings{Address: 0x23}, nil)

	assert.Equal(t, "0x23", tags(p)["device"])
	assert.False(t, p.Time().Before(before))
}

func TestSink_WriteAndClose(t *testing.T) {
	w := &memWriter{}
	s := newSink(w, map[byte]string{0x23: "main"}, zerolog.Nop())

	s.WriteReadings(emulator.ThermoReadings{Address: 0x23, OutsideTemp: -2.5})
	s.WriteReadings(emulator.ThermoReadings{Address: 0x23, OutsideTemp: -3.0})
	s.Close()

	require.Len(t, w.points, 2)
	assert.Equal(t, -3.0, fields(w.points[1])["outside_temp"])
	assert.Equal(t, 1, w.flushed)
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Connect(config.InfluxDBConfig{Enabled: true, URL: url}, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_WritesLineProtocol(t *testing.T) {
	var (
		mu   sync.Mutex
		body strings.Builder
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			assert.Equal(t, "home", r.URL.Query().Get("org"))
			assert.Equal(t, "heating", r.URL.Query().Get("bucket"))
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			body.Write(data)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s, err := Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "token",
		Org:           "home",
		Bucket:        "heating",
		BatchSize:     10,
		FlushInterval: config.Duration{Duration: time.Hour},
	}, map[byte]string{0x21: "mixer"}, zerolog.Nop())
	require.NoError(t, err)

	s.WriteReadings(emulator.ThermoReadings{Address: 0x21, OutsideTemp: 5.0, BoilerTemp: 60.0})
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, body.String(), "rff60_readings,address=0x21,device=mixer ")
	assert.Contains(t, body.String(), "outside_temp=5")
	assert.Contains(t, body.String(), "boiler_temp=60")
}
