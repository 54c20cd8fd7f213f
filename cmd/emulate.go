// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/capture"
	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/control"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/influx"
	"github.com/Thermoquad/rff60emu/pkg/mqttbridge"
)

// User interfaces of the emulate command
const (
	uiNone    = "none"
	uiTUI     = "tui"
	uiConsole = "console"
)

// settingsFlushInterval is how often dropped settings values are resent
const settingsFlushInterval = 500 * time.Millisecond

var (
	emulateUI      string
	emulateCapture string
	emulateRemote  bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Emulate the configured RFF60 units on the bus",
	Long: `Answer the regulator's polls on behalf of every configured RFF60 unit.

The emulator stays silent until remote control is enabled, either in the
configuration file (control.remote_control), with --remote, or at runtime from
the TUI, the console or MQTT.

User interfaces (--ui):
  none     log to stderr, print statistics on exit
  tui      live monitor with device table, statistics and event log
  console  interactive command line (type 'help')

Optional integrations are enabled in the configuration file: MQTT settings
intake and readings publishing, InfluxDB readings history, a Prometheus
metrics endpoint and a CBOR capture of all bus traffic.`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateUI, "ui", uiNone, "User interface (none, tui, console)")
	emulateCmd.Flags().StringVar(&emulateCapture, "capture", "", "Write all bus traffic to this capture file")
	emulateCmd.Flags().BoolVar(&emulateRemote, "remote", false, "Enable remote control at startup")
}

// emulation is everything the user interfaces need
type emulation struct {
	cfg      *config.Config
	connInfo string
	reg      *emulator.Registry
	panel    *control.Panel
	stats    *emulator.Statistics
	names    map[byte]string
}

func runEmulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("capture") {
		cfg.Capture.Path = emulateCapture
	}
	if emulateRemote {
		cfg.Control.RemoteControl = true
	}

	ui := strings.ToLower(emulateUI)
	switch ui {
	case uiNone, uiTUI, uiConsole:
	default:
		return fmt.Errorf("unknown --ui %q (use none, tui or console)", emulateUI)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Log output must not draw over the user interface
	var out io.Writer = os.Stderr
	var con *console
	var logLines chan string
	switch ui {
	case uiConsole:
		con, err = newConsole()
		if err != nil {
			return err
		}
		defer con.Close()
		out = con.Stderr()
	case uiTUI:
		logLines = make(chan string, 256)
		out = lineWriter(logLines)
	}

	logger, cleanup, err := setupLogging(cfg, out)
	if err != nil {
		return err
	}
	defer cleanup()

	transport, connInfo, err := OpenTransport(cfg.Bus)
	if err != nil {
		return err
	}
	defer transport.Close()

	em, err := newEmulation(cfg, connInfo, logger)
	if err != nil {
		return err
	}

	// Engine options
	collectors := []emulator.Collector{em.stats}
	if cfg.Metrics.Enabled {
		pc, err := startMetrics(ctx, cfg.Metrics, logger)
		if err != nil {
			return err
		}
		collectors = append(collectors, pc)
	}

	opts := []emulator.Option{
		emulator.WithLogger(logger),
		emulator.WithCollector(emulator.Collectors(collectors...)),
		emulator.WithSerialLog(out),
	}
	if cfg.Capture.Path != "" {
		rec, err := capture.Create(cfg.Capture.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn().Err(err).Msg("closing capture file")
			}
			logger.Info().Int("records", rec.Count()).Str("path", cfg.Capture.Path).Msg("capture written")
		}()
		opts = append(opts, emulator.WithRecorder(rec))
	}

	// Readings consumers
	var handlers []func(emulator.ThermoReadings)
	if cfg.MQTT.Enabled {
		bridge, err := startBridge(cfg.MQTT, em, logger)
		if err != nil {
			return err
		}
		defer bridge.Close()
		handlers = append(handlers, bridge.PublishReadings)
	}
	if cfg.InfluxDB.Enabled {
		sink, err := influx.Connect(cfg.InfluxDB, em.names, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		handlers = append(handlers, sink.WriteReadings)
	}

	var program *tea.Program
	if ui == uiTUI {
		program = tea.NewProgram(newMonitorModel(em, logLines), tea.WithAltScreen())
		handlers = append(handlers, func(r emulator.ThermoReadings) {
			program.Send(readingsMsg(r))
		})
	}

	engine := emulator.NewEngine(em.reg, transport, opts...)
	engineErr := make(chan error, 1)
	go func() {
		engineErr <- engine.Run(ctx)
	}()
	go emulator.PollReadings(ctx, em.reg, emulator.DefaultReadingsInterval, handlers...)
	go flushSettings(ctx, em.panel, settingsFlushInterval)

	logger.Info().
		Str("connection", connInfo).
		Strs("devices", em.panel.Names()).
		Bool("remote_control", em.panel.RemoteControl()).
		Msg("emulator running")

	// result carries the engine's exit once the UI is done
	var result <-chan error = engineErr
	var uiErr error
	switch ui {
	case uiTUI:
		relayed := make(chan error, 1)
		result = relayed
		go func() {
			err := <-engineErr
			program.Send(engineStoppedMsg{err: err})
			relayed <- err
		}()
		_, uiErr = program.Run()
	case uiConsole:
		con.Run(ctx, stop, em)
	default:
		fmt.Fprintf(os.Stderr, "rff60emu - Emulating %d device(s)\n", em.reg.Len())
		fmt.Fprintf(os.Stderr, "Connection: %s\n", connInfo)
		fmt.Fprintf(os.Stderr, "Press Ctrl+C to exit\n\n")
		select {
		case <-ctx.Done():
		case err := <-engineErr:
			engineErr <- err
		}
	}

	stop()
	err = <-result
	if ui == uiNone {
		fmt.Fprint(os.Stderr, "\n"+em.stats.String())
	}
	if uiErr != nil {
		return fmt.Errorf("TUI error: %w", uiErr)
	}
	return err
}

// newEmulation registers the configured devices and pushes their initial
// settings
func newEmulation(cfg *config.Config, connInfo string, logger zerolog.Logger) (*emulation, error) {
	em := &emulation{
		cfg:      cfg,
		connInfo: connInfo,
		reg:      emulator.NewRegistry(),
		panel:    control.NewPanel(logger),
		stats:    emulator.NewStatistics(),
		names:    make(map[byte]string),
	}

	for _, d := range cfg.Devices {
		dev, err := em.reg.AddInstance(byte(d.Address), byte(d.PollAddress), byte(d.RegulatorAddress))
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		settings, err := cfg.Settings(d)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.Name, err)
		}
		if err := em.panel.Add(d.Name, dev, settings); err != nil {
			return nil, err
		}
		em.names[dev.Address()] = d.Name
	}

	em.panel.ApplyAll()
	return em, nil
}

// startMetrics serves a private Prometheus registry until ctx ends
func startMetrics(ctx context.Context, cfg config.MetricsConfig, logger zerolog.Logger) (*emulator.PrometheusCollector, error) {
	registry := prometheus.NewRegistry()
	pc, err := emulator.NewPrometheusCollector(registry)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("listen", cfg.Listen).Msg("metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", cfg.Listen).Str("path", cfg.Path).Msg("metrics endpoint started")
	return pc, nil
}

// startBridge connects to the broker and starts relaying settings
func startBridge(cfg config.MQTTConfig, em *emulation, logger zerolog.Logger) (*mqttbridge.Bridge, error) {
	if cfg.Username != "" && cfg.Password == "" {
		pw, err := GetPassword(config.EnvMQTTPassword, "MQTT password: ")
		if err != nil {
			return nil, err
		}
		cfg.Password = pw
	}

	client, err := mqttbridge.Connect(cfg, logger)
	if err != nil {
		return nil, err
	}

	bridge := mqttbridge.New(client, em.panel, em.names, cfg, logger)
	if err := bridge.Start(); err != nil {
		bridge.Close()
		return nil, err
	}
	return bridge, nil
}

// flushSettings resends settings the engine has not picked up yet
func flushSettings(ctx context.Context, panel *control.Panel, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			panel.Flush()
		}
	}
}

// lineWriter sends each write as one line to ch, dropping lines when ch is
// full
type lineWriter chan string

func (w lineWriter) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\n")
	select {
	case w <- line:
	default:
	}
	return len(p), nil
}
