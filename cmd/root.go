// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/logging"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Configuration flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "rff60emu",
	Short: "RFF60 room unit emulator for REA-131B regulators",
	Long: `rff60emu - Emulates one or more RFF60 room units on the bus of an REA-131B
heating regulator.

The emulator answers the regulator's polls on behalf of each configured unit,
reports room temperature, mode selector and knob offset, and collects the
regulator's sensor readings. Settings can be changed from a terminal UI, an
interactive console or MQTT while the emulator runs.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Without --config the built-in defaults are used: a mixer circuit unit at 0x21
and a main circuit unit at 0x23.

For WebSocket authentication, the password is read from the RFF60_WS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Configuration flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration file and applies the connection and
// logging flags given on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Bus.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Bus.BaudRate = baudRate
	}
	if flags.Changed("url") {
		cfg.Bus.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Bus.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bus.WebSocket.SkipSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging creates the logger for a command. w receives the log output.
func setupLogging(cfg *config.Config, w io.Writer) (zerolog.Logger, func(), error) {
	return logging.Setup(cfg.Logging, w)
}
