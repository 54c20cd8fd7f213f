// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/config"
)

// OpenTransport opens either a WebSocket bridge or a serial port, depending
// on which one is configured. A WebSocket URL wins.
func OpenTransport(cfg config.BusConfig) (bus.Transport, string, error) {
	if cfg.WebSocket.URL != "" {
		password := cfg.WebSocket.Password
		if cfg.WebSocket.Username != "" && password == "" {
			var err error
			password, err = GetPassword(config.EnvWSPassword, "Password: ")
			if err != nil {
				return nil, "", err
			}
		}

		t, err := bus.OpenWebSocket(bus.WebSocketConfig{
			URL:           cfg.WebSocket.URL,
			Username:      cfg.WebSocket.Username,
			Password:      password,
			SkipSSLVerify: cfg.WebSocket.SkipSSLVerify,
		})
		if err != nil {
			return nil, "", err
		}

		return t, fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL), nil
	}

	if cfg.Port != "" {
		txEnable, err := bus.ParseTxEnable(cfg.TxEnable)
		if err != nil {
			return nil, "", err
		}

		t, err := bus.OpenSerial(bus.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			TxEnable: txEnable,
			Pacing:   cfg.Pacing.Duration,
		})
		if err != nil {
			return nil, "", err
		}

		return t, fmt.Sprintf("Serial: %s @ %d baud (tx enable: %s)", cfg.Port, cfg.BaudRate, txEnable), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// GetPassword retrieves a password from the environment variable env or
// prompts the user
func GetPassword(env, prompt string) (string, error) {
	// First check environment variable
	if pw := os.Getenv(env); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}
