// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/emulator"
)

var (
	pollTestTimeout int
	pollTestDevice  string
)

var pollTestCmd = &cobra.Command{
	Use:   "poll_test",
	Short: "Test the bus by waiting for the regulator to poll a device",
	Long: `Wait until the regulator polls one of the configured devices.

A device counts as polled when its poll address arrives twice in a row, each
time as a lone byte. Nothing is transmitted; the poll is not answered.

Exit codes:
  0 - Device polled before timeout
  1 - Timeout reached without a poll
  2 - Connection error

Useful for checking the wiring, baud rate and address setup before running
the emulator.`,
	RunE: runPollTest,
}

func init() {
	rootCmd.AddCommand(pollTestCmd)
	pollTestCmd.Flags().IntVar(&pollTestTimeout, "timeout", 10, "Timeout in seconds to wait for a poll")
	pollTestCmd.Flags().StringVar(&pollTestDevice, "device", "", "Only wait for this device (default: any configured device)")
}

func runPollTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	reg := emulator.NewRegistry()
	for _, d := range cfg.Devices {
		if pollTestDevice != "" && d.Name != pollTestDevice {
			continue
		}
		dev, err := reg.AddInstance(byte(d.Address), byte(d.PollAddress), byte(d.RegulatorAddress))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: device %s: %v\n", d.Name, err)
			os.Exit(2)
		}
		// The wait only runs while remote control is enabled
		dev.SendSettings(emulator.ThermoSettings{RemoteControl: true})
	}
	if reg.Len() == 0 {
		fmt.Fprintf(os.Stderr, "Configuration error: unknown device %q\n", pollTestDevice)
		os.Exit(2)
	}

	// Open connection (serial or WebSocket)
	t, connInfo, err := OpenTransport(cfg.Bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("rff60emu - Poll Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", pollTestTimeout)
	fmt.Printf("Waiting for a double poll of %d device(s)...\n\n", reg.Len())

	engine := emulator.NewEngine(reg, t,
		emulator.WithLogger(zerolog.Nop()),
		emulator.WithSerialLog(io.Discard),
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pollTestTimeout)*time.Second)
	defer cancel()

	start := time.Now()
	dev, err := engine.WaitUntilPolled(ctx)
	switch {
	case err == nil:
		fmt.Printf("SUCCESS: Regulator polled device\n")
		fmt.Printf("  Address: 0x%02X\n", dev.Address())
		fmt.Printf("  Poll address: 0x%02X\n", dev.PollAddress())
		fmt.Printf("  Regulator: 0x%02X\n", dev.RegulatorAddress())
		fmt.Printf("  After: %v\n", time.Since(start).Round(time.Millisecond))
		os.Exit(0)

	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No poll received within %d seconds\n", pollTestTimeout)
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	return nil
}
