// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

var discoveryTimeout int

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find the thermostat addresses the regulator polls",
	Long: `Listen to the bus without transmitting and report every thermostat address
the regulator polls, and which of them are answered by a room unit.

Polled addresses nobody answers are free for emulation. A devices block for
them is printed at the end, ready to paste into the configuration file.

Examples:
  rff60emu discovery --port /dev/ttyUSB0
  rff60emu discovery --url ws://bridge.local/uart --timeout 60

Exit codes:
  0 - At least one polled address found
  1 - No polls seen before the timeout
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 30, "Listening time in seconds")
}

// discoveredUnit is what was seen for one data address
type discoveredUnit struct {
	address byte
	polls   int
	replies int
}

// discovery tallies polls and poll replies per data address
type discovery struct {
	units map[byte]*discoveredUnit
}

func newDiscovery() *discovery {
	return &discovery{units: make(map[byte]*discoveredUnit)}
}

func (d *discovery) unit(address byte) *discoveredUnit {
	u, ok := d.units[address]
	if !ok {
		u = &discoveredUnit{address: address}
		d.units[address] = u
	}
	return u
}

// observe counts one received frame
func (d *discovery) observe(data []byte) {
	switch rff60.Classify(data) {
	case rff60.KindPoll:
		address := data[0] & 0x7f
		if address == rff60.RegulatorAddress&0x7f {
			return
		}
		d.unit(address).polls++
	case rff60.KindPollReply, rff60.KindSiblingHeader:
		if rff60.VerifyMessage(data) {
			d.unit(data[1]).replies++
		}
	}
}

// sorted returns the polled units ordered by address
func (d *discovery) sorted() []discoveredUnit {
	units := make([]discoveredUnit, 0, len(d.units))
	for _, u := range d.units {
		if u.polls > 0 {
			units = append(units, *u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].address < units[j].address })
	return units
}

// freeDevices returns a device configuration for every polled thermostat
// slot nobody answered
func (d *discovery) freeDevices() []config.DeviceConfig {
	var devices []config.DeviceConfig
	for _, u := range d.sorted() {
		if _, slot := rff60.SetpointOffset(u.address); !slot || u.replies > 0 {
			continue
		}
		devices = append(devices, config.DeviceConfig{
			Name:             fmt.Sprintf("unit_%02x", u.address),
			Address:          config.HexByte(u.address),
			PollAddress:      config.HexByte(rff60.PollAddress(u.address)),
			RegulatorAddress: config.HexByte(rff60.RegulatorAddress),
			Selector:         rff60.SelectorTimer.String(),
			TempMeasurement:  20,
		})
	}
	return devices
}

func (d *discovery) print(out io.Writer) error {
	units := d.sorted()
	fmt.Fprintf(out, "\n--- Discovery summary ---\n")
	fmt.Fprintf(out, "Polled addresses: %d\n", len(units))
	if len(units) == 0 {
		return nil
	}

	fmt.Fprintf(out, "%-8s %-8s %8s %8s  %s\n", "ADDRESS", "POLL", "POLLS", "REPLIES", "STATE")
	for _, u := range units {
		state := "free"
		if u.replies > 0 {
			state = "answered"
		}
		fmt.Fprintf(out, "0x%02x     0x%02x     %8d %8d  %s\n",
			u.address, rff60.PollAddress(u.address), u.polls, u.replies, state)
	}

	free := d.freeDevices()
	if len(free) == 0 {
		return nil
	}
	snippet, err := yaml.Marshal(map[string][]config.DeviceConfig{"devices": free})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nSuggested configuration:\n\n%s", snippet)
	return nil
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	t, connInfo, err := OpenTransport(cfg.Bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer t.Close()

	fmt.Printf("rff60emu - Thermostat Discovery\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Listening for %d seconds...\n", discoveryTimeout)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(discoveryTimeout)*time.Second)
	defer cancel()

	d := newDiscovery()
	t.SetTimeout(bus.TimeoutRead)
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := t.Receive(buf)
		if errors.Is(err, bus.ErrClosed) {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			continue
		}
		if n > 0 {
			d.observe(buf[:n])
		}
	}

	if err := d.print(os.Stdout); err != nil {
		return err
	}
	if len(d.sorted()) == 0 {
		fmt.Printf("No polls seen. Check the connection and the regulator power.\n")
		os.Exit(1)
	}
	return nil
}
