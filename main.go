// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// rff60emu - RFF60 Room Thermostat Emulator
//
// Answers the polls of a REA-131B heating regulator on behalf of one or more
// RFF60 room units, with a TUI, an interactive console and MQTT control.

package main

import (
	"os"

	"github.com/Thermoquad/rff60emu/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
