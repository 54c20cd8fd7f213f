// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"

	"github.com/Thermoquad/rff60emu/pkg/control"
)

// console is the interactive command line of the emulate command
type console struct {
	rl *readline.Instance
	em *emulation
}

func newConsole() (*console, error) {
	c := &console{}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "rff60> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    c.completer(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c.rl = rl
	return c, nil
}

// Stderr returns a writer that keeps log output off the prompt line
func (c *console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Close releases the terminal
func (c *console) Close() error {
	return c.rl.Close()
}

func (c *console) completer() *readline.PrefixCompleter {
	names := func(string) []string {
		if c.em == nil {
			return nil
		}
		return c.em.panel.Names()
	}
	fields := make([]readline.PrefixCompleterInterface, 0, len(control.Fields))
	for _, f := range control.Fields {
		fields = append(fields, readline.PcItem(f))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("devices"),
		readline.PcItem("set", readline.PcItemDynamic(names, fields...)),
		readline.PcItem("remote", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem("logging",
			readline.PcItem("OFF"), readline.PcItem("API"), readline.PcItem("SERIAL"), readline.PcItem("BOTH")),
		readline.PcItem("readings"),
		readline.PcItem("stats"),
		readline.PcItem("quit"),
	)
}

// Run reads commands until the user quits or ctx ends
func (c *console) Run(ctx context.Context, cancel context.CancelFunc, em *emulation) {
	c.em = em
	out := c.rl.Stdout()

	fmt.Fprintf(out, "rff60emu - Emulating %d device(s)\n", em.reg.Len())
	fmt.Fprintf(out, "Connection: %s\n", em.connInfo)
	printConsoleHelp(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}

		if !execConsole(em, line, out) {
			fmt.Fprintln(out, "Exiting...")
			cancel()
			return
		}
	}
}

// execConsole runs one command line. Returns false when the user quits.
func execConsole(em *emulation, line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		printConsoleHelp(out)

	case "devices", "d":
		printDevices(em, out)

	case "set":
		if len(args) != 3 {
			fmt.Fprintln(out, "Usage: set <device> <field> <value>")
			fmt.Fprintf(out, "Fields: %s\n", strings.Join(control.Fields, ", "))
			return true
		}
		err = em.panel.Set(args[0], args[1], args[2])

	case "remote":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: remote on|off")
			return true
		}
		value := args[0]
		switch strings.ToLower(value) {
		case "on":
			value = control.RemoteEnabled
		case "off":
			value = control.RemoteDisabled
		}
		err = em.panel.Set("", control.FieldRemoteControl, value)

	case "logging":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: logging OFF|API|SERIAL|BOTH")
			return true
		}
		err = em.panel.Set("", control.FieldVerboseLogging, args[0])

	case "readings", "r":
		printReadings(em, out)

	case "stats", "s":
		fmt.Fprint(out, em.stats.String())

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help')\n", cmd)
		return true
	}

	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
	}
	return true
}

func printConsoleHelp(out io.Writer) {
	fmt.Fprintln(out, `Commands:
  devices                         show the settings of every device
  set <device> <field> <value>    change one setting
  remote on|off                   enable or disable the emulator on the bus
  logging OFF|API|SERIAL|BOTH     select bus hex dumps
  readings                        show the last regulator readings
  stats                           show engine statistics
  quit                            stop the emulator`)
}

func printDevices(em *emulation, out io.Writer) {
	fmt.Fprintf(out, "Remote control: %s   Verbose logging: %s\n",
		control.RemoteControlLabel(em.panel.RemoteControl()), em.panel.VerboseLogging())
	fmt.Fprintf(out, "%-10s %-8s %7s %7s %s\n", "DEVICE", "MODE", "OFFSET", "ROOM", "USE ROOM TEMP")
	for _, name := range em.panel.Names() {
		s, err := em.panel.Settings(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(out, "%-10s %-8s %+7.1f %7.1f %t\n",
			name, s.Selector, s.TempOffset, s.TempMeasurement, !s.IgnoreMeasuredTemp)
	}
}

func printReadings(em *emulation, out io.Writer) {
	last := em.stats.Snapshot().LastReadings
	if len(last) == 0 {
		fmt.Fprintln(out, "No readings yet")
		return
	}

	addresses := make([]int, 0, len(last))
	for a := range last {
		addresses = append(addresses, int(a))
	}
	sort.Ints(addresses)

	fmt.Fprintf(out, "%-10s %8s %8s %8s %8s %s\n", "DEVICE", "OUTSIDE", "WATER", "MIXER", "BOILER", "TIME")
	for _, a := range addresses {
		r := last[byte(a)]
		name, ok := em.names[r.Address]
		if !ok {
			name = fmt.Sprintf("0x%02x", r.Address)
		}
		fmt.Fprintf(out, "%-10s %8.1f %8.1f %8.1f %8.1f %s\n",
			name, r.OutsideTemp, r.HotWaterTemp, r.MixerTemp, r.BoilerTemp, r.Time.Format("15:04:05"))
	}
}
