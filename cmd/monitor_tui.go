// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/rff60emu/pkg/control"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

const (
	monitorLogEntries = 100
	offsetStep        = 0.5
)

// Messages
type monitorTickMsg time.Time
type readingsMsg emulator.ThermoReadings
type logLineMsg string

// engineStoppedMsg ends the monitor once the bus engine has returned
type engineStoppedMsg struct {
	err error
}

// monitorDevice is one table row
type monitorDevice struct {
	name        string
	address     byte
	pollAddress byte
}

// TUI model
type monitorModel struct {
	em       *emulation
	devices  []monitorDevice
	logLines <-chan string
	table    table.Model
	eventLog []errorLogEntry
	width    int
	height   int
	quitting bool
}

// Event log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

func newMonitorModel(em *emulation, logLines <-chan string) monitorModel {
	devices := make([]monitorDevice, 0, len(em.cfg.Devices))
	for _, d := range em.cfg.Devices {
		devices = append(devices, monitorDevice{
			name:        d.Name,
			address:     byte(d.Address),
			pollAddress: byte(d.PollAddress),
		})
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Device", Width: 10},
			{Title: "Addr", Width: 6},
			{Title: "Mode", Width: 8},
			{Title: "Offset", Width: 7},
			{Title: "Room", Width: 10},
			{Title: "Outside", Width: 8},
			{Title: "Water", Width: 7},
			{Title: "Mixer", Width: 7},
			{Title: "Boiler", Width: 7},
			{Title: "Updated", Width: 9},
		}),
		table.WithFocused(true),
		table.WithHeight(len(devices)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	m := monitorModel{
		em:       em,
		devices:  devices,
		logLines: logLines,
		table:    t,
		width:    80,
		height:   24,
	}
	m.refreshRows()
	return m
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		monitorTickCmd(),
		waitForLogLine(m.logLines),
	)
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

// waitForLogLine delivers the next log line as a message
func waitForLogLine(ch <-chan string) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logLineMsg(line)
	}
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if handled, cmd := m.handleKey(msg); handled {
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		m.refreshRows()
		return m, monitorTickCmd()

	case readingsMsg:
		r := emulator.ThermoReadings(msg)
		m.addLogEntry(fmt.Sprintf("%s: outside %.1f°C, water %.1f°C, mixer %.1f°C, boiler %.1f°C",
			m.deviceName(r.Address), r.OutsideTemp, r.HotWaterTemp, r.MixerTemp, r.BoilerTemp), false)
		m.refreshRows()
		return m, nil

	case logLineMsg:
		m.addLogEntry(string(msg), false)
		return m, waitForLogLine(m.logLines)

	case engineStoppedMsg:
		if msg.err != nil {
			m.addLogEntry("Engine stopped: "+msg.err.Error(), true)
		}
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// handleKey runs the settings shortcuts. Navigation keys fall through to the
// table.
func (m *monitorModel) handleKey(msg tea.KeyMsg) (bool, tea.Cmd) {
	panel := m.em.panel

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return true, tea.Quit

	case "r":
		enabled := !panel.RemoteControl()
		panel.SetRemoteControl(enabled)
		m.addLogEntry("Remote control "+strings.ToLower(control.RemoteControlLabel(enabled)), false)

	case "v":
		next := (panel.VerboseLogging() + 1) % (emulator.VerboseBoth + 1)
		panel.SetVerboseLogging(next)
		m.addLogEntry("Verbose logging "+next.String(), false)

	case "s", "+", "-", "]", "[", "u":
		dev, ok := m.selected()
		if !ok {
			return true, nil
		}
		if err := m.adjust(dev.name, msg.String()); err != nil {
			m.addLogEntry(err.Error(), true)
		}

	default:
		return false, nil
	}

	m.refreshRows()
	return true, nil
}

// adjust changes one setting of a device for a shortcut key
func (m *monitorModel) adjust(name, key string) error {
	panel := m.em.panel
	s, err := panel.Settings(name)
	if err != nil {
		return err
	}

	switch key {
	case "s":
		return panel.SetSelector(name, nextSelector(s.Selector).String())
	case "+":
		return panel.SetOffset(name, s.TempOffset+offsetStep)
	case "-":
		return panel.SetOffset(name, s.TempOffset-offsetStep)
	case "]":
		return panel.SetMeasurement(name, s.TempMeasurement+offsetStep)
	case "[":
		return panel.SetMeasurement(name, s.TempMeasurement-offsetStep)
	case "u":
		return panel.SetUseRoomTemp(name, s.IgnoreMeasuredTemp)
	}
	return nil
}

// nextSelector cycles TIMER, COMFORT, ECO
func nextSelector(s rff60.Selector) rff60.Selector {
	switch s {
	case rff60.SelectorTimer:
		return rff60.SelectorComfort
	case rff60.SelectorComfort:
		return rff60.SelectorEco
	default:
		return rff60.SelectorTimer
	}
}

func (m *monitorModel) selected() (monitorDevice, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.devices) {
		return monitorDevice{}, false
	}
	return m.devices[i], true
}

func (m *monitorModel) deviceName(address byte) string {
	if name, ok := m.em.names[address]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", address)
}

func (m *monitorModel) refreshRows() {
	last := m.em.stats.Snapshot().LastReadings

	rows := make([]table.Row, 0, len(m.devices))
	for _, d := range m.devices {
		row := table.Row{d.name, fmt.Sprintf("%02x/%02x", d.address, d.pollAddress), "?", "?", "?", "-", "-", "-", "-", "-"}

		if s, err := m.em.panel.Settings(d.name); err == nil {
			row[2] = s.Selector.String()
			row[3] = fmt.Sprintf("%+.1f", s.TempOffset)
			room := fmt.Sprintf("%.1f°C", s.TempMeasurement)
			if s.IgnoreMeasuredTemp {
				room += " off"
			}
			row[4] = room
		}

		if r, ok := last[d.address]; ok {
			row[5] = fmt.Sprintf("%.1f", r.OutsideTemp)
			row[6] = fmt.Sprintf("%.1f", r.HotWaterTemp)
			row[7] = fmt.Sprintf("%.1f", r.MixerTemp)
			row[8] = fmt.Sprintf("%.1f", r.BoilerTemp)
			row[9] = r.Time.Format("15:04:05")
		}

		rows = append(rows, row)
	}
	m.table.SetRows(rows)
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > monitorLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-monitorLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	panel := m.em.panel

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("RFF60 EMULATOR - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Press 'q' to quit", m.em.connInfo)))
	s.WriteString("\n\n")

	remote := statsValueStyle.Render(control.RemoteControlLabel(true))
	if !panel.RemoteControl() {
		remote = warningStyle.Render(control.RemoteControlLabel(false))
	}
	s.WriteString(fmt.Sprintf("%s %s   %s %s\n\n",
		statsLabelStyle.Render("Remote control:"), remote,
		statsLabelStyle.Render("Verbose logging:"), statsValueStyle.Render(panel.VerboseLogging().String()),
	))

	// Devices
	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("r remote | v logging | s mode | +/- offset | [/] room temp | u use room temp"))
	s.WriteString("\n\n")

	// Statistics
	c := m.em.stats.Snapshot()
	var okPercent float64
	if total := c.ExchangesOK + c.ExchangesAborted; total > 0 {
		okPercent = float64(c.ExchangesOK) * 100.0 / float64(total)
	}

	statsContent := strings.Builder{}
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Cycles:"), statsValueStyle.Render(fmt.Sprintf("%d", c.Cycles)),
		statsLabelStyle.Render("Polls:"), statsValueStyle.Render(fmt.Sprintf("%d", c.Polls)),
		statsLabelStyle.Render("Exchanges:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%% ok)", c.ExchangesOK, okPercent)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Aborted:"), func() string {
			if c.ExchangesAborted > 0 {
				return errorStyle.Render(fmt.Sprintf("%d", c.ExchangesAborted))
			}
			return statsValueStyle.Render("0")
		}(),
		statsLabelStyle.Render("Sibling polls:"), statsValueStyle.Render(fmt.Sprintf("%d", c.SiblingSimulations)),
		statsLabelStyle.Render("Regulator replies:"), statsValueStyle.Render(fmt.Sprintf("%d", c.RegulatorReplies)),
	))
	statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
		statsLabelStyle.Render("Cycle Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f cycles/s", c.CycleRate)),
		statsLabelStyle.Render("Abort Rate:"), func() string {
			if c.AbortRate > 0 {
				return errorStyle.Render(fmt.Sprintf("%.1f aborts/s", c.AbortRate))
			}
			return statsValueStyle.Render(fmt.Sprintf("%.1f aborts/s", c.AbortRate))
		}(),
	))

	s.WriteString(boxStyle.Render(statsContent.String()))
	s.WriteString("\n\n")

	// Event log
	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - 18 - len(m.devices)
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					errorStyle.Render("✗ "+entry.message),
				))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n",
					headerStyle.Render(timestamp),
					warningStyle.Render("ℹ "+entry.message),
				))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))

	return s.String()
}
