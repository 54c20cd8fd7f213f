// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/capture"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

var (
	showAll       bool
	statsInterval int
	sniffCapture  string
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Listen to the bus and display classified frames",
	Long: `Listen to the regulator bus without transmitting and display every frame.

Bytes are grouped into frames by the gap between them. Each frame is
classified (poll, handshake, header, status, config) and data frames are
validated:
  - Bad start or end byte
  - CRC errors
  - Unknown headers and unexpected lengths
  - Invalid register values written by a room unit

By default, polls and handshakes are hidden. Use --show-all to display every
frame. Statistics summaries are printed at a configurable interval and on exit.

Supports both serial and WebSocket connections.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
	sniffCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just data frames and errors)")
	sniffCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	sniffCmd.Flags().StringVar(&sniffCapture, "capture", "", "Write all received frames to this capture file")
}

func runSniff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Open connection (serial or WebSocket)
	t, connInfo, err := OpenTransport(cfg.Bus)
	if err != nil {
		return err
	}
	defer t.Close()

	var rec *capture.Writer
	if sniffCapture != "" {
		rec, err = capture.Create(sniffCapture)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	fmt.Printf("rff60emu - Bus Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Data frames and errors\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := rff60.NewStatistics()
	err = sniff(ctx, t, stats, rec, time.Duration(statsInterval)*time.Second)

	fmt.Println()
	fmt.Print(stats.String())
	if rec != nil {
		fmt.Printf("Captured %d frames to %s\n", rec.Count(), sniffCapture)
	}
	return err
}

// sniff reads frames until ctx ends or the transport closes
func sniff(ctx context.Context, t bus.Transport, stats *rff60.Statistics, rec *capture.Writer, interval time.Duration) error {
	t.SetTimeout(bus.TimeoutRead)
	buf := make([]byte, 256)
	lastStats := time.Now()

	for ctx.Err() == nil {
		n, err := t.Receive(buf)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				fmt.Println("Connection closed")
				return nil
			}
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			continue
		}

		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			processFrame(time.Now(), data, stats, rec)
		}

		if interval > 0 && time.Since(lastStats) >= interval {
			lastStats = time.Now()
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
	return nil
}

func processFrame(ts time.Time, data []byte, stats *rff60.Statistics, rec *capture.Writer) {
	validationErrors := rff60.ValidateFrame(data)
	stats.Update(data, validationErrors)

	if rec != nil {
		if err := rec.RecordFrame(ts, bus.DirRX, bus.ParitySpace, data); err != nil {
			fmt.Fprintf(os.Stderr, "Capture error: %v\n", err)
		}
	}

	if len(validationErrors) > 0 {
		printValidationErrors(ts, data, validationErrors)
		return
	}
	if showAll || len(data) > 2 {
		fmt.Print(rff60.FormatFrame(ts, bus.DirRX.Prefix(), data))
	}
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(ts time.Time, data []byte, errs []rff60.ValidationError) {
	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s len=%d\n",
		ts.Format("15:04:05.000"), rff60.Classify(data), len(data))

	for i, err := range errs {
		switch err.Type {
		case rff60.AnomalyCRCError, rff60.AnomalyBadStart, rff60.AnomalyBadEnd:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		case rff60.AnomalyInvalidValue:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  %s\n", rff60.HexDump("Raw: ", data))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}
