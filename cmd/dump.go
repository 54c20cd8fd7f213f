// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/bus"
	"github.com/Thermoquad/rff60emu/pkg/capture"
	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

var (
	dumpValidate bool
	dumpHex      bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump <capture-file>",
	Short: "Print a bus capture file",
	Long: `Print the frames of a capture written by 'emulate --capture' or 'sniff --capture'.

Each record is shown with its timestamp, direction (2> sent by the emulator,
1> received) and classification. Mark parity bytes are flagged with [M].
With --validate, received data frames are checked like in 'sniff' and a
statistics summary is printed at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpValidate, "validate", false, "Validate received frames and print statistics")
	dumpCmd.Flags().BoolVar(&dumpHex, "hex", false, "Print raw hex lines only")
}

func runDump(cmd *cobra.Command, args []string) error {
	r, err := capture.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	return dumpRecords(r, cmd.OutOrStdout())
}

func dumpRecords(r *capture.Reader, out io.Writer) error {
	stats := rff60.NewStatistics()
	count := 0

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++

		if dumpHex {
			fmt.Fprintln(out, rff60.HexDump(rec.Dir.Prefix(), rec.Data))
			continue
		}

		line := rff60.FormatFrame(rec.Time, rec.Dir.Prefix(), rec.Data)
		if rec.Parity == bus.ParityMark {
			i := strings.IndexByte(line, '\n')
			line = line[:i] + " [M]" + line[i:]
		}
		fmt.Fprint(out, line)

		if dumpValidate && rec.Dir == bus.DirRX {
			validationErrors := rff60.ValidateFrame(rec.Data)
			stats.Update(rec.Data, validationErrors)
			for _, v := range validationErrors {
				fmt.Fprintf(out, "  [%s] %s\n", v.Type, v.Message)
			}
		}
	}

	fmt.Fprintf(out, "\n%d records\n", count)
	if dumpValidate {
		fmt.Fprint(out, stats.String())
	}
	return nil
}
