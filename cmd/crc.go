// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/rff60emu/pkg/rff60"
)

var crcCmd = &cobra.Command{
	Use:   "crc <hex bytes>...",
	Short: "Compute the CRC of a frame body",
	Long: `Compute the CRC16/KERMIT checksum used on the bus.

Pass the bytes between the start byte and the CRC, as hex. Spaces, colons and
an 0x prefix are accepted:

  rff60emu crc 21 10 01 02 10
  rff60emu crc 2110010210

The output shows the checksum and the two bytes as they appear on the wire,
low byte first, followed by the complete frame.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCRC,
}

func init() {
	rootCmd.AddCommand(crcCmd)
}

func runCRC(cmd *cobra.Command, args []string) error {
	data, err := parseHexBytes(args)
	if err != nil {
		return err
	}

	crc := rff60.CalculateCRC(data)
	frame := append([]byte{rff60.MessageStart}, data...)
	frame = append(frame, byte(crc), byte(crc>>8), rff60.MessageEnd)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "CRC:   0x%04X\n", crc)
	fmt.Fprintf(out, "Wire:  %02x %02x\n", byte(crc), byte(crc>>8))
	fmt.Fprintf(out, "Frame: %s\n", strings.TrimSpace(rff60.HexDump("", frame)))
	return nil
}

// parseHexBytes joins the arguments and decodes them as hex
func parseHexBytes(args []string) ([]byte, error) {
	var sb strings.Builder
	for _, a := range args {
		for _, part := range strings.FieldsFunc(a, func(r rune) bool { return r == ':' || r == ',' || r == ' ' }) {
			part = strings.TrimPrefix(strings.ToLower(part), "0x")
			if len(part)%2 == 1 {
				part = "0" + part
			}
			sb.WriteString(part)
		}
	}

	data, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no bytes given")
	}
	return data, nil
}
