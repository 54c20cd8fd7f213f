// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rff60

// CalculateCRC computes the CRC-16/KERMIT checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// ComputeCRC computes the checksum over buf[start:start+length].
// Returns false if the range does not fit the buffer.
func ComputeCRC(buf []byte, start, length int) (uint16, bool) {
	if start < 0 || length < 0 || start+length > len(buf) {
		return 0, false
	}
	return CalculateCRC(buf[start : start+length]), true
}

// InsertCRC writes the checksum of buf[start:start+length] into the two
// bytes following the range, low byte first.
func InsertCRC(buf []byte, start, length int) bool {
	crc, ok := ComputeCRC(buf, start, length)
	if !ok || start+length+2 > len(buf) {
		return false
	}
	pos := start + length
	buf[pos] = byte(crc & 0xff)
	buf[pos+1] = byte(crc >> 8)
	return true
}

// CheckCRC reports whether the two bytes following buf[start:start+length]
// hold the checksum of that range.
func CheckCRC(buf []byte, start, length int) bool {
	crc, ok := ComputeCRC(buf, start, length)
	if !ok || start+length+2 > len(buf) {
		return false
	}
	pos := start + length
	return buf[pos] == byte(crc&0xff) && buf[pos+1] == byte(crc>>8)
}
