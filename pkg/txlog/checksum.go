package txlog

import "hash/crc32"

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// calculateCRC32 computes the checksum of a record payload.
func calculateCRC32(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// validateCRC32 reports whether data matches the expected checksum.
func validateCRC32(data []byte, expected uint32) bool {
	return calculateCRC32(data) == expected
}
