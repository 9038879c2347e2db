package protocol

import "hash/crc32"

// Checksum returns the CRC-32 (IEEE) of p. Both ends of a transfer must use
// the same polynomial; IEEE matches zlib's crc32.
func Checksum(p []byte) uint32 {
	return crc32.ChecksumIEEE(p)
}

// VerifyChecksum reports whether sum is the checksum of p.
func VerifyChecksum(sum uint32, p []byte) bool {
	return Checksum(p) == sum
}
