package wal

// ============================================================================
// Checksums
// Responsibility: compute and verify the CRC32 of WAL events
// ============================================================================

import (
	"encoding/binary"
	"hash/crc32"
)

// CalculateChecksum computes the CRC32-IEEE of an event.
//
// Covered fields: Seq and every change (op, kind, key, data). Timestamp is
// left out so that re-encoding an event never changes its checksum.
func CalculateChecksum(event Event) uint32 {
	h := crc32.NewIEEE()

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], event.Seq)
	h.Write(seq[:])

	for _, c := range event.Changes {
		h.Write([]byte(c.Op))
		h.Write([]byte{0})
		h.Write([]byte(c.Kind))
		h.Write([]byte{0})
		h.Write([]byte(c.Key))
		h.Write([]byte{0})
		h.Write(c.Data)
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// VerifyChecksum reports whether the stored checksum matches the event.
func VerifyChecksum(event Event) bool {
	return event.Checksum == CalculateChecksum(event)
}
