package journal

// ============================================================================
// Checksum
// Responsibility: CRC32 of journal events
// ============================================================================

import (
	"hash/crc32"

	json "github.com/goccy/go-json"
)

// CalculateChecksum returns the CRC32-IEEE of the event encoded with a zero
// checksum field.
func CalculateChecksum(event Event) uint32 {
	event.Checksum = 0
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}
	return crc32.ChecksumIEEE(data)
}

// VerifyChecksum reports whether the stored checksum matches the content.
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
