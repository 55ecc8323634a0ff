package journal

// ============================================================================
// Journal Error Definitions
// ============================================================================

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptedJournal indicates a line that cannot be parsed
	ErrCorruptedJournal = errors.New("journal: file is corrupted")

	// ErrChecksumMismatch indicates an event whose checksum does not match its content
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")

	// ErrEmptyJournal indicates a journal without events
	ErrEmptyJournal = errors.New("journal: file is empty")

	// ErrJournalClosed indicates an operation on a closed journal
	ErrJournalClosed = errors.New("journal: already closed")

	// ErrSequenceGap indicates non-contiguous sequence numbers
	ErrSequenceGap = errors.New("journal: sequence gap")
)

// ChecksumError reports which event failed verification.
type ChecksumError struct {
	Seq      uint64
	Expected uint32
	Actual   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("journal: checksum mismatch at seq=%d (expected=0x%08x, got=0x%08x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksumMismatch
}

// CorruptionError reports where an unparsable line starts.
type CorruptionError struct {
	Line   int
	Offset int64
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: corrupted record at line %d (offset %d): %v", e.Line, e.Offset, e.Cause)
}

func (e *CorruptionError) Unwrap() error {
	return e.Cause
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorruptedJournal
}
