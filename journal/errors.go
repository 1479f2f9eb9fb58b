package journal

import "fmt"

// ShortRecordError reports a buffer too small for the record it
// claims to hold.
type ShortRecordError int

func (e ShortRecordError) Error() string {
	return fmt.Sprintf("record truncated at %d bytes", int(e))
}

// BadChecksumError reports a header whose CRC does not match its
// contents.
type BadChecksumError struct{}

func (e BadChecksumError) Error() string {
	return "record header checksum mismatch"
}

// BadLengthError reports a header length below the header size or
// otherwise impossible.
type BadLengthError int

func (e BadLengthError) Error() string {
	return fmt.Sprintf("invalid record length %d", int(e))
}

// BadFlagsError reports a payload flag combination no operation
// produces.
type BadFlagsError uint32

func (e BadFlagsError) Error() string {
	return fmt.Sprintf("invalid record flags %#x", uint32(e))
}
