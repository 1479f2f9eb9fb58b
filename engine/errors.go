package engine

import "fmt"

// BusyError reports a resource held by another user: a second record
// stream, or a device in the middle of a staged update.
type BusyError string

func (e BusyError) Error() string {
	return fmt.Sprintf("%s: busy", string(e))
}

// InvalidRequestError reports a malformed option string or control
// command.
type InvalidRequestError string

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", string(e))
}

// TooBigError reports a record that cannot fit the commit buffer even
// after a flush.
type TooBigError int

func (e TooBigError) Error() string {
	return fmt.Sprintf("record of %d bytes exceeds commit buffer", int(e))
}

// InterruptedError reports a producer cancelled while waiting for
// journal space.
type InterruptedError struct{}

func (e InterruptedError) Error() string {
	return "interrupted while waiting for journal space"
}

// NotMountedError reports an operation against a device with no
// running engine.
type NotMountedError string

func (e NotMountedError) Error() string {
	return fmt.Sprintf("%s: not mounted", string(e))
}
