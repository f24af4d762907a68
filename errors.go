package ness

import "fmt"

// TruncatedPacketError is returned when a line ends before the frame does.
type TruncatedPacketError struct {
	Raw string
	Pos int
}

func (e *TruncatedPacketError) Error() string {
	return fmt.Sprintf("truncated packet at position %d: %q", e.Pos, e.Raw)
}

// MalformedHeaderError is returned when a fixed-position field is not valid
// hex or the frame is shorter than the minimum header.
type MalformedHeaderError struct {
	Raw   string
	Field string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed %s in packet %q", e.Field, e.Raw)
}

// BadStartByteError is returned for start bytes outside the ASCII-format
// family (0x82, 0x83, 0x86, 0x87).
type BadStartByteError struct {
	Raw   string
	Start byte
}

func (e *BadStartByteError) Error() string {
	return fmt.Sprintf("bad start byte 0x%02x in packet %q", e.Start, e.Raw)
}

// ChecksumError is returned when the packet checksum does not verify. The
// decoded packet is still populated so that lenient callers can use it.
type ChecksumError struct {
	Raw  string
	Want byte
	Got  byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch in packet %q: want 0x%02x, got 0x%02x", e.Raw, e.Want, e.Got)
}

// UnknownCommandError is returned for command bytes other than
// USER_INTERFACE (0x60) and SYSTEM_STATUS (0x61).
type UnknownCommandError struct {
	Raw     string
	Command byte
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command 0x%02x in packet %q", e.Command, e.Raw)
}

// UnknownStatusIDError is returned for a user-interface response whose
// request id is outside the documented S00-S33 range.
type UnknownStatusIDError struct {
	Raw string
	ID  byte
}

func (e *UnknownStatusIDError) Error() string {
	return fmt.Sprintf("unknown status request id 0x%02x in packet %q", e.ID, e.Raw)
}
