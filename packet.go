package ness

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandType is the command byte of a packet.
type CommandType byte

const (
	// CmdUserInterface carries keypad input, Sxx status requests and their
	// status-update replies.
	CmdUserInterface CommandType = 0x60
	// CmdSystemStatus carries asynchronous system status events.
	CmdSystemStatus CommandType = 0x61
)

// NoAddress marks a packet whose frame carries no address field.
const NoAddress = -1

// Start-byte flag bits. Only the ASCII-format family (bit 7 set) is
// supported, giving the four valid start bytes 0x82, 0x83, 0x86 and 0x87.
const (
	startASCIIFormat     = 0x80
	startBasicHeader     = 0x02
	startAddressIncluded = 0x01
	startTimestamp       = 0x04
)

// Packet is the framed unit on the wire.
//
// Data holds the logical payload: the literal keystring for user-interface
// requests ("A1234E", "S00"), or hex nibbles (two per byte) for system
// status events and status-update responses.
type Packet struct {
	Address   int // 0-15, or NoAddress
	Seq       int // 0 or 1
	Command   CommandType
	Data      string
	Timestamp time.Time // zero when the frame has no timestamp

	// IsUserInterfaceResp marks a USER_INTERFACE packet sent by the panel
	// (a status-update reply). These frames keep start byte 0x82 even when
	// an address is present, and their data is hex nibbles rather than a
	// keystring.
	IsUserInterfaceResp bool
}

// StartByte derives the start byte from the packet's fields.
func (p Packet) StartByte() byte {
	b := byte(startASCIIFormat | startBasicHeader)
	if p.Address != NoAddress && !p.IsUserInterfaceResp {
		b |= startAddressIncluded
	}
	if !p.Timestamp.IsZero() {
		b |= startTimestamp
	}
	return b
}

// isUserInterfaceReq reports whether the packet is a keypad-style request:
// its data is literal ASCII and its address is a single nibble.
func (p Packet) isUserInterfaceReq() bool {
	return p.StartByte() == startASCIIFormat|startBasicHeader|startAddressIncluded &&
		p.Command == CmdUserInterface
}

// Length is the data length in bytes: character count for user-interface
// requests, nibble-pair count otherwise.
func (p Packet) Length() int {
	if p.isUserInterfaceReq() {
		return len(p.Data)
	}
	return len(p.Data) / 2
}

// Checksum computes the checksum byte for the packet. User-interface
// requests sum the ASCII characters of the encoded frame; all other frames
// sum the decoded byte values of their fields. Both use the two's complement
// of the low byte so that a verifying sum lands on zero.
func (p Packet) Checksum() byte {
	enc := p.encode(false)
	if p.isUserInterfaceReq() {
		return asciiChecksum(enc)
	}
	return hexChecksum(enc)
}

// hexChecksum sums every hex pair of the frame as a byte value. The
// timestamp reads as hex here even though its fields are decimal-coded,
// which is how the panel computes it.
func hexChecksum(s string) byte {
	sum := 0
	for i := 0; i+1 < len(s); i += 2 {
		b, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err == nil {
			sum += int(b)
		}
	}
	return byte(-sum) & 0xff
}

func (p Packet) hasAddressField() bool {
	return p.Address != NoAddress
}

// Encode serializes the packet to its ASCII frame, checksum included,
// without the CRLF terminator.
func (p Packet) Encode() string {
	return p.encode(true)
}

func (p Packet) encode(withChecksum bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%02X", p.StartByte())
	if p.hasAddressField() {
		if p.isUserInterfaceReq() {
			fmt.Fprintf(&sb, "%01X", p.Address)
		} else {
			fmt.Fprintf(&sb, "%02X", p.Address)
		}
	}
	fmt.Fprintf(&sb, "%02X", p.Length()|p.Seq<<7)
	fmt.Fprintf(&sb, "%02X", byte(p.Command))
	sb.WriteString(p.Data)
	if !p.Timestamp.IsZero() {
		ts := timestampBytes(p.Timestamp)
		for _, b := range ts {
			fmt.Fprintf(&sb, "%02d", b)
		}
	}
	if withChecksum {
		fmt.Fprintf(&sb, "%02X", p.Checksum())
	}
	return sb.String()
}

// DecodePacket decodes one trimmed line into a Packet. On a checksum
// mismatch the returned packet is fully populated alongside a *ChecksumError
// so that lenient callers may still use it; every other error leaves the
// packet empty.
func DecodePacket(line string) (Packet, error) {
	raw := strings.TrimRight(line, "\r\n")
	raw = strings.ReplaceAll(raw, "?", "")
	if len(raw) < 7 {
		return Packet{}, &TruncatedPacketError{Raw: raw, Pos: len(raw)}
	}

	it := &frameReader{raw: raw}
	start, err := it.takeHexByte("start byte")
	if err != nil {
		return Packet{}, err
	}
	if start&startASCIIFormat == 0 || start&startBasicHeader == 0 ||
		start&^(startASCIIFormat|startBasicHeader|startAddressIncluded|startTimestamp) != 0 {
		return Packet{}, &BadStartByteError{Raw: raw, Start: start}
	}

	uiReq := start == startASCIIFormat|startBasicHeader|startAddressIncluded

	address := NoAddress
	switch {
	case uiReq:
		// Keypad requests carry the address as a single nibble.
		n, err := it.takeHexNibble("address")
		if err != nil {
			return Packet{}, err
		}
		address = int(n)
	case start&startAddressIncluded != 0:
		b, err := it.takeHexByte("address")
		if err != nil {
			return Packet{}, err
		}
		address = int(b)
	case start == startASCIIFormat|startBasicHeader && len(raw) == 16:
		// Some panels include the address in 0x82 frames despite the
		// address bit being clear. A 16-character frame is the tell.
		b, err := it.takeHexByte("address")
		if err != nil {
			return Packet{}, err
		}
		address = int(b)
	}

	lengthField, err := it.takeHexByte("length")
	if err != nil {
		return Packet{}, err
	}
	dataLen := int(lengthField & 0x7f)
	seq := int(lengthField >> 7)

	cmd, err := it.takeHexByte("command")
	if err != nil {
		return Packet{}, err
	}
	if CommandType(cmd) != CmdUserInterface && CommandType(cmd) != CmdSystemStatus {
		return Packet{}, &UnknownCommandError{Raw: raw, Command: cmd}
	}

	dataWidth := 2 * dataLen
	if uiReq && CommandType(cmd) == CmdUserInterface {
		dataWidth = dataLen
	}
	data, err := it.take(dataWidth)
	if err != nil {
		return Packet{}, err
	}

	var ts time.Time
	if start&startTimestamp != 0 {
		tsRaw, err := it.take(12)
		if err != nil {
			return Packet{}, err
		}
		ts, err = decodeTimestamp(tsRaw)
		if err != nil {
			return Packet{}, &MalformedHeaderError{Raw: raw, Field: "timestamp"}
		}
	}

	checksum, err := it.takeHexByte("checksum")
	if err != nil {
		return Packet{}, err
	}
	if it.pos < len(it.raw) {
		return Packet{}, &MalformedHeaderError{Raw: raw, Field: "trailing data"}
	}

	pkt := Packet{
		Address:             address,
		Seq:                 seq,
		Command:             CommandType(cmd),
		Data:                data,
		Timestamp:           ts,
		IsUserInterfaceResp: start&startAddressIncluded == 0 && CommandType(cmd) == CmdUserInterface,
	}

	if want := verifyChecksum(raw, pkt); want != checksum {
		return pkt, &ChecksumError{Raw: raw, Want: want, Got: checksum}
	}
	return pkt, nil
}

// verifyChecksum recomputes the checksum over the received frame, never a
// re-encoding of it: panels emit minute 60 on the hour and pack weekday and
// DST bits into the day and hour fields, and the sender summed those
// characters as they appear on the wire. Keypad requests sum their ASCII
// characters, panel frames sum their hex pairs.
func verifyChecksum(raw string, pkt Packet) byte {
	body := raw[:len(raw)-2]
	if pkt.isUserInterfaceReq() {
		return asciiChecksum(body)
	}
	return hexChecksum(body)
}

func asciiChecksum(s string) byte {
	sum := 0
	for _, c := range []byte(s) {
		sum += int(c)
	}
	return byte(-sum) & 0xff
}

// frameReader consumes fixed-width fields from an ASCII frame.
type frameReader struct {
	raw string
	pos int
}

func (r *frameReader) take(n int) (string, error) {
	if r.pos+n > len(r.raw) {
		return "", &TruncatedPacketError{Raw: r.raw, Pos: r.pos}
	}
	s := r.raw[r.pos : r.pos+n]
	r.pos += n
	return s, nil
}

func (r *frameReader) takeHexByte(field string) (byte, error) {
	s, err := r.take(2)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, &MalformedHeaderError{Raw: r.raw, Field: field}
	}
	return byte(v), nil
}

func (r *frameReader) takeHexNibble(field string) (byte, error) {
	s, err := r.take(1)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 16, 4)
	if err != nil {
		return 0, &MalformedHeaderError{Raw: r.raw, Field: field}
	}
	return byte(v), nil
}

// timestampBytes flattens a time into the six decimal-coded frame fields.
func timestampBytes(t time.Time) []int {
	return []int{
		t.Year() % 100,
		int(t.Month()),
		t.Day(),
		t.Hour(),
		t.Minute(),
		t.Second(),
	}
}

// decodeTimestamp parses the 12-character decimal timestamp. The day field
// packs the weekday into its high three bits and the hour field packs the
// DST flag the same way; both are masked off. Panels emit minute 60 for
// events on the hour, which rolls into the next hour here.
func decodeTimestamp(s string) (time.Time, error) {
	fields := make([]int, 6)
	for i := range fields {
		v, err := strconv.Atoi(s[i*2 : i*2+2])
		if err != nil {
			return time.Time{}, err
		}
		fields[i] = v
	}
	year := 2000 + fields[0]
	month := fields[1]
	day := fields[2] & 0x1f
	hour := fields[3] & 0x1f
	minute := fields[4]
	second := fields[5]
	if minute == 60 {
		minute = 0
		hour++
	}
	if month < 1 || month > 12 || day < 1 || hour > 24 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("timestamp out of range: %q", s)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}
