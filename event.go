package ness

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Event is a decoded message from the panel: a SystemStatusEvent, one of the
// StatusUpdate variants, or an echo of a client-originated user-interface
// request.
type Event interface {
	isEvent()
}

// DecodeEvent routes a decoded packet to the matching message type.
func DecodeEvent(pkt Packet) (Event, error) {
	switch pkt.Command {
	case CmdSystemStatus:
		return decodeSystemStatusEvent(pkt)
	case CmdUserInterface:
		if pkt.IsUserInterfaceResp {
			return decodeStatusUpdate(pkt)
		}
		return decodeUserInterfaceRequest(pkt)
	default:
		return nil, &UnknownCommandError{Raw: pkt.Data, Command: byte(pkt.Command)}
	}
}

// EventType is the first byte of a system status event triple.
type EventType byte

// Zone/user events.
const (
	EventUnsealed      EventType = 0x00
	EventSealed        EventType = 0x01
	EventAlarm         EventType = 0x02
	EventAlarmRestore  EventType = 0x03
	EventManualExclude EventType = 0x04
	EventManualInclude EventType = 0x05
	EventAutoExclude   EventType = 0x06
	EventAutoInclude   EventType = 0x07
	EventTamperUnseal  EventType = 0x08
	EventTamperNormal  EventType = 0x09
)

// System events.
const (
	EventPowerFailure       EventType = 0x10
	EventPowerNormal        EventType = 0x11
	EventBatteryFailure     EventType = 0x12
	EventBatteryNormal      EventType = 0x13
	EventReportFailure      EventType = 0x14
	EventReportNormal       EventType = 0x15
	EventSupervisionFailure EventType = 0x16
	EventSupervisionNormal  EventType = 0x17
	EventRealTimeClock      EventType = 0x19
)

// Area events.
const (
	EventEntryDelayStart EventType = 0x20
	EventEntryDelayEnd   EventType = 0x21
	EventExitDelayStart  EventType = 0x22
	EventExitDelayEnd    EventType = 0x23
	EventArmedAway       EventType = 0x24
	EventArmedHome       EventType = 0x25
	EventArmedDay        EventType = 0x26
	EventArmedNight      EventType = 0x27
	EventArmedVacation   EventType = 0x28
	EventArmedHighest    EventType = 0x2e
	EventDisarmed        EventType = 0x2f
	EventArmingDelayed   EventType = 0x30
)

// Result events.
const (
	EventOutputOn  EventType = 0x31
	EventOutputOff EventType = 0x32
)

// EventClass partitions the event types into the documented families.
type EventClass int

const (
	ClassUnknown EventClass = iota
	ClassZoneUser
	ClassSystem
	ClassArea
	ClassResult
)

func (c EventClass) String() string {
	switch c {
	case ClassZoneUser:
		return "zone/user"
	case ClassSystem:
		return "system"
	case ClassArea:
		return "area"
	case ClassResult:
		return "result"
	default:
		return "unknown"
	}
}

// Identifier values with fixed meanings. Other values name a zone (1-32,
// for zone/user events) or a user (1-56).
const (
	IDMainUnit  = 0x00
	IDKeyswitch = 57
	IDShortArm  = 58
	IDKeypad    = 0xf0
)

// Area codes at and above 0x80 are semantic tags rather than arming areas.
const (
	Area24Hour        = 0x80
	AreaFire          = 0x81
	AreaPanic         = 0x82
	AreaMedical       = 0x83
	AreaDuress        = 0x84
	AreaDoorBell      = 0x85
	AreaRadioDetector = 0x91
	AreaRadioKey      = 0x92
)

// SystemStatusEvent is an asynchronous event pushed by the panel over
// command 0x61: a fixed (event type, identifier, area) triple.
//
// The identifier's meaning depends on the event type: a zone id for
// zone/user events, a user id for arming events, or one of the fixed ID
// constants. The area is an arming area (1-4) or a semantic tag (0x80+).
// Tuples the documentation does not cover decode into ClassUnknown rather
// than failing, since the panel reserves future values.
type SystemStatusEvent struct {
	Type      EventType
	ID        int
	Area      int
	Address   int
	Timestamp time.Time
}

func (SystemStatusEvent) isEvent() {}

// Class reports which family the event belongs to.
func (e SystemStatusEvent) Class() EventClass {
	switch {
	case e.Type <= EventTamperNormal:
		return ClassZoneUser
	case e.Type >= EventPowerFailure && e.Type <= EventRealTimeClock && e.Type != 0x18:
		return ClassSystem
	case e.Type >= EventEntryDelayStart && e.Type <= EventArmingDelayed &&
		(e.Type <= EventArmedVacation || e.Type >= EventArmedHighest):
		return ClassArea
	case e.Type == EventOutputOn || e.Type == EventOutputOff:
		return ClassResult
	default:
		return ClassUnknown
	}
}

// SemanticArea reports whether the area field is a tag (duress, fire, ...)
// rather than an arming area id.
func (e SystemStatusEvent) SemanticArea() bool {
	return e.Area >= 0x80
}

func (e SystemStatusEvent) String() string {
	return fmt.Sprintf("SystemStatusEvent{type=0x%02x id=%d area=0x%02x}", byte(e.Type), e.ID, e.Area)
}

func decodeSystemStatusEvent(pkt Packet) (SystemStatusEvent, error) {
	if len(pkt.Data) < 6 {
		return SystemStatusEvent{}, &TruncatedPacketError{Raw: pkt.Data, Pos: len(pkt.Data)}
	}
	typ, err := strconv.ParseUint(pkt.Data[0:2], 16, 8)
	if err != nil {
		return SystemStatusEvent{}, &MalformedHeaderError{Raw: pkt.Data, Field: "event type"}
	}
	id, err := strconv.ParseUint(pkt.Data[2:4], 16, 8)
	if err != nil {
		return SystemStatusEvent{}, &MalformedHeaderError{Raw: pkt.Data, Field: "event identifier"}
	}
	area, err := strconv.ParseUint(pkt.Data[4:6], 16, 8)
	if err != nil {
		return SystemStatusEvent{}, &MalformedHeaderError{Raw: pkt.Data, Field: "event area"}
	}
	return SystemStatusEvent{
		Type:      EventType(typ),
		ID:        int(id),
		Area:      int(area),
		Address:   pkt.Address,
		Timestamp: pkt.Timestamp,
	}, nil
}

// Encode packs the event back into a packet. Primarily for tests and panel
// simulators.
func (e SystemStatusEvent) Encode() Packet {
	return Packet{
		Address: e.Address,
		Seq:     0,
		Command: CmdSystemStatus,
		Data:    fmt.Sprintf("%02x%02x%02x", byte(e.Type), e.ID, e.Area),
	}
}

var statusRequestRe = regexp.MustCompile(`^S\d{2}$`)

// StatusRequest is a client-originated Sxx query echoed on the wire.
type StatusRequest struct {
	Request RequestID
	Address int
}

func (StatusRequest) isEvent() {}

// Keystring is a user-interface keypad input request.
type Keystring struct {
	Keys    string
	Address int
}

func (Keystring) isEvent() {}

func decodeUserInterfaceRequest(pkt Packet) (Event, error) {
	if statusRequestRe.MatchString(pkt.Data) {
		id, err := strconv.ParseUint(pkt.Data[1:3], 16, 8)
		if err != nil || !RequestID(id).valid() {
			return nil, &UnknownStatusIDError{Raw: pkt.Data, ID: byte(id)}
		}
		return StatusRequest{Request: RequestID(id), Address: pkt.Address}, nil
	}
	if err := ValidateKeystring(pkt.Data); err != nil {
		return nil, err
	}
	return Keystring{Keys: pkt.Data, Address: pkt.Address}, nil
}

// ValidateKeystring checks that every character is in the panel's keypad
// set. The '?' separator is allowed; it instructs the panel to insert an
// inter-command delay.
func ValidateKeystring(keys string) error {
	for i := 0; i < len(keys); i++ {
		c := keys[i]
		switch {
		case c >= '0' && c <= '9':
		case c == 'A' || c == 'H' || c == 'E' || c == 'X' || c == 'F' ||
			c == 'V' || c == 'P' || c == 'D' || c == 'M':
		case c == '*' || c == '#' || c == '?':
		default:
			return fmt.Errorf("invalid keypad character %q in %q", c, keys)
		}
	}
	return nil
}
