package ness

import (
	"fmt"
	"strconv"
)

// RequestID identifies an Sxx status category. The two wire digits are both
// decimal, but the panel interprets them as a hex byte, so S14 is 0x14.
type RequestID byte

// FORM 4 categories: bit-vectors over zones 1-16.
const (
	ReqZoneInputUnsealed          RequestID = 0x00
	ReqZoneRadioUnsealed          RequestID = 0x01
	ReqZoneCBusUnsealed           RequestID = 0x02
	ReqZoneInDelay                RequestID = 0x03
	ReqZoneInDoubleTrigger        RequestID = 0x04
	ReqZoneInAlarm                RequestID = 0x05
	ReqZoneExcluded               RequestID = 0x06
	ReqZoneAutoExcluded           RequestID = 0x07
	ReqZoneSupervisionFailPending RequestID = 0x08
	ReqZoneSupervisionFail        RequestID = 0x09
	ReqZoneDoorsOpen              RequestID = 0x10
	ReqZoneDetectorLowBattery     RequestID = 0x11
	ReqZoneDetectorTamper         RequestID = 0x12
)

// Panel-wide categories.
const (
	ReqMiscellaneousAlarms RequestID = 0x13
	ReqArming              RequestID = 0x14
	ReqOutputs             RequestID = 0x15
	ReqViewState           RequestID = 0x16
	ReqPanelVersion        RequestID = 0x17
	ReqAuxiliaryOutputs    RequestID = 0x18
)

// FORM 5 categories: the FORM 4 set shifted to zones 17-32.
const (
	ReqZone17InputUnsealed          RequestID = 0x20
	ReqZone17RadioUnsealed          RequestID = 0x21
	ReqZone17CBusUnsealed           RequestID = 0x22
	ReqZone17InDelay                RequestID = 0x23
	ReqZone17InDoubleTrigger        RequestID = 0x24
	ReqZone17InAlarm                RequestID = 0x25
	ReqZone17Excluded               RequestID = 0x26
	ReqZone17AutoExcluded           RequestID = 0x27
	ReqZone17SupervisionFailPending RequestID = 0x28
	ReqZone17SupervisionFail        RequestID = 0x29
	ReqZone17DoorsOpen              RequestID = 0x30
	ReqZone17DetectorLowBattery     RequestID = 0x31
	ReqZone17DetectorTamper         RequestID = 0x32
)

func (id RequestID) valid() bool {
	switch {
	case id <= ReqZoneSupervisionFail:
		return true
	case id >= ReqZoneDoorsOpen && id <= ReqAuxiliaryOutputs:
		return true
	case id >= ReqZone17InputUnsealed && id <= ReqZone17SupervisionFail:
		return true
	case id >= ReqZone17DoorsOpen && id <= ReqZone17DetectorTamper:
		return true
	}
	return false
}

// isZoneCategory reports whether the reply payload is a FORM 4/5 zone
// bit-vector, and with which zone base.
func (id RequestID) isZoneCategory() (base int, ok bool) {
	switch {
	case id <= ReqZoneSupervisionFail || (id >= ReqZoneDoorsOpen && id <= ReqZoneDetectorTamper):
		return 0, true
	case (id >= ReqZone17InputUnsealed && id <= ReqZone17SupervisionFail) ||
		(id >= ReqZone17DoorsOpen && id <= ReqZone17DetectorTamper):
		return 16, true
	}
	return 0, false
}

// Command renders the request as the Sxx wire keystring.
func (id RequestID) Command() string {
	return fmt.Sprintf("S%02x", byte(id))
}

// StatusUpdate is a synchronous reply to an Sxx request.
type StatusUpdate interface {
	Event
	Request() RequestID
}

// zoneWord converts a FORM 4/5 16-bit word into 1-based zone ids. The word
// is big-endian but bit order within each byte runs LSB-first, so bits 8-15
// name zones 1-8 and bits 0-7 name zones 9-16: zone k maps to bit (k-1)^8.
func zoneWord(word uint16, base int) []int {
	zones := []int{}
	for k := 1; k <= 16; k++ {
		if word&(1<<((k-1)^8)) != 0 {
			zones = append(zones, base+k)
		}
	}
	return zones
}

// zoneMask is the inverse of zoneWord.
func zoneMask(zones []int, base int) uint16 {
	var word uint16
	for _, z := range zones {
		k := z - base
		if k >= 1 && k <= 16 {
			word |= 1 << ((k - 1) ^ 8)
		}
	}
	return word
}

// ZoneUpdate is a FORM 4 or FORM 5 reply: the set of zones currently in the
// requested category. Zones are 1-based panel ids (17-32 for FORM 5).
type ZoneUpdate struct {
	ID      RequestID
	Zones   []int
	Address int
}

func (ZoneUpdate) isEvent() {}

func (u ZoneUpdate) Request() RequestID { return u.ID }

// Base is the zone id offset of the reply: 0 for FORM 4, 16 for FORM 5.
func (u ZoneUpdate) Base() int {
	base, _ := u.ID.isZoneCategory()
	return base
}

// Encode packs the update back into a reply packet.
func (u ZoneUpdate) Encode() Packet {
	return Packet{
		Address:             u.Address,
		Command:             CmdUserInterface,
		Data:                fmt.Sprintf("%02x%04x", byte(u.ID), zoneMask(u.Zones, u.Base())),
		IsUserInterfaceResp: true,
	}
}

// MiscAlarmFlags is the FORM 20 bit-vector.
type MiscAlarmFlags uint16

const (
	AlarmDuress          MiscAlarmFlags = 0x0100
	AlarmPanic           MiscAlarmFlags = 0x0200
	AlarmMedical         MiscAlarmFlags = 0x0400
	AlarmFire            MiscAlarmFlags = 0x0800
	AlarmInstallEnd      MiscAlarmFlags = 0x1000
	AlarmExtTamper       MiscAlarmFlags = 0x2000
	AlarmPanelTamper     MiscAlarmFlags = 0x4000
	AlarmKeypadTamper    MiscAlarmFlags = 0x8000
	AlarmPendantPanic    MiscAlarmFlags = 0x0001
	AlarmPanelBatteryLow MiscAlarmFlags = 0x0002
	AlarmBatteryLow2     MiscAlarmFlags = 0x0004
	AlarmMainsFail       MiscAlarmFlags = 0x0008
	AlarmCBusFail        MiscAlarmFlags = 0x0010
)

// Has reports whether all bits of flag are set.
func (f MiscAlarmFlags) Has(flag MiscAlarmFlags) bool { return f&flag == flag }

// MiscellaneousAlarmsUpdate is the FORM 20 reply.
type MiscellaneousAlarmsUpdate struct {
	Alarms  MiscAlarmFlags
	Address int
}

func (MiscellaneousAlarmsUpdate) isEvent() {}

func (MiscellaneousAlarmsUpdate) Request() RequestID { return ReqMiscellaneousAlarms }

// ArmingFlags is the FORM 21 bit-vector.
type ArmingFlags uint16

const (
	Area1Armed        ArmingFlags = 0x0100
	Area2Armed        ArmingFlags = 0x0200
	Area1FullyArmed   ArmingFlags = 0x0400
	Area2FullyArmed   ArmingFlags = 0x0800
	MonitorArmed      ArmingFlags = 0x1000
	DayModeArmed      ArmingFlags = 0x2000
	EntryDelay1On     ArmingFlags = 0x4000
	EntryDelay2On     ArmingFlags = 0x8000
	ManualExcludeMode ArmingFlags = 0x0001
	MemoryMode        ArmingFlags = 0x0002
	DayZoneSelect     ArmingFlags = 0x0004
)

func (f ArmingFlags) Has(flag ArmingFlags) bool { return f&flag == flag }

// ArmingUpdate is the FORM 21 reply.
type ArmingUpdate struct {
	Status  ArmingFlags
	Address int
}

func (ArmingUpdate) isEvent() {}

func (ArmingUpdate) Request() RequestID { return ReqArming }

// Encode packs the update back into a reply packet.
func (u ArmingUpdate) Encode() Packet {
	return Packet{
		Address:             u.Address,
		Command:             CmdUserInterface,
		Data:                fmt.Sprintf("%02x%04x", byte(ReqArming), uint16(u.Status)),
		IsUserInterfaceResp: true,
	}
}

// OutputFlags is the FORM 22 bit-vector.
type OutputFlags uint16

const (
	OutputSirenLoud        OutputFlags = 0x0100
	OutputSirenSoft        OutputFlags = 0x0200
	OutputSirenSoftMonitor OutputFlags = 0x0400
	OutputSirenSoftFire    OutputFlags = 0x0800
	OutputStrobe           OutputFlags = 0x1000
	OutputReset            OutputFlags = 0x2000
	OutputSonalert         OutputFlags = 0x4000
	OutputKeypadDisplay    OutputFlags = 0x8000
	OutputAux1             OutputFlags = 0x0001
	OutputAux2             OutputFlags = 0x0002
	OutputAux3             OutputFlags = 0x0004
	OutputAux4             OutputFlags = 0x0008
	OutputMonitorOut       OutputFlags = 0x0010
	OutputPowerFail        OutputFlags = 0x0020
	OutputPanelBattFail    OutputFlags = 0x0040
	OutputTamperXpand      OutputFlags = 0x0080
)

func (f OutputFlags) Has(flag OutputFlags) bool { return f&flag == flag }

// OutputsUpdate is the FORM 22 reply.
type OutputsUpdate struct {
	Outputs OutputFlags
	Address int
}

func (OutputsUpdate) isEvent() {}

func (OutputsUpdate) Request() RequestID { return ReqOutputs }

// ViewState is the FORM 23 display mode. Unlike the other replies this word
// is an enumeration, not a bitfield.
type ViewState uint16

const (
	ViewNormal             ViewState = 0xf000
	ViewBriefDayChime      ViewState = 0xe000
	ViewHome               ViewState = 0xd000
	ViewMemory             ViewState = 0xc000
	ViewBriefDayZoneSelect ViewState = 0xb000
	ViewExcludeSelect      ViewState = 0xa000
	ViewUserProgram        ViewState = 0x9000
	ViewInstallerProgram   ViewState = 0x8000
)

// ViewStateUpdate is the FORM 23 reply.
type ViewStateUpdate struct {
	State   ViewState
	Address int
}

func (ViewStateUpdate) isEvent() {}

func (ViewStateUpdate) Request() RequestID { return ReqViewState }

// PanelModel is the model byte of the version reply.
type PanelModel byte

const (
	ModelD8X       PanelModel = 0x00
	ModelD8XCel3G  PanelModel = 0x04
	ModelD8XCel4G  PanelModel = 0x05
	ModelD32X      PanelModel = 0x06
	ModelD16X      PanelModel = 0x10
	ModelD16XCel3G PanelModel = 0x14
	ModelD16XCel4G PanelModel = 0x15
)

func (m PanelModel) String() string {
	switch m {
	case ModelD8X:
		return "D8X"
	case ModelD8XCel3G:
		return "D8XCEL-3G"
	case ModelD8XCel4G:
		return "D8XCEL-4G"
	case ModelD32X:
		return "D32X"
	case ModelD16X:
		return "D16X"
	case ModelD16XCel3G:
		return "D16XCEL-3G"
	case ModelD16XCel4G:
		return "D16XCEL-4G"
	default:
		return fmt.Sprintf("unknown (0x%02x)", byte(m))
	}
}

// Zones is the installed zone count of the model.
func (m PanelModel) Zones() int {
	switch m {
	case ModelD8X, ModelD8XCel3G, ModelD8XCel4G:
		return 8
	case ModelD32X:
		return 32
	default:
		return 16
	}
}

// PanelVersionUpdate is the S17 reply: panel model and firmware version.
// The version byte carries the major version in its high nibble and the
// minor in its low nibble, so 0xa8 reads as "10.8".
type PanelVersionUpdate struct {
	Model   PanelModel
	Major   int
	Minor   int
	Address int
}

func (PanelVersionUpdate) isEvent() {}

func (PanelVersionUpdate) Request() RequestID { return ReqPanelVersion }

// Version renders the firmware version as "major.minor".
func (u PanelVersionUpdate) Version() string {
	return fmt.Sprintf("%d.%d", u.Major, u.Minor)
}

// AuxOutputFlags is the FORM 24 bit-vector.
type AuxOutputFlags uint16

const (
	AuxOutput1 AuxOutputFlags = 0x0001
	AuxOutput2 AuxOutputFlags = 0x0002
	AuxOutput3 AuxOutputFlags = 0x0004
	AuxOutput4 AuxOutputFlags = 0x0008
	AuxOutput5 AuxOutputFlags = 0x0010
	AuxOutput6 AuxOutputFlags = 0x0020
	AuxOutput7 AuxOutputFlags = 0x0040
	AuxOutput8 AuxOutputFlags = 0x0080
)

func (f AuxOutputFlags) Has(flag AuxOutputFlags) bool { return f&flag == flag }

// AuxiliaryOutputsUpdate is the FORM 24 reply.
type AuxiliaryOutputsUpdate struct {
	Outputs AuxOutputFlags
	Address int
}

func (AuxiliaryOutputsUpdate) isEvent() {}

func (AuxiliaryOutputsUpdate) Request() RequestID { return ReqAuxiliaryOutputs }

func decodeStatusUpdate(pkt Packet) (StatusUpdate, error) {
	if len(pkt.Data) < 6 {
		return nil, &TruncatedPacketError{Raw: pkt.Data, Pos: len(pkt.Data)}
	}
	idRaw, err := strconv.ParseUint(pkt.Data[0:2], 16, 8)
	if err != nil {
		return nil, &MalformedHeaderError{Raw: pkt.Data, Field: "request id"}
	}
	id := RequestID(idRaw)
	if !id.valid() {
		return nil, &UnknownStatusIDError{Raw: pkt.Data, ID: byte(id)}
	}
	wordRaw, err := strconv.ParseUint(pkt.Data[2:6], 16, 16)
	if err != nil {
		return nil, &MalformedHeaderError{Raw: pkt.Data, Field: "payload"}
	}
	word := uint16(wordRaw)

	if base, ok := id.isZoneCategory(); ok {
		return ZoneUpdate{ID: id, Zones: zoneWord(word, base), Address: pkt.Address}, nil
	}
	switch id {
	case ReqMiscellaneousAlarms:
		return MiscellaneousAlarmsUpdate{Alarms: MiscAlarmFlags(word), Address: pkt.Address}, nil
	case ReqArming:
		return ArmingUpdate{Status: ArmingFlags(word), Address: pkt.Address}, nil
	case ReqOutputs:
		return OutputsUpdate{Outputs: OutputFlags(word), Address: pkt.Address}, nil
	case ReqViewState:
		return ViewStateUpdate{State: ViewState(word), Address: pkt.Address}, nil
	case ReqPanelVersion:
		return PanelVersionUpdate{
			Model:   PanelModel(word >> 8),
			Major:   int(word >> 4 & 0xf),
			Minor:   int(word & 0xf),
			Address: pkt.Address,
		}, nil
	case ReqAuxiliaryOutputs:
		return AuxiliaryOutputsUpdate{Outputs: AuxOutputFlags(word), Address: pkt.Address}, nil
	}
	return nil, &UnknownStatusIDError{Raw: pkt.Data, ID: byte(id)}
}
