package ness

import "sync"

// ArmingState is the panel-wide arming mode as reconstructed from events
// and status snapshots.
type ArmingState int

const (
	StateUnknown ArmingState = iota
	StateDisarmed
	StateArming
	StateExitDelay
	StateEntryDelay
	StateArmed
	StateTriggered
)

func (s ArmingState) String() string {
	switch s {
	case StateDisarmed:
		return "DISARMED"
	case StateArming:
		return "ARMING"
	case StateExitDelay:
		return "EXIT_DELAY"
	case StateEntryDelay:
		return "ENTRY_DELAY"
	case StateArmed:
		return "ARMED"
	case StateTriggered:
		return "TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// ArmingMode is the flavour of the last ARMED_* event. It qualifies
// StateArmed and survives entry/exit delay transitions.
type ArmingMode int

const (
	ModeNone ArmingMode = iota
	ModeAway
	ModeHome
	ModeDay
	ModeNight
	ModeVacation
	ModeHighest
)

func (m ArmingMode) String() string {
	switch m {
	case ModeAway:
		return "AWAY"
	case ModeHome:
		return "HOME"
	case ModeDay:
		return "DAY"
	case ModeNight:
		return "NIGHT"
	case ModeVacation:
		return "VACATION"
	case ModeHighest:
		return "HIGHEST"
	default:
		return "NONE"
	}
}

// ZoneState is the sealed/unsealed state of one zone.
type ZoneState int

const (
	ZoneUnknown ZoneState = iota
	ZoneSealed
	ZoneUnsealed
)

func (s ZoneState) String() string {
	switch s {
	case ZoneSealed:
		return "SEALED"
	case ZoneUnsealed:
		return "UNSEALED"
	default:
		return "UNKNOWN"
	}
}

const maxZones = 32

// Alarm folds decoded panel traffic into arming and zone state. It is a
// passive model: feed it with HandleEvent and read it back through the
// getters or change callbacks. Callbacks run synchronously on the
// HandleEvent caller and must not call back into the model.
type Alarm struct {
	mu          sync.Mutex
	arming      ArmingState
	mode        ArmingMode
	priorArming ArmingState
	zones       [maxZones]ZoneState
	zoneCount   int
	version     *PanelVersionUpdate
	notifyFirst bool

	onState []func(ArmingState)
	onZone  []func(zone int, state ZoneState)
}

// AlarmOption configures a new Alarm.
type AlarmOption func(*Alarm)

// WithoutFirstObservation suppresses zone-change callbacks for the first
// transition out of ZoneUnknown. By default that transition notifies.
func WithoutFirstObservation() AlarmOption {
	return func(a *Alarm) { a.notifyFirst = false }
}

// NewAlarm returns a model with everything unknown and 16 zones tracked.
// The zone range grows to 32 once the panel proves it has more: a
// zones-17-32 status reply, a D32X version report, or any event naming a
// zone above 16.
func NewAlarm(opts ...AlarmOption) *Alarm {
	a := &Alarm{
		zoneCount:   16,
		notifyFirst: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnStateChange registers a callback for arming transitions. Idempotent
// re-delivery of the current state does not fire.
func (a *Alarm) OnStateChange(fn func(ArmingState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = append(a.onState, fn)
}

// OnZoneChange registers a callback for zone transitions.
func (a *Alarm) OnZoneChange(fn func(zone int, state ZoneState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onZone = append(a.onZone, fn)
}

// ArmingState returns the current arming state and mode.
func (a *Alarm) ArmingState() (ArmingState, ArmingMode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.arming, a.mode
}

// Zone returns the state of zone id (1-based). Out-of-range ids read as
// unknown.
func (a *Alarm) Zone(id int) ZoneState {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 1 || id > a.zoneCount {
		return ZoneUnknown
	}
	return a.zones[id-1]
}

// Zones returns a snapshot of all tracked zones, 1-based at index 0.
func (a *Alarm) Zones() []ZoneState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ZoneState, a.zoneCount)
	copy(out, a.zones[:a.zoneCount])
	return out
}

// ZoneCount returns how many zones the model currently tracks.
func (a *Alarm) ZoneCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.zoneCount
}

// Version returns the panel version reply, if one has been observed.
func (a *Alarm) Version() (PanelVersionUpdate, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.version == nil {
		return PanelVersionUpdate{}, false
	}
	return *a.version, true
}

type zoneNotice struct {
	zone  int
	state ZoneState
}

// HandleEvent folds one decoded message into the model. Events apply
// eagerly; bulk snapshots overwrite the range they cover, so ordering on
// the wire is the ordering of state.
func (a *Alarm) HandleEvent(e Event) {
	a.mu.Lock()
	prev := a.arming
	var zoneChanges []zoneNotice
	switch v := e.(type) {
	case SystemStatusEvent:
		zoneChanges = a.applyStatusEvent(v)
	case ZoneUpdate:
		zoneChanges = a.applyZoneSnapshot(v)
	case ArmingUpdate:
		a.applyArmingSnapshot(v)
	case PanelVersionUpdate:
		version := v
		a.version = &version
		if version.Model.Zones() > a.zoneCount {
			a.zoneCount = version.Model.Zones()
		}
	}
	armed := a.arming
	stateFns := a.onState
	zoneFns := a.onZone
	a.mu.Unlock()

	if armed != prev {
		for _, fn := range stateFns {
			fn(armed)
		}
	}
	for _, ch := range zoneChanges {
		for _, fn := range zoneFns {
			fn(ch.zone, ch.state)
		}
	}
}

// MarkUnknown discards all knowledge of panel state, as after a transport
// drop. Transitions notify as usual.
func (a *Alarm) MarkUnknown() {
	a.mu.Lock()
	prev := a.arming
	a.arming = StateUnknown
	a.mode = ModeNone
	a.priorArming = StateUnknown
	var zoneChanges []zoneNotice
	for i := 0; i < a.zoneCount; i++ {
		if a.zones[i] != ZoneUnknown {
			a.zones[i] = ZoneUnknown
			zoneChanges = append(zoneChanges, zoneNotice{zone: i + 1, state: ZoneUnknown})
		}
	}
	stateFns := a.onState
	zoneFns := a.onZone
	a.mu.Unlock()

	if prev != StateUnknown {
		for _, fn := range stateFns {
			fn(StateUnknown)
		}
	}
	for _, ch := range zoneChanges {
		for _, fn := range zoneFns {
			fn(ch.zone, ch.state)
		}
	}
}

func (a *Alarm) applyStatusEvent(e SystemStatusEvent) []zoneNotice {
	switch e.Type {
	case EventUnsealed:
		return a.setZone(int(e.ID), ZoneUnsealed)
	case EventSealed:
		return a.setZone(int(e.ID), ZoneSealed)
	case EventAlarm:
		// Duress, panic and the other semantic alarms (area >= 0x80)
		// report an incident, not an arming transition.
		if !e.SemanticArea() && a.arming != StateDisarmed && a.arming != StateUnknown {
			a.setArming(StateTriggered)
		}
	case EventAlarmRestore:
		if a.arming == StateTriggered {
			a.setArming(a.priorArming)
		}
	case EventDisarmed:
		a.mode = ModeNone
		a.setArming(StateDisarmed)
	case EventArmedAway:
		a.mode = ModeAway
		a.setArming(StateArmed)
	case EventArmedHome:
		a.mode = ModeHome
		a.setArming(StateArmed)
	case EventArmedDay:
		a.mode = ModeDay
		a.setArming(StateArmed)
	case EventArmedNight:
		a.mode = ModeNight
		a.setArming(StateArmed)
	case EventArmedVacation:
		a.mode = ModeVacation
		a.setArming(StateArmed)
	case EventArmedHighest:
		a.mode = ModeHighest
		a.setArming(StateArmed)
	case EventArmingDelayed:
		a.setArming(StateArming)
	case EventExitDelayStart:
		a.setArming(StateExitDelay)
	case EventExitDelayEnd:
		if a.arming == StateExitDelay {
			a.setArming(StateArmed)
		}
	case EventEntryDelayStart:
		a.setArming(StateEntryDelay)
	case EventEntryDelayEnd:
		if a.arming == StateEntryDelay {
			a.setArming(StateArmed)
		}
	}
	return nil
}

func (a *Alarm) applyZoneSnapshot(u ZoneUpdate) []zoneNotice {
	if u.ID != ReqZoneInputUnsealed && u.ID != ReqZone17InputUnsealed {
		return nil
	}
	base := u.Base()
	if base == 16 && a.zoneCount < maxZones {
		a.zoneCount = maxZones
	}
	unsealed := map[int]bool{}
	for _, z := range u.Zones {
		unsealed[z] = true
	}
	var changes []zoneNotice
	for k := base + 1; k <= base+16 && k <= a.zoneCount; k++ {
		state := ZoneSealed
		if unsealed[k] {
			state = ZoneUnsealed
		}
		changes = append(changes, a.setZone(k, state)...)
	}
	return changes
}

func (a *Alarm) applyArmingSnapshot(u ArmingUpdate) {
	switch {
	case u.Status.Has(Area1FullyArmed) || u.Status.Has(Area2FullyArmed):
		a.setArming(StateArmed)
	case u.Status.Has(EntryDelay1On) || u.Status.Has(EntryDelay2On):
		a.setArming(StateEntryDelay)
	case u.Status.Has(Area1Armed) || u.Status.Has(Area2Armed):
		a.setArming(StateExitDelay)
	default:
		a.mode = ModeNone
		a.setArming(StateDisarmed)
	}
}

func (a *Alarm) setArming(state ArmingState) {
	if state == StateTriggered && a.arming != StateTriggered {
		a.priorArming = a.arming
	}
	a.arming = state
}

func (a *Alarm) setZone(id int, state ZoneState) []zoneNotice {
	if id < 1 || id > maxZones {
		return nil
	}
	if id > a.zoneCount {
		// An event naming a zone above the tracked range proves an
		// expander is present before any zones-17-32 reply does.
		a.zoneCount = maxZones
	}
	prev := a.zones[id-1]
	if prev == state {
		return nil
	}
	a.zones[id-1] = state
	if prev == ZoneUnknown && !a.notifyFirst {
		return nil
	}
	return []zoneNotice{{zone: id, state: state}}
}
