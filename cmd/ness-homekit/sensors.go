package main

import (
	"github.com/alarmkit/ness"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/service"
)

// ZoneSensor is one panel zone exposed as a HomeKit accessory, either a
// contact or a motion sensor depending on configuration.
type ZoneSensor struct {
	*accessory.A
	Contact *service.ContactSensor
	Motion  *service.MotionSensor
	number  int
}

func newZoneSensor(zc zoneConfig) *ZoneSensor {
	a := ZoneSensor{number: zc.number}
	a.A = accessory.New(accessory.Info{
		Name:         zc.name,
		Manufacturer: manufacturer,
	}, accessory.TypeSensor)

	switch zc.kind {
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.AddS(a.Motion.S)
	default:
		a.Contact = service.NewContactSensor()
		a.AddS(a.Contact.S)
	}
	return &a
}

// Update pushes a zone state into the accessory. Unknown zone states leave
// the previous value alone rather than flapping.
func (z *ZoneSensor) Update(state ness.ZoneState) {
	if state == ness.ZoneUnknown {
		return
	}
	open := state == ness.ZoneUnsealed
	if z.Motion != nil {
		if z.Motion.MotionDetected.Value() != open {
			z.Motion.MotionDetected.SetValue(open)
			log.Info("motion", "zone", z.number, "detected", open)
		}
	}
	if z.Contact != nil {
		current := boolToInt(open)
		if z.Contact.ContactSensorState.Value() != current {
			_ = z.Contact.ContactSensorState.SetValue(current)
			log.Info("contact", "zone", z.number, "open", open)
		}
	}
	openGauge.WithLabelValues(z.Name()).Set(float64(boolToInt(open)))
}

type PanicButton struct {
	*accessory.A
	Switch *service.Switch
}

func newPanicButton(info accessory.Info) *PanicButton {
	a := PanicButton{}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Switch = service.NewSwitch()
	a.AddS(a.Switch.S)

	return &a
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
