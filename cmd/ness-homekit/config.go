package main

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type Config struct {
	Host       string `env:"HOST"`
	Port       string `env:"PORT"        envDefault:"2401"`
	SerialPort string `env:"SERIAL"`
	BaudRate   int    `env:"BAUD"        envDefault:"9600"`
	Code       string `env:"CODE"`

	MotionZones  []int    `env:"MOTION"`
	ContactZones []int    `env:"CONTACT"`
	ZoneNames    []string `env:"ZONE_NAMES"`

	Address string `env:"LISTEN"`
}

type zoneKind uint8

const (
	kindMotion = iota + 1
	kindContact
)

type zoneConfig struct {
	number int
	name   string
	kind   zoneKind
}

func (c Config) zoneName(n int) string {
	names := c.ZoneNames
	if len(names) > n-1 {
		if n := names[n-1]; n != "" {
			return n
		}
	}
	return fmt.Sprintf("Zone %d", n)
}

func (c Config) allZones() []zoneConfig {
	var zones []zoneConfig
	for _, z := range c.MotionZones {
		zones = append(zones, zoneConfig{
			number: z,
			name:   c.zoneName(z),
			kind:   kindMotion,
		})
	}
	for _, z := range c.ContactZones {
		zones = append(zones, zoneConfig{
			number: z,
			name:   c.zoneName(z),
			kind:   kindContact,
		})
	}
	slices.SortFunc(zones, func(a, b zoneConfig) int {
		if a.number > b.number {
			return 1
		}
		return -1
	})
	return zones
}
