package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alarmkit/ness"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/env/v11"
	logp "github.com/charmbracelet/log"
	"github.com/j-keck/arping"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "Ness"

func main() {
	log.Info("ness-homekit", "version", version, "commit", commit, "date", date)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	var dialer ness.Dialer
	switch {
	case cfg.SerialPort != "":
		dialer = ness.SerialDialer{Port: cfg.SerialPort, BaudRate: cfg.BaudRate}
	case cfg.Host != "":
		dialer = ness.TCPDialer{Addr: net.JoinHostPort(cfg.Host, cfg.Port)}
	default:
		log.Fatal("either HOST or SERIAL must be set")
	}

	cli, err := ness.NewClient(ness.Options{
		Dialer:           dialer,
		InferArmingState: true,
	})
	if err != nil {
		log.Fatal("could not create client", "err", err)
	}
	defer func() {
		if err := cli.Close(); err != nil {
			log.Error("could not close client", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cli.Connect(ctx); err != nil {
		log.Fatal("could not connect", "err", err)
	}

	infoCtx, infoCancel := context.WithTimeout(ctx, 30*time.Second)
	info, err := cli.PanelInfo(infoCtx)
	infoCancel()
	if err != nil {
		log.Warn("could not identify panel, accessory info will be incomplete", "err", err)
	}

	var macAddr string
	if cfg.Host != "" {
		macAddr, err = macAddress(cfg.Host)
		if err != nil {
			log.Warn(
				"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
				"err", err,
			)
		}
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"model", info.Model.String(),
		"version", info.Version(),
		"mac", macAddr,
	)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	alarm := accessory.NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: macAddr,
		Manufacturer: manufacturer,
		Model:        info.Model.String(),
		Firmware:     info.Version(),
	})
	alarm.Id = 2
	alarm.SecuritySystem.SecuritySystemTargetState.OnValueRemoteUpdate(func(v int) {
		switch v {
		case characteristic.SecuritySystemTargetStateStayArm,
			characteristic.SecuritySystemTargetStateNightArm:
			log.Info("arm home")
			if err := cli.ArmHome(cfg.Code); err != nil {
				log.Error("could not arm home", "err", err)
			}
		case characteristic.SecuritySystemTargetStateAwayArm:
			log.Info("arm away")
			if err := cli.ArmAway(cfg.Code); err != nil {
				log.Error("could not arm away", "err", err)
			}
		case characteristic.SecuritySystemTargetStateDisarm:
			log.Info("disarm")
			if err := cli.Disarm(cfg.Code); err != nil {
				log.Error("could not disarm", "err", err)
			}
		}
	})

	zones := cfg.allZones()
	sensors := make(map[int]*ZoneSensor, len(zones))
	var accessories []*accessory.A
	var id uint64 = 4
	for _, zc := range zones {
		sensor := newZoneSensor(zc)
		sensor.Id = id
		id++
		sensors[zc.number] = sensor
		accessories = append(accessories, sensor.A)
	}

	panicBtn := newPanicButton(accessory.Info{
		Name:         "Panic",
		Manufacturer: manufacturer,
	})
	panicBtn.Id = 3
	panicBtn.Switch.On.OnValueRemoteUpdate(func(v bool) {
		if !v {
			return
		}
		log.Info("panic")
		if err := cli.Panic(cfg.Code); err != nil {
			log.Error("could not panic", "err", err)
		}
	})

	cli.OnStateChange(func(state ness.ArmingState) {
		armStateGauge.Set(float64(state))
		triggered := state == ness.StateTriggered
		triggeredGauge.Set(float64(boolToInt(triggered)))
		panicBtn.Switch.On.SetValue(triggered)
		_, mode := cli.Alarm().ArmingState()
		if hk := toCurrentState(state, mode); hk >= 0 {
			if alarm.SecuritySystem.SecuritySystemCurrentState.Value() != hk {
				err := alarm.SecuritySystem.SecuritySystemCurrentState.SetValue(hk)
				log.Info("set current state", "state", state, "homekit", hk, "err", err)
			}
		}
	})
	cli.OnZoneChange(func(zone int, state ness.ZoneState) {
		if sensor, ok := sensors[zone]; ok {
			sensor.Update(state)
		}
	})

	fs := hap.NewFsStore("./db")
	server, err := hap.NewServer(fs, bridge.A, append([]*accessory.A{alarm.A, panicBtn.A}, accessories...)...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("stopping server...")
		signal.Stop(c)
		cancel()
	}()

	log.Info("starting server...")
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

func macAddress(host string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(host))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}

// toCurrentState maps the panel state machine onto the HomeKit security
// system states. Transitional states return -1: HomeKit keeps showing the
// previous state while the panel counts a delay down.
func toCurrentState(state ness.ArmingState, mode ness.ArmingMode) int {
	switch state {
	case ness.StateTriggered:
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	case ness.StateDisarmed:
		return characteristic.SecuritySystemCurrentStateDisarmed
	case ness.StateArmed:
		switch mode {
		case ness.ModeHome, ness.ModeDay:
			return characteristic.SecuritySystemCurrentStateStayArm
		case ness.ModeNight:
			return characteristic.SecuritySystemCurrentStateNightArm
		default:
			return characteristic.SecuritySystemCurrentStateAwayArm
		}
	default:
		return -1
	}
}
