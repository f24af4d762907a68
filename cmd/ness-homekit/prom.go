package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "ness_homekit",
	Subsystem:   "alarm",
	Name:        "state",
	Help:        "",
	ConstLabels: map[string]string{},
})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "ness_homekit",
	Subsystem:   "alarm",
	Name:        "open",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})

var triggeredGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "ness_homekit",
	Subsystem:   "alarm",
	Name:        "triggered",
	Help:        "",
	ConstLabels: map[string]string{},
})
