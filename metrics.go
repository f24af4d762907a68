package ness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var packetsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "ness",
	Subsystem:   "client",
	Name:        "packets_decoded_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var decodeErrorCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace:   "ness",
	Subsystem:   "client",
	Name:        "decode_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"kind"})

var eventsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "ness",
	Subsystem:   "client",
	Name:        "events_dispatched_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var reconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "ness",
	Subsystem:   "client",
	Name:        "reconnects_total",
	Help:        "",
	ConstLabels: map[string]string{},
})

var connectedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "ness",
	Subsystem:   "client",
	Name:        "connected",
	Help:        "",
	ConstLabels: map[string]string{},
})

func decodeErrorKind(err error) string {
	switch err.(type) {
	case *TruncatedPacketError:
		return "truncated"
	case *MalformedHeaderError:
		return "malformed_header"
	case *BadStartByteError:
		return "bad_start_byte"
	case *ChecksumError:
		return "checksum"
	case *UnknownCommandError:
		return "unknown_command"
	case *UnknownStatusIDError:
		return "unknown_status_id"
	default:
		return "other"
	}
}
