// Package metrics provides Prometheus metrics for the case light.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dokzlo13/caselightd/internal/eventbus"
	"github.com/dokzlo13/caselightd/internal/light"
)

const namespace = "caselightd"

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Brightness requests accepted by the dispatcher",
	}, []string{"coalesced"})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "executions_total",
		Help:      "Firmware calls made by the dispatcher",
	}, []string{"result"})

	executionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "execution_seconds",
		Help:      "Duration of firmware calls",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	brightness = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "brightness",
		Help:      "Last brightness accepted by the firmware",
	})

	zoneColor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "light",
		Name:      "zone_color",
		Help:      "Palette index selected for each zone",
	}, []string{"zone"})
)

// Observer records dispatcher activity.
type Observer struct{}

func (Observer) Requested(value uint8, coalesced bool) {
	requestsTotal.WithLabelValues(strconv.FormatBool(coalesced)).Inc()
}

func (Observer) Executed(value uint8, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	executionsTotal.WithLabelValues(result).Inc()
	executionSeconds.Observe(took.Seconds())
}

// Subscribe keeps the light gauges in step with bus events.
func Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventBrightnessCommitted, func(e eventbus.Event) {
		if d, ok := e.Payload.(eventbus.Dispatch); ok {
			brightness.Set(float64(d.Brightness))
		}
	})
	bus.Subscribe(eventbus.EventZoneChanged, func(e eventbus.Event) {
		zc, ok := e.Payload.(eventbus.ZoneChange)
		if !ok {
			return
		}
		if c, err := light.ParseColor(zc.Color); err == nil {
			zoneColor.WithLabelValues(strconv.Itoa(zc.Zone)).Set(float64(c))
		}
	})
}
