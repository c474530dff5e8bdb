package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dokzlo13/caselightd/internal/eventbus"
)

func TestObserver(t *testing.T) {
	var o Observer

	okBefore := testutil.ToFloat64(executionsTotal.WithLabelValues("ok"))
	errBefore := testutil.ToFloat64(executionsTotal.WithLabelValues("error"))
	coalescedBefore := testutil.ToFloat64(requestsTotal.WithLabelValues("true"))

	o.Requested(3, true)
	o.Executed(3, 5*time.Millisecond, nil)
	o.Executed(4, time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("ok")) - okBefore; got != 1 {
		t.Errorf("ok executions delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(executionsTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("error executions delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(requestsTotal.WithLabelValues("true")) - coalescedBefore; got != 1 {
		t.Errorf("coalesced requests delta = %v, want 1", got)
	}
}

func TestSubscribe(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 8)
	Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventBrightnessCommitted, Payload: eventbus.Dispatch{Brightness: 6}})
	bus.Publish(eventbus.Event{Type: eventbus.EventZoneChanged, Payload: eventbus.ZoneChange{Zone: 2, Color: "topaz"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)

	if got := testutil.ToFloat64(brightness); got != 6 {
		t.Errorf("brightness = %v, want 6", got)
	}
	if got := testutil.ToFloat64(zoneColor.WithLabelValues("2")); got != 7 {
		t.Errorf("zone 2 color = %v, want 7", got)
	}
}
