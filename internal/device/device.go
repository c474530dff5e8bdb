// Package device ties the light store, the dispatcher and the firmware
// transport into one attached case light.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/dispatch"
	"github.com/dokzlo13/caselightd/internal/eventbus"
	"github.com/dokzlo13/caselightd/internal/firmware"
	"github.com/dokzlo13/caselightd/internal/light"
	"github.com/dokzlo13/caselightd/internal/wmi"
)

// ErrNoTransport is returned by Attach without an invoker.
var ErrNoTransport = errors.New("no firmware transport")

// Options configures Attach.
type Options struct {
	Invoker      wmi.Invoker
	CallTimeout  time.Duration
	RateLimitRPS float64

	// Bus receives brightness_committed, zone_changed and dispatch_failed.
	// Optional.
	Bus *eventbus.Bus
	// Observer is forwarded to the dispatcher. Optional.
	Observer dispatch.Observer
}

// Device is one attached case light. All methods are safe for concurrent use
// and none of them wait for firmware.
type Device struct {
	adapter    *wmi.Adapter
	store      *light.Store
	dispatcher *dispatch.Dispatcher
	bus        *eventbus.Bus

	detachOnce sync.Once
	detachErr  error
}

// Attach probes the transport and starts the dispatch worker. The light
// starts at brightness 0 with every zone set to none; nothing is sent to the
// firmware until the first write.
func Attach(ctx context.Context, opts Options) (*Device, error) {
	if opts.Invoker == nil {
		return nil, ErrNoTransport
	}

	adapter := wmi.NewAdapter(opts.Invoker, opts.CallTimeout)
	if err := adapter.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe %s transport: %w", opts.Invoker.Name(), err)
	}

	d := &Device{
		adapter: adapter,
		store:   light.NewStore(),
		bus:     opts.Bus,
	}
	d.dispatcher = dispatch.New(d.apply, dispatch.Options{
		RateLimitRPS: opts.RateLimitRPS,
		Observer:     opts.Observer,
	})
	d.dispatcher.Start()

	log.Info().Str("transport", opts.Invoker.Name()).Msg("Case light attached")
	return d, nil
}

// Transport returns the invoker name.
func (d *Device) Transport() string {
	return d.adapter.Invoker().Name()
}

// Brightness returns the last brightness the firmware accepted.
func (d *Device) Brightness() uint8 {
	return d.store.Brightness()
}

// SetBrightness queues a brightness change and returns immediately. Values
// above MaxBrightness are clamped.
func (d *Device) SetBrightness(v uint8) {
	if v > light.MaxBrightness {
		log.Debug().Uint8("requested", v).Msg("Clamping brightness")
		v = light.MaxBrightness
	}
	d.dispatcher.Request(v)
}

// Zone returns the stored color of zone i.
func (d *Device) Zone(i int) (light.Color, error) {
	return d.store.Zone(i)
}

// SetZone stores a color by name and re-applies the light.
func (d *Device) SetZone(i int, name string) error {
	c, err := light.ParseColor(name)
	if err != nil {
		return err
	}
	return d.SetZoneColor(i, c)
}

// SetZoneColor stores c for zone i and re-applies the light with the current
// brightness. An outstanding brightness request is kept.
func (d *Device) SetZoneColor(i int, c light.Color) error {
	changed, err := d.store.SetZone(i, c)
	if err != nil {
		return err
	}
	if changed {
		d.publish(eventbus.EventZoneChanged, eventbus.ZoneChange{Zone: i, Color: c.String()})
	}
	d.Restore()
	return nil
}

// Restore re-sends the stored light state, for example after the firmware
// lost it across a suspend. An outstanding brightness request is kept.
func (d *Device) Restore() {
	d.dispatcher.Reapply(d.store.Brightness)
}

// ReadZoneAttribute renders zone i the way the zone_<i>_color file reads.
func (d *Device) ReadZoneAttribute(i int) (string, error) {
	c, err := d.store.Zone(i)
	if err != nil {
		return "", err
	}
	return light.FormatSelection(c), nil
}

// WriteZoneAttribute parses text as written to the zone_<i>_color file: one
// trailing newline is ignored.
func (d *Device) WriteZoneAttribute(i int, text string) error {
	return d.SetZone(i, strings.TrimSuffix(text, "\n"))
}

// State returns a copy of the stored light state.
func (d *Device) State() light.State {
	return d.store.Snapshot()
}

// Pending reports the brightness waiting to be sent, if any.
func (d *Device) Pending() (uint8, bool) {
	return d.dispatcher.Pending()
}

// Flush waits until every queued change has been sent.
func (d *Device) Flush(ctx context.Context) error {
	return d.dispatcher.Flush(ctx)
}

// Detach sends whatever is still queued, waits for the call in flight and
// releases the transport. Later writes are dropped.
func (d *Device) Detach() error {
	d.detachOnce.Do(func() {
		derr := d.dispatcher.Close()
		aerr := d.adapter.Close()
		d.detachErr = errors.Join(derr, aerr)
		log.Info().Uint8("brightness", d.store.Brightness()).Msg("Case light detached")
	})
	return d.detachErr
}

// apply runs on the dispatcher worker.
func (d *Device) apply(ctx context.Context, brightness uint8) error {
	state := d.store.Snapshot()
	cmd := firmware.SetLight(brightness, state.ZoneIndexes())

	rec := eventbus.Dispatch{
		ID:         uuid.NewString(),
		Brightness: brightness,
		Arg1:       cmd.Args[0],
		Arg3:       cmd.Args[2],
		At:         time.Now(),
	}

	_, err := d.adapter.Invoke(ctx, cmd)
	rec.Took = time.Since(rec.At)

	if err != nil {
		rec.Err = err
		log.Warn().
			Err(err).
			Str("dispatch_id", rec.ID).
			Uint8("brightness", brightness).
			Dur("took", rec.Took).
			Msg("Failed to set case light")
		d.publish(eventbus.EventDispatchFailed, rec)
		return err
	}

	d.store.Commit(brightness)
	log.Debug().
		Str("dispatch_id", rec.ID).
		Uint8("brightness", brightness).
		Str("command", cmd.String()).
		Dur("took", rec.Took).
		Msg("Case light updated")
	d.publish(eventbus.EventBrightnessCommitted, rec)
	return nil
}

func (d *Device) publish(t eventbus.EventType, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: t, Payload: payload})
}
