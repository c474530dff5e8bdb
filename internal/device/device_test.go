package device

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/caselightd/internal/eventbus"
	"github.com/dokzlo13/caselightd/internal/firmware"
	"github.com/dokzlo13/caselightd/internal/light"
	"github.com/dokzlo13/caselightd/internal/wmi"
)

func attach(t *testing.T, sim *wmi.Simulator, bus *eventbus.Bus) *Device {
	t.Helper()
	d, err := Attach(context.Background(), Options{Invoker: sim, Bus: bus})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	t.Cleanup(func() { d.Detach() })
	return d
}

func flush(t *testing.T, d *Device) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func TestAttach(t *testing.T) {
	t.Run("no transport", func(t *testing.T) {
		_, err := Attach(context.Background(), Options{})
		if !errors.Is(err, ErrNoTransport) {
			t.Errorf("error = %v, want ErrNoTransport", err)
		}
	})

	t.Run("probe failure is fatal", func(t *testing.T) {
		sim := wmi.NewSimulator()
		sim.SetAbsent(true)
		_, err := Attach(context.Background(), Options{Invoker: sim})
		if !errors.Is(err, wmi.ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("initial state", func(t *testing.T) {
		sim := wmi.NewSimulator()
		d := attach(t, sim, nil)

		if d.Brightness() != 0 {
			t.Errorf("Brightness() = %d, want 0", d.Brightness())
		}
		for i := 0; i < light.MaxZones; i++ {
			c, err := d.Zone(i)
			if err != nil || c != light.None {
				t.Errorf("Zone(%d) = %v, %v", i, c, err)
			}
		}
		if len(sim.Calls()) != 0 {
			t.Errorf("firmware called during attach: %v", sim.Calls())
		}
		if d.Transport() != "simulate" {
			t.Errorf("Transport() = %q", d.Transport())
		}
	})
}

func TestDevice_SetBrightness(t *testing.T) {
	sim := wmi.NewSimulator()
	d := attach(t, sim, nil)

	if err := d.SetZone(0, "ruby"); err != nil {
		t.Fatal(err)
	}
	if err := d.SetZone(3, "diamond"); err != nil {
		t.Fatal(err)
	}
	flush(t, d)

	d.SetBrightness(5)
	flush(t, d)

	if d.Brightness() != 5 {
		t.Errorf("Brightness() = %d, want 5", d.Brightness())
	}
	calls := sim.Calls()
	last := calls[len(calls)-1]
	want := firmware.SetLight(5, [4]uint8{1, 0, 0, 16})
	if last != want {
		t.Errorf("last command = %s, want %s", last, want)
	}
}

func TestDevice_SetBrightnessClamps(t *testing.T) {
	sim := wmi.NewSimulator()
	d := attach(t, sim, nil)

	d.SetBrightness(200)
	flush(t, d)

	if d.Brightness() != light.MaxBrightness {
		t.Errorf("Brightness() = %d, want %d", d.Brightness(), light.MaxBrightness)
	}
}

func TestDevice_SetBrightnessDoesNotWait(t *testing.T) {
	sim := wmi.NewSimulator()
	gate := make(chan struct{})
	sim.SetGate(gate)
	d := attach(t, sim, nil)

	start := time.Now()
	for v := uint8(0); v <= 8; v++ {
		d.SetBrightness(v)
	}
	if took := time.Since(start); took > 500*time.Millisecond {
		t.Errorf("SetBrightness blocked for %v", took)
	}
	// committed value unchanged until the firmware replies
	if d.Brightness() != 0 {
		t.Errorf("Brightness() = %d before reply, want 0", d.Brightness())
	}

	close(gate)
	flush(t, d)

	if d.Brightness() != 8 {
		t.Errorf("Brightness() = %d, want 8", d.Brightness())
	}
	// first call plus at most one coalesced follow-up
	if n := len(sim.Calls()); n > 2 {
		t.Errorf("firmware calls = %d, want at most 2", n)
	}
}

func TestDevice_FailureKeepsCommittedBrightness(t *testing.T) {
	faults := []struct {
		name  string
		fault wmi.Fault
		is    error
	}{
		{"call failed", wmi.FaultCall, wmi.ErrCallFailed},
		{"empty reply", wmi.FaultEmpty, wmi.ErrEmptyResponse},
		{"wrong type", wmi.FaultWrongType, firmware.ErrProtocol},
		{"status", wmi.FaultStatus, firmware.ErrProtocol},
	}

	for _, tt := range faults {
		t.Run(tt.name, func(t *testing.T) {
			sim := wmi.NewSimulator()
			bus := eventbus.NewWithConfig(1, 4)
			defer bus.Close(context.Background())

			failed := make(chan eventbus.Dispatch, 1)
			bus.Subscribe(eventbus.EventDispatchFailed, func(e eventbus.Event) {
				failed <- e.Payload.(eventbus.Dispatch)
			})

			d := attach(t, sim, bus)
			d.SetBrightness(3)
			flush(t, d)

			sim.InjectFault(tt.fault)
			d.SetBrightness(7)
			flush(t, d)

			if d.Brightness() != 3 {
				t.Errorf("Brightness() = %d, want 3", d.Brightness())
			}
			select {
			case rec := <-failed:
				if !errors.Is(rec.Err, tt.is) {
					t.Errorf("failure = %v, want %v", rec.Err, tt.is)
				}
				if rec.Brightness != 7 || rec.ID == "" {
					t.Errorf("dispatch = %+v", rec)
				}
			case <-time.After(time.Second):
				t.Fatal("dispatch_failed not published")
			}
		})
	}
}

func TestDevice_ZoneAttributes(t *testing.T) {
	sim := wmi.NewSimulator()
	d := attach(t, sim, nil)

	got, err := d.ReadZoneAttribute(2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "[none] ruby ") || !strings.HasSuffix(got, "diamond \n") {
		t.Errorf("ReadZoneAttribute() = %q", got)
	}

	if err := d.WriteZoneAttribute(2, "sapphire\n"); err != nil {
		t.Fatalf("WriteZoneAttribute() error = %v", err)
	}
	got, _ = d.ReadZoneAttribute(2)
	if !strings.Contains(got, " [sapphire] ") {
		t.Errorf("ReadZoneAttribute() = %q, want sapphire selected", got)
	}

	tests := []struct {
		name string
		zone int
		text string
		is   error
	}{
		{"unknown color", 2, "plaid\n", light.ErrInvalidColor},
		{"two newlines", 2, "ruby\n\n", light.ErrInvalidColor},
		{"bad zone", 4, "ruby", light.ErrInvalidZone},
		{"negative zone", -1, "ruby", light.ErrInvalidZone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.WriteZoneAttribute(tt.zone, tt.text)
			if !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
			if c, _ := d.Zone(2); c.String() != "sapphire" {
				t.Errorf("zone 2 = %s after rejected write", c)
			}
		})
	}

	if _, err := d.ReadZoneAttribute(9); !errors.Is(err, light.ErrInvalidZone) {
		t.Errorf("ReadZoneAttribute(9) error = %v", err)
	}
}

func TestDevice_ZoneWriteReappliesBrightness(t *testing.T) {
	sim := wmi.NewSimulator()
	bus := eventbus.NewWithConfig(1, 8)
	defer bus.Close(context.Background())

	var mu sync.Mutex
	var changes []eventbus.ZoneChange
	changed := make(chan struct{}, 4)
	bus.Subscribe(eventbus.EventZoneChanged, func(e eventbus.Event) {
		mu.Lock()
		changes = append(changes, e.Payload.(eventbus.ZoneChange))
		mu.Unlock()
		changed <- struct{}{}
	})

	d := attach(t, sim, bus)
	d.SetBrightness(4)
	flush(t, d)
	before := len(sim.Calls())

	if err := d.SetZone(1, "emerald"); err != nil {
		t.Fatal(err)
	}
	flush(t, d)

	calls := sim.Calls()
	if len(calls) != before+1 {
		t.Fatalf("calls = %d, want %d", len(calls), before+1)
	}
	want := firmware.SetLight(4, [4]uint8{0, 5, 0, 0})
	if calls[len(calls)-1] != want {
		t.Errorf("command = %s, want %s", calls[len(calls)-1], want)
	}

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("zone_changed not published")
	}
	mu.Lock()
	defer mu.Unlock()
	if changes[0].Zone != 1 || changes[0].Color != "emerald" {
		t.Errorf("zone change = %+v", changes[0])
	}
}

func TestDevice_ZoneWriteKeepsPendingBrightness(t *testing.T) {
	sim := wmi.NewSimulator()
	gate := make(chan struct{})
	sim.SetGate(gate)
	d := attach(t, sim, nil)

	d.SetBrightness(2) // in flight, blocked on gate
	time.Sleep(20 * time.Millisecond)
	d.SetBrightness(6) // pending
	if err := d.SetZone(0, "coral"); err != nil {
		t.Fatal(err)
	}

	close(gate)
	flush(t, d)

	if d.Brightness() != 6 {
		t.Errorf("Brightness() = %d, want 6", d.Brightness())
	}
	calls := sim.Calls()
	want := firmware.SetLight(6, [4]uint8{15, 0, 0, 0})
	if calls[len(calls)-1] != want {
		t.Errorf("last command = %s, want %s", calls[len(calls)-1], want)
	}
}

func TestDevice_RestoreResendsStoredState(t *testing.T) {
	sim := wmi.NewSimulator()
	d := attach(t, sim, nil)

	if err := d.SetZone(2, "topaz"); err != nil {
		t.Fatal(err)
	}
	d.SetBrightness(7)
	flush(t, d)
	before := len(sim.Calls())

	d.Restore()
	flush(t, d)

	calls := sim.Calls()
	if len(calls) != before+1 {
		t.Fatalf("calls = %d, want %d", len(calls), before+1)
	}
	if want := firmware.SetLight(7, [4]uint8{0, 0, 7, 0}); calls[len(calls)-1] != want {
		t.Errorf("command = %s, want %s", calls[len(calls)-1], want)
	}
	if d.Brightness() != 7 {
		t.Errorf("Brightness() = %d, want 7", d.Brightness())
	}
}

func TestDevice_DetachDrains(t *testing.T) {
	sim := wmi.NewSimulator()
	sim.SetLatency(20 * time.Millisecond)
	d, err := Attach(context.Background(), Options{Invoker: sim})
	if err != nil {
		t.Fatal(err)
	}

	d.SetBrightness(1)
	d.SetBrightness(8)
	if err := d.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if d.Brightness() != 8 {
		t.Errorf("Brightness() after Detach = %d, want 8", d.Brightness())
	}

	n := len(sim.Calls())
	d.SetBrightness(3)
	time.Sleep(30 * time.Millisecond)
	if len(sim.Calls()) != n {
		t.Error("write after Detach reached the firmware")
	}
	if err := d.Detach(); err != nil {
		t.Errorf("second Detach() error = %v", err)
	}
}
