package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/caselightd/internal/db"
	"github.com/dokzlo13/caselightd/internal/eventbus"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndRecent(t *testing.T) {
	l := openLedger(t)

	entries := []Entry{
		{ID: "a", Brightness: 3, Arg1: 0x02000001, Arg3: 4, Outcome: OutcomeCommitted, DurationMS: 12},
		{ID: "b", Brightness: 5, Outcome: OutcomeFailed, Error: "firmware status 0xffffffff"},
		{ID: "c", Brightness: 0, Outcome: OutcomeCommitted},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append(%s) error = %v", e.ID, err)
		}
	}
	// duplicate id ignored
	if err := l.Append(entries[0]); err != nil {
		t.Fatalf("Append(duplicate) error = %v", err)
	}

	got, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(Recent()) = %d, want 3", len(got))
	}
	if got[0].ID != "c" || got[2].ID != "a" {
		t.Errorf("order = %s,%s,%s, want c,b,a", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[2].Arg1 != 0x02000001 || got[2].Arg3 != 4 || got[2].DurationMS != 12 {
		t.Errorf("entry a = %+v", got[2])
	}
	if got[1].Outcome != OutcomeFailed || got[1].Error == "" {
		t.Errorf("entry b = %+v", got[1])
	}

	limited, err := l.Recent(1)
	if err != nil {
		t.Fatalf("Recent(1) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(Recent(1)) = %d, want 1", len(limited))
	}
}

func TestLedger_RecentEmpty(t *testing.T) {
	l := openLedger(t)
	got, err := l.Recent(0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Recent() = %#v, want empty slice", got)
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	old := Entry{ID: "old", Outcome: OutcomeCommitted, Timestamp: time.Now().Add(-48 * time.Hour)}
	fresh := Entry{ID: "fresh", Outcome: OutcomeCommitted}
	for _, e := range []Entry{old, fresh} {
		if err := l.Append(e); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	n, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	got, _ := l.Recent(10)
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestLedger_SubscribeRecordsDispatches(t *testing.T) {
	l := openLedger(t)
	bus := eventbus.NewWithConfig(1, 8)
	l.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventBrightnessCommitted, Payload: eventbus.Dispatch{
		ID: "ok", Brightness: 8, Arg1: 0x07000000, Took: 3 * time.Millisecond, At: time.Now(),
	}})
	bus.Publish(eventbus.Event{Type: eventbus.EventDispatchFailed, Payload: eventbus.Dispatch{
		ID: "bad", Brightness: 2, Err: errors.New("call failed"), At: time.Now(),
	}})
	bus.Publish(eventbus.Event{Type: eventbus.EventDispatchFailed, Payload: "not a dispatch"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Close(ctx)

	got, err := l.Recent(10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(got))
	}
	byID := map[string]Entry{}
	for _, e := range got {
		byID[e.ID] = e
	}
	if byID["ok"].Outcome != OutcomeCommitted || byID["ok"].DurationMS != 3 {
		t.Errorf("ok entry = %+v", byID["ok"])
	}
	if byID["bad"].Outcome != OutcomeFailed || byID["bad"].Error != "call failed" {
		t.Errorf("bad entry = %+v", byID["bad"])
	}
}
