// Package ledger keeps an append-only audit log of firmware dispatches.
// It records what was sent and how it ended; it is never read back to restore
// light state.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/eventbus"
)

// Outcome of a dispatch
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeFailed    Outcome = "failed"
)

// Entry represents a single dispatch in the ledger
type Entry struct {
	ID         string    `json:"id"`
	Brightness uint8     `json:"brightness"`
	Arg1       uint32    `json:"arg1"`
	Arg3       uint32    `json:"arg3"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Ledger provides append-only dispatch logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds one dispatch. Re-appending the same id is ignored.
func (l *Ledger) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := l.db.Exec(`
		INSERT OR IGNORE INTO dispatch_ledger (id, brightness, arg1, arg3, outcome, error, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, int64(e.Brightness), int64(e.Arg1), int64(e.Arg3), string(e.Outcome), errText, e.DurationMS, e.Timestamp.UTC().UnixMilli())
	return err
}

// Recent returns the newest entries first.
func (l *Ledger) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(`
		SELECT id, brightness, arg1, arg3, outcome, error, duration_ms, timestamp
		FROM dispatch_ledger
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`DELETE FROM dispatch_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Subscribe records every committed and failed dispatch published on bus.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	record := func(outcome Outcome) eventbus.Handler {
		return func(e eventbus.Event) {
			d, ok := e.Payload.(eventbus.Dispatch)
			if !ok {
				return
			}
			if err := l.Append(FromDispatch(d, outcome)); err != nil {
				log.Warn().Err(err).Str("dispatch_id", d.ID).Msg("Failed to append dispatch to ledger")
			}
		}
	}
	bus.Subscribe(eventbus.EventBrightnessCommitted, record(OutcomeCommitted))
	bus.Subscribe(eventbus.EventDispatchFailed, record(OutcomeFailed))
}

// RunCleanup deletes entries older than retention every interval until ctx
// is done.
func (l *Ledger) RunCleanup(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("Ledger cleanup removed old dispatches")
			}
		}
	}
}

// FromDispatch converts a bus payload into a ledger entry.
func FromDispatch(d eventbus.Dispatch, outcome Outcome) Entry {
	e := Entry{
		ID:         d.ID,
		Brightness: d.Brightness,
		Arg1:       d.Arg1,
		Arg3:       d.Arg3,
		Outcome:    outcome,
		DurationMS: d.Took.Milliseconds(),
		Timestamp:  d.At,
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	return e
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			brightness int64
			arg1, arg3 int64
			outcome    string
			errText    sql.NullString
			ts         int64
		)
		if err := rows.Scan(&e.ID, &brightness, &arg1, &arg3, &outcome, &errText, &e.DurationMS, &ts); err != nil {
			return nil, err
		}
		e.Brightness = uint8(brightness)
		e.Arg1 = uint32(arg1)
		e.Arg3 = uint32(arg3)
		e.Outcome = Outcome(outcome)
		if errText.Valid {
			e.Error = errText.String
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// ErrDisabled is returned by callers that need a ledger when none is configured.
var ErrDisabled = errors.New("dispatch ledger disabled")
