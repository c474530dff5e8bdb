// Package power re-applies the case light after the machine resumes from
// sleep. The firmware resets the light on resume while the stored state keeps
// the old values, so the stored state is sent again.
package power

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrUnsupported is returned by Logind on platforms without systemd-logind.
var ErrUnsupported = errors.New("sleep notifications not supported on this platform")

// Restorer re-sends the stored light state.
type Restorer interface {
	Restore()
}

// Watch reads sleep transitions until ctx is done or sleeping is closed. A
// true value means the machine is about to sleep, false that it resumed.
// Every resume calls r.Restore.
func Watch(ctx context.Context, sleeping <-chan bool, r Restorer) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sleeping:
			if !ok {
				return
			}
			if s {
				log.Debug().Msg("System going to sleep")
				continue
			}
			log.Info().Msg("System resumed, restoring case light")
			r.Restore()
		}
	}
}
