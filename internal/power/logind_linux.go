package power

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const prepareForSleep = "org.freedesktop.login1.Manager.PrepareForSleep"

// Logind streams PrepareForSleep from systemd-logind until ctx is done. The
// channel is closed when the stream ends.
func Logind(ctx context.Context) (<-chan bool, error) {
	conn, err := login1.New()
	if err != nil {
		return nil, fmt.Errorf("connect to logind: %w", err)
	}
	signals := conn.Subscribe("PrepareForSleep")
	log.Debug().Msg("Subscribed to logind sleep signals")

	out := make(chan bool)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				sleeping, ok := parsePrepareForSleep(sig)
				if !ok {
					continue
				}
				select {
				case out <- sleeping:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// parsePrepareForSleep extracts the "start" argument. Other signals on the
// bus connection are ignored.
func parsePrepareForSleep(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != prepareForSleep || len(sig.Body) != 1 {
		return false, false
	}
	start, ok := sig.Body[0].(bool)
	return start, ok
}
