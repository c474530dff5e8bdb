// Package wmi sends firmware commands through the platform's WMI method
// interface.
package wmi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/firmware"
)

// SMBIOS calling interface exposed through ACPI-WMI.
const (
	MethodGUID = "A80593CE-A997-11DA-B012-B622A1EF5492"
	Instance   = 0
	MethodID   = 1
)

var (
	// ErrCallFailed matches every *CallError.
	ErrCallFailed = errors.New("firmware call failed")
	// ErrEmptyResponse is returned when the method produced no output object.
	ErrEmptyResponse = errors.New("firmware call returned no payload")
	// ErrUnavailable is returned by Probe when the method cannot be reached.
	ErrUnavailable = errors.New("firmware method not available")
)

// CallError wraps the platform error of a failed method evaluation.
type CallError struct {
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", ErrCallFailed, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Is makes every CallError match ErrCallFailed.
func (e *CallError) Is(target error) bool {
	return target == ErrCallFailed
}

// Call identifies one method evaluation.
type Call struct {
	GUID     string
	Instance int
	MethodID int
	Input    []byte
}

// Invoker evaluates a WMI method synchronously. Implementations may block.
// A nil Object with a nil error means the method produced no output.
type Invoker interface {
	Name() string
	Probe(ctx context.Context) error
	Evaluate(ctx context.Context, call Call) (*firmware.Object, error)
	Close() error
}

// Adapter runs a single firmware command through an Invoker and validates the
// reply. It never retries.
type Adapter struct {
	invoker Invoker
	timeout time.Duration
}

// NewAdapter creates an adapter. A zero timeout disables the per-call deadline.
func NewAdapter(invoker Invoker, timeout time.Duration) *Adapter {
	return &Adapter{
		invoker: invoker,
		timeout: timeout,
	}
}

// Invoker returns the underlying method invoker.
func (a *Adapter) Invoker() Invoker {
	return a.invoker
}

// Invoke sends cmd and returns the decoded reply.
func (a *Adapter) Invoke(ctx context.Context, cmd firmware.Command) (firmware.Command, error) {
	input, err := cmd.MarshalBinary()
	if err != nil {
		return firmware.Command{}, err
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	obj, err := a.invoker.Evaluate(ctx, Call{
		GUID:     MethodGUID,
		Instance: Instance,
		MethodID: MethodID,
		Input:    input,
	})
	log.Debug().
		Str("invoker", a.invoker.Name()).
		Str("command", cmd.String()).
		Dur("took", time.Since(start)).
		Msg("Firmware method evaluated")
	if err != nil {
		var ce *CallError
		if errors.As(err, &ce) {
			return firmware.Command{}, err
		}
		return firmware.Command{}, &CallError{Err: err}
	}
	if obj == nil {
		return firmware.Command{}, ErrEmptyResponse
	}

	return firmware.Decode(*obj)
}

// Probe checks that the firmware method can be reached.
func (a *Adapter) Probe(ctx context.Context) error {
	return a.invoker.Probe(ctx)
}

// Close releases the invoker.
func (a *Adapter) Close() error {
	return a.invoker.Close()
}
