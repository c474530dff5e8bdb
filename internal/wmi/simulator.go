package wmi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/firmware"
)

// Fault is an injected failure for the next simulated evaluation.
type Fault int

const (
	FaultNone Fault = iota
	FaultCall        // the evaluation itself fails
	FaultEmpty       // no output object
	FaultWrongType   // integer instead of buffer
	FaultStatus      // buffer with nonzero status
)

// Simulator is an in-memory firmware. It echoes each request back as the
// reply, tracks the light words it was sent and can inject faults.
type Simulator struct {
	mu      sync.Mutex
	calls   []firmware.Command
	faults  []Fault
	status  uint32
	latency time.Duration
	absent  bool
	gate    chan struct{}
}

// NewSimulator creates a simulator with no latency.
func NewSimulator() *Simulator {
	return &Simulator{status: 0xffffffff}
}

// SetLatency delays every evaluation.
func (s *Simulator) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// SetAbsent makes Probe fail, as on hardware without the method.
func (s *Simulator) SetAbsent(absent bool) {
	s.mu.Lock()
	s.absent = absent
	s.mu.Unlock()
}

// SetGate makes every evaluation wait for a receive on gate.
func (s *Simulator) SetGate(gate chan struct{}) {
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
}

// InjectFault queues faults consumed one per evaluation.
func (s *Simulator) InjectFault(faults ...Fault) {
	s.mu.Lock()
	s.faults = append(s.faults, faults...)
	s.mu.Unlock()
}

// SetFaultStatus sets the status code returned for FaultStatus.
func (s *Simulator) SetFaultStatus(code uint32) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// Calls returns every command received, including failed ones.
func (s *Simulator) Calls() []firmware.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]firmware.Command, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Simulator) Name() string {
	return "simulate"
}

func (s *Simulator) Probe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.absent {
		return ErrUnavailable
	}
	return nil
}

func (s *Simulator) Evaluate(ctx context.Context, call Call) (*firmware.Object, error) {
	s.mu.Lock()
	latency := s.latency
	gate := s.gate
	fault := FaultNone
	if len(s.faults) > 0 {
		fault = s.faults[0]
		s.faults = s.faults[1:]
	}
	status := s.status
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if call.GUID != MethodGUID {
		return nil, errors.New("unknown method GUID")
	}

	var cmd firmware.Command
	if err := cmd.UnmarshalBinary(call.Input); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()

	log.Debug().Str("command", cmd.String()).Int("fault", int(fault)).Msg("Simulated firmware call")

	switch fault {
	case FaultCall:
		return nil, errors.New("simulated evaluation failure")
	case FaultEmpty:
		return nil, nil
	case FaultWrongType:
		return &firmware.Object{Type: firmware.ObjectInteger}, nil
	case FaultStatus:
		cmd.Res[0] = status
	}

	reply, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &firmware.Object{Type: firmware.ObjectBuffer, Buffer: reply}, nil
}

func (s *Simulator) Close() error {
	return nil
}
