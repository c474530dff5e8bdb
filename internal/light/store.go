package light

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dokzlo13/caselightd/internal/firmware"
)

// MaxZones is the number of independently colored segments.
const MaxZones = firmware.MaxZones

// MaxBrightness is the highest brightness level.
const MaxBrightness = firmware.MaxBrightness

// ErrInvalidZone is returned for zone indexes outside [0, MaxZones).
var ErrInvalidZone = errors.New("invalid zone")

// State is a copy of the light state.
type State struct {
	Brightness uint8
	Zones      [MaxZones]Color
}

// ZoneIndexes returns the zone colors as raw firmware indexes.
func (s State) ZoneIndexes() [MaxZones]uint8 {
	var out [MaxZones]uint8
	for i, c := range s.Zones {
		out[i] = uint8(c)
	}
	return out
}

// Store holds the current light state.
// Brightness only changes through Commit, after the firmware accepted it.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore creates a store with the light off and all zones set to none.
func NewStore() *Store {
	return &Store{}
}

// Brightness returns the last committed brightness.
func (s *Store) Brightness() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Brightness
}

// Zone returns the color selected for a zone.
func (s *Store) Zone(zone int) (Color, error) {
	if zone < 0 || zone >= MaxZones {
		return None, fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Zones[zone], nil
}

// SetZone selects a color for a zone. Invalid input leaves the store unchanged.
// It reports whether the stored value changed.
func (s *Store) SetZone(zone int, c Color) (bool, error) {
	if zone < 0 || zone >= MaxZones {
		return false, fmt.Errorf("%w: %d", ErrInvalidZone, zone)
	}
	if !c.Valid() {
		return false, fmt.Errorf("%w: %d", ErrInvalidColor, uint8(c))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.state.Zones[zone] != c
	s.state.Zones[zone] = c
	return changed, nil
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Commit records a brightness the firmware has accepted.
func (s *Store) Commit(brightness uint8) {
	s.mu.Lock()
	s.state.Brightness = brightness
	s.mu.Unlock()
}
