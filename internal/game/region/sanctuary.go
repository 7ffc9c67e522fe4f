package region

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SanctuaryConfig tunes pressure-to-breach escalation and siege alarms.
type SanctuaryConfig struct {
	// PressureWindow is the sliding window for pressure accumulation.
	PressureWindow time.Duration
	// PressureThreshold is the pressure count that opens a breach.
	PressureThreshold int
	// BreachDuration is how long a breach admits hostiles.
	BreachDuration time.Duration
	// AlarmRangeTiles is the room-grid radius alerted on siege. 0 = off.
	AlarmRangeTiles int
	// AlarmCooldown throttles repeated alarms per room.
	AlarmCooldown time.Duration
}

// AlarmFunc is invoked when a sanctuary breach opens (siege alarm).
type AlarmFunc func(roomID string, rangeTiles int)

// Sanctuary tracks per-room breach state and disengage pressure.
// Hostile non-guard NPCs stopped at a sanctuary boundary record pressure;
// enough pressure inside the window opens a timed breach that admits them.
type Sanctuary struct {
	mu       sync.Mutex
	cfg      SanctuaryConfig
	log      *zap.Logger
	onAlarm  AlarmFunc
	breaches map[string]time.Time // roomID → breach end
	pressure map[string][]time.Time
	lastFire map[string]time.Time // roomID → last alarm
}

// NewSanctuary creates a Sanctuary tracker.
//
// Precondition: log must be non-nil; onAlarm may be nil.
func NewSanctuary(cfg SanctuaryConfig, log *zap.Logger, onAlarm AlarmFunc) *Sanctuary {
	return &Sanctuary{
		cfg:      cfg,
		log:      log,
		onAlarm:  onAlarm,
		breaches: make(map[string]time.Time),
		pressure: make(map[string][]time.Time),
		lastFire: make(map[string]time.Time),
	}
}

// BreachActive reports whether roomID currently admits hostiles.
func (s *Sanctuary) BreachActive(roomID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breaches[roomID].After(now)
}

// OpenBreach forces a breach on roomID until now + cfg.BreachDuration.
func (s *Sanctuary) OpenBreach(roomID string, now time.Time) {
	s.mu.Lock()
	s.breaches[roomID] = now.Add(s.cfg.BreachDuration)
	s.mu.Unlock()
	s.fireAlarm(roomID, now)
}

// RecordPressure notes one disengage at the sanctuary boundary of roomID.
// Crossing the threshold inside the window opens a breach.
//
// Postcondition: Returns true when this call opened a breach.
func (s *Sanctuary) RecordPressure(roomID string, now time.Time) bool {
	s.mu.Lock()
	cutoff := now.Add(-s.cfg.PressureWindow)
	kept := s.pressure[roomID][:0]
	for _, t := range s.pressure[roomID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.pressure[roomID] = kept

	opened := false
	if s.cfg.PressureThreshold > 0 && len(kept) >= s.cfg.PressureThreshold && !s.breaches[roomID].After(now) {
		s.breaches[roomID] = now.Add(s.cfg.BreachDuration)
		s.pressure[roomID] = nil
		opened = true
	}
	s.mu.Unlock()

	if opened {
		s.log.Info("sanctuary breach opened",
			zap.String("room_id", roomID),
		)
		s.fireAlarm(roomID, now)
	}
	return opened
}

// UnderSiege reports whether roomID has an open breach (alias used by guard
// sortie logic for readability).
func (s *Sanctuary) UnderSiege(roomID string, now time.Time) bool {
	return s.BreachActive(roomID, now)
}

func (s *Sanctuary) fireAlarm(roomID string, now time.Time) {
	if s.onAlarm == nil || s.cfg.AlarmRangeTiles <= 0 {
		return
	}
	s.mu.Lock()
	last := s.lastFire[roomID]
	if s.cfg.AlarmCooldown > 0 && now.Sub(last) < s.cfg.AlarmCooldown {
		s.mu.Unlock()
		return
	}
	s.lastFire[roomID] = now
	s.mu.Unlock()
	s.onAlarm(roomID, s.cfg.AlarmRangeTiles)
}
