package events

import (
	"math"
	"sync"
	"time"

	"github.com/etiennebl/hilolink/internal/pkg/hiloapi"
)

// Phase is the lifecycle state of a demand-response challenge.
type Phase string

const (
	PhaseScheduled    Phase = "scheduled"
	PhasePreCold      Phase = "pre_cold"
	PhaseAppreciation Phase = "appreciation"
	PhasePreHeat      Phase = "pre_heat"
	PhaseReduction    Phase = "reduction"
	PhaseRecovery     Phase = "recovery"
	PhaseCompleted    Phase = "completed"
	PhaseOff          Phase = "off"
	PhaseUnknown      Phase = "unknown"
)

// offGrace is how long a challenge stays "completed" after recovery before
// it is considered fully over.
const offGrace = 5 * time.Minute

// ChallengeEvent is a decoded demand-response event with derived phase
// tracking.  The cloud reports the preheat/reduction/recovery boundaries;
// the optional appreciation and pre-cold phases are synthesized locally by
// the caller because the cloud has no notion of them.
type ChallengeEvent struct {
	ID            int64
	Period        string
	Progress      string
	Participating bool
	Configurable  bool
	Mode          string

	TotalDevices   int
	OptOutDevices  int
	PreheatDevices int

	AllowedKWh float64

	// Consumption tracking is fed live from the challenge hub while the
	// local API reads it, so it sits behind its own mutex.
	mu             sync.Mutex
	usedKWh        float64
	usedPercentage float64
	lastUpdate     time.Time

	PreColdStart      time.Time
	PreColdEnd        time.Time
	AppreciationStart time.Time
	AppreciationEnd   time.Time
	PreheatStart      time.Time
	PreheatEnd        time.Time
	ReductionStart    time.Time
	ReductionEnd      time.Time
	RecoveryStart     time.Time
	RecoveryEnd       time.Time

	// now is the clock used by State; overridable in tests.
	now func() time.Time
}

// NewChallengeEvent builds a tracked event from the cloud's wire record.
func NewChallengeEvent(ch hiloapi.Challenge) *ChallengeEvent {
	e := &ChallengeEvent{
		ID:            ch.ID,
		Period:        ch.Period,
		Progress:      ch.Progress,
		Participating: ch.IsParticipating,
		Configurable:  ch.IsConfigurable,
		Mode:          ch.Parameters.Mode,
		TotalDevices:  len(ch.Parameters.Devices),

		PreheatStart:   ch.Phases.PreheatStart,
		PreheatEnd:     ch.Phases.PreheatEnd,
		ReductionStart: ch.Phases.ReductionStart,
		ReductionEnd:   ch.Phases.ReductionEnd,
		RecoveryStart:  ch.Phases.RecoveryStart,
		RecoveryEnd:    ch.Phases.RecoveryEnd,

		lastUpdate: time.Now(),
		now:        time.Now,
	}

	if e.Mode == "" {
		e.Mode = "Unknown"
	}
	if e.Progress == "" {
		e.Progress = string(PhaseUnknown)
	}

	for _, d := range ch.Parameters.Devices {
		if d.OptOut {
			e.OptOutDevices++
		}
		if d.Preheat {
			e.PreheatDevices++
		}
	}

	e.AllowedKWh = roundKWh(ch.Consumption.BaselineWh)
	e.usedKWh = roundKWh(ch.Consumption.CurrentWh)
	if ch.Consumption.BaselineWh > 0 {
		e.usedPercentage = round2(ch.Consumption.CurrentWh / ch.Consumption.BaselineWh * 100)
	}

	return e
}

// Appreciation synthesizes an appreciation phase covering the given number
// of hours immediately before preheat.
func (e *ChallengeEvent) Appreciation(hours int) time.Time {
	e.AppreciationStart = e.PreheatStart.Add(-time.Duration(hours) * time.Hour)
	e.AppreciationEnd = e.PreheatStart
	return e.AppreciationStart
}

// PreCold synthesizes a pre-cold phase immediately before the appreciation
// phase; Appreciation must be set first.
func (e *ChallengeEvent) PreCold(hours int) time.Time {
	e.PreColdStart = e.AppreciationStart.Add(-time.Duration(hours) * time.Hour)
	e.PreColdEnd = e.AppreciationStart
	return e.PreColdStart
}

// UpdateUsedWh folds a live consumption update into the event.
func (e *ChallengeEvent) UpdateUsedWh(usedWh float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usedKWh = roundKWh(usedWh)
	if e.AllowedKWh > 0 {
		e.usedPercentage = round2(e.usedKWh / e.AllowedKWh * 100)
	}
	e.lastUpdate = e.now()
}

// UsedKWh returns the consumed energy so far.
func (e *ChallengeEvent) UsedKWh() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usedKWh
}

// UsedPercentage returns consumption as a share of the baseline allowance.
func (e *ChallengeEvent) UsedPercentage() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usedPercentage
}

// LastUpdate returns the time of the most recent consumption update.
func (e *ChallengeEvent) LastUpdate() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUpdate
}

// ShouldCheckAllowedWh reports whether the baseline allowance is worth
// polling: the cloud publishes it 30 to 45 minutes before preheat, and
// re-polling once it is known is wasted work.
func (e *ChallengeEvent) ShouldCheckAllowedWh() bool {
	untilPreheat := e.PreheatStart.Sub(e.now())
	return untilPreheat >= 30*time.Minute && untilPreheat <= 45*time.Minute && e.AllowedKWh <= 0
}

// State derives the current phase from the wall clock.  The synthesized
// phases win when armed; past the recovery window the event decays from
// completed to off; when the clock resolves nothing the cloud's progress
// field is the fallback.
func (e *ChallengeEvent) State() Phase {
	now := e.now()

	switch {
	case !e.PreColdStart.IsZero() && within(now, e.PreColdStart, e.PreColdEnd):
		return PhasePreCold
	case !e.AppreciationStart.IsZero() && within(now, e.AppreciationStart, e.AppreciationEnd):
		return PhaseAppreciation
	case now.Before(e.PreheatStart):
		return PhaseScheduled
	case within(now, e.PreheatStart, e.PreheatEnd):
		return PhasePreHeat
	case within(now, e.ReductionStart, e.ReductionEnd):
		return PhaseReduction
	case within(now, e.RecoveryStart, e.RecoveryEnd):
		return PhaseRecovery
	case !now.Before(e.RecoveryEnd.Add(offGrace)):
		return PhaseOff
	case !now.Before(e.RecoveryEnd):
		return PhaseCompleted
	case e.Progress != "":
		return Phase(e.Progress)
	default:
		return PhaseUnknown
	}
}

// CurrentPhaseTimes returns the bounds of the in-progress phase; ok is
// false for terminal and pending states.
func (e *ChallengeEvent) CurrentPhaseTimes() (start, end time.Time, ok bool) {
	switch e.State() {
	case PhasePreCold:
		return e.PreColdStart, e.PreColdEnd, true
	case PhaseAppreciation:
		return e.AppreciationStart, e.AppreciationEnd, true
	case PhasePreHeat:
		return e.PreheatStart, e.PreheatEnd, true
	case PhaseReduction:
		return e.ReductionStart, e.ReductionEnd, true
	case PhaseRecovery:
		return e.RecoveryStart, e.RecoveryEnd, true
	default:
		return time.Time{}, time.Time{}, false
	}
}

// Invalid reports a stale event: its data predates the phase it claims to
// be in.
func (e *ChallengeEvent) Invalid() bool {
	start, _, ok := e.CurrentPhaseTimes()
	return ok && e.LastUpdate().Before(start)
}

func within(t, start, end time.Time) bool {
	return !t.Before(start) && t.Before(end)
}

func roundKWh(wh float64) float64 {
	return round2(wh / 1000)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
