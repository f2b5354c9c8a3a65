package tracker

import "time"

const minutesPerDay = 24 * 60

// pairState is the computed active-window state of a start/end pair.
type pairState struct {
	Active           *bool
	CurrentStartTime *time.Time
}

// computePairState compares the start task's and end task's next
// occurrences. Start earlier means the window opens in the future and
// is not active. End earlier and still in the future means the window
// is open now; its start is back-computed from the duration when one
// is known. Equal instants close the window: the end wins.
func computePairState(startNext, endNext *time.Time, durationMinutes float64, now time.Time) pairState {
	inactive := false
	if startNext == nil || endNext == nil {
		return pairState{}
	}
	switch {
	case startNext.Before(*endNext):
		return pairState{Active: &inactive}
	case startNext.After(*endNext):
		if !endNext.After(now) {
			return pairState{Active: &inactive}
		}
		active := true
		var startedAt time.Time
		if durationMinutes > 0 {
			startedAt = endNext.Add(-time.Duration(durationMinutes * float64(time.Minute)))
		} else {
			startedAt = now
		}
		return pairState{Active: &active, CurrentStartTime: &startedAt}
	default:
		return pairState{Active: &inactive}
	}
}

// timespanState extends pairState with the recomputed duration for
// solar timespans, where the gap between the two sides shifts daily.
type timespanState struct {
	pairState
	Duration float64
}

// computeTimespanState recomputes a solar timespan's duration from the
// two next occurrences. When the window is currently open the next
// start/end pair brackets the closed portion of the day, so the open
// window's length is the complement.
func computeTimespanState(startNext, endNext *time.Time, now time.Time) (timespanState, bool) {
	if startNext == nil || endNext == nil {
		return timespanState{}, false
	}
	inactive := false
	gap := startNext.Sub(*endNext).Minutes()
	if gap < 0 {
		gap = -gap
	}
	switch {
	case startNext.Before(*endNext):
		return timespanState{
			pairState: pairState{Active: &inactive},
			Duration:  gap,
		}, true
	case startNext.After(*endNext):
		if !endNext.After(now) {
			return timespanState{pairState: pairState{Active: &inactive}}, true
		}
		active := true
		duration := minutesPerDay - gap
		var startedAt time.Time
		if duration > 0 {
			startedAt = endNext.Add(-time.Duration(duration * float64(time.Minute)))
		} else {
			startedAt = now
		}
		return timespanState{
			pairState: pairState{Active: &active, CurrentStartTime: &startedAt},
			Duration:  duration,
		}, true
	default:
		return timespanState{
			pairState: pairState{Active: &inactive},
			Duration:  0,
		}, true
	}
}
