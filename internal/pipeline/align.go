package pipeline

import (
	"fmt"
	"strings"

	"github.com/kjstillabower/departure-collector/internal/models"
)

// Alignment strategy names accepted in configuration.
const (
	StrategyPositional = "positional"
	StrategyKeyed      = "keyed"
)

// Aligner merges one station's schedule and realtime sequences. Implementations
// must return exactly one AlignedDeparture per schedule entry, in schedule order.
type Aligner interface {
	Align(schedule []models.ScheduleEntry, realtime []models.RealtimeEntry) []models.AlignedDeparture
}

// NewAligner returns the aligner for a configured strategy name.
func NewAligner(strategy string) (Aligner, error) {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyPositional:
		return PositionalAligner{}, nil
	case StrategyKeyed:
		return KeyedAligner{}, nil
	default:
		return nil, fmt.Errorf("unknown alignment strategy %q", strategy)
	}
}

// PositionalAligner pairs schedule[i] with realtime[i].
//
// Precondition: both feeds list the station's departures in the same
// chronological order for the same date. Nothing verifies this; upstreams offer
// no reliable shared key. Trailing schedule entries without a counterpart get a
// nil Realtime, surplus realtime entries are dropped.
type PositionalAligner struct{}

func (PositionalAligner) Align(schedule []models.ScheduleEntry, realtime []models.RealtimeEntry) []models.AlignedDeparture {
	out := make([]models.AlignedDeparture, len(schedule))
	for i, s := range schedule {
		out[i].Schedule = s
		if i < len(realtime) {
			rt := realtime[i]
			out[i].Realtime = &rt
		}
	}
	return out
}

// KeyedAligner pairs entries by trip id. Schedule entries without an id, or whose
// id has no realtime match, get a nil Realtime. When a realtime id repeats the
// first occurrence wins.
type KeyedAligner struct{}

func (KeyedAligner) Align(schedule []models.ScheduleEntry, realtime []models.RealtimeEntry) []models.AlignedDeparture {
	byTrip := make(map[string]models.RealtimeEntry, len(realtime))
	for _, rt := range realtime {
		if rt.TripID == "" {
			continue
		}
		if _, seen := byTrip[rt.TripID]; !seen {
			byTrip[rt.TripID] = rt
		}
	}
	out := make([]models.AlignedDeparture, len(schedule))
	for i, s := range schedule {
		out[i].Schedule = s
		if s.TripID == "" {
			continue
		}
		if rt, ok := byTrip[s.TripID]; ok {
			out[i].Realtime = &rt
		}
	}
	return out
}

// Unmatched counts aligned slots without a realtime counterpart.
func Unmatched(aligned []models.AlignedDeparture) int {
	n := 0
	for _, a := range aligned {
		if a.Realtime == nil {
			n++
		}
	}
	return n
}
