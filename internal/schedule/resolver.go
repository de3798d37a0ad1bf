// Package schedule contains the pure scheduling logic of the medication
// tracker: resolving a regimen's recurrence into concrete UTC occurrences and
// classifying a dose against its tolerance windows.
//
// Occurrences are derived, never stored. Their identity is the pair
// (regimenID, scheduledAt), so resolution must be deterministic: the same
// regimen and range always yield the same occurrences, no matter how often or
// where they are recomputed.
package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
)

// Occurrence is a single derived schedule slot for a regimen. ScheduledAt is
// always UTC.
type Occurrence struct {
	RegimenID   string    `json:"regimen_id"`
	AnimalID    string    `json:"animal_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// ErrBadClockTime is returned when a regimen's local dose time cannot be
// parsed as HH:MM.
var ErrBadClockTime = errors.New("invalid clock time, expected HH:MM")

// clockTime is a local wall-clock dose time (hour and minute).
type clockTime struct {
	hour, min int
}

// ParseClockTimes parses a comma-separated list of local dose times
// ("08:00,20:00") into sorted, deduplicated clock times. An empty string
// yields an empty slice.
func ParseClockTimes(csv string) ([]clockTime, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	seen := make(map[clockTime]struct{})
	out := make([]clockTime, 0, 4)
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		hh, mm, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBadClockTime, part)
		}
		h, err := strconv.Atoi(hh)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("%w: %q", ErrBadClockTime, part)
		}
		m, err := strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return nil, fmt.Errorf("%w: %q", ErrBadClockTime, part)
		}
		ct := clockTime{hour: h, min: m}
		if _, dup := seen[ct]; dup {
			continue
		}
		seen[ct] = struct{}{}
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].hour != out[j].hour {
			return out[i].hour < out[j].hour
		}
		return out[i].min < out[j].min
	})
	return out, nil
}

// ResolveOccurrences expands a regimen into its scheduled occurrences within
// [fromUTC, toUTC). PRN regimens yield no occurrences. The walk iterates local
// calendar days in the regimen's IANA timezone, so each (local day, clock
// time) pair maps to exactly one UTC instant even across DST transitions:
// a nonexistent spring-forward time normalizes to the instant the clock jumps
// to, and an ambiguous fall-back time resolves to the first of the two wall
// readings. Nothing is dropped or duplicated.
func ResolveOccurrences(reg *domain.Regimen, fromUTC, toUTC time.Time) ([]Occurrence, error) {
	if reg.PRN || !fromUTC.Before(toUTC) {
		return nil, nil
	}
	times, err := ParseClockTimes(reg.TimesLocal)
	if err != nil {
		return nil, err
	}
	if len(times) == 0 {
		return nil, nil
	}
	loc, err := time.LoadLocation(reg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", reg.Timezone, err)
	}

	fromLocal := fromUTC.In(loc)
	toLocal := toUTC.In(loc)

	out := make([]Occurrence, 0, 8)
	day := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), 0, 0, 0, 0, loc)
	lastDay := time.Date(toLocal.Year(), toLocal.Month(), toLocal.Day(), 0, 0, 0, 0, loc)
	for !day.After(lastDay) {
		for _, ct := range times {
			occ := time.Date(day.Year(), day.Month(), day.Day(), ct.hour, ct.min, 0, 0, loc).UTC()
			if occ.Before(fromUTC) || !occ.Before(toUTC) {
				continue
			}
			out = append(out, Occurrence{
				RegimenID:   reg.ID,
				AnimalID:    reg.AnimalID,
				ScheduledAt: occ,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}
