// Package services – ComplianceService
//
// This file rolls dose-status streams up into adherence summaries. The
// aggregation is a pure fold over derived entries: it holds no mutable state
// of its own, so any historical range can be recomputed at any time without
// side effects.
//
// Counting rules:
//   - scheduled counts resolved scheduled outcomes only (on_time, late,
//     very_late, missed, skipped); pending and due doses have not happened
//     yet and PRN administrations have no schedule to adhere to.
//   - completed = on_time + late + very_late. A skip is a deliberate
//     decision, so it is neither completed nor missed.
//   - adherence is completed/scheduled, defined as 0 when nothing was
//     scheduled.
//   - the streak counts consecutive household-local calendar days with zero
//     missed doses, walking backward from the most recent fully elapsed day.
//     Days without scheduled doses and days with skips extend the streak.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
)

// ComplianceService computes adherence summaries for animals and households.
type ComplianceService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Statuses supplies the dose-status entries the summaries fold over.
	Statuses *DoseStatusService

	// DefaultTimezone anchors streak day boundaries when a household has no
	// regimen to borrow a timezone from.
	DefaultTimezone string

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *ComplianceService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// ComplianceSummary is the rolled-up adherence report for one animal or a
// whole household over a range.
type ComplianceSummary struct {
	Scheduled int `json:"scheduled"`
	Completed int `json:"completed"`
	Missed    int `json:"missed"`
	Late      int `json:"late"`
	VeryLate  int `json:"very_late"`
	Skipped   int `json:"skipped"`

	// AdherencePct is Completed/Scheduled as a percentage, 0 when nothing
	// was scheduled.
	AdherencePct float64 `json:"adherence_pct"`

	// StreakDays counts consecutive local calendar days with no missed dose,
	// backward from the most recent fully elapsed day.
	StreakDays int `json:"streak_days"`
}

// Aggregate folds dose-status entries into a summary. loc anchors the streak's
// calendar-day boundaries; now decides which day is the most recent fully
// elapsed one. Pending, due, and PRN entries are reported on dashboards but do
// not participate in adherence math.
func Aggregate(entries []DoseStatusEntry, loc *time.Location, now time.Time) ComplianceSummary {
	var sum ComplianceSummary
	missedByDay := make(map[string]bool)
	scheduledDays := make(map[string]bool)

	for _, e := range entries {
		switch e.Status {
		case domain.DoseStatusOnTime:
			sum.Scheduled++
			sum.Completed++
		case domain.DoseStatusLate:
			sum.Scheduled++
			sum.Completed++
			sum.Late++
		case domain.DoseStatusVeryLate:
			sum.Scheduled++
			sum.Completed++
			sum.VeryLate++
		case domain.DoseStatusMissed:
			sum.Scheduled++
			sum.Missed++
		case domain.DoseStatusSkipped:
			sum.Scheduled++
			sum.Skipped++
		default:
			continue
		}
		if e.ScheduledAt != nil {
			day := e.ScheduledAt.In(loc).Format("2006-01-02")
			scheduledDays[day] = true
			if e.Status == domain.DoseStatusMissed {
				missedByDay[day] = true
			}
		}
	}

	if sum.Scheduled > 0 {
		sum.AdherencePct = float64(sum.Completed) / float64(sum.Scheduled) * 100
	}

	// Walk backward from yesterday (the most recent fully elapsed local day).
	// A day with a missed dose ends the streak; the walk stops once it passes
	// the oldest scheduled day seen in the range.
	localNow := now.In(loc)
	day := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -1)
	oldest := oldestScheduledDay(scheduledDays)
	for oldest != "" {
		key := day.Format("2006-01-02")
		if key < oldest {
			break
		}
		if missedByDay[key] {
			break
		}
		sum.StreakDays++
		day = day.AddDate(0, 0, -1)
	}
	return sum
}

func oldestScheduledDay(days map[string]bool) string {
	oldest := ""
	for d := range days {
		if oldest == "" || d < oldest {
			oldest = d
		}
	}
	return oldest
}

// ForAnimal computes the summary for one animal over [fromUTC, toUTC).
func (s *ComplianceService) ForAnimal(ctx context.Context, householdID, animalID string, fromUTC, toUTC time.Time) (*ComplianceSummary, error) {
	tr := otel.Tracer("services/ComplianceService")
	ctx, span := tr.Start(ctx, "ForAnimal",
		trace.WithAttributes(
			attribute.String("household.id", householdID),
			attribute.String("animal.id", animalID),
		),
	)
	defer span.End()

	return s.summarize(ctx, householdID, []string{animalID}, fromUTC, toUTC)
}

// ForHousehold computes the summary across all of a household's animals over
// [fromUTC, toUTC).
func (s *ComplianceService) ForHousehold(ctx context.Context, householdID string, fromUTC, toUTC time.Time) (*ComplianceSummary, error) {
	tr := otel.Tracer("services/ComplianceService")
	ctx, span := tr.Start(ctx, "ForHousehold",
		trace.WithAttributes(attribute.String("household.id", householdID)),
	)
	defer span.End()

	return s.summarize(ctx, householdID, nil, fromUTC, toUTC)
}

func (s *ComplianceService) summarize(ctx context.Context, householdID string, animalIDs []string, fromUTC, toUTC time.Time) (*ComplianceSummary, error) {
	entries, err := s.Statuses.List(ctx, householdID, animalIDs, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	loc, err := s.householdLocation(ctx, householdID)
	if err != nil {
		return nil, err
	}
	sum := Aggregate(entries, loc, s.now())
	return &sum, nil
}

// householdLocation picks the timezone streak day boundaries are computed in:
// the first active regimen's zone, then the configured default, then UTC.
func (s *ComplianceService) householdLocation(ctx context.Context, householdID string) (*time.Location, error) {
	regs, err := repo.ListRegimens(ctx, s.DB, householdID)
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if !regs[i].Active() || regs[i].Timezone == "" {
			continue
		}
		if loc, locErr := time.LoadLocation(regs[i].Timezone); locErr == nil {
			return loc, nil
		}
	}
	if s.DefaultTimezone != "" {
		if loc, locErr := time.LoadLocation(s.DefaultTimezone); locErr == nil {
			return loc, nil
		}
	}
	return time.UTC, nil
}
