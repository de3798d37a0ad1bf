// Package services – RegimenService
//
// This file implements the slim regimen lifecycle: create, read, and
// soft-discontinue. Regimens are never hard-deleted, so every historical
// administration keeps a resolvable regimen behind it.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/repo"
	"github.com/kjanat/vet-med-tracker-sub009/internal/schedule"
)

// RegimenService owns regimen creation and lifecycle.
type RegimenService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// DefaultTimezone is used when a regimen is created without one.
	DefaultTimezone string

	// Now overrides the clock for tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *RegimenService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CreateRegimenInput carries the fields a caregiver supplies when setting up
// a medication schedule.
type CreateRegimenInput struct {
	HouseholdID string
	AnimalID    string
	CaregiverID string

	MedicationName string
	Dose           string
	Route          string

	// TimesLocal is the comma-separated local dose times, e.g. "08:00,20:00".
	// Must be empty for PRN regimens and non-empty otherwise.
	TimesLocal string
	Timezone   string
	PRN        bool

	LateAfterMin     int
	VeryLateAfterMin int

	HighRisk       bool
	RequiresCoSign bool
}

// Create validates and persists a regimen. The dose times must parse as HH:MM
// and the timezone must exist in the IANA database; a fixed-time regimen
// needs at least one dose time.
func (s *RegimenService) Create(ctx context.Context, in CreateRegimenInput) (*domain.Regimen, error) {
	tr := otel.Tracer("services/RegimenService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("household.id", in.HouseholdID),
			attribute.String("animal.id", in.AnimalID),
		),
	)
	defer span.End()

	if strings.TrimSpace(in.CaregiverID) == "" {
		return nil, ErrMissingCaregiver
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = s.DefaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, ErrBadTimezone
	}

	times := strings.TrimSpace(in.TimesLocal)
	if in.PRN {
		times = ""
	} else {
		parsed, err := schedule.ParseClockTimes(times)
		if err != nil {
			return nil, err
		}
		if len(parsed) == 0 {
			return nil, ErrNoDoseTimes
		}
	}

	reg := &domain.Regimen{
		ID:               uuid.NewString(),
		HouseholdID:      in.HouseholdID,
		AnimalID:         in.AnimalID,
		MedicationName:   strings.TrimSpace(in.MedicationName),
		Dose:             in.Dose,
		Route:            in.Route,
		TimesLocal:       times,
		Timezone:         tz,
		PRN:              in.PRN,
		LateAfterMin:     in.LateAfterMin,
		VeryLateAfterMin: in.VeryLateAfterMin,
		HighRisk:         in.HighRisk,
		RequiresCoSign:   in.RequiresCoSign,
		CreatedBy:        in.CaregiverID,
	}
	if err := repo.CreateRegimen(ctx, s.DB, reg); err != nil {
		return nil, err
	}

	log.Info().
		Str("regimen_id", reg.ID).
		Str("animal_id", reg.AnimalID).
		Str("medication", reg.MedicationName).
		Bool("prn", reg.PRN).
		Bool("cosign", reg.NeedsCoSign()).
		Msg("regimen created")
	return reg, nil
}

// Get fetches one regimen scoped to its household.
func (s *RegimenService) Get(ctx context.Context, id, householdID string) (*domain.Regimen, error) {
	reg, err := repo.GetRegimen(ctx, s.DB, id, householdID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRegimenNotFound
	}
	return reg, err
}

// List returns a household's regimens, discontinued ones included.
func (s *RegimenService) List(ctx context.Context, householdID string) ([]domain.Regimen, error) {
	return repo.ListRegimens(ctx, s.DB, householdID)
}

// Discontinue soft-ends a regimen. Already recorded administrations keep
// their linkage; occurrences after the discontinuation instant stop being
// resolved, and new recordings are refused. Discontinuing twice returns
// ErrRegimenDiscontinued.
func (s *RegimenService) Discontinue(ctx context.Context, id, householdID, caregiverID string) (*domain.Regimen, error) {
	tr := otel.Tracer("services/RegimenService")
	ctx, span := tr.Start(ctx, "Discontinue",
		trace.WithAttributes(attribute.String("regimen.id", id)),
	)
	defer span.End()

	if strings.TrimSpace(caregiverID) == "" {
		return nil, ErrMissingCaregiver
	}

	err := repo.DiscontinueRegimen(ctx, s.DB, id, householdID, caregiverID, s.now())
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// Missing or already discontinued: disambiguate for the caller.
		reg, getErr := repo.GetRegimen(ctx, s.DB, id, householdID)
		if getErr != nil {
			return nil, ErrRegimenNotFound
		}
		if !reg.Active() {
			return nil, ErrRegimenDiscontinued
		}
		return nil, err
	}

	log.Info().
		Str("regimen_id", id).
		Str("discontinued_by", caregiverID).
		Msg("regimen discontinued")
	return repo.GetRegimen(ctx, s.DB, id, householdID)
}
