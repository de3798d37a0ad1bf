// Package domain defines the persistence models for regimens, administration
// records, co-sign requests, inventory sources, and the offline action queue.
// These types are mapped with GORM and form the core data layer of the
// medication tracker.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Regimen is a medication schedule for one animal within a household.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - HouseholdID / AnimalID: owning household and target animal; both indexed.
//   - MedicationName / Dose / Route: free-text description of what is given.
//   - TimesLocal: comma-separated local clock times ("08:00,20:00") for
//     fixed-time regimens; empty for PRN.
//   - Timezone: IANA zone name the clock times are anchored in.
//   - PRN: as-needed flag; PRN regimens produce no scheduled occurrences.
//   - LateAfterMin / VeryLateAfterMin: per-dose tolerance in minutes before a
//     recording counts as late, respectively very late / missed.
//   - HighRisk / RequiresCoSign: medications that need a second caregiver's
//     confirmation on every administration.
//   - DiscontinuedAt / DiscontinuedBy: soft lifecycle end. Regimens are never
//     hard-deleted so historical administrations keep their linkage.
//   - DeletedAt: GORM soft-deletion marker (retained for audit).
type Regimen struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	HouseholdID string `json:"household_id" gorm:"type:varchar(64);not null;index:idx_household_regimens"`
	AnimalID    string `json:"animal_id"    gorm:"type:varchar(64);not null;index:idx_animal_regimens"`

	MedicationName string `json:"medication_name" gorm:"type:varchar(255);not null"`
	Dose           string `json:"dose,omitempty"  gorm:"type:varchar(128)"`
	Route          string `json:"route,omitempty" gorm:"type:varchar(64)"`

	TimesLocal string `json:"times_local"        gorm:"type:varchar(255)"`
	Timezone   string `json:"timezone"           gorm:"type:varchar(64);not null"`
	PRN        bool   `json:"prn"                gorm:"column:prn;not null;default:false"`

	LateAfterMin     int `json:"late_after_min"      gorm:"not null;default:0"`
	VeryLateAfterMin int `json:"very_late_after_min" gorm:"not null;default:0"`

	HighRisk       bool `json:"high_risk"        gorm:"not null;default:false"`
	RequiresCoSign bool `json:"requires_cosign"  gorm:"column:requires_cosign;not null;default:false"`

	CreatedBy       string     `json:"created_by"                 gorm:"type:varchar(64);not null"`
	DiscontinuedAt  *time.Time `json:"discontinued_at,omitempty"`
	DiscontinuedBy  *string    `json:"discontinued_by,omitempty"  gorm:"type:varchar(64)"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Regimen.
func (Regimen) TableName() string { return "regimens" }

// Active reports whether the regimen is still administered (not discontinued).
func (r *Regimen) Active() bool { return r.DiscontinuedAt == nil }

// NeedsCoSign reports whether administrations of this regimen require a
// second caregiver's confirmation.
func (r *Regimen) NeedsCoSign() bool { return r.HighRisk || r.RequiresCoSign }

// AdministrationRecord is the append-mostly fact that a dose happened (or was
// explicitly skipped, or was materialized as missed). Rows are owned by the
// household and mutated only through explicit edit/undo/co-sign operations,
// never by direct field overwrite, so the audit trail stays intact.
//
// Fields:
//   - ID: ULID primary key (char(26), sortable by creation time).
//   - RegimenID / AnimalID / HouseholdID / CaregiverID: linkage and author.
//     CaregiverID is SystemCaregiverID for materialized missed rows.
//   - ScheduledFor: the UTC occurrence this recording answers; nil for PRN.
//   - RecordedAt: server-received instant, authoritative for status math.
//   - ClientRecordedAt: the caller's clock at submission time; kept as a
//     tie-break hint only, never trusted for lateness classification.
//   - Status: computed DoseStatus at recording time.
//   - IdempotencyKey: exact-match dedupe token; the unique index here is the
//     at-most-once boundary for the whole recording pipeline.
//   - InventorySourceID / InventoryOverride / OverrideReason: stock linkage
//     and the audit trail for validation overrides.
//   - CosignPending: true while a high-risk administration awaits (or has
//     permanently lapsed without) its second signature.
//   - IsEdited / EditedBy / EditedAt: soft-edit markers.
//   - DeletedAt / DeletedBy: soft-delete (undo) markers; undone rows free
//     their schedule slot for re-recording.
type AdministrationRecord struct {
	ID          string `json:"id"           gorm:"type:char(26);primaryKey"`
	RegimenID   string `json:"regimen_id"   gorm:"type:char(36);not null;index:idx_regimen_records,priority:1"`
	AnimalID    string `json:"animal_id"    gorm:"type:varchar(64);not null;index"`
	HouseholdID string `json:"household_id" gorm:"type:varchar(64);not null;index"`
	CaregiverID string `json:"caregiver_id" gorm:"type:varchar(64);not null"`

	ScheduledFor     *time.Time `json:"scheduled_for,omitempty" gorm:"index:idx_regimen_records,priority:2"`
	RecordedAt       time.Time  `json:"recorded_at"             gorm:"not null;index"`
	ClientRecordedAt *time.Time `json:"client_recorded_at,omitempty"`

	Status DoseStatus `json:"status" gorm:"type:varchar(16);not null;check:status IN ('on_time','late','very_late','missed','skipped','prn')"`

	IdempotencyKey string `json:"-" gorm:"type:varchar(255);not null;uniqueIndex:ux_admin_idem_key"`

	InventorySourceID *string `json:"inventory_source_id,omitempty" gorm:"type:char(36)"`
	InventoryOverride bool    `json:"inventory_override,omitempty"  gorm:"not null;default:false"`
	OverrideReason    *string `json:"override_reason,omitempty"     gorm:"type:varchar(255)"`

	Notes string `json:"notes,omitempty" gorm:"type:text"`

	CosignPending bool `json:"cosign_pending" gorm:"column:cosign_pending;not null;default:false"`

	IsEdited bool       `json:"is_edited"            gorm:"not null;default:false"`
	EditedBy *string    `json:"edited_by,omitempty"  gorm:"type:varchar(64)"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"                    gorm:"index"`
	DeletedBy *string        `json:"deleted_by,omitempty" gorm:"type:varchar(64)"`
}

// TableName returns the database table name for AdministrationRecord.
func (AdministrationRecord) TableName() string { return "administration_records" }

// CoSignRequest is the ephemeral second-signature state attached to a
// high-risk AdministrationRecord. It is created in the same transaction as
// the record, and resolved exactly once: confirmed by a different caregiver
// before ExpiresAt, or expired after it.
type CoSignRequest struct {
	ID               string `json:"id"                gorm:"type:char(26);primaryKey"`
	AdministrationID string `json:"administration_id" gorm:"type:char(26);not null;uniqueIndex:ux_cosign_admin"`
	RegimenID        string `json:"regimen_id"        gorm:"type:char(36);not null;index"`
	HouseholdID      string `json:"household_id"      gorm:"type:varchar(64);not null;index"`

	RequestedBy string    `json:"requested_by" gorm:"type:varchar(64);not null"`
	RequestedAt time.Time `json:"requested_at" gorm:"not null"`
	ExpiresAt   time.Time `json:"expires_at"   gorm:"not null;index"`

	State       CoSignState `json:"state" gorm:"type:varchar(16);not null;default:'pending';check:state IN ('pending','confirmed','expired')"`
	ConfirmedBy *string     `json:"confirmed_by,omitempty" gorm:"type:varchar(64)"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for CoSignRequest.
func (CoSignRequest) TableName() string { return "cosign_requests" }

// ExpiredBy reports whether the request has lapsed at the given instant.
// Expiry is a derived fact: readers treat a pending request past ExpiresAt as
// expired even before the sweeper persists the terminal state.
func (c *CoSignRequest) ExpiredBy(now time.Time) bool {
	return c.State == CoSignExpired ||
		(c.State == CoSignPending && now.After(c.ExpiresAt))
}

// InventorySource is a collaborator-owned stock record (a bottle, blister
// pack, or vial) the recording pipeline validates against and depletes.
type InventorySource struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	HouseholdID string `json:"household_id" gorm:"type:varchar(64);not null;index"`

	MedicationName string     `json:"medication_name" gorm:"type:varchar(255);not null"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	UnitsRemaining int        `json:"units_remaining" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for InventorySource.
func (InventorySource) TableName() string { return "inventory_sources" }

// ExpiredBy reports whether the source is past its expiry date at now.
// Sources without an expiry never expire.
func (s *InventorySource) ExpiredBy(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
