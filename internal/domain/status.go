// Package domain defines the persistence models for regimens, administration
// records, co-sign requests, inventory sources, and the offline action queue.
// These types are mapped with GORM and form the core data layer of the
// medication tracker.
package domain

// DoseStatus classifies a scheduled (or unscheduled) dose relative to its
// regimen tolerances. Recorded statuses (OnTime, Late, VeryLate, Missed,
// Skipped, PRN) are persisted on AdministrationRecord rows; Pending and Due
// only ever appear on derived dose-status listings, never in storage.
type DoseStatus string

const (
	// DoseStatusPending means the dose is in the future: now < scheduled + late tolerance.
	DoseStatusPending DoseStatus = "pending"
	// DoseStatusDue means the dose window is open and nothing has been recorded yet.
	DoseStatusDue DoseStatus = "due"
	// DoseStatusOnTime means the dose was recorded within the late tolerance.
	DoseStatusOnTime DoseStatus = "on_time"
	// DoseStatusLate means the dose was recorded after the late tolerance but
	// within the very-late tolerance.
	DoseStatusLate DoseStatus = "late"
	// DoseStatusVeryLate means the dose was recorded after the very-late tolerance.
	DoseStatusVeryLate DoseStatus = "very_late"
	// DoseStatusMissed means the very-late cutoff elapsed with no recording.
	// Missed doses are materialized as system-authored rows so history reads
	// do not depend on live recomputation.
	DoseStatusMissed DoseStatus = "missed"
	// DoseStatusSkipped means a caregiver explicitly declined the dose.
	// A skip is a deliberate decision: it counts as not-completed but does
	// not count as missed and does not break adherence streaks.
	DoseStatusSkipped DoseStatus = "skipped"
	// DoseStatusPRN marks an as-needed administration with no schedule slot.
	DoseStatusPRN DoseStatus = "prn"
)

// Recorded reports whether the status is one that is persisted on an
// administration row (as opposed to the derived pending/due states).
func (s DoseStatus) Recorded() bool {
	switch s {
	case DoseStatusOnTime, DoseStatusLate, DoseStatusVeryLate,
		DoseStatusMissed, DoseStatusSkipped, DoseStatusPRN:
		return true
	}
	return false
}

// CoSignState is the lifecycle of a two-person confirmation request.
// The only legal transitions are pending→confirmed and pending→expired;
// both are terminal.
type CoSignState string

const (
	CoSignPending   CoSignState = "pending"
	CoSignConfirmed CoSignState = "confirmed"
	CoSignExpired   CoSignState = "expired"
)

// ActionKind identifies the operation an offline-queued action replays.
type ActionKind string

const (
	ActionRecord ActionKind = "record"
	ActionBulk   ActionKind = "bulk"
	ActionCoSign ActionKind = "cosign"
	ActionUndo   ActionKind = "undo"
)

// QueueStatus is the local state of an offline-queued action. Applied actions
// are deleted from the queue, so only pending and rejected rows persist.
type QueueStatus string

const (
	QueuePending  QueueStatus = "pending"
	QueueRejected QueueStatus = "rejected"
)

// SystemCaregiverID is the reserved author of synthetic rows the system
// writes on behalf of no caregiver, such as materialized missed doses.
const SystemCaregiverID = "system"
