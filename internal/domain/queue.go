// Package domain defines the persistence models for regimens, administration
// records, co-sign requests, inventory sources, and the offline action queue.
// These types are mapped with GORM and form the core data layer of the
// medication tracker.
package domain

import "time"

// QueuedAction is an offline-buffered request owned by a client device. Rows
// are appended while the device is disconnected and replayed in Seq order on
// flush. The idempotency key is fixed at enqueue time, so an action that
// reaches the server twice (once directly, once via a retried flush) collapses
// on the recording pipeline's unique-key guarantee.
//
// Applied actions are deleted on flush; permanently rejected actions stay in
// the queue with a structured reason until the caller acknowledges them.
type QueuedAction struct {
	// Seq is a monotonically increasing local sequence number. Replay order
	// follows Seq, which preserves per-regimen submission order.
	Seq      uint64 `json:"seq"       gorm:"primaryKey;autoIncrement"`
	DeviceID string `json:"device_id" gorm:"type:varchar(64);not null;index"`

	Kind           ActionKind `json:"kind"    gorm:"type:varchar(16);not null"`
	Payload        string     `json:"payload" gorm:"type:text;not null"`
	IdempotencyKey string     `json:"idempotency_key" gorm:"type:varchar(255);not null;uniqueIndex:ux_queue_idem_key"`

	// ClientQueuedAt is the device clock at enqueue time. Informational only;
	// the server clock stays authoritative for recorded_at.
	ClientQueuedAt time.Time `json:"client_queued_at" gorm:"not null"`

	Attempts     int         `json:"attempts"      gorm:"not null;default:0"`
	Status       QueueStatus `json:"status"        gorm:"type:varchar(16);not null;default:'pending'"`
	// Bulk rejections join one animal_id:reason pair per failed animal, so
	// the column leaves room for several of them.
	RejectReason *string     `json:"reject_reason,omitempty" gorm:"type:varchar(512)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for QueuedAction.
func (QueuedAction) TableName() string { return "queued_actions" }
