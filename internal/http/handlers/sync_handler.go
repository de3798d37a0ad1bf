// Offline sync queue HTTP handlers.
//
// This file exposes the device-scoped offline action queue:
//   - POST /sync/queue            (enqueue an action)
//   - GET  /sync/queue            (list queued actions, pending and rejected)
//   - POST /sync/flush            (replay pending actions in order)
//   - POST /sync/queue/{seq}/ack  (acknowledge a rejected action)
//
// Every route requires the X-Device-ID header: the queue belongs to the
// device, not the caregiver, so two caregivers sharing a tablet share a queue.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kjanat/vet-med-tracker-sub009/internal/domain"
	"github.com/kjanat/vet-med-tracker-sub009/internal/services"
)

// EnqueueActionRequest is the JSON payload for queueing an offline action.
type EnqueueActionRequest struct {
	// Kind is one of record, bulk, cosign, undo.
	Kind domain.ActionKind `json:"kind" binding:"required" example:"record"`
	// Payload is the kind-specific action body, stored verbatim.
	Payload json.RawMessage `json:"payload" binding:"required"`
	// IdempotencyKey is fixed at enqueue time and travels with the action.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// ClientQueuedAt is the device clock at enqueue time (informational).
	ClientQueuedAt time.Time `json:"client_queued_at,omitempty"`
}

// QueueResponse wraps a device's queued actions.
type QueueResponse struct {
	Actions []domain.QueuedAction `json:"actions"`
}

// requireDevice resolves the device identity or fails the request with 400.
func requireDevice(c *gin.Context) (string, bool) {
	dev := deviceID(c)
	if dev == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "X-Device-ID header required")
		return "", false
	}
	return dev, true
}

// EnqueueAction godoc
// @ID          enqueueAction
// @Summary     Queue an offline action
// @Description Appends an action to the device's durable queue. Re-enqueueing an already queued idempotency key returns the existing entry, so client retry loops stay idempotent end to end.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       X-Device-ID      header  string  true  "Device ID"  example(tablet-1)
// @Param       Idempotency-Key  header  string  false "Dedupe token, fixed at enqueue time"
// @Param       body             body    handlers.EnqueueActionRequest  true  "Action payload"
//
// @Success     201  {object} domain.QueuedAction
// @Success     200  {object} domain.QueuedAction "Already queued"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/queue [post]
func (h *Handlers) EnqueueAction(c *gin.Context) {
	dev, hasDevice := requireDevice(c)
	if !hasDevice {
		return
	}
	var req EnqueueActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "kind and payload required")
		return
	}

	a, err := h.Sync.Enqueue(c.Request.Context(), services.EnqueueInput{
		DeviceID:       dev,
		Kind:           req.Kind,
		Payload:        req.Payload,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		ClientQueuedAt: req.ClientQueuedAt,
	})
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, a)
}

// ListQueue godoc
// @ID          listQueue
// @Summary     List the device's queued actions
// @Description Returns the device's queue in enqueue order, pending and rejected entries included. Rejected entries carry the structured reason awaiting acknowledgement.
// @Tags        Sync
// @Produce     json
//
// @Param       X-Device-ID  header  string  true  "Device ID"  example(tablet-1)
//
// @Success     200  {object} handlers.QueueResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/queue [get]
func (h *Handlers) ListQueue(c *gin.Context) {
	dev, hasDevice := requireDevice(c)
	if !hasDevice {
		return
	}
	actions, err := h.Sync.List(c.Request.Context(), dev)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	if actions == nil {
		actions = []domain.QueuedAction{}
	}
	ok(c, http.StatusOK, QueueResponse{Actions: actions})
}

// FlushQueue godoc
// @ID          flushQueue
// @Summary     Flush the device's pending actions
// @Description Replays pending actions in enqueue order. Transient failures retry with bounded backoff and defer the rest of the queue; permanent rejections get a structured reason and stay queued until acknowledged. Only one flush runs at a time.
// @Tags        Sync
// @Produce     json
//
// @Param       X-Device-ID  header  string  true  "Device ID"  example(tablet-1)
//
// @Success     200  {object} services.FlushResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Flush already in progress"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/flush [post]
func (h *Handlers) FlushQueue(c *gin.Context) {
	dev, hasDevice := requireDevice(c)
	if !hasDevice {
		return
	}
	res, err := h.Sync.Flush(c.Request.Context(), dev)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// AckRejectedAction godoc
// @ID          ackRejectedAction
// @Summary     Acknowledge a rejected action
// @Description Removes a rejected action from the queue after the caregiver has seen the rejection reason. Pending actions cannot be acknowledged away.
// @Tags        Sync
// @Produce     json
//
// @Param       X-Device-ID  header  string  true  "Device ID"  example(tablet-1)
// @Param       seq          path    int     true  "Queue sequence number"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "No rejected action with this sequence"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /sync/queue/{seq}/ack [post]
func (h *Handlers) AckRejectedAction(c *gin.Context) {
	dev, hasDevice := requireDevice(c)
	if !hasDevice {
		return
	}
	seq, err := strconv.ParseUint(c.Param("seq"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "seq must be a positive integer")
		return
	}
	if err := h.Sync.Ack(c.Request.Context(), dev, seq); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
