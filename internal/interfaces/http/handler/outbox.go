package handler

import (
	eventapp "github.com/faithflows/backend/internal/application/event"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OutboxHandler serves the lifecycle event outbox to operators
type OutboxHandler struct {
	BaseHandler
	outboxService *eventapp.OutboxService
}

// NewOutboxHandler creates a new outbox handler
func NewOutboxHandler(outboxService *eventapp.OutboxService) *OutboxHandler {
	return &OutboxHandler{
		outboxService: outboxService,
	}
}

// RetryAllResponse reports how many dead letters were requeued
type RetryAllResponse struct {
	Count int64 `json:"count"`
}

// DeadLetters godoc
// @ID           listOutboxDeadLetters
// @Summary      List dead letter entries
// @Description  Lifecycle events whose delivery failed too often, most recent first
// @Tags         outbox
// @Produce      json
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Items per page" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]eventapp.OutboxEntryDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      401 {object} ErrorResponse
// @Failure      403 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/outbox/dead [get]
func (h *OutboxHandler) DeadLetters(c *gin.Context) {
	var filter eventapp.OutboxFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BadRequest(c, "Invalid query parameters")
		return
	}

	result, err := h.outboxService.DeadLetters(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, result.Items, result.Total, result.Page, result.PageSize)
}

// Get godoc
// @ID           getOutboxEntry
// @Summary      Get an outbox entry
// @Tags         outbox
// @Produce      json
// @Param        id path string true "Outbox entry ID" format(uuid)
// @Success      200 {object} APIResponse[eventapp.OutboxEntryDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/outbox/{id} [get]
func (h *OutboxHandler) Get(c *gin.Context) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}
	entry, err := h.outboxService.Entry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// Retry godoc
// @ID           retryOutboxEntry
// @Summary      Requeue a dead letter entry
// @Tags         outbox
// @Produce      json
// @Param        id path string true "Outbox entry ID" format(uuid)
// @Success      200 {object} APIResponse[eventapp.OutboxEntryDTO]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      422 {object} ErrorResponse
// @Security     BearerAuth
// @Router       /admin/outbox/{id}/retry [post]
func (h *OutboxHandler) Retry(c *gin.Context) {
	id, ok := h.entryID(c)
	if !ok {
		return
	}
	entry, err := h.outboxService.Retry(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, entry)
}

// RetryAll godoc
// @ID           retryAllOutboxEntries
// @Summary      Requeue every dead letter entry
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[RetryAllResponse]
// @Security     BearerAuth
// @Router       /admin/outbox/dead/retry-all [post]
func (h *OutboxHandler) RetryAll(c *gin.Context) {
	count, err := h.outboxService.RetryAll(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RetryAllResponse{Count: count})
}

// Stats godoc
// @ID           getOutboxStats
// @Summary      Count outbox entries by status
// @Tags         outbox
// @Produce      json
// @Success      200 {object} APIResponse[eventapp.OutboxStatsDTO]
// @Security     BearerAuth
// @Router       /admin/outbox/stats [get]
func (h *OutboxHandler) Stats(c *gin.Context) {
	stats, err := h.outboxService.Stats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

func (h *OutboxHandler) entryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid entry ID")
		return uuid.Nil, false
	}
	return id, true
}
