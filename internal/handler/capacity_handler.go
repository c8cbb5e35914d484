package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/pkg/response"
)

type capacityService interface {
	Summary(ctx context.Context, courseID string) (*models.CourseCapacity, bool, error)
	Reconcile(ctx context.Context, courseID, actorID string) (*models.ReconcileReport, error)
}

// CapacityHandler exposes course capacity reporting and repair.
type CapacityHandler struct {
	service capacityService
}

// NewCapacityHandler constructs the handler.
func NewCapacityHandler(service capacityService) *CapacityHandler {
	return &CapacityHandler{service: service}
}

// Summary godoc
// @Summary Course capacity summary
// @Tags Capacity
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/capacity [get]
func (h *CapacityHandler) Summary(c *gin.Context) {
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}

// Reconcile godoc
// @Summary Recompute region quota counters
// @Tags Capacity
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/capacity/reconcile [post]
func (h *CapacityHandler) Reconcile(c *gin.Context) {
	report, err := h.service.Reconcile(c.Request.Context(), c.Param("courseId"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil, middleware.ExtractMeta(c))
}
