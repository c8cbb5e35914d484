package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/internal/models"
	"github.com/noah-isme/course-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/response"
)

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error)
}

type enrollmentTransitioner interface {
	Transition(ctx context.Context, req service.TransitionRequest) (*service.TransitionResult, error)
}

// EnrollmentHandler exposes the admin enrollment endpoints of a course.
type EnrollmentHandler struct {
	enrollments enrollmentLister
	transitions enrollmentTransitioner
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentLister, transitions enrollmentTransitioner) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, transitions: transitions}
}

// List godoc
// @Summary List course enrollments
// @Tags Enrollments
// @Produce json
// @Param courseId path string true "Course ID"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		CourseID: c.Param("courseId"),
		Status:   models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination, middleware.ExtractMeta(c))
}

// Transition godoc
// @Summary Change enrollment status
// @Description Moves an enrollment between PENDING_REGION, CONFIRMED, WAITLIST and REJECTED, enforcing course and region capacity.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param courseId path string true "Course ID"
// @Param id path string true "Enrollment ID"
// @Param payload body service.TransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /courses/{courseId}/enrollments/{id}/status [patch]
func (h *EnrollmentHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.EnrollmentID = c.Param("id")
	req.CourseID = c.Param("courseId")
	req.TargetStatus = models.EnrollmentStatus(strings.ToUpper(strings.TrimSpace(string(req.TargetStatus))))
	req.ActorID = actorID(c)
	req.IPAddress = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	result, err := h.transitions.Transition(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}
