package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
	"github.com/noah-isme/course-enrollment-api/pkg/middleware/requestid"
)

// Result messages returned by EnrollmentTransitionService.Transition.
const (
	MessageNoChanges     = "no changes"
	MessageConfirmed     = "confirmed"
	MessageWaitlisted    = "moved to waitlist"
	MessageStatusUpdated = "status updated"
)

const (
	defaultWaitlistReason = "awaiting administrator review"
	defaultPendingReason  = "awaiting region assignment"
	defaultRejectedReason = "enrollment request rejected"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type transitionEnrollmentStore interface {
	capacityCounter
	waitlistStore
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	UpdateTransition(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
}

type courseReader interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string, forUpdate bool) (*models.Course, error)
}

type regionQuotaStore interface {
	ListByCourse(ctx context.Context, exec sqlx.ExtContext, courseID string, forUpdate bool) ([]models.RegionQuota, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RegionQuota, error)
	ApplyDelta(ctx context.Context, exec sqlx.ExtContext, id string, delta models.QuotaDelta) error
}

type auditWriter interface {
	Create(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error
}

type enrollmentNotifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type capacityInvalidator interface {
	InvalidateSummary(ctx context.Context, courseID string)
}

// TransitionRequest asks for an enrollment to be moved to TargetStatus.
type TransitionRequest struct {
	EnrollmentID  string                  `json:"-" validate:"required"`
	CourseID      string                  `json:"-" validate:"required"`
	TargetStatus  models.EnrollmentStatus `json:"targetStatus" validate:"required,oneof=PENDING_REGION CONFIRMED WAITLIST REJECTED"`
	RegionQuotaID *string                 `json:"regionQuotaId"`
	NotifyUser    *bool                   `json:"notifyUser"`
	Message       *string                 `json:"message" validate:"omitempty,max=500"`

	ActorID   string `json:"-"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// TransitionResult is returned for both applied and no-op transitions.
type TransitionResult struct {
	Enrollment *models.Enrollment `json:"enrollment"`
	Message    string             `json:"message"`
}

// TransitionConfig tunes the transition unit of work.
type TransitionConfig struct {
	Timeout     time.Duration
	LinkBaseURL string
}

// EnrollmentTransitionService moves enrollments between statuses while
// keeping region quota counters and waitlist positions consistent.
type EnrollmentTransitionService struct {
	enrollments transitionEnrollmentStore
	courses     courseReader
	quotas      regionQuotaStore
	audit       auditWriter
	tx          txProvider
	checker     *TransitionValidator
	waitlist    *WaitlistResequencer
	notifier    enrollmentNotifier
	capacity    capacityInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         TransitionConfig
}

// NewEnrollmentTransitionService wires the transition engine.
func NewEnrollmentTransitionService(
	enrollments transitionEnrollmentStore,
	courses courseReader,
	quotas regionQuotaStore,
	audit auditWriter,
	tx txProvider,
	notifier enrollmentNotifier,
	capacity capacityInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TransitionConfig,
) *EnrollmentTransitionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.LinkBaseURL = strings.TrimRight(cfg.LinkBaseURL, "/")
	return &EnrollmentTransitionService{
		enrollments: enrollments,
		courses:     courses,
		quotas:      quotas,
		audit:       audit,
		tx:          tx,
		checker:     NewTransitionValidator(enrollments),
		waitlist:    NewWaitlistResequencer(enrollments),
		notifier:    notifier,
		capacity:    capacity,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

type transitionOutcome struct {
	result       *TransitionResult
	course       *models.Course
	from         models.EnrollmentStatus
	noop         bool
	repositioned int
}

// Transition applies the requested status change as one unit of work.
// Notifications and cache invalidation happen only after a successful commit.
func (s *EnrollmentTransitionService) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	start := time.Now()
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}

	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	out, err := s.apply(txCtx, req)
	from := ""
	if out != nil {
		from = string(out.from)
	}
	s.metrics.ObserveTransition(from, string(req.TargetStatus), transitionOutcomeLabel(out, err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if out.noop {
		return out.result, nil
	}

	s.afterCommit(ctx, req, out)
	return out.result, nil
}

func (s *EnrollmentTransitionService) apply(ctx context.Context, req TransitionRequest) (out *transitionOutcome, err error) {
	tx, err := s.tx.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Lock order: course, enrollment, quotas ascending by id.
	course, err := s.courses.FindByID(ctx, tx, req.CourseID, true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	enrollment, err := s.enrollments.FindByIDForUpdate(ctx, tx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.CourseID != req.CourseID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found for course")
	}

	out = &transitionOutcome{from: enrollment.Status, course: course}
	if enrollment.Status == req.TargetStatus && !requestsReassignment(enrollment, req.RegionQuotaID) {
		return s.noop(tx, out, enrollment), nil
	}

	target := req.TargetStatus
	quotas, err := s.quotas.ListByCourse(ctx, tx, course.ID, false)
	if err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load region quotas")
	}
	course.RegionQuotas = quotas
	// Unknown candidate on a same-status request leaves the quota as is.
	if enrollment.Status == target && !hasQuota(quotas, strings.TrimSpace(*req.RegionQuotaID)) {
		return s.noop(tx, out, enrollment), nil
	}

	resolved := ResolveQuota(req.RegionQuotaID, quotas, enrollment.State, enrollment.City)
	newQuotaID := ""
	if resolved != nil {
		newQuotaID = resolved.ID
	}
	locked, err := s.lockQuotas(ctx, tx, enrollment.QuotaID(), newQuotaID)
	if err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock region quotas")
	}
	if fresh, ok := locked[newQuotaID]; ok {
		resolved = fresh
	}
	if enrollment.Status == target && newQuotaID == enrollment.QuotaID() {
		return s.noop(tx, out, enrollment), nil
	}

	rejection, err := s.checker.Validate(ctx, tx, enrollment, course, target, resolved)
	if err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate capacity")
	}
	if rejection != nil {
		return out, rejection.AsError()
	}

	updated := *enrollment
	updated.Status = target
	updated.RegionQuotaID = nil
	if resolved != nil {
		quotaID := resolved.ID
		updated.RegionQuotaID = &quotaID
	}
	updated.WaitlistPosition = nil

	message := trimmedMessage(req.Message)
	switch target {
	case models.EnrollmentStatusConfirmed:
		updated.EligibilityReason = nil
	case models.EnrollmentStatusWaitlist:
		waiting, countErr := s.enrollments.CountByStatus(ctx, tx, course.ID, models.EnrollmentStatusWaitlist, enrollment.ID)
		if countErr != nil {
			return out, appErrors.Wrap(countErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count waitlist")
		}
		position := waiting + 1
		updated.WaitlistPosition = &position
		updated.EligibilityReason = reasonOrDefault(message, defaultWaitlistReason)
	case models.EnrollmentStatusPendingRegion:
		updated.EligibilityReason = reasonOrDefault(message, defaultPendingReason)
	case models.EnrollmentStatusRejected:
		updated.EligibilityReason = reasonOrDefault(message, defaultRejectedReason)
	}

	if err = s.enrollments.UpdateTransition(ctx, tx, &updated); err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	deltas := AccumulateQuotaDeltas(enrollment.Status, updated.Status, enrollment.QuotaID(), updated.QuotaID())
	for _, quotaID := range sortedQuotaIDs(deltas) {
		if err = s.quotas.ApplyDelta(ctx, tx, quotaID, deltas[quotaID]); err != nil {
			return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update region quota counters")
		}
	}

	positions, repositioned, err := s.waitlist.Resequence(ctx, tx, course.ID)
	if err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resequence waitlist")
	}
	if position, ok := positions[updated.ID]; ok {
		updated.WaitlistPosition = &position
	}
	out.repositioned = repositioned

	if err = s.recordAudit(ctx, tx, req, enrollment, &updated); err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record audit trail")
	}

	if err = tx.Commit(); err != nil {
		return out, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	out.result = &TransitionResult{Enrollment: &updated, Message: resultMessage(target)}
	return out, nil
}

func (s *EnrollmentTransitionService) noop(tx *sqlx.Tx, out *transitionOutcome, enrollment *models.Enrollment) *transitionOutcome {
	_ = tx.Rollback()
	out.noop = true
	out.result = &TransitionResult{Enrollment: enrollment, Message: MessageNoChanges}
	return out
}

// requestsReassignment reports whether candidateID names a quota other than
// the one the enrollment holds.
func requestsReassignment(enrollment *models.Enrollment, candidateID *string) bool {
	if candidateID == nil {
		return false
	}
	candidate := strings.TrimSpace(*candidateID)
	return candidate != "" && candidate != enrollment.QuotaID()
}

func hasQuota(quotas []models.RegionQuota, id string) bool {
	for i := range quotas {
		if quotas[i].ID == id {
			return true
		}
	}
	return false
}

// lockQuotas takes row locks on every quota whose counters may change, in
// ascending id order.
func (s *EnrollmentTransitionService) lockQuotas(ctx context.Context, exec sqlx.ExtContext, ids ...string) (map[string]*models.RegionQuota, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)

	locked := make(map[string]*models.RegionQuota, len(unique))
	for _, id := range unique {
		quota, err := s.quotas.FindByIDForUpdate(ctx, exec, id)
		if err != nil {
			return nil, fmt.Errorf("lock quota %s: %w", id, err)
		}
		locked[id] = quota
	}
	return locked, nil
}

type transitionSnapshot struct {
	Status            models.EnrollmentStatus `json:"status"`
	RegionQuotaID     *string                 `json:"regionQuotaId"`
	WaitlistPosition  *int                    `json:"waitlistPosition"`
	EligibilityReason *string                 `json:"eligibilityReason"`
}

func snapshotOf(e *models.Enrollment) transitionSnapshot {
	return transitionSnapshot{
		Status:            e.Status,
		RegionQuotaID:     e.RegionQuotaID,
		WaitlistPosition:  e.WaitlistPosition,
		EligibilityReason: e.EligibilityReason,
	}
}

func (s *EnrollmentTransitionService) recordAudit(ctx context.Context, exec sqlx.ExtContext, req TransitionRequest, before, after *models.Enrollment) error {
	if s.audit == nil {
		return nil
	}
	oldValues, err := json.Marshal(snapshotOf(before))
	if err != nil {
		return err
	}
	newValues, err := json.Marshal(snapshotOf(after))
	if err != nil {
		return err
	}
	entry := &models.AuditLog{
		Action:     models.AuditActionEnrollmentTransition,
		Resource:   "enrollment",
		ResourceID: &after.ID,
		OldValues:  oldValues,
		NewValues:  newValues,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
	}
	if req.ActorID != "" {
		actor := req.ActorID
		entry.UserID = &actor
	}
	return s.audit.Create(ctx, exec, entry)
}

func (s *EnrollmentTransitionService) afterCommit(ctx context.Context, req TransitionRequest, out *transitionOutcome) {
	enrollment := out.result.Enrollment
	s.logger.Info("enrollment transitioned",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_id", enrollment.CourseID),
		zap.String("from", string(out.from)),
		zap.String("to", string(enrollment.Status)),
		zap.String("region_quota_id", enrollment.QuotaID()),
		zap.String("actor_id", req.ActorID),
		zap.String("request_id", requestid.FromContext(ctx)),
	)

	s.metrics.AddWaitlistRepositions(out.repositioned)
	if s.capacity != nil {
		s.capacity.InvalidateSummary(ctx, enrollment.CourseID)
	}

	if req.NotifyUser != nil && !*req.NotifyUser {
		return
	}
	if s.notifier == nil {
		return
	}
	n := buildTransitionNotification(enrollment, out.course, trimmedMessage(req.Message), s.cfg.LinkBaseURL)
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to dispatch enrollment notification",
			zap.String("enrollment_id", enrollment.ID),
			zap.String("user_id", enrollment.UserID),
			zap.Error(err),
		)
	}
}

func buildTransitionNotification(e *models.Enrollment, course *models.Course, message, linkBase string) models.Notification {
	title := "the course"
	courseID := e.CourseID
	if course != nil && strings.TrimSpace(course.Title) != "" {
		title = course.Title
	}

	n := models.Notification{
		UserID: e.UserID,
		Kind:   models.NotificationKindUpdated,
		Link:   fmt.Sprintf("%s/courses/%s", linkBase, courseID),
	}
	switch e.Status {
	case models.EnrollmentStatusConfirmed:
		n.Kind = models.NotificationKindEnrolled
		n.Title = "Enrollment confirmed"
		n.Body = fmt.Sprintf("Your enrollment in %s has been confirmed.", title)
	case models.EnrollmentStatusWaitlist:
		n.Title = "You are on the waitlist"
		position := 0
		if e.WaitlistPosition != nil {
			position = *e.WaitlistPosition
		}
		n.Body = fmt.Sprintf("You are number %d on the waitlist for %s.", position, title)
	case models.EnrollmentStatusPendingRegion:
		n.Title = "Enrollment awaiting review"
		n.Body = fmt.Sprintf("Your enrollment in %s is awaiting region assignment.", title)
	default:
		n.Title = "Enrollment request declined"
		n.Body = fmt.Sprintf("Your enrollment request for %s was declined.", title)
	}
	if message != "" {
		n.Body = n.Body + " " + message
	}
	return n
}

func resultMessage(status models.EnrollmentStatus) string {
	switch status {
	case models.EnrollmentStatusConfirmed:
		return MessageConfirmed
	case models.EnrollmentStatusWaitlist:
		return MessageWaitlisted
	default:
		return MessageStatusUpdated
	}
}

func transitionOutcomeLabel(out *transitionOutcome, err error) string {
	if err == nil {
		if out != nil && out.noop {
			return TransitionOutcomeNoop
		}
		return TransitionOutcomeApplied
	}
	switch appErrors.FromError(err).Kind() {
	case appErrors.KindNotFound:
		return TransitionOutcomeNotFound
	case appErrors.KindRejected:
		return TransitionOutcomeRejected
	default:
		return TransitionOutcomeFailed
	}
}

func trimmedMessage(message *string) string {
	if message == nil {
		return ""
	}
	return strings.TrimSpace(*message)
}

func reasonOrDefault(message, fallback string) *string {
	if message == "" {
		message = fallback
	}
	return &message
}
