package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// AuditRepository stores audit trail entries.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create stores an audit log entry, inside exec when provided.
func (r *AuditRepository) Create(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	var target sqlx.ExtContext = r.db
	if exec != nil {
		target = exec
	}
	const query = `INSERT INTO audit_logs (id, user_id, action, resource, resource_id, old_values, new_values, ip_address, user_agent, created_at) VALUES (:id, :user_id, :action, :resource, :resource_id, :old_values, :new_values, :ip_address, :user_agent, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, log); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}
