package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

func TestAuditRepositoryCreateInsideTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO audit_logs`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	entry := &models.AuditLog{Action: models.AuditActionEnrollmentTransition, Resource: "enrollment"}
	require.NoError(t, repo.Create(context.Background(), tx, entry))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
