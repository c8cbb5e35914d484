package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(`INSERT INTO notifications`).WillReturnResult(sqlmock.NewResult(0, 1))

	n := &models.Notification{UserID: "user-1", Kind: models.NotificationKindEnrolled, Title: "Enrollment confirmed"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
