package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCourseRepositoryFindByID(t *testing.T) {
	columns := []string{"id", "title", "max_enrollments", "waitlist_enabled", "waitlist_limit", "region_restriction_enabled", "allow_all_regions", "created_at", "updated_at"}

	cases := []struct {
		name      string
		forUpdate bool
		pattern   string
	}{
		{name: "plain", forUpdate: false, pattern: `FROM courses WHERE id = \$1$`},
		{name: "locked", forUpdate: true, pattern: `FROM courses WHERE id = \$1 FOR UPDATE`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, cleanup := newRepoMock(t)
			defer cleanup()
			repo := NewCourseRepository(db)

			now := time.Now()
			mock.ExpectQuery(tc.pattern).
				WithArgs("course-1").
				WillReturnRows(sqlmock.NewRows(columns).AddRow("course-1", "Go 101", 2, true, 1, true, false, now, now))

			course, err := repo.FindByID(context.Background(), nil, "course-1", tc.forUpdate)
			require.NoError(t, err)
			require.NotNil(t, course.MaxEnrollments)
			assert.Equal(t, 2, *course.MaxEnrollments)
			assert.True(t, course.WaitlistEnabled)
			assert.True(t, course.RegionRestrictionEnabled)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
