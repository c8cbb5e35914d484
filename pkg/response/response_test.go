package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

func TestErrorCarriesKindAndReason(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, appErrors.Clone(appErrors.ErrCapacityRejected, "region capacity reached"))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "region capacity reached", env.Error.Message)
	assert.Equal(t, appErrors.KindRejected, env.Error.Kind)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestErrorHidesUntypedCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	Error(c, errors.New("pq: could not serialize access"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "serialize")
	assert.Contains(t, rec.Body.String(), appErrors.KindInternal)
}
