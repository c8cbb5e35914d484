package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/course-enrollment-api/pkg/errors"
)

// Envelope represents the common response contract.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *ErrorBody             `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// ErrorBody is the serialised form of a domain error.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
	Status  int    `json:"status"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Error sends an error response converting the error to the common structure.
// Internal failures never leak their wrapped cause.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	body := &ErrorBody{Code: appErr.Code, Message: appErr.Message, Kind: appErr.Kind(), Status: appErr.Status}
	if body.Kind == appErrors.KindInternal && body.Message == "" {
		body.Message = appErrors.ErrInternal.Message
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, Envelope{Error: body})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
