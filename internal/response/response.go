package response

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the envelope every API endpoint returns. Error is set for
// failures and for refusals that still carry a useful result in Data.
type Response struct {
	Data     any        `json:"data"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// ErrorBody is the machine-readable part of a failure.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Metadata ties a response to its request log line.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// Success writes data with no error.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, envelope(c, data, nil))
}

// SuccessWithError writes data together with an error code, e.g. the
// existing attempt for a session that was already submitted.
func SuccessWithError(c *gin.Context, statusCode int, data any, code ErrCode) {
	c.JSON(statusCode, envelope(c, data, newErrorBody(code, nil)))
}

// Fail writes an error with no field details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, envelope(c, nil, newErrorBody(code, nil)))
}

// FailWithFields writes an error with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, envelope(c, nil, newErrorBody(code, fields)))
}

// AbortFail stops the handler chain. Used by middleware.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, envelope(c, nil, newErrorBody(code, nil)))
}

func newErrorBody(code ErrCode, fields map[string]string) *ErrorBody {
	return &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}
}

func envelope(c *gin.Context, data any, body *ErrorBody) Response {
	return Response{Data: data, Error: body, Metadata: metadataFor(c)}
}

func metadataFor(c *gin.Context) Metadata {
	id := c.GetString(ContextKeyRequestID)
	if id == "" {
		// Routes mounted before RequestIDMiddleware.
		id = uuid.NewString()
	}
	return Metadata{RequestID: id, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}
