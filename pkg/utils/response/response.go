// Package response writes the JSON envelope shared by every HTTP endpoint:
// {code, message, data, details, trace_id}.
package response

import (
	"net/http"

	"redlight/pkg/errors"
	"redlight/pkg/utils/contextkey"
	"redlight/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Response struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    interface{}      `json:"data,omitempty"`
	Details interface{}      `json:"details,omitempty"`
	TraceID string           `json:"trace_id,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, errors.Success.Message(), data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.Success,
		Message: message,
		Data:    data,
		TraceID: traceID(c),
	})
}

// Error maps err to its code's HTTP status. Server-side failures are logged
// with the cause and stack, and clients only see the code's default message.
func Error(c *gin.Context, err error) {
	e := errors.GetError(err)
	status := e.Code.HTTPStatus()
	ctx := c.Request.Context()

	message := e.Error()
	if status >= http.StatusInternalServerError {
		logger.Error(ctx, "request failed",
			zap.Int("code", int(e.Code)),
			zap.String("message", message),
			zap.Error(e.Err),
			zap.String("stack", e.StackTrace()),
		)
		if e.Err != nil && message == e.Err.Error() {
			message = e.Code.Message()
		}
	} else {
		logger.Warn(ctx, "request rejected",
			zap.Int("code", int(e.Code)),
			zap.String("message", message),
			zap.Any("details", e.Details),
		)
	}

	resp := Response{Code: e.Code, Message: message, TraceID: traceID(c)}
	if len(e.Details) > 0 {
		resp.Details = e.Details
	}
	c.JSON(status, resp)
}

func ErrorWithCode(c *gin.Context, code errors.ErrorCode, message string) {
	e := errors.New(code)
	if message != "" {
		e.WithMessage(message)
	}
	Error(c, e)
}

func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, errors.InvalidParams, message)
}

func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

func AbortWithErrorCode(c *gin.Context, code errors.ErrorCode, message string) {
	ErrorWithCode(c, code, message)
	c.Abort()
}

func traceID(c *gin.Context) string {
	if id, ok := c.Request.Context().Value(contextkey.TraceID).(string); ok {
		return id
	}
	return ""
}
