// Package response writes the lesson API's JSON bodies. Every failure goes out
// as {"error":{"message":...,"code":...}} with a code from the set below.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Code is the machine-readable failure kind clients switch on.
type Code string

const (
	CodeInvalidRequest Code = "invalid_request"
	CodeUnauthorized   Code = "unauthorized"
	CodeForbidden      Code = "forbidden"
	CodeNotFound       Code = "not_found"
	CodeUnavailable    Code = "unavailable"
	CodeInternal       Code = "internal"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest: http.StatusBadRequest,
	CodeUnauthorized:   http.StatusUnauthorized,
	CodeForbidden:      http.StatusForbidden,
	CodeNotFound:       http.StatusNotFound,
	CodeUnavailable:    http.StatusServiceUnavailable,
	CodeInternal:       http.StatusInternalServerError,
}

// Status is the HTTP status sent with code. Unknown codes are 500.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type APIError struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func envelope(code Code, msg string) ErrorEnvelope {
	if msg == "" {
		msg = string(code)
	}
	return ErrorEnvelope{Error: APIError{Message: msg, Code: code}}
}

// Fail writes the error body for code.
func Fail(c *gin.Context, code Code, msg string) {
	c.JSON(code.Status(), envelope(code, msg))
}

// Abort is Fail for middleware: the rest of the chain is skipped.
func Abort(c *gin.Context, code Code, msg string) {
	c.AbortWithStatusJSON(code.Status(), envelope(code, msg))
}

// InvalidRequest reports a body or parameter the caller must fix.
func InvalidRequest(c *gin.Context, err error) {
	msg := "invalid request"
	if err != nil {
		msg = err.Error()
	}
	Fail(c, CodeInvalidRequest, msg)
}

func NotFound(c *gin.Context, msg string) { Fail(c, CodeNotFound, msg) }

func Unavailable(c *gin.Context, err error) {
	msg := "temporarily unavailable"
	if err != nil {
		msg = err.Error()
	}
	Fail(c, CodeUnavailable, msg)
}

// Internal hides the cause; callers log it before responding.
func Internal(c *gin.Context, msg string) { Fail(c, CodeInternal, msg) }

func OK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
