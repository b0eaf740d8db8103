package xerr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// CodeError carries a business error code alongside the wrapped error so
// handlers can map it to an HTTP status without re-deriving it from string
// matching.
type CodeError struct {
	Code string
	Err  error
}

func (e *CodeError) Error() string { return e.Err.Error() }
func (e *CodeError) Unwrap() error { return e.Err }

func New(code string, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Is delegates to errors.Is so callers can compare against the sentinel
// errors in msg.go even when wrapped in a CodeError.
func Is(err, target error) bool { return errors.Is(err, target) }

var statusForCode = map[string]int{
	CodeValidation:          http.StatusBadRequest,
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeRangeNotSatisfiable: http.StatusRequestedRangeNotSatisfiable,
	CodeInternal:            http.StatusInternalServerError,
	CodeUpstream:            http.StatusBadGateway,
}

// StatusFor returns the HTTP status that corresponds to a CodeError's code,
// defaulting to 500 for anything unrecognized (including plain errors that
// were never classified).
func StatusFor(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		if status, ok := statusForCode[ce.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// envelope is the {success, data?, error?} shape every JSON response uses.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Success writes a {success:true, data} response.
func Success(c *gin.Context, httpStatus int, data any) {
	c.JSON(httpStatus, envelope{Success: true, Data: data})
}

// Fail writes a {success:false, error, details?} response for the given
// error without aborting the gin context.
func Fail(c *gin.Context, err error) {
	c.JSON(StatusFor(err), envelope{Success: false, Error: err.Error()})
}

// FailWithDetails is Fail plus a details string for diagnostics that are
// safe to surface (e.g. a validation reason), never an internal stack.
func FailWithDetails(c *gin.Context, err error, details string) {
	c.JSON(StatusFor(err), envelope{Success: false, Error: err.Error(), Details: details})
}

// AbortWithError writes the error response and stops the middleware chain.
func AbortWithError(c *gin.Context, err error) {
	Fail(c, err)
	c.Abort()
}
