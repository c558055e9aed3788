package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// SuccessResponse writes {success:true, message?, ...data} with data fields
// at the top level.
func SuccessResponse(c echo.Context, status int, message string, data map[string]interface{}) error {
	body := make(map[string]interface{}, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	body["success"] = true
	if message != "" {
		body["message"] = message
	}
	return c.JSON(status, body)
}

// ErrorResponse writes {success:false, error, code, details?}.
func ErrorResponse(c echo.Context, status int, message, code, details string) error {
	return ErrorResponseWith(c, status, message, code, details, nil)
}

// ErrorResponseWith is ErrorResponse plus extra top-level fields.
func ErrorResponseWith(c echo.Context, status int, message, code, details string, fields map[string]interface{}) error {
	body := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = false
	body["error"] = message
	body["code"] = code
	if details != "" {
		body["details"] = details
	}
	return c.JSON(status, body)
}

// HTTPErrorHandler renders framework errors (404, 405, 429...) in the same
// shape as handler errors.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal Server Error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		message = fmt.Sprintf("%v", he.Message)
	}

	code := "INTERNAL_ERROR"
	switch status {
	case http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case http.StatusForbidden:
		code = "FORBIDDEN"
	case http.StatusNotFound:
		code = "NOT_FOUND"
		message = "Endpoint not found"
	case http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
		message = "Method not allowed for this endpoint"
	case http.StatusTooManyRequests:
		code = "RATE_LIMITED"
	case http.StatusBadRequest:
		code = "BAD_REQUEST"
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = ErrorResponse(c, status, message, code, "")
}
