package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/domain"
)

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeNotFound     = "NOT_FOUND"
	codeBadRequest   = "BAD_REQUEST"
	codeInternal     = "INTERNAL_SERVER_ERROR"
)

var errorMessages = map[string]string{
	codeUnauthorized: "Unauthorized",
	codeNotFound:     "Resource not found",
	codeBadRequest:   "Bad request",
	codeInternal:     "Internal server error",
}

var errInvalidBody = errors.New("request body is missing or not valid JSON")

type errorBody struct {
	ErrorCode       string         `json:"errorCode"`
	ErrorMessage    string         `json:"errorMessage"`
	Timestamp       string         `json:"timestamp"`
	RecommendedData map[string]any `json:"recommendedData,omitempty"`
}

func newErrorBody(code, details string) errorBody {
	body := errorBody{
		ErrorCode:    code,
		ErrorMessage: errorMessages[code],
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if details != "" {
		body.RecommendedData = map[string]any{"details": details}
	}
	return body
}

// classify maps an error to its HTTP status and error code.
func classify(err error) (int, string) {
	var validation *domain.ValidationError
	var tooLarge *http.MaxBytesError
	var authErr *authError
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, codeUnauthorized
	case errors.As(err, &validation), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, codeBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, codeBadRequest
	case errors.As(err, &httpErr):
		switch httpErr.Code {
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			return httpErr.Code, codeNotFound
		case http.StatusUnauthorized:
			return httpErr.Code, codeUnauthorized
		}
		if httpErr.Code < http.StatusInternalServerError {
			return httpErr.Code, codeBadRequest
		}
		return httpErr.Code, codeInternal
	}
	return http.StatusInternalServerError, codeInternal
}

// ErrorHandler renders every error returned by a handler as an error body.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code := classify(err)
	details := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if msg, ok := httpErr.Message.(string); ok {
			details = msg
		}
	}
	if code == codeUnauthorized {
		details = ""
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, newErrorBody(code, details))
}
