package http

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/chatindex/internal/engine"
	"github.com/fyrsmithlabs/chatindex/internal/extraction"
	"github.com/fyrsmithlabs/chatindex/internal/index"
	"github.com/fyrsmithlabs/chatindex/internal/segment"
)

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, index.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrSizeLimit):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, segment.ErrFormat),
		errors.Is(err, extraction.ErrExtraction),
		errors.Is(err, index.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, index.ErrConflict), errors.Is(err, index.ErrDuplicateSource):
		return http.StatusConflict
	case errors.Is(err, index.ErrClosed), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// apiError converts err into an echo error. Internal errors are logged by the
// caller and not echoed back.
func apiError(err error) *echo.HTTPError {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error()).SetInternal(err)
}

// warningFor renders the delivery error of a committed change.
func warningFor(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
