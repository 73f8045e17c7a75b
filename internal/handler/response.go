package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/account-service/internal/apperr"
    "github.com/iliyamo/account-service/internal/logging"
)

// envelope is the body of every JSON response.
type envelope struct {
    Success bool   `json:"success"`
    Message string `json:"message,omitempty"`
    Data    any    `json:"data,omitempty"`
    Meta    any    `json:"meta,omitempty"`
}

func ok(c echo.Context, status int, msg string, data any) error {
    return c.JSON(status, envelope{Success: true, Message: msg, Data: data})
}

// statusOf maps an error kind to its HTTP status.  Errors without a kind
// are internal failures.
func statusOf(err error) int {
    switch apperr.KindOf(err) {
    case apperr.KindNotFound:
        return http.StatusNotFound
    case apperr.KindForbidden:
        return http.StatusForbidden
    case apperr.KindUnauthorized:
        return http.StatusUnauthorized
    case apperr.KindBadRequest:
        return http.StatusBadRequest
    case apperr.KindConflict:
        return http.StatusConflict
    }
    return http.StatusInternalServerError
}

// writeError renders err.  Internal failures are logged with their cause
// and reported with a generic message.
func writeError(c echo.Context, log logging.Logger, err error) error {
    status := statusOf(err)
    msg := err.Error()
    if status == http.StatusInternalServerError {
        log.Error(c.Request().Context(), "request failed",
            "method", c.Request().Method, "path", c.Path(), "error", err)
        msg = "internal server error"
    }
    return c.JSON(status, envelope{Success: false, Message: msg})
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, envelope{Success: false, Message: msg})
}
