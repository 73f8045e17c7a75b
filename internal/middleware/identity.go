package middleware

// identity.go holds the helpers that read the caller's identity back out of
// the Echo context after JWTAuth ran.

import (
    "github.com/labstack/echo/v4"
)

// UserID returns the authenticated user's id, or "" when the request is
// anonymous.
func UserID(c echo.Context) string {
    if v, ok := c.Get(CtxUserID).(string); ok {
        return v
    }
    return ""
}

// rateKeyUser is UserID with "anon" for anonymous callers, so rate-limit
// keys never collapse to an empty segment.
func rateKeyUser(c echo.Context) string {
    if id := UserID(c); id != "" {
        return id
    }
    return "anon"
}
