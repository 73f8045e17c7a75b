package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "errors"
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/iliyamo/account-service/internal/utils"
)

// Context keys set by JWTAuth.
const (
    CtxUserID = "user_id"
    CtxRole   = "role"
    CtxEmail  = "email"
)

// TokenVerifier checks a signed token against a secret.  *utils.Signer
// satisfies it.
type TokenVerifier interface {
    Verify(token, secret string) (utils.TokenPayload, error)
}

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the token's id, role and email in the request context.  The
// secret must be the access-token secret; refresh tokens are rejected
// because they are signed with a different key.
func JWTAuth(v TokenVerifier, secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            raw, ok := BearerToken(c)
            if !ok {
                return deny(c, http.StatusUnauthorized, "missing bearer token")
            }
            p, err := v.Verify(raw, secret)
            if err != nil {
                if errors.Is(err, utils.ErrTokenExpired) {
                    return deny(c, http.StatusUnauthorized, "token expired")
                }
                return deny(c, http.StatusUnauthorized, "invalid token")
            }
            c.Set(CtxUserID, p.ID)
            c.Set(CtxRole, p.Role)
            c.Set(CtxEmail, p.Email)
            return next(c)
        }
    }
}

// BearerToken extracts the token from "Authorization: Bearer <token>".  A
// bare token without the scheme is accepted as well.
func BearerToken(c echo.Context) (string, bool) {
    auth := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
    if auth == "" {
        return "", false
    }
    if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
        auth = strings.TrimSpace(auth[7:])
    }
    return auth, auth != ""
}

// deny writes the error envelope shared with the handlers.
func deny(c echo.Context, status int, msg string) error {
    return c.JSON(status, echo.Map{"success": false, "message": msg})
}
