package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/account-service/internal/handler"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/model"
)

// Deps carries everything the routes need.  Metrics and RateLimit may be
// nil.
type Deps struct {
	Auth         *handler.AuthHandler
	Users        *handler.UserHandler
	Verifier     middleware.TokenVerifier
	AccessSecret string
	DB           handler.Pinger
	Metrics      http.Handler
	RateLimit    echo.MiddlewareFunc
}

// RegisterRoutes registers routes that do not require authentication:
// the health check and, when configured, the Prometheus endpoint.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}
}

// RegisterAuth registers the account endpoints.  Session-less operations
// live under /v1/auth behind the rate limiter; everything that acts on the
// caller's own account requires a valid access token.
func RegisterAuth(e *echo.Echo, d Deps) {
	g := e.Group("/v1/auth")
	if d.RateLimit != nil {
		g.Use(d.RateLimit)
	}
	g.POST("/register", d.Auth.Register)
	g.POST("/login", d.Auth.Login)
	g.POST("/forget-password", d.Auth.ForgetPassword)
	g.POST("/verify-email", d.Auth.VerifyEmail)
	g.POST("/reset-password", d.Auth.ResetPassword)
	g.POST("/refresh-token", d.Auth.RefreshToken)
	g.POST("/resend-verification", d.Auth.ResendVerification)

	jwt := middleware.JWTAuth(d.Verifier, d.AccessSecret)
	anyRole := middleware.RequireRole(model.RoleAdmin, model.RoleUser)

	g.POST("/change-password", d.Auth.ChangePassword, jwt, anyRole)

	me := e.Group("/v1/users/me", jwt, anyRole)
	me.GET("", d.Users.Me)
	me.PATCH("", d.Users.UpdateMe)
	me.DELETE("", d.Auth.DeleteAccount)

	admin := e.Group("/v1/users", jwt, middleware.RequireRole(model.RoleAdmin))
	admin.GET("", d.Users.List)
	admin.GET("/:id", d.Users.Get)
}
