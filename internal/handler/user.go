package handler

import (
    "context"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/account-service/internal/logging"
    "github.com/iliyamo/account-service/internal/middleware"
    "github.com/iliyamo/account-service/internal/model"
    "github.com/iliyamo/account-service/internal/service"
)

// UserService is the subset of *service.UserService the handlers call.
type UserService interface {
    Register(ctx context.Context, req service.RegisterRequest) (model.PublicUser, error)
    ListUsers(ctx context.Context, req service.ListUsersRequest) (service.ListUsersResult, error)
    GetProfile(ctx context.Context, id string) (model.PublicUser, error)
    UpdateProfile(ctx context.Context, req service.UpdateProfileRequest) (model.PublicUser, error)
}

// UserHandler serves the profile and admin listing endpoints.
type UserHandler struct {
    Users UserService
    Log   logging.Logger
}

func NewUserHandler(u UserService, log logging.Logger) *UserHandler {
    if log == nil {
        log = logging.Nop()
    }
    return &UserHandler{Users: u, Log: log}
}

type updateProfileReq struct {
    Name  *string `json:"name"`
    Phone *string `json:"phone"`
}

// Me returns the caller's profile.
func (h *UserHandler) Me(c echo.Context) error {
    return h.profile(c, middleware.UserID(c))
}

// Get returns any user's profile (admin only).
func (h *UserHandler) Get(c echo.Context) error {
    return h.profile(c, c.Param("id"))
}

func (h *UserHandler) profile(c echo.Context, id string) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    u, err := h.Users.GetProfile(ctx, id)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "profile retrieved", u)
}

// UpdateMe changes the caller's name and/or phone.
func (h *UserHandler) UpdateMe(c echo.Context) error {
    var req updateProfileReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    u, err := h.Users.UpdateProfile(ctx, service.UpdateProfileRequest{
        UserID: middleware.UserID(c),
        Name:   req.Name,
        Phone:  req.Phone,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "profile updated", u)
}

// List pages through all users (admin only).  ?page and ?limit are
// optional; invalid values fall back to the defaults.
func (h *UserHandler) List(c echo.Context) error {
    page, _ := strconv.Atoi(c.QueryParam("page"))
    limit, _ := strconv.Atoi(c.QueryParam("limit"))

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Users.ListUsers(ctx, service.ListUsersRequest{Page: page, Limit: limit})
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusOK, envelope{
        Success: true,
        Message: "users retrieved",
        Data:    res.Users,
        Meta:    res.Meta,
    })
}
