package handler

import (
    "context" // per-request timeout for store calls
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/account-service/internal/logging"
    "github.com/iliyamo/account-service/internal/middleware"
    "github.com/iliyamo/account-service/internal/model"
    "github.com/iliyamo/account-service/internal/service"
    "github.com/iliyamo/account-service/internal/utils"
)

const requestTimeout = 5 * time.Second

// AuthService is the subset of *service.AuthService the handlers call.
type AuthService interface {
    Login(ctx context.Context, req service.LoginRequest) (service.AuthResult, error)
    ForgetPassword(ctx context.Context, req service.ForgetPasswordRequest) error
    ResendVerification(ctx context.Context, req service.ResendVerificationRequest) error
    VerifyOTP(ctx context.Context, req service.VerifyOTPRequest) (service.VerifyOTPResult, error)
    ResetPassword(ctx context.Context, req service.ResetPasswordRequest) error
    ChangePassword(ctx context.Context, req service.ChangePasswordRequest) error
    RefreshAccessToken(ctx context.Context, req service.RefreshRequest) (service.RefreshResult, error)
    DeleteAccount(ctx context.Context, req service.DeleteAccountRequest) error
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Auth  AuthService
    Users UserService
    Log   logging.Logger
}

func NewAuthHandler(a AuthService, u UserService, log logging.Logger) *AuthHandler {
    if log == nil {
        log = logging.Nop()
    }
    return &AuthHandler{Auth: a, Users: u, Log: log}
}

// ----- DTOs -----

type registerReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
    Name     string `json:"name"`
    Phone    string `json:"phone"`
}
type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}
type emailReq struct {
    Email string `json:"email"`
}
type verifyReq struct {
    Email       string  `json:"email"`
    OneTimeCode otpCode `json:"one_time_code"`
}

// otpCode takes the code either as a JSON string or as a JSON integer.
// Integers are zero-padded back to utils.OTPDigits digits.
type otpCode string

func (c *otpCode) UnmarshalJSON(b []byte) error {
    if string(b) == "null" {
        *c = ""
        return nil
    }
    var s string
    if err := json.Unmarshal(b, &s); err == nil {
        *c = otpCode(s)
        return nil
    }
    n, err := strconv.ParseUint(string(b), 10, 32)
    if err != nil {
        return errors.New("one_time_code must be a string or a non-negative integer")
    }
    *c = otpCode(fmt.Sprintf("%0*d", utils.OTPDigits, n))
    return nil
}
type resetReq struct {
    NewPassword     string `json:"new_password"`
    ConfirmPassword string `json:"confirm_password"`
}
type changeReq struct {
    CurrentPassword string `json:"current_password"`
    NewPassword     string `json:"new_password"`
    ConfirmPassword string `json:"confirm_password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}

type authResp struct {
    User    model.PublicUser  `json:"user"`
    Access  utils.SignedToken `json:"access"`
    Refresh utils.SignedToken `json:"refresh"`
}

func toAuthResp(r service.AuthResult) authResp {
    return authResp{User: r.User, Access: r.Tokens.Access, Refresh: r.Tokens.Refresh}
}

// Register: create an unverified account and mail the verification code.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    u, err := h.Users.Register(ctx, service.RegisterRequest{
        Email:    req.Email,
        Password: req.Password,
        Name:     req.Name,
        Phone:    req.Phone,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusCreated, "account created, check your email for the verification code", u)
}

// Login: verify credentials and return a token pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Auth.Login(ctx, service.LoginRequest{Email: req.Email, Password: req.Password})
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "login successful", toAuthResp(res))
}

// ForgetPassword: mail a one-time code to an existing account.
func (h *AuthHandler) ForgetPassword(c echo.Context) error {
    var req emailReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Auth.ForgetPassword(ctx, service.ForgetPasswordRequest{Email: req.Email}); err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "please check your email, we sent you a one-time code", nil)
}

// ResendVerification: issue a new verification code.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
    var req emailReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Auth.ResendVerification(ctx, service.ResendVerificationRequest{Email: req.Email}); err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "verification code sent, check your email", nil)
}

// VerifyEmail: redeem a one-time code.  The response message tells the
// client which branch was taken.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
    var req verifyReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Auth.VerifyOTP(ctx, service.VerifyOTPRequest{Email: req.Email, Code: string(req.OneTimeCode)})
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, res.Message, echo.Map{
        "purpose": res.Purpose,
        "user":    res.User,
        "access":  res.Tokens.Access,
        "refresh": res.Tokens.Refresh,
    })
}

// ResetPassword: the reset token travels in the Authorization header.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
    var req resetReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
        return badRequest(c, "new password and confirm password do not match")
    }
    token, _ := middleware.BearerToken(c)

    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Auth.ResetPassword(ctx, service.ResetPasswordRequest{Token: token, NewPassword: req.NewPassword}); err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "password reset successfully", nil)
}

// ChangePassword: protected; the user comes from the access token.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
    var req changeReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
        return badRequest(c, "new password and confirm password do not match")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    err := h.Auth.ChangePassword(ctx, service.ChangePasswordRequest{
        UserID:          middleware.UserID(c),
        CurrentPassword: req.CurrentPassword,
        NewPassword:     req.NewPassword,
    })
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "password changed successfully", nil)
}

// RefreshToken: exchange a refresh token for a new access token.  The
// refresh token is not rotated.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil {
        return badRequest(c, "invalid body")
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    res, err := h.Auth.RefreshAccessToken(ctx, service.RefreshRequest{RefreshToken: req.RefreshToken})
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "access token issued", echo.Map{"access": res.Access})
}

// DeleteAccount: protected; removes the caller's own account.
func (h *AuthHandler) DeleteAccount(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
    defer cancel()

    if err := h.Auth.DeleteAccount(ctx, service.DeleteAccountRequest{UserID: middleware.UserID(c)}); err != nil {
        return writeError(c, h.Log, err)
    }
    return ok(c, http.StatusOK, "account deleted", nil)
}
