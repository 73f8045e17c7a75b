package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/middleware"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/service"
	"github.com/iliyamo/account-service/internal/utils"
)

// fakeAuth records the last request of each kind and returns err when set.
type fakeAuth struct {
	err error

	login   service.LoginRequest
	verify  service.VerifyOTPRequest
	reset   service.ResetPasswordRequest
	change  service.ChangePasswordRequest
	refresh service.RefreshRequest
	deleted string
}

func (f *fakeAuth) Login(_ context.Context, req service.LoginRequest) (service.AuthResult, error) {
	f.login = req
	if f.err != nil {
		return service.AuthResult{}, f.err
	}
	return service.AuthResult{
		User:   model.PublicUser{ID: "u1", Email: req.Email, Role: model.RoleUser, Verified: true},
		Tokens: service.TokenPair{Access: utils.SignedToken{Token: "acc"}, Refresh: utils.SignedToken{Token: "ref"}},
	}, nil
}

func (f *fakeAuth) ForgetPassword(context.Context, service.ForgetPasswordRequest) error { return f.err }

func (f *fakeAuth) ResendVerification(context.Context, service.ResendVerificationRequest) error {
	return f.err
}

func (f *fakeAuth) VerifyOTP(_ context.Context, req service.VerifyOTPRequest) (service.VerifyOTPResult, error) {
	f.verify = req
	if f.err != nil {
		return service.VerifyOTPResult{}, f.err
	}
	return service.VerifyOTPResult{
		AuthResult: service.AuthResult{Tokens: service.TokenPair{Access: utils.SignedToken{Token: "acc"}}},
		Purpose:    service.PurposeEmailVerified,
		Message:    "email verified",
	}, nil
}

func (f *fakeAuth) ResetPassword(_ context.Context, req service.ResetPasswordRequest) error {
	f.reset = req
	return f.err
}

func (f *fakeAuth) ChangePassword(_ context.Context, req service.ChangePasswordRequest) error {
	f.change = req
	return f.err
}

func (f *fakeAuth) RefreshAccessToken(_ context.Context, req service.RefreshRequest) (service.RefreshResult, error) {
	f.refresh = req
	if f.err != nil {
		return service.RefreshResult{}, f.err
	}
	return service.RefreshResult{Access: utils.SignedToken{Token: "new-acc"}}, nil
}

func (f *fakeAuth) DeleteAccount(_ context.Context, req service.DeleteAccountRequest) error {
	f.deleted = req.UserID
	return f.err
}

type fakeUsers struct {
	err    error
	list   service.ListUsersRequest
	update service.UpdateProfileRequest
}

func (f *fakeUsers) Register(_ context.Context, req service.RegisterRequest) (model.PublicUser, error) {
	if f.err != nil {
		return model.PublicUser{}, f.err
	}
	return model.PublicUser{ID: "new", Email: req.Email, Role: model.RoleUser}, nil
}

func (f *fakeUsers) ListUsers(_ context.Context, req service.ListUsersRequest) (service.ListUsersResult, error) {
	f.list = req
	if f.err != nil {
		return service.ListUsersResult{}, f.err
	}
	return service.ListUsersResult{
		Users: []model.PublicUser{{ID: "u1"}},
		Meta:  service.PageMeta{Page: 2, Limit: 5, Total: 6, TotalPage: 2},
	}, nil
}

func (f *fakeUsers) GetProfile(_ context.Context, id string) (model.PublicUser, error) {
	if f.err != nil {
		return model.PublicUser{}, f.err
	}
	return model.PublicUser{ID: id}, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, req service.UpdateProfileRequest) (model.PublicUser, error) {
	f.update = req
	if f.err != nil {
		return model.PublicUser{}, f.err
	}
	return model.PublicUser{ID: req.UserID}, nil
}

// call runs h with a JSON body and, when userID is set, an authenticated
// identity in the context.
func call(t *testing.T, h echo.HandlerFunc, method, body, userID string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if userID != "" {
		c.Set(middleware.CtxUserID, userID)
	}
	require.NoError(t, h(c))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.Forbidden("x"), http.StatusForbidden},
		{apperr.Unauthorized("x"), http.StatusUnauthorized},
		{apperr.BadRequest("x"), http.StatusBadRequest},
		{apperr.Conflict("x"), http.StatusConflict},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}

func TestLogin(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, body := call(t, h.Login, http.MethodPost, `{"email":"a@b.c","password":"pw"}`, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, service.LoginRequest{Email: "a@b.c", Password: "pw"}, auth.login)

	data := body["data"].(map[string]any)
	assert.Equal(t, "acc", data["access"].(map[string]any)["token"])
	assert.Equal(t, "ref", data["refresh"].(map[string]any)["token"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unauthorized", apperr.Unauthorized("password is incorrect"), http.StatusUnauthorized, "password is incorrect"},
		{"forbidden", apperr.Forbidden("please verify your account first"), http.StatusForbidden, "please verify your account first"},
		{"internal", errors.New("dial tcp: refused"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&fakeAuth{err: tt.err}, &fakeUsers{}, nil)
			rec, body := call(t, h.Login, http.MethodPost, `{"email":"a@b.c","password":"pw"}`, "", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.msg, body["message"])
		})
	}
}

func TestRegister(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{}, &fakeUsers{}, nil)
	rec, body := call(t, h.Register, http.MethodPost, `{"email":"n@b.c","password":"pw"}`, "", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "n@b.c", body["data"].(map[string]any)["email"])

	h = NewAuthHandler(&fakeAuth{}, &fakeUsers{err: apperr.Conflict("email already used")}, nil)
	rec, _ = call(t, h.Register, http.MethodPost, `{"email":"n@b.c","password":"pw"}`, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInvalidBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{}, &fakeUsers{}, nil)
	rec, body := call(t, h.Login, http.MethodPost, `{"email":`, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid body", body["message"])
}

func TestVerifyEmail(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, body := call(t, h.VerifyEmail, http.MethodPost, `{"email":"a@b.c","one_time_code":"123456"}`, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "email verified", body["message"])
	assert.Equal(t, "123456", auth.verify.Code)
	assert.Equal(t, "email_verified", body["data"].(map[string]any)["purpose"])
}

func TestVerifyEmail_CodeForms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json string", `{"email":"a@b.c","one_time_code":"012345"}`, "012345"},
		{"json integer", `{"email":"a@b.c","one_time_code":123456}`, "123456"},
		{"integer with lost leading zero", `{"email":"a@b.c","one_time_code":12345}`, "012345"},
		{"missing", `{"email":"a@b.c"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuth{}
			h := NewAuthHandler(auth, &fakeUsers{}, nil)

			rec, _ := call(t, h.VerifyEmail, http.MethodPost, tt.body, "", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, auth.verify.Code)
		})
	}
}

func TestVerifyEmail_RejectsNonIntegerCode(t *testing.T) {
	for _, body := range []string{
		`{"email":"a@b.c","one_time_code":12.5}`,
		`{"email":"a@b.c","one_time_code":-1}`,
		`{"email":"a@b.c","one_time_code":true}`,
	} {
		auth := &fakeAuth{}
		h := NewAuthHandler(auth, &fakeUsers{}, nil)

		rec, resp := call(t, h.VerifyEmail, http.MethodPost, body, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "invalid body", resp["message"])
		assert.Empty(t, auth.verify.Code)
	}
}

func TestForgetAndResend(t *testing.T) {
	h := NewAuthHandler(&fakeAuth{}, &fakeUsers{}, nil)
	rec, _ := call(t, h.ForgetPassword, http.MethodPost, `{"email":"a@b.c"}`, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewAuthHandler(&fakeAuth{err: apperr.NotFound("user not found")}, &fakeUsers{}, nil)
	rec, _ = call(t, h.ResendVerification, http.MethodPost, `{"email":"a@b.c"}`, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetPassword(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, _ := call(t, h.ResetPassword, http.MethodPost,
		`{"new_password":"n","confirm_password":"n"}`, "",
		map[string]string{echo.HeaderAuthorization: "reset-token"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ResetPasswordRequest{Token: "reset-token", NewPassword: "n"}, auth.reset)

	rec, body := call(t, h.ResetPassword, http.MethodPost,
		`{"new_password":"n","confirm_password":"m"}`, "",
		map[string]string{echo.HeaderAuthorization: "Bearer reset-token"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["message"], "do not match")
}

func TestChangePassword(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, _ := call(t, h.ChangePassword, http.MethodPost, `{"current_password":"o","new_password":"n"}`, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ChangePasswordRequest{UserID: "u1", CurrentPassword: "o", NewPassword: "n"}, auth.change)
}

func TestRefreshToken(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, body := call(t, h.RefreshToken, http.MethodPost, `{"refresh_token":"ref"}`, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ref", auth.refresh.RefreshToken)
	assert.Equal(t, "new-acc", body["data"].(map[string]any)["access"].(map[string]any)["token"])
}

func TestDeleteAccount(t *testing.T) {
	auth := &fakeAuth{}
	h := NewAuthHandler(auth, &fakeUsers{}, nil)

	rec, _ := call(t, h.DeleteAccount, http.MethodDelete, ``, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", auth.deleted)
}

func TestUserHandler(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, nil)

	rec, body := call(t, h.Me, http.MethodGet, ``, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", body["data"].(map[string]any)["id"])

	rec, _ = call(t, h.UpdateMe, http.MethodPatch, `{"name":"Ann"}`, "u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, users.update.Name)
	assert.Equal(t, "Ann", *users.update.Name)
	assert.Nil(t, users.update.Phone)
}

func TestUserHandler_List(t *testing.T) {
	users := &fakeUsers{}
	h := NewUserHandler(users, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/users?page=2&limit=5", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.List(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.ListUsersRequest{Page: 2, Limit: 5}, users.list)

	var body struct {
		Data []model.PublicUser `json:"data"`
		Meta service.PageMeta   `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data, 1)
	assert.Equal(t, int64(2), body.Meta.TotalPage)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	e := echo.New()
	for _, tc := range []struct {
		db     Pinger
		status int
	}{
		{nil, http.StatusOK},
		{pinger{}, http.StatusOK},
		{pinger{err: errors.New("down")}, http.StatusServiceUnavailable},
	} {
		rec := httptest.NewRecorder()
		require.NoError(t, Health(tc.db)(e.NewContext(httptest.NewRequest(http.MethodGet, "/healthz", nil), rec)))
		assert.Equal(t, tc.status, rec.Code)
	}
}
