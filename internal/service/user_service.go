package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/notify"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/utils"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// UserService covers registration and the profile endpoints.
type UserService struct {
	store    repository.Store
	hasher   Hasher
	notifier notify.Sender
	otpTTL   time.Duration
	log      logging.Logger
	metrics  *metrics.Metrics
	newOTP   func() (string, error)
	now      func() time.Time
}

// NewUserService shares the AuthService wiring; only Store, Hasher,
// Notifier, Config.OTPTTL, Log, Metrics, NewOTP and Now are used.
func NewUserService(d Deps) *UserService {
	s := &UserService{
		store:    d.Store,
		hasher:   d.Hasher,
		notifier: d.Notifier,
		otpTTL:   d.Config.OTPTTL,
		log:      d.Log,
		metrics:  d.Metrics,
		newOTP:   d.NewOTP,
		now:      d.Now,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.notifier == nil {
		s.notifier = discardSender{}
	}
	if s.newOTP == nil {
		s.newOTP = utils.GenerateOTP
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.otpTTL <= 0 {
		s.otpTTL = 20 * time.Minute
	}
	return s
}

type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

type ListUsersRequest struct {
	Page  int
	Limit int
}

// PageMeta describes one page of a listing.
type PageMeta struct {
	Page      int   `json:"page"`
	Limit     int   `json:"limit"`
	Total     int64 `json:"total"`
	TotalPage int64 `json:"total_page"`
}

type ListUsersResult struct {
	Users []model.PublicUser
	Meta  PageMeta
}

type UpdateProfileRequest struct {
	UserID string
	Name   *string
	Phone  *string
}

// Register creates an unverified USER and mails the verification code.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (res model.PublicUser, err error) {
	defer s.observe("register", &err)

	email := repository.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return model.PublicUser{}, apperr.BadRequest("email and password are required")
	}
	if !strings.Contains(email, "@") {
		return model.PublicUser{}, apperr.BadRequest("invalid email address")
	}

	_, err = s.store.Users().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return model.PublicUser{}, apperr.Conflict("email already used")
	case !errors.Is(err, repository.ErrNotFound):
		return model.PublicUser{}, storeErr("register", "GetByEmail", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.PublicUser{}, oops.Code("AUTH_HASH_FAILED").With("operation", "register").Wrap(err)
	}
	code, err := s.newOTP()
	if err != nil {
		return model.PublicUser{}, oops.Code("AUTH_OTP_FAILED").With("operation", "register").Wrap(err)
	}
	exp := s.now().UTC().Add(s.otpTTL)

	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Phone:        strings.TrimSpace(req.Phone),
		Role:         model.RoleUser,
		OTPCode:      &code,
		OTPExpiresAt: &exp,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.PublicUser{}, apperr.Conflict("email already used")
		}
		return model.PublicUser{}, storeErr("register", "Create", err)
	}

	msg, err := notify.CreateAccountEmail(u.Email, u.Name, code, s.otpTTL)
	if err != nil {
		s.log.Warn(ctx, "render otp email failed", "operation", "register", "user_id", u.ID, "error", err)
	} else {
		s.notifier.Send(ctx, msg)
	}
	s.log.Info(ctx, "user registered", "user_id", u.ID)
	return u.Public(), nil
}

type SeedAdminRequest struct {
	Email    string
	Password string
	Name     string
}

// SeedAdmin creates a verified ADMIN from req unless some ADMIN already
// exists.  It reports whether an account was created.
func (s *UserService) SeedAdmin(ctx context.Context, req SeedAdminRequest) (created bool, err error) {
	email := repository.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return false, apperr.BadRequest("admin email and password are required")
	}

	exists, err := s.store.Users().ExistsWithRole(ctx, model.RoleAdmin)
	if err != nil {
		return false, storeErr("seed_admin", "ExistsWithRole", err)
	}
	if exists {
		s.log.Debug(ctx, "admin already exists")
		return false, nil
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return false, oops.Code("AUTH_HASH_FAILED").With("operation", "seed_admin").Wrap(err)
	}
	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         model.RoleAdmin,
		Verified:     true,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return false, apperr.Conflict("admin email is already used by another account")
		}
		return false, storeErr("seed_admin", "Create", err)
	}
	s.log.Info(ctx, "admin created", "user_id", u.ID)
	return true, nil
}

// ListUsers returns one page of users, newest first.
func (s *UserService) ListUsers(ctx context.Context, req ListUsersRequest) (res ListUsersResult, err error) {
	defer s.observe("list_users", &err)

	page, limit := req.Page, req.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	total, err := s.store.Users().Count(ctx)
	if err != nil {
		return ListUsersResult{}, storeErr("list_users", "Count", err)
	}
	users, err := s.store.Users().List(ctx, (page-1)*limit, limit, model.OrderCreatedDesc)
	if err != nil {
		return ListUsersResult{}, storeErr("list_users", "List", err)
	}

	out := make([]model.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return ListUsersResult{
		Users: out,
		Meta: PageMeta{
			Page:      page,
			Limit:     limit,
			Total:     total,
			TotalPage: (total + int64(limit) - 1) / int64(limit),
		},
	}, nil
}

// GetProfile returns the user with the given id.
func (s *UserService) GetProfile(ctx context.Context, id string) (model.PublicUser, error) {
	u, err := s.get(ctx, id, "get_profile")
	if err != nil {
		return model.PublicUser{}, err
	}
	return u.Public(), nil
}

// UpdateProfile changes name and/or phone of a verified user.
func (s *UserService) UpdateProfile(ctx context.Context, req UpdateProfileRequest) (res model.PublicUser, err error) {
	defer s.observe("update_profile", &err)

	u, err := s.get(ctx, req.UserID, "update_profile")
	if err != nil {
		return model.PublicUser{}, err
	}
	if !u.Verified {
		return model.PublicUser{}, apperr.Forbidden(msgAccountNotVerified)
	}

	patch := model.UserPatch{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		patch.Name, u.Name = &name, name
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		patch.Phone, u.Phone = &phone, phone
	}
	if patch.Empty() {
		return u.Public(), nil
	}
	if err := s.store.Users().Update(ctx, u.ID, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PublicUser{}, apperr.NotFound(msgUserNotFound)
		}
		return model.PublicUser{}, storeErr("update_profile", "Update", err)
	}
	u.UpdatedAt = s.now().UTC()
	return u.Public(), nil
}

func (s *UserService) get(ctx context.Context, id, op string) (model.User, error) {
	u, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound(msgUserNotFound)
		}
		return model.User{}, storeErr(op, "GetByID", err)
	}
	return u, nil
}

func (s *UserService) observe(op string, errp *error) {
	result := "ok"
	if *errp != nil {
		result = apperr.KindOf(*errp).String()
	}
	s.metrics.ObserveOperation(op, result)
}
