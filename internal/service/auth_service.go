// Package service holds the account state machine: login, one-time code
// issuance and verification, password reset and change, token refresh and
// account deletion, plus the user-facing profile operations.
//
// Every failure the services raise on purpose is an *apperr.Error.  Store,
// hasher and signer failures are wrapped with an oops code and carry no
// kind, so the HTTP layer reports them as internal errors.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/iliyamo/account-service/internal/apperr"
	"github.com/iliyamo/account-service/internal/logging"
	"github.com/iliyamo/account-service/internal/metrics"
	"github.com/iliyamo/account-service/internal/model"
	"github.com/iliyamo/account-service/internal/notify"
	"github.com/iliyamo/account-service/internal/queue"
	"github.com/iliyamo/account-service/internal/repository"
	"github.com/iliyamo/account-service/internal/utils"
)

// Hasher hashes and checks passwords.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) (bool, error)
}

// TokenSigner issues and verifies signed, expiring tokens.
type TokenSigner interface {
	Sign(payload utils.TokenPayload, secret string, ttl time.Duration) (utils.SignedToken, error)
	Verify(token, secret string) (utils.TokenPayload, error)
}

// AuthConfig carries the secrets and lifetimes the orchestrator signs with.
type AuthConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	OTPTTL        time.Duration
	ResetTokenTTL time.Duration
}

// Deps wires an AuthService.  Store, Hasher, Signer and Config are
// required; the rest fall back to working defaults.
type Deps struct {
	Store    repository.Store
	Hasher   Hasher
	Signer   TokenSigner
	Notifier notify.Sender
	Config   AuthConfig
	Log      logging.Logger
	Metrics  *metrics.Metrics
	NewOTP   func() (string, error)
	Now      func() time.Time
}

// AuthService is the credential-lifecycle orchestrator.  It keeps no state
// between calls.
type AuthService struct {
	store    repository.Store
	hasher   Hasher
	signer   TokenSigner
	notifier notify.Sender
	cfg      AuthConfig
	log      logging.Logger
	metrics  *metrics.Metrics
	newOTP   func() (string, error)
	now      func() time.Time
}

func NewAuthService(d Deps) *AuthService {
	s := &AuthService{
		store:    d.Store,
		hasher:   d.Hasher,
		signer:   d.Signer,
		notifier: d.Notifier,
		cfg:      d.Config,
		log:      d.Log,
		metrics:  d.Metrics,
		newOTP:   d.NewOTP,
		now:      d.Now,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	if s.newOTP == nil {
		s.newOTP = utils.GenerateOTP
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.notifier == nil {
		s.notifier = discardSender{}
	}
	if s.cfg.OTPTTL <= 0 {
		s.cfg.OTPTTL = 20 * time.Minute
	}
	if s.cfg.ResetTokenTTL <= 0 {
		s.cfg.ResetTokenTTL = 20 * time.Minute
	}
	return s
}

// ----- requests / responses -----

type LoginRequest struct {
	Email    string
	Password string
}

// TokenPair is an access token and a refresh token minted together.
type TokenPair struct {
	Access  utils.SignedToken
	Refresh utils.SignedToken
}

// AuthResult is returned by every operation that opens a session.
type AuthResult struct {
	User   model.PublicUser
	Tokens TokenPair
}

type ForgetPasswordRequest struct{ Email string }

type ResendVerificationRequest struct{ Email string }

type VerifyOTPRequest struct {
	Email string
	Code  string
}

// VerifyPurpose tells which branch a successful verification took.
type VerifyPurpose string

const (
	// PurposeEmailVerified: first verification of a new account.
	PurposeEmailVerified VerifyPurpose = "email_verified"
	// PurposeResetGranted: an already verified user proved control of the
	// mailbox; the returned access token doubles as the reset token.
	PurposeResetGranted VerifyPurpose = "reset_granted"
)

type VerifyOTPResult struct {
	AuthResult
	Purpose VerifyPurpose
	Message string
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string // optional; checked when present
	NewPassword     string
}

type RefreshRequest struct{ RefreshToken string }

type RefreshResult struct{ Access utils.SignedToken }

type DeleteAccountRequest struct{ UserID string }

const (
	msgEmailVerified        = "email verified"
	msgVerificationSuccess  = "verification successful"
	msgUserNotFound         = "user not found"
	msgAccountNotVerified   = "please verify your account first"
	msgNotAuthorized        = "you are not authorized"
	msgResetNotPermitted    = "password reset not permitted, request a new code with forget password"
	msgResetTokenExpired    = "reset token expired, request a new code with forget password"
	msgResetTokenUsed       = "reset token already used"
	msgOTPUsed              = "otp already used"
	msgPasswordSameAsBefore = "new password must differ from the current password"
)

// ----- operations -----

// Login checks the password of a verified user and opens a session.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (res AuthResult, err error) {
	defer s.observe("login", &err)

	u, err := s.userByEmail(ctx, req.Email, "login")
	if err != nil {
		return AuthResult{}, err
	}
	if !u.Verified {
		return AuthResult{}, apperr.Forbidden(msgAccountNotVerified)
	}
	ok, err := s.hasher.Verify(req.Password, u.PasswordHash)
	if err != nil {
		return AuthResult{}, oops.Code("AUTH_HASH_FAILED").With("operation", "login").Wrap(err)
	}
	if !ok {
		return AuthResult{}, apperr.Unauthorized("password is incorrect")
	}
	pair, err := s.issuePair(u)
	if err != nil {
		return AuthResult{}, err
	}
	s.log.Info(ctx, "user logged in", "user_id", u.ID)
	return AuthResult{User: u.Public(), Tokens: pair}, nil
}

// ForgetPassword issues a fresh code and mails it with the reset template.
func (s *AuthService) ForgetPassword(ctx context.Context, req ForgetPasswordRequest) (err error) {
	defer s.observe("forget_password", &err)

	u, err := s.userByEmail(ctx, req.Email, "forget_password")
	if err != nil {
		return err
	}
	return s.issueOTP(ctx, u, "forget_password", func(code string) (queue.EmailMessage, error) {
		return notify.ResetPasswordEmail(u.Email, code, s.cfg.OTPTTL)
	})
}

// ResendVerification issues a fresh code and mails it with the account
// template.
func (s *AuthService) ResendVerification(ctx context.Context, req ResendVerificationRequest) (err error) {
	defer s.observe("resend_verification", &err)

	u, err := s.userByEmail(ctx, req.Email, "resend_verification")
	if err != nil {
		return err
	}
	return s.issueOTP(ctx, u, "resend_verification", func(code string) (queue.EmailMessage, error) {
		return notify.CreateAccountEmail(u.Email, u.Name, code, s.cfg.OTPTTL)
	})
}

// issueOTP persists a new (code, expiry) pair and then hands the email to
// the notifier.  The code is stored first so a delivered code is always
// redeemable; a lost email never rolls the code back.
func (s *AuthService) issueOTP(ctx context.Context, u model.User, op string, render func(code string) (queue.EmailMessage, error)) error {
	code, err := s.newOTP()
	if err != nil {
		return oops.Code("AUTH_OTP_FAILED").With("operation", op).Wrap(err)
	}
	exp := s.now().UTC().Add(s.cfg.OTPTTL)
	patch := model.UserPatch{OTPCode: &code, OTPExpiresAt: &exp}
	if err := s.store.Users().Update(ctx, u.ID, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return storeErr(op, "Update", err)
	}

	msg, err := render(code)
	if err != nil {
		s.log.Warn(ctx, "render otp email failed", "operation", op, "user_id", u.ID, "error", err)
		return nil
	}
	s.notifier.Send(ctx, msg)
	s.log.Info(ctx, "otp issued", "operation", op, "user_id", u.ID)
	return nil
}

// VerifyOTP redeems a one-time code.  An unverified user becomes verified;
// an already verified user is granted a password reset instead and the
// returned access token is recorded as the reset token.
func (s *AuthService) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (res VerifyOTPResult, err error) {
	defer s.observe("verify_otp", &err)

	u, err := s.userByEmail(ctx, req.Email, "verify_otp")
	if err != nil {
		return VerifyOTPResult{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return VerifyOTPResult{}, apperr.BadRequest("otp is required, check your email for the code")
	}
	if u.OTPCode == nil || subtle.ConstantTimeCompare([]byte(*u.OTPCode), []byte(code)) != 1 {
		return VerifyOTPResult{}, apperr.Unauthorized("invalid otp")
	}
	now := s.now().UTC()
	if u.OTPExpiresAt != nil && now.After(*u.OTPExpiresAt) {
		return VerifyOTPResult{}, apperr.BadRequest("otp expired, please request a new one")
	}

	pair, err := s.issuePair(u)
	if err != nil {
		return VerifyOTPResult{}, err
	}

	if !u.Verified {
		verified := true
		err := s.store.Users().UpdateAtVersion(ctx, u.ID, u.Version, model.UserPatch{Verified: &verified, ClearOTP: true})
		if err != nil {
			return VerifyOTPResult{}, s.casErr("verify_otp", err, msgOTPUsed)
		}
		u.Verified = true
		s.log.Info(ctx, "email verified", "user_id", u.ID)
		return VerifyOTPResult{
			AuthResult: AuthResult{User: u.Public(), Tokens: pair},
			Purpose:    PurposeEmailVerified,
			Message:    msgEmailVerified,
		}, nil
	}

	permitted := true
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		err := tx.Users().UpdateAtVersion(ctx, u.ID, u.Version, model.UserPatch{ResetPermitted: &permitted, ClearOTP: true})
		if err != nil {
			return err
		}
		// Only the newest grant may redeem the reset.
		if _, err := tx.ResetTokens().ConsumeOutstanding(ctx, u.ID, now); err != nil {
			return err
		}
		return tx.ResetTokens().Create(ctx, &model.ResetToken{
			UserID:    u.ID,
			TokenHash: utils.HashToken(pair.Access.Token),
			ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
		})
	})
	if err != nil {
		return VerifyOTPResult{}, s.casErr("verify_otp", err, msgOTPUsed)
	}
	s.log.Info(ctx, "password reset granted", "user_id", u.ID)
	return VerifyOTPResult{
		AuthResult: AuthResult{User: u.Public(), Tokens: pair},
		Purpose:    PurposeResetGranted,
		Message:    msgVerificationSuccess,
	}, nil
}

// ResetPassword overwrites the password of the token's owner.  The token
// must exist, be unused and unexpired, and its owner must hold the
// reset-permitted flag.  Success clears the flag and consumes the token.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) (err error) {
	defer s.observe("reset_password", &err)

	raw := strings.TrimSpace(req.Token)
	if raw == "" {
		return apperr.Unauthorized(msgNotAuthorized)
	}
	if req.NewPassword == "" {
		return apperr.BadRequest("new password is required")
	}

	tok, err := s.store.ResetTokens().GetByHash(ctx, utils.HashToken(raw))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Unauthorized(msgNotAuthorized)
		}
		return storeErr("reset_password", "GetByHash", err)
	}
	if tok.ConsumedAt != nil {
		return apperr.Unauthorized(msgResetTokenUsed)
	}

	u, err := s.store.Users().GetByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Unauthorized(msgNotAuthorized)
		}
		return storeErr("reset_password", "GetByID", err)
	}
	if !u.ResetPermitted {
		return apperr.Unauthorized(msgResetNotPermitted)
	}
	if !s.now().UTC().Before(tok.ExpiresAt) {
		return apperr.BadRequest(msgResetTokenExpired)
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").With("operation", "reset_password").Wrap(err)
	}

	permitted := false
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		err := tx.Users().UpdateIfResetPermitted(ctx, u.ID, model.UserPatch{PasswordHash: &hash, ResetPermitted: &permitted})
		if err != nil {
			return err
		}
		return tx.ResetTokens().MarkConsumed(ctx, tok.ID, s.now().UTC())
	})
	if err != nil {
		return s.casErr("reset_password", err, msgResetTokenUsed)
	}
	s.log.Info(ctx, "password reset", "user_id", u.ID)
	return nil
}

// ChangePassword replaces the password of an authenticated user.
func (s *AuthService) ChangePassword(ctx context.Context, req ChangePasswordRequest) (err error) {
	defer s.observe("change_password", &err)

	if req.NewPassword == "" {
		return apperr.BadRequest("new password is required")
	}
	u, err := s.userByID(ctx, req.UserID, "change_password")
	if err != nil {
		return err
	}

	if req.CurrentPassword != "" {
		ok, err := s.hasher.Verify(req.CurrentPassword, u.PasswordHash)
		if err != nil {
			return oops.Code("AUTH_HASH_FAILED").With("operation", "change_password").Wrap(err)
		}
		if !ok {
			return apperr.Unauthorized("current password is incorrect")
		}
		if req.CurrentPassword == req.NewPassword {
			return apperr.BadRequest(msgPasswordSameAsBefore)
		}
	} else {
		same, err := s.hasher.Verify(req.NewPassword, u.PasswordHash)
		if err != nil {
			return oops.Code("AUTH_HASH_FAILED").With("operation", "change_password").Wrap(err)
		}
		if same {
			return apperr.BadRequest(msgPasswordSameAsBefore)
		}
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").With("operation", "change_password").Wrap(err)
	}
	if err := s.store.Users().Update(ctx, u.ID, model.UserPatch{PasswordHash: &hash}); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return storeErr("change_password", "Update", err)
	}
	s.log.Info(ctx, "password changed", "user_id", u.ID)
	return nil
}

// RefreshAccessToken mints a new access token from a refresh token.  The
// refresh token itself stays valid until it expires.
func (s *AuthService) RefreshAccessToken(ctx context.Context, req RefreshRequest) (res RefreshResult, err error) {
	defer s.observe("refresh_token", &err)

	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		return RefreshResult{}, apperr.BadRequest("refresh token is required")
	}
	p, err := s.signer.Verify(raw, s.cfg.RefreshSecret)
	if err != nil {
		if errors.Is(err, utils.ErrTokenExpired) {
			return RefreshResult{}, apperr.Wrap(apperr.KindUnauthorized, "refresh token expired", err)
		}
		return RefreshResult{}, apperr.Wrap(apperr.KindUnauthorized, "invalid refresh token", err)
	}

	u, err := s.store.Users().GetByID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return RefreshResult{}, apperr.Unauthorized(msgNotAuthorized)
		}
		return RefreshResult{}, storeErr("refresh_token", "GetByID", err)
	}
	access, err := s.signer.Sign(payloadOf(u), s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return RefreshResult{}, oops.Code("AUTH_TOKEN_FAILED").With("operation", "refresh_token").Wrap(err)
	}
	return RefreshResult{Access: access}, nil
}

// DeleteAccount removes the user record.
func (s *AuthService) DeleteAccount(ctx context.Context, req DeleteAccountRequest) (err error) {
	defer s.observe("delete_account", &err)

	if err := s.store.Users().Delete(ctx, req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound(msgUserNotFound)
		}
		return storeErr("delete_account", "Delete", err)
	}
	s.log.Info(ctx, "account deleted", "user_id", req.UserID)
	return nil
}

// ----- helpers -----

func (s *AuthService) userByEmail(ctx context.Context, email, op string) (model.User, error) {
	email = repository.NormalizeEmail(email)
	if email == "" {
		return model.User{}, apperr.BadRequest("email is required")
	}
	u, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound(msgUserNotFound)
		}
		return model.User{}, storeErr(op, "GetByEmail", err)
	}
	return u, nil
}

func (s *AuthService) userByID(ctx context.Context, id, op string) (model.User, error) {
	u, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.User{}, apperr.NotFound(msgUserNotFound)
		}
		return model.User{}, storeErr(op, "GetByID", err)
	}
	return u, nil
}

func (s *AuthService) issuePair(u model.User) (TokenPair, error) {
	p := payloadOf(u)
	access, err := s.signer.Sign(p, s.cfg.AccessSecret, s.cfg.AccessTTL)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_TOKEN_FAILED").With("operation", "sign_access").Wrap(err)
	}
	refresh, err := s.signer.Sign(p, s.cfg.RefreshSecret, s.cfg.RefreshTTL)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_TOKEN_FAILED").With("operation", "sign_refresh").Wrap(err)
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

// casErr maps a failed compare-and-swap write.  Losing the race means the
// code or token was redeemed by someone else in between.
func (s *AuthService) casErr(op string, err error, lostMsg string) error {
	if errors.Is(err, repository.ErrStaleRecord) {
		return apperr.Unauthorized(lostMsg)
	}
	return storeErr(op, "UpdateAtVersion", err)
}

func (s *AuthService) observe(op string, errp *error) {
	result := "ok"
	if *errp != nil {
		result = apperr.KindOf(*errp).String()
	}
	s.metrics.ObserveOperation(op, result)
}

func payloadOf(u model.User) utils.TokenPayload {
	return utils.TokenPayload{ID: u.ID, Role: string(u.Role), Email: u.Email}
}

func storeErr(op, call string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").
		With("operation", op).
		With("call", call).
		Wrap(err)
}

type discardSender struct{}

func (discardSender) Send(context.Context, queue.EmailMessage) {}
