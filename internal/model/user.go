package model

import "time"

// Role is the authorization tag carried in every issued token.
type Role string

const (
    RoleAdmin Role = "ADMIN"
    RoleUser  Role = "USER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleAdmin || r == RoleUser }

// User represents an application user record as stored in the `users`
// table.  PasswordHash never leaves the service layer; callers receive a
// PublicUser instead.
//
// Fields:
//  ID             – uuid primary key.
//  Email          – unique, lower-cased email address.
//  PasswordHash   – bcrypt hash of the password.
//  Name, Phone    – optional profile fields.
//  Role           – ADMIN or USER.
//  Verified       – set once the email OTP has been confirmed.
//  OTPCode        – pending one-time code (nil when none is outstanding).
//  OTPExpiresAt   – expiry of OTPCode (nil when none is outstanding).
//  ResetPermitted – set by OTP re-verification, cleared by a password reset.
//  Version        – bumped by every update; used for compare-and-swap writes.
type User struct {
    ID             string
    Email          string
    PasswordHash   string
    Name           string
    Phone          string
    Role           Role
    Verified       bool
    OTPCode        *string
    OTPExpiresAt   *time.Time
    ResetPermitted bool
    Version        uint64
    CreatedAt      time.Time
    UpdatedAt      time.Time
}

// PublicUser is the caller-facing view of a User with every credential
// field stripped.
type PublicUser struct {
    ID        string    `json:"id"`
    Email     string    `json:"email"`
    Name      string    `json:"name,omitempty"`
    Phone     string    `json:"phone,omitempty"`
    Role      Role      `json:"role"`
    Verified  bool      `json:"is_verified"`
    CreatedAt time.Time `json:"created_at"`
    UpdatedAt time.Time `json:"updated_at"`
}

// Public strips the password hash and OTP state.
func (u User) Public() PublicUser {
    return PublicUser{
        ID:        u.ID,
        Email:     u.Email,
        Name:      u.Name,
        Phone:     u.Phone,
        Role:      u.Role,
        Verified:  u.Verified,
        CreatedAt: u.CreatedAt,
        UpdatedAt: u.UpdatedAt,
    }
}

// UserPatch lists the columns an update may touch.  Nil pointers are left
// unchanged; ClearOTP nulls both OTP columns and wins over OTPCode.
type UserPatch struct {
    PasswordHash   *string
    Name           *string
    Phone          *string
    Verified       *bool
    ResetPermitted *bool
    OTPCode        *string
    OTPExpiresAt   *time.Time
    ClearOTP       bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
    return p.PasswordHash == nil && p.Name == nil && p.Phone == nil && p.Verified == nil &&
        p.ResetPermitted == nil && p.OTPCode == nil && p.OTPExpiresAt == nil && !p.ClearOTP
}

// ResetToken models an entry in the `reset_tokens` table.  Only the SHA‑256
// hash of the token is stored.
//
// Fields:
//  ID         – uuid primary key.
//  UserID     – owner of the token.
//  TokenHash  – SHA‑256 hex digest of the token value.
//  ExpiresAt  – the token is usable strictly before this instant.
//  ConsumedAt – set after a successful password reset (nil while unused).
//  CreatedAt  – timestamp of creation.
type ResetToken struct {
    ID         string
    UserID     string
    TokenHash  string
    ExpiresAt  time.Time
    ConsumedAt *time.Time
    CreatedAt  time.Time
}

// ListOrder selects the ordering of a user listing.
type ListOrder string

const (
    OrderCreatedDesc ListOrder = "created_at_desc"
    OrderCreatedAsc  ListOrder = "created_at_asc"
)
