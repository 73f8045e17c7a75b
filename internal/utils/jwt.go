package utils // package utils provides the token signer, password hasher and OTP generator

import (
    "crypto/sha256" // SHA‑256 digest for persisted reset tokens
    "encoding/hex"
    "errors"
    "fmt"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/google/uuid"
)

// Sentinel errors reported by Verify.  Expiry is distinguished so callers
// can word their response; everything else is ErrTokenInvalid.
var (
    ErrTokenExpired = errors.New("token expired")
    ErrTokenInvalid = errors.New("invalid token")
)

// TokenPayload is the identity carried by every access and refresh token.
type TokenPayload struct {
    ID    string `json:"id"`
    Role  string `json:"role"`
    Email string `json:"email"`
}

// Claims embeds the registered claims next to the payload.  The jti makes
// two tokens minted in the same second for the same user distinct.
type Claims struct {
    jwt.RegisteredClaims
    TokenPayload
}

// SignedToken is a serialized JWT together with its expiry.
type SignedToken struct {
    Token string    `json:"token"`
    Exp   time.Time `json:"expires"`
}

// Signer issues and verifies HS256 tokens.  Now is injectable for tests.
type Signer struct {
    Now func() time.Time
}

func NewSigner() *Signer { return &Signer{Now: time.Now} }

// Sign builds and signs an HS256 JWT for payload that expires after ttl.
func (s *Signer) Sign(payload TokenPayload, secret string, ttl time.Duration) (SignedToken, error) {
    if secret == "" {
        return SignedToken{}, errors.New("empty signing secret")
    }
    now := s.now().UTC()
    exp := now.Add(ttl)
    claims := Claims{
        RegisteredClaims: jwt.RegisteredClaims{
            ID:        uuid.NewString(),
            Subject:   payload.ID,
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
        TokenPayload: payload,
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return SignedToken{}, err
    }
    return SignedToken{Token: signed, Exp: exp}, nil
}

// Verify checks the signature against secret and the expiry against the
// signer's clock, returning the embedded payload.
func (s *Signer) Verify(token, secret string) (TokenPayload, error) {
    claims := &Claims{}
    tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
        }
        return []byte(secret), nil
    },
        jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
        jwt.WithExpirationRequired(),
        jwt.WithTimeFunc(s.now),
    )
    if err != nil {
        if errors.Is(err, jwt.ErrTokenExpired) {
            return TokenPayload{}, ErrTokenExpired
        }
        return TokenPayload{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
    }
    if !tok.Valid || claims.TokenPayload.ID == "" {
        return TokenPayload{}, ErrTokenInvalid
    }
    return claims.TokenPayload, nil
}

func (s *Signer) now() time.Time {
    if s.Now == nil {
        return time.Now()
    }
    return s.Now()
}

// HashToken returns the SHA‑256 hex digest of a raw token.  Reset tokens
// are stored only in this form.
func HashToken(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}
