package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/model"
)

// ResetTokenStore is the reset-token half of the credential store.
type ResetTokenStore interface {
	Create(ctx context.Context, t *model.ResetToken) error
	GetByHash(ctx context.Context, tokenHash string) (model.ResetToken, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) error
	ConsumeOutstanding(ctx context.Context, userID string, at time.Time) (int64, error)
}

// ResetTokenRepo persists reset tokens (single 'token_hash' column).
type ResetTokenRepo struct{ DB database.DBTX }

func NewResetTokenRepo(db database.DBTX) *ResetTokenRepo { return &ResetTokenRepo{DB: db} }

// Create inserts a reset token row, filling ID and CreatedAt.
func (r *ResetTokenRepo) Create(ctx context.Context, t *model.ResetToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO reset_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?,?)",
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), t.CreatedAt)
	return err
}

// GetByHash looks a token up by its hash, consumed or not.
func (r *ResetTokenRepo) GetByHash(ctx context.Context, tokenHash string) (model.ResetToken, error) {
	var (
		t        model.ResetToken
		consumed sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, consumed_at, created_at FROM reset_tokens WHERE token_hash=? LIMIT 1",
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &consumed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ResetToken{}, ErrNotFound
	}
	if err != nil {
		return model.ResetToken{}, err
	}
	if consumed.Valid {
		c := consumed.Time.UTC()
		t.ConsumedAt = &c
	}
	return t, nil
}

// MarkConsumed stamps consumed_at once.  A second call reports ErrStaleRecord.
func (r *ResetTokenRepo) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE reset_tokens SET consumed_at=? WHERE id=? AND consumed_at IS NULL",
		at.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleRecord
	}
	return nil
}

// ConsumeOutstanding stamps consumed_at on every unused token of userID and
// returns how many were retired.
func (r *ResetTokenRepo) ConsumeOutstanding(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE reset_tokens SET consumed_at=? WHERE user_id=? AND consumed_at IS NULL",
		at.UTC(), userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
