package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/iliyamo/account-service/internal/database"
	"github.com/iliyamo/account-service/internal/model"
)

const mysqlDuplicateEntry = 1062

const userColumns = "id,email,password_hash,name,phone,role,is_verified,otp_code,otp_expires_at,reset_permitted,version,created_at,updated_at"

// UserStore is the user half of the credential store.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	Update(ctx context.Context, id string, patch model.UserPatch) error
	UpdateAtVersion(ctx context.Context, id string, version uint64, patch model.UserPatch) error
	UpdateIfResetPermitted(ctx context.Context, id string, patch model.UserPatch) error
	ExistsWithRole(ctx context.Context, role model.Role) (bool, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
	List(ctx context.Context, skip, take int, order model.ListOrder) ([]model.User, error)
}

// UserRepo persists users in the 'users' table.
type UserRepo struct{ DB database.DBTX }

func NewUserRepo(db database.DBTX) *UserRepo { return &UserRepo{DB: db} }

// NormalizeEmail lower-cases and trims an address the same way on every path.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create inserts u.  An empty ID is filled with a fresh uuid and the
// timestamps and version are set on u.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt, u.Version = now, now, 1

	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)",
		u.ID, u.Email, u.PasswordHash, u.Name, u.Phone, string(u.Role), u.Verified,
		u.OTPCode, u.OTPExpiresAt, u.ResetPermitted, u.Version, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (model.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// Update applies patch unconditionally.  ErrNotFound when the id is unknown.
func (r *UserRepo) Update(ctx context.Context, id string, patch model.UserPatch) error {
	n, err := r.exec(ctx, id, "", nil, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAtVersion applies patch only if the row is still at version.  A
// miss is reported as ErrStaleRecord; it covers both a concurrent writer and
// a deleted row.
func (r *UserRepo) UpdateAtVersion(ctx context.Context, id string, version uint64, patch model.UserPatch) error {
	n, err := r.exec(ctx, id, "version=?", []any{version}, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleRecord
	}
	return nil
}

// UpdateIfResetPermitted applies patch only while the row still holds the
// reset-permitted flag.  Writes to other columns do not interfere; a miss
// is ErrStaleRecord.
func (r *UserRepo) UpdateIfResetPermitted(ctx context.Context, id string, patch model.UserPatch) error {
	n, err := r.exec(ctx, id, "reset_permitted=?", []any{true}, patch)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleRecord
	}
	return nil
}

func (r *UserRepo) exec(ctx context.Context, id, cond string, condArgs []any, patch model.UserPatch) (int64, error) {
	sets, args := patchClauses(patch)
	sets = append(sets, "version=version+1", "updated_at=?")
	args = append(args, time.Now().UTC())

	query := "UPDATE users SET " + strings.Join(sets, ",") + " WHERE id=?"
	args = append(args, id)
	if cond != "" {
		query += " AND " + cond
		args = append(args, condArgs...)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// patchClauses turns the non-nil fields of patch into SET fragments in a
// fixed column order.
func patchClauses(p model.UserPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		sets = append(sets, col+"=?")
		args = append(args, v)
	}
	if p.PasswordHash != nil {
		add("password_hash", *p.PasswordHash)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.Phone != nil {
		add("phone", *p.Phone)
	}
	if p.Verified != nil {
		add("is_verified", *p.Verified)
	}
	if p.ResetPermitted != nil {
		add("reset_permitted", *p.ResetPermitted)
	}
	switch {
	case p.ClearOTP:
		sets = append(sets, "otp_code=NULL", "otp_expires_at=NULL")
	default:
		if p.OTPCode != nil {
			add("otp_code", *p.OTPCode)
		}
		if p.OTPExpiresAt != nil {
			add("otp_expires_at", p.OTPExpiresAt.UTC())
		}
	}
	return sets, args
}

// Delete removes the user.  ErrNotFound when nothing was deleted.
func (r *UserRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM users WHERE id=?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of users.
func (r *UserRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// ExistsWithRole reports whether at least one user holds role.
func (r *UserRepo) ExistsWithRole(ctx context.Context, role model.Role) (bool, error) {
	var found bool
	err := r.DB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE role=?)", string(role)).Scan(&found)
	return found, err
}

// List returns one page of users.
func (r *UserRepo) List(ctx context.Context, skip, take int, order model.ListOrder) ([]model.User, error) {
	dir := "DESC"
	if order == model.OrderCreatedAsc {
		dir = "ASC"
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at "+dir+", id "+dir+" LIMIT ? OFFSET ?",
		take, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanUser(s rowScanner) (model.User, error) {
	var (
		u      model.User
		role   string
		otp    sql.NullString
		otpExp sql.NullTime
	)
	err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Phone, &role, &u.Verified,
		&otp, &otpExp, &u.ResetPermitted, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	if otp.Valid {
		u.OTPCode = &otp.String
	}
	if otpExp.Valid {
		t := otpExp.Time.UTC()
		u.OTPExpiresAt = &t
	}
	return u, nil
}
