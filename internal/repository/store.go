package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/account-service/internal/database"
)

// Store groups the repositories behind one handle so services can run
// several writes in a single transaction.
type Store interface {
	Users() UserStore
	ResetTokens() ResetTokenStore
	// InTx runs fn against a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

// SQLStore is the MySQL implementation of Store.
type SQLStore struct {
	db   *sql.DB
	conn database.DBTX
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db, conn: db} }

func (s *SQLStore) Users() UserStore             { return NewUserRepo(s.conn) }
func (s *SQLStore) ResetTokens() ResetTokenStore { return NewResetTokenRepo(s.conn) }

func (s *SQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	return database.WithTx(ctx, s.db, func(_ context.Context, tx database.DBTX) error {
		return fn(&SQLStore{db: s.db, conn: tx})
	})
}
