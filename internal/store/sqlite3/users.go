package sqlite3

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/exchangecore/excore/internal/store/model"
)

func (d *DB) GetUser(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := d.db.QueryRowContext(ctx,
		`SELECT email, password_hash, active FROM excore_users WHERE email = ?`, email,
	).Scan(&u.Email, &u.PasswordHash, &u.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get user: %w", err)
	}
	return &u, nil
}
