package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pricerus/internal/domain/user"

	"github.com/jackc/pgx/v5"
)

var _ user.Repo = (*UserRepo)(nil)

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const qUserByID = `
SELECT id, email
FROM users
WHERE id = $1;`

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*user.User, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var u user.User
	if err := r.db.execQueryer(ctx).QueryRow(ctx, qUserByID, id).Scan(&u.ID, &u.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
