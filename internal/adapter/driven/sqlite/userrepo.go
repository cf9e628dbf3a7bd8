package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
	"github.com/ericfisherdev/studiopanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Add inserts a user and returns it with its assigned ID. Emails are unique
// regardless of case.
func (r *UserRepo) Add(ctx context.Context, user model.User) (model.User, error) {
	const query = `INSERT INTO users (name, email, password_hash, created_at) VALUES (?, ?, ?, ?)`

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := r.db.Writer.ExecContext(ctx, query, user.Name, user.Email, user.PasswordHash, createdAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return model.User{}, fmt.Errorf("add user %s: %w", user.Email, driven.ErrUserAlreadyExists)
		}
		return model.User{}, fmt.Errorf("add user %s: %w", user.Email, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.User{}, fmt.Errorf("add user %s: last insert id: %w", user.Email, err)
	}
	user.ID = id
	user.CreatedAt = createdAt.Truncate(time.Second)
	return user, nil
}

// GetByEmail returns the user with the given email, or nil if none exists.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const query = `SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`

	user, err := scanUser(r.db.Reader.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", email, err)
	}
	return user, nil
}

// ListAll returns every user ordered by email.
func (r *UserRepo) ListAll(ctx context.Context) ([]model.User, error) {
	const query = `SELECT id, name, email, password_hash, created_at FROM users ORDER BY email`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func scanUser(s scanner) (*model.User, error) {
	var user model.User
	var createdAt string
	if err := s.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &createdAt); err != nil {
		return nil, err
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	user.CreatedAt = t
	return &user, nil
}
