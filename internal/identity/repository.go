package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists users.
type Repository interface {
	Create(ctx context.Context, user User) error
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

const userColumns = `id::text, name, email, document, password_hash, token_version, last_login, created_at`

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	_, err := r.db.Exec(ctx, `INSERT INTO users (id, name, email, document, password_hash, token_version, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Name, user.Email, user.Document, string(user.PasswordHash), user.TokenVersion, user.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return ErrEmailTaken
		case "users_document_key":
			return ErrDocumentTaken
		}
	}
	return err
}

// FindByEmail fetches a user by email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// FindByID fetches a user by id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrUserNotFound
	}
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// UpdateTokenVersion stores the new token version, invalidating older tokens.
func (r *PostgresRepository) UpdateTokenVersion(ctx context.Context, id string, version int) error {
	cmd, err := r.db.Exec(ctx, `UPDATE users SET token_version = $1, updated_at = NOW() WHERE id = $2`, version, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLogin records the last successful login.
func (r *PostgresRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET last_login = $1 WHERE id = $2`, at.UTC(), id)
	return err
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user User
		hash string
	)
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Document, &hash, &user.TokenVersion, &user.LastLogin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	user.PasswordHash = []byte(hash)
	return user, nil
}
