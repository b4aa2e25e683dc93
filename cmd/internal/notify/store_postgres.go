package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists notifications in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "pulse").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "pulse"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, n Notification) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(n.ID) == "" || strings.TrimSpace(n.UserID) == "" {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "notifications")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, user_id, message, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		n.ID, n.UserID, n.Message, n.IsRead, n.CreatedAt,
	)
	return err
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 100
	}
	table := pgIdent(s.schema, "notifications")

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, message, is_read, created_at
		   FROM `+table+`
		  WHERE user_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ToggleRead implements Store.
func (s *PostgresStore) ToggleRead(ctx context.Context, userID, id string) (Notification, error) {
	if s == nil || s.pool == nil {
		return Notification{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Notification{}, err
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" || id == "" {
		return Notification{}, ErrInvalidInput
	}
	table := pgIdent(s.schema, "notifications")

	var out Notification
	err := s.pool.QueryRow(ctx,
		`UPDATE `+table+`
		    SET is_read = NOT is_read
		  WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, message, is_read, created_at`,
		id, userID,
	).Scan(&out.ID, &out.UserID, &out.Message, &out.IsRead, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, err
	}
	return out, nil
}

// MarkAllRead implements Store.
func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrInvalidInput
	}
	table := pgIdent(s.schema, "notifications")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+table+` SET is_read = TRUE WHERE user_id = $1 AND is_read = FALSE`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, userID, id string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	id = strings.TrimSpace(id)
	if userID == "" || id == "" {
		return ErrInvalidInput
	}
	table := pgIdent(s.schema, "notifications")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll implements Store.
func (s *PostgresStore) DeleteAll(ctx context.Context, userID string) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, ErrInvalidInput
	}
	table := pgIdent(s.schema, "notifications")

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+table+` WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close implements Store. The pool is owned by the app, not the store.
func (s *PostgresStore) Close() error { return nil }

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
