package sqlite

import (
	"context"
	"database/sql"
	"time"

	"relaymeter/internal/domain"
)

// CreateUser registers an account with the given quota. expiresAt nil means
// the account never expires.
func (s *Store) CreateUser(ctx context.Context, name string, quotaGB int64, expiresAt *time.Time) (domain.User, error) {
	u := domain.User{
		Name:      name,
		QuotaGB:   quotaGB,
		ExpiresAt: expiresAt,
		Status:    domain.UserStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	var exp any
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO users(name, in_bytes, out_bytes, quota_gb, expires_at, status, created_at)
VALUES(?, 0, 0, ?, ?, ?, ?)`, u.Name, u.QuotaGB, exp, u.Status, u.CreatedAt)
	if err != nil {
		return domain.User{}, err
	}
	u.ID, err = res.LastInsertId()
	return u, err
}

// UserByID returns the user with the given id or [domain.ErrNotFound].
func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	var u domain.User
	var exp sql.NullTime
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, in_bytes, out_bytes, quota_gb, expires_at, status, created_at
FROM users
WHERE id = ?`, id).Scan(&u.ID, &u.Name, &u.InBytes, &u.OutBytes, &u.QuotaGB, &exp, &u.Status, &u.CreatedAt)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	if exp.Valid {
		t := exp.Time
		u.ExpiresAt = &t
	}
	return u, nil
}

// AddUserTraffic atomically adds the byte deltas to the user's counters.
// The increment happens inside the database so concurrent reports for the
// same user cannot lose updates. Upload-only billing passes in = 0.
func (s *Store) AddUserTraffic(ctx context.Context, id, in, out int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE users
SET in_bytes = in_bytes + ?, out_bytes = out_bytes + ?
WHERE id = ?`, in, out, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetUserStatus persists the user's status flag.
func (s *Store) SetUserStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
