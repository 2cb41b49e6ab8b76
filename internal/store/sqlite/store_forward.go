package sqlite

import (
	"context"
	"time"

	"relaymeter/internal/domain"
)

// CreateForward registers a proxied endpoint instance for a user on a tunnel.
func (s *Store) CreateForward(ctx context.Context, userID, tunnelID int64, name string) (domain.Forward, error) {
	f := domain.Forward{
		UserID:    userID,
		TunnelID:  tunnelID,
		Name:      name,
		Status:    domain.ForwardStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO forwards(user_id, tunnel_id, name, in_bytes, out_bytes, status, created_at)
VALUES(?, ?, ?, 0, 0, ?, ?)`, f.UserID, f.TunnelID, f.Name, f.Status, f.CreatedAt)
	if err != nil {
		return domain.Forward{}, err
	}
	f.ID, err = res.LastInsertId()
	return f, err
}

// ForwardByID returns the forward with the given id or [domain.ErrNotFound].
func (s *Store) ForwardByID(ctx context.Context, id int64) (domain.Forward, error) {
	var f domain.Forward
	err := s.db.QueryRowContext(ctx, `
SELECT id, user_id, tunnel_id, name, in_bytes, out_bytes, status, created_at
FROM forwards
WHERE id = ?`, id).Scan(&f.ID, &f.UserID, &f.TunnelID, &f.Name, &f.InBytes, &f.OutBytes, &f.Status, &f.CreatedAt)
	return f, notFound(err)
}

// ForwardsByUser lists every forward owned by the user, oldest first.
func (s *Store) ForwardsByUser(ctx context.Context, userID int64) ([]domain.Forward, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, tunnel_id, name, in_bytes, out_bytes, status, created_at
FROM forwards
WHERE user_id = ?
ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Forward
	for rows.Next() {
		var f domain.Forward
		if err := rows.Scan(&f.ID, &f.UserID, &f.TunnelID, &f.Name, &f.InBytes, &f.OutBytes, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddForwardTraffic atomically adds the byte deltas to the forward's
// counters. Forward counters always track both directions.
func (s *Store) AddForwardTraffic(ctx context.Context, id, in, out int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE forwards
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

// SetForwardStatus persists the forward's status flag. Pausing an already
// paused forward is a no-op at this level and still succeeds.
func (s *Store) SetForwardStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE forwards SET status = ? WHERE id = ?`, status, id)
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
