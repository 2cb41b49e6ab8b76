package sqlite

import (
	"context"
	"database/sql"
	"time"

	"relaymeter/internal/domain"
)

// CreateGrant registers a user's permission and quota on one tunnel.
func (s *Store) CreateGrant(ctx context.Context, userID, tunnelID, quotaGB int64, expiresAt *time.Time) (domain.UserTunnelGrant, error) {
	g := domain.UserTunnelGrant{
		UserID:    userID,
		TunnelID:  tunnelID,
		QuotaGB:   quotaGB,
		ExpiresAt: expiresAt,
		Status:    domain.GrantStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	var exp any
	if expiresAt != nil {
		exp = expiresAt.UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO user_tunnel_grants(user_id, tunnel_id, in_bytes, out_bytes, quota_gb, expires_at, status, created_at)
VALUES(?, ?, 0, 0, ?, ?, ?, ?)`, g.UserID, g.TunnelID, g.QuotaGB, exp, g.Status, g.CreatedAt)
	if err != nil {
		return domain.UserTunnelGrant{}, err
	}
	g.ID, err = res.LastInsertId()
	return g, err
}

// GrantByID returns the grant with the given id or [domain.ErrNotFound].
func (s *Store) GrantByID(ctx context.Context, id int64) (domain.UserTunnelGrant, error) {
	return s.scanGrant(s.db.QueryRowContext(ctx, `
SELECT id, user_id, tunnel_id, in_bytes, out_bytes, quota_gb, expires_at, status, created_at
FROM user_tunnel_grants
WHERE id = ?`, id))
}

// GrantForUserTunnel resolves the grant matching a (user, tunnel) pair, used
// when pausing a user's whole fleet to rebuild each forward's service key.
func (s *Store) GrantForUserTunnel(ctx context.Context, userID, tunnelID int64) (domain.UserTunnelGrant, error) {
	return s.scanGrant(s.db.QueryRowContext(ctx, `
SELECT id, user_id, tunnel_id, in_bytes, out_bytes, quota_gb, expires_at, status, created_at
FROM user_tunnel_grants
WHERE user_id = ? AND tunnel_id = ?`, userID, tunnelID))
}

// AddGrantTraffic atomically adds the byte deltas to the grant's counters.
// Upload-only billing passes in = 0.
func (s *Store) AddGrantTraffic(ctx context.Context, id, in, out int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE user_tunnel_grants
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

// SetGrantStatus persists the grant's status flag.
func (s *Store) SetGrantStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE user_tunnel_grants SET status = ? WHERE id = ?`, status, id)
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

func (s *Store) scanGrant(row *sql.Row) (domain.UserTunnelGrant, error) {
	var g domain.UserTunnelGrant
	var exp sql.NullTime
	err := row.Scan(&g.ID, &g.UserID, &g.TunnelID, &g.InBytes, &g.OutBytes, &g.QuotaGB, &exp, &g.Status, &g.CreatedAt)
	if err != nil {
		return domain.UserTunnelGrant{}, notFound(err)
	}
	if exp.Valid {
		t := exp.Time
		g.ExpiresAt = &t
	}
	return g, nil
}
