package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"relaymeter/internal/auth"
	"relaymeter/internal/domain"
	"relaymeter/internal/netutil"
)

// CreateNode registers a proxy agent. When secret is empty a random one is
// generated.
func (s *Store) CreateNode(ctx context.Context, name, address, secret string) (domain.Node, error) {
	if secret == "" {
		generated, err := auth.GenerateSecret()
		if err != nil {
			return domain.Node{}, err
		}
		secret = generated
	}
	n := domain.Node{
		Name:      name,
		Address:   netutil.NormalizeNodeAddress(address),
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO nodes(name, address, secret, created_at)
VALUES(?, ?, ?, ?)`, n.Name, n.Address, n.Secret, n.CreatedAt)
	if err != nil {
		return domain.Node{}, err
	}
	n.ID, err = res.LastInsertId()
	return n, err
}

// NodeByID returns the node with the given id or [domain.ErrNotFound].
func (s *Store) NodeByID(ctx context.Context, id int64) (domain.Node, error) {
	var n domain.Node
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, address, secret, created_at
FROM nodes
WHERE id = ?`, id).Scan(&n.ID, &n.Name, &n.Address, &n.Secret, &n.CreatedAt)
	return n, notFound(err)
}

// NodeBySecret resolves the node presenting the given report secret. An
// unknown secret maps to [domain.ErrUnauthorized] so that the ingestion
// boundary never leaks store errors.
func (s *Store) NodeBySecret(ctx context.Context, secret string) (domain.Node, error) {
	var n domain.Node
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, address, secret, created_at
FROM nodes
WHERE secret = ?`, secret).Scan(&n.ID, &n.Name, &n.Address, &n.Secret, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Node{}, domain.ErrUnauthorized
	}
	return n, err
}
