package sqlite

import (
	"context"
	"database/sql"
	"time"

	"relaymeter/internal/domain"
)

// CreateTunnel registers a network path definition. egressNodeID is nil for
// direct tunnels.
func (s *Store) CreateTunnel(ctx context.Context, name string, ingressNodeID int64, egressNodeID *int64, billing, topology string) (domain.Tunnel, error) {
	t := domain.Tunnel{
		Name:          name,
		IngressNodeID: ingressNodeID,
		EgressNodeID:  egressNodeID,
		Billing:       billing,
		Topology:      topology,
		CreatedAt:     time.Now().UTC(),
	}
	var egress any
	if egressNodeID != nil {
		egress = *egressNodeID
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO tunnels(name, ingress_node_id, egress_node_id, billing, topology, created_at)
VALUES(?, ?, ?, ?, ?, ?)`, t.Name, t.IngressNodeID, egress, t.Billing, t.Topology, t.CreatedAt)
	if err != nil {
		return domain.Tunnel{}, err
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

// TunnelByID returns the tunnel with the given id or [domain.ErrNotFound].
func (s *Store) TunnelByID(ctx context.Context, id int64) (domain.Tunnel, error) {
	var t domain.Tunnel
	var egress sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT id, name, ingress_node_id, egress_node_id, billing, topology, created_at
FROM tunnels
WHERE id = ?`, id).Scan(&t.ID, &t.Name, &t.IngressNodeID, &egress, &t.Billing, &t.Topology, &t.CreatedAt)
	if err != nil {
		return domain.Tunnel{}, notFound(err)
	}
	if egress.Valid {
		v := egress.Int64
		t.EgressNodeID = &v
	}
	return t, nil
}
