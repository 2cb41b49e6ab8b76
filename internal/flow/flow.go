// Package flow implements the traffic report pipeline: batch aggregation,
// service key resolution, per-entity accounting, and policy enforcement.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"relaymeter/internal/domain"
	"relaymeter/internal/keymutex"
)

// Report outcomes exposed at the ingestion boundary. The protocol defines
// exactly these two; everything that is not an authorization failure is
// reported as accepted.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "err1"
)

// Store is the slice of the entity store the pipeline consumes.
type Store interface {
	NodeBySecret(ctx context.Context, secret string) (domain.Node, error)
	NodeByID(ctx context.Context, id int64) (domain.Node, error)
	TunnelByID(ctx context.Context, id int64) (domain.Tunnel, error)
	UserByID(ctx context.Context, id int64) (domain.User, error)
	ForwardByID(ctx context.Context, id int64) (domain.Forward, error)
	GrantByID(ctx context.Context, id int64) (domain.UserTunnelGrant, error)
	GrantForUserTunnel(ctx context.Context, userID, tunnelID int64) (domain.UserTunnelGrant, error)
	ForwardsByUser(ctx context.Context, userID int64) ([]domain.Forward, error)
	AddForwardTraffic(ctx context.Context, id, in, out int64) error
	AddUserTraffic(ctx context.Context, id, in, out int64) error
	AddGrantTraffic(ctx context.Context, id, in, out int64) error
	SetForwardStatus(ctx context.Context, id int64, status string) error
}

// Controller delivers pause commands to node service surfaces. Delivery is
// fire-and-forget: failures are logged by the caller and never retried, the
// persisted forward status is the durable source of truth.
type Controller interface {
	PauseService(ctx context.Context, node domain.Node, service string) error
	PauseRemoteService(ctx context.Context, node domain.Node, service string) error
}

// Service runs the accounting and enforcement pipeline for report batches.
type Service struct {
	store Store
	ctrl  Controller
	log   *slog.Logger

	// Stripe locks serialize counter writes per user and per grant as a
	// defense-in-depth layer on top of the store's atomic adds. They are
	// never held across store reads or command delivery.
	userLocks  *keymutex.Striped
	grantLocks *keymutex.Striped

	now func() time.Time
}

// NewService wires the pipeline against a store and a controller.
func NewService(store Store, ctrl Controller, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		ctrl:       ctrl,
		log:        logger,
		userLocks:  keymutex.New(0),
		grantLocks: keymutex.New(0),
		now:        time.Now,
	}
}

// HandleReport processes one traffic report batch from a node and returns
// the protocol outcome. All entries of a batch share one service key by
// construction of the reporting protocol.
func (s *Service) HandleReport(ctx context.Context, records []domain.TrafficRecord, secret string) string {
	node, err := s.store.NodeBySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.log.Warn("traffic report with unknown secret rejected")
		} else {
			s.log.Error("node lookup failed", "err", err)
		}
		return OutcomeUnauthorized
	}

	totals, valid := Aggregate(records)
	if len(valid) == 0 {
		return OutcomeOK
	}

	key, err := domain.ParseServiceKey(valid[0].Service)
	if err != nil {
		// The boundary only has two outcomes; an undecodable key means the
		// batch carried nothing attributable, which is not an auth failure.
		s.log.Warn("dropping report with malformed service key", "node", node.ID, "service", valid[0].Service)
		return OutcomeOK
	}

	s.log.Debug("traffic report accepted",
		"node", node.ID, "service", key.String(),
		"upload", totals.Upload, "download", totals.Download)

	forward, haveForward := s.loadForward(ctx, key.ForwardID)
	user, haveUser := s.loadUser(ctx, key.UserID)
	var grant domain.UserTunnelGrant
	haveGrant := false
	if key.HasGrant() {
		grant, haveGrant = s.loadGrant(ctx, key.GrantID)
	}

	billing := s.resolveBilling(ctx, forward, haveForward)

	// Forward counters are always bidirectional for observability, whatever
	// the billing mode says.
	if haveForward {
		if err := s.store.AddForwardTraffic(ctx, forward.ID, totals.Download, totals.Upload); err != nil {
			s.log.Error("forward counter update failed", "forward", forward.ID, "err", err)
		}
	}

	if haveUser {
		s.addUserTraffic(ctx, user.ID, totals, billing)
		s.checkUserLimits(ctx, user)
	}

	if haveGrant {
		s.addGrantTraffic(ctx, grant, key, totals, billing)
		s.checkGrantLimits(ctx, grant, key, forward, haveForward)
	}

	if haveForward && forward.Status != domain.ForwardStatusActive {
		// Covers a forward disabled directly by an administrator since the
		// last report: the stored flag wins over the still-running service.
		s.pauseForward(ctx, forward.ID, key.UserID, key.GrantID, forward.TunnelID)
	}

	return OutcomeOK
}

// resolveBilling maps Forward -> Tunnel -> billing mode, defaulting to
// bidirectional when either record is missing. Failing open on metadata
// absence is a deliberate policy: accounting proceeds, it never blocks on a
// dangling reference.
func (s *Service) resolveBilling(ctx context.Context, forward domain.Forward, haveForward bool) string {
	if !haveForward {
		return domain.BillingBidirectional
	}
	tunnel, err := s.store.TunnelByID(ctx, forward.TunnelID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("tunnel lookup failed", "tunnel", forward.TunnelID, "err", err)
		}
		return domain.BillingBidirectional
	}
	if tunnel.Billing == domain.BillingUploadOnly {
		return domain.BillingUploadOnly
	}
	return domain.BillingBidirectional
}

func (s *Service) addUserTraffic(ctx context.Context, userID int64, totals Totals, billing string) {
	in := totals.Download
	if billing == domain.BillingUploadOnly {
		in = 0
	}

	mu := s.userLocks.Of(userID)
	mu.Lock()
	err := s.store.AddUserTraffic(ctx, userID, in, totals.Upload)
	mu.Unlock()
	if err != nil {
		s.log.Error("user counter update failed", "user", userID, "err", err)
	}
}

// addGrantTraffic applies the grant counter update and, when it succeeds,
// re-reads the grant so the quota check observes the post-update value. A
// failed write (record deleted concurrently) skips only this quota check;
// the expiration and status checks still run on the originally loaded grant.
func (s *Service) addGrantTraffic(ctx context.Context, grant domain.UserTunnelGrant, key domain.ServiceKey, totals Totals, billing string) {
	in := totals.Download
	if billing == domain.BillingUploadOnly {
		in = 0
	}

	mu := s.grantLocks.Of(grant.ID)
	mu.Lock()
	err := s.store.AddGrantTraffic(ctx, grant.ID, in, totals.Upload)
	mu.Unlock()
	if err != nil {
		s.log.Error("grant counter update failed", "grant", grant.ID, "err", err)
		return
	}

	fresh, err := s.store.GrantByID(ctx, grant.ID)
	if err != nil {
		s.log.Error("grant re-read failed", "grant", grant.ID, "err", err)
		return
	}
	s.checkGrantQuota(ctx, fresh, key, billing)
}

func (s *Service) loadForward(ctx context.Context, id int64) (domain.Forward, bool) {
	f, err := s.store.ForwardByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("forward lookup failed", "forward", id, "err", err)
		}
		return domain.Forward{}, false
	}
	return f, true
}

func (s *Service) loadUser(ctx context.Context, id int64) (domain.User, bool) {
	u, err := s.store.UserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("user lookup failed", "user", id, "err", err)
		}
		return domain.User{}, false
	}
	return u, true
}

func (s *Service) loadGrant(ctx context.Context, id int64) (domain.UserTunnelGrant, bool) {
	g, err := s.store.GrantByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("grant lookup failed", "grant", id, "err", err)
		}
		return domain.UserTunnelGrant{}, false
	}
	return g, true
}
