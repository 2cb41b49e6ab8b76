package flow

import (
	"context"
	"errors"

	"relaymeter/internal/domain"
)

// checkUserLimits evaluates the user's limits in fixed order, short-circuiting
// on the first breach: quota, then expiration, then status. Each breach
// pauses every forward the user owns.
func (s *Service) checkUserLimits(ctx context.Context, user domain.User) {
	if user.InBytes+user.OutBytes > user.QuotaBytes() {
		s.log.Info("user quota exceeded, pausing all forwards",
			"user", user.ID, "used", user.InBytes+user.OutBytes, "quota_gb", user.QuotaGB)
		s.pauseAllUserForwards(ctx, user.ID)
		return
	}
	if user.ExpiresAt != nil && !user.ExpiresAt.After(s.now()) {
		s.log.Info("user account expired, pausing all forwards", "user", user.ID)
		s.pauseAllUserForwards(ctx, user.ID)
		return
	}
	if user.Status != domain.UserStatusActive {
		s.log.Info("user disabled, pausing all forwards", "user", user.ID, "status", user.Status)
		s.pauseAllUserForwards(ctx, user.ID)
	}
}

// checkGrantQuota compares the grant's fresh counters against its quota.
// Upload-only billing charges only the outbound side against the quota.
func (s *Service) checkGrantQuota(ctx context.Context, grant domain.UserTunnelGrant, key domain.ServiceKey, billing string) {
	consumed := grant.InBytes + grant.OutBytes
	if billing == domain.BillingUploadOnly {
		consumed = grant.OutBytes
	}
	if consumed > grant.QuotaBytes() {
		s.log.Info("grant quota exceeded, pausing forward",
			"grant", grant.ID, "used", consumed, "quota_gb", grant.QuotaGB)
		s.pauseForward(ctx, key.ForwardID, key.UserID, key.GrantID, grant.TunnelID)
	}
}

// checkGrantLimits evaluates grant expiration and status. Expiration pauses
// this report's forward through the grant's tunnel and skips the status
// check for the cycle; otherwise a non-active status pauses the specific
// forward passed into the report.
func (s *Service) checkGrantLimits(ctx context.Context, grant domain.UserTunnelGrant, key domain.ServiceKey, forward domain.Forward, haveForward bool) {
	if grant.ExpiresAt != nil && !grant.ExpiresAt.After(s.now()) {
		s.log.Info("grant expired, pausing forward", "grant", grant.ID)
		s.pauseForward(ctx, key.ForwardID, key.UserID, key.GrantID, grant.TunnelID)
		return
	}
	if grant.Status != domain.GrantStatusActive && haveForward {
		s.log.Info("grant disabled, pausing forward", "grant", grant.ID, "status", grant.Status)
		s.pauseForward(ctx, forward.ID, key.UserID, key.GrantID, forward.TunnelID)
	}
}

// pauseForward is the single pause operation all policy branches call. It
// delivers the pause command to the tunnel's ingress node (and the egress
// node for relay pairs), then persists the paused status. A missing tunnel
// or node only skips command delivery; the status write always happens so
// the stored state converges even when the live command cannot be sent.
func (s *Service) pauseForward(ctx context.Context, forwardID, userID, grantID, tunnelID int64) {
	service := domain.BuildServiceKey(forwardID, userID, grantID)

	tunnel, err := s.store.TunnelByID(ctx, tunnelID)
	if err != nil {
		s.log.Warn("pause without command delivery, tunnel missing", "tunnel", tunnelID, "service", service, "err", err)
	} else {
		s.deliverPause(ctx, tunnel, service)
	}

	if err := s.store.SetForwardStatus(ctx, forwardID, domain.ForwardStatusPaused); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("forward status write failed", "forward", forwardID, "err", err)
		}
		return
	}
	s.log.Info("forward paused", "forward", forwardID, "service", service)
}

func (s *Service) deliverPause(ctx context.Context, tunnel domain.Tunnel, service string) {
	ingress, err := s.store.NodeByID(ctx, tunnel.IngressNodeID)
	if err != nil {
		s.log.Warn("ingress node missing, skipping pause command", "node", tunnel.IngressNodeID, "service", service)
		return
	}
	if err := s.ctrl.PauseService(ctx, ingress, service); err != nil {
		s.log.Warn("pause command delivery failed", "node", ingress.ID, "service", service, "err", err)
	}

	if tunnel.Topology != domain.TopologyRelayPair || tunnel.EgressNodeID == nil {
		return
	}
	egress, err := s.store.NodeByID(ctx, *tunnel.EgressNodeID)
	if err != nil {
		s.log.Warn("egress node missing, skipping remote pause command", "node", *tunnel.EgressNodeID, "service", service)
		return
	}
	if err := s.ctrl.PauseRemoteService(ctx, egress, service); err != nil {
		s.log.Warn("remote pause command delivery failed", "node", egress.ID, "service", service, "err", err)
	}
}

// pauseAllUserForwards enumerates every forward the user owns and pauses
// each one. The service key for each forward is rebuilt with that forward's
// actual grant, falling back to the sentinel when the user has no grant on
// the forward's tunnel.
func (s *Service) pauseAllUserForwards(ctx context.Context, userID int64) {
	forwards, err := s.store.ForwardsByUser(ctx, userID)
	if err != nil {
		s.log.Error("forward enumeration failed", "user", userID, "err", err)
		return
	}
	for _, f := range forwards {
		grantID := domain.SentinelGrantID
		if g, err := s.store.GrantForUserTunnel(ctx, userID, f.TunnelID); err == nil {
			grantID = g.ID
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.log.Error("grant lookup failed", "user", userID, "tunnel", f.TunnelID, "err", err)
		}
		s.pauseForward(ctx, f.ID, userID, grantID, f.TunnelID)
	}
}
