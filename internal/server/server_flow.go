package server

import (
	"encoding/json"
	"net/http"

	"relaymeter/internal/domain"
	"relaymeter/internal/flow"
)

// handleFlowUpload ingests one traffic report batch. The response body is
// the protocol's literal two-outcome contract: "ok" or "err1". An
// undecodable body carries nothing to account, which is the same shape as
// an empty batch, so it answers "ok".
func (s *Server) handleFlowUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	secret := r.URL.Query().Get("secret")
	if !s.limiter.allow(secret) {
		// Transport-level rejection: the batch was not processed at all, so
		// neither protocol outcome applies and the agent retries next cycle.
		s.log.Warn("traffic report rate limited")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var records []domain.TrafficRecord
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		s.log.Warn("undecodable traffic report body", "err", err)
		writeOutcome(w, flow.OutcomeOK)
		return
	}

	outcome := s.flow.HandleReport(r.Context(), records, secret)
	writeOutcome(w, outcome)
}

// handleFlowTest is the reporting agents' liveness probe.
func (s *Server) handleFlowTest(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("test"))
}

func writeOutcome(w http.ResponseWriter, outcome string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(outcome))
}
