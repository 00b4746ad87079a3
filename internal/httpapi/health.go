package httpapi

import (
	"net/http"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/resilience"
)

type readyResponse struct {
	Status          string          `json:"status"`
	RPCEndpoints    map[string]bool `json:"rpcEndpoints,omitempty"`
	HealthyRPC      int             `json:"healthyRpc"`
	PriceCircuit    string          `json:"priceCircuit,omitempty"`
	LastPriceAt     *time.Time      `json:"lastPriceAt,omitempty"`
	LastPriceSource string          `json:"lastPriceSource,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports not ready only when no RPC endpoint is healthy. An
// open price circuit degrades prices to cached values but quotes still work.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ready"}
	status := http.StatusOK

	if s.checks.RPCEndpoints != nil {
		resp.RPCEndpoints = s.checks.RPCEndpoints()
		for _, ok := range resp.RPCEndpoints {
			if ok {
				resp.HealthyRPC++
			}
		}
		if resp.HealthyRPC == 0 {
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
		}
	}
	if s.checks.Circuit != nil {
		st := s.checks.Circuit()
		resp.PriceCircuit = st.String()
		if st == resilience.StateOpen && status == http.StatusOK {
			resp.Status = "degraded"
		}
	}
	if s.checks.LastPrice != nil {
		if res, at := s.checks.LastPrice(); res != nil {
			resp.LastPriceAt = &at
			resp.LastPriceSource = res.Source
		}
	}

	writeJSON(w, status, resp)
}
