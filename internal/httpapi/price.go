package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/agatticelli/safeswap-quoter/internal/pricefeed"
)

type priceSnapshotResponse struct {
	USD    float64  `json:"usd"`
	Native *float64 `json:"native,omitempty"`
	Src    string   `json:"src"`
	TS     int64    `json:"ts"`
	Cached bool     `json:"cached"`
	TTL    int64    `json:"ttl"`
	Stale  bool     `json:"stale,omitempty"`
	Note   string   `json:"note,omitempty"`
}

// handlePriceSnapshot serves the read-through price; ?refresh=1 bypasses
// the TTL
func (s *Server) handlePriceSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, r, &pricefeed.NoPriceAvailableError{Cause: errors.New("price feed not configured")})
		return
	}
	force := r.URL.Query().Get("refresh") == "1"

	snap, err := s.snapshots.Get(r.Context(), force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := priceSnapshotResponse{
		USD:    snap.Price.USD,
		Src:    snap.Price.Source,
		TS:     snap.TS.UnixMilli(),
		Cached: snap.Cached,
		TTL:    snap.TTL.Milliseconds(),
		Stale:  snap.Stale,
		Note:   snap.Note,
	}
	if snap.Price.HasNative {
		native := snap.Price.Native
		resp.Native = &native
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePricebook serves the price feed result with its stale flags
func (s *Server) handlePricebook(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		s.writeError(w, r, &pricefeed.NoPriceAvailableError{Cause: errors.New("price feed not configured")})
		return
	}
	res, err := s.prices.GetPrice(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	if !common.IsHexAddress(raw) {
		if t, ok := s.tokens.Lookup(raw); ok {
			writeJSON(w, http.StatusOK, viewOf(t))
			return
		}
		s.writeError(w, r, badRequest("address must be a 20-byte hex address or a known symbol"))
		return
	}

	addr := common.HexToAddress(raw)
	if t, ok := s.tokens.LookupAddress(addr); ok {
		writeJSON(w, http.StatusOK, viewOf(t))
		return
	}
	if s.tokenMeta == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown_token"})
		return
	}

	md, err := s.tokenMeta.Metadata(r.Context(), addr)
	if err != nil {
		s.logger.WarnContext(r.Context(), "token metadata read failed", "token", addr.Hex(), "error", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: codeUpstream, Message: "could not read token metadata"})
		return
	}
	writeJSON(w, http.StatusOK, tokenView{Symbol: md.Symbol, Address: md.Address.Hex(), Decimals: md.Decimals})
}
