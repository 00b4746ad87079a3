package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/agatticelli/safeswap-quoter/internal/platform/config"
	"github.com/agatticelli/safeswap-quoter/internal/platform/worker"
)

const maxBodyBytes = 64 << 10

// quoteRequest is the body of POST /api/quote and each element of
// POST /api/quotes. Exactly one of SellAmount (raw) or Amount (human) is set.
type quoteRequest struct {
	SellToken   string `json:"sellToken"`
	BuyToken    string `json:"buyToken"`
	SellAmount  string `json:"sellAmount,omitempty"`
	Amount      string `json:"amount,omitempty"`
	SlippageBps *int64 `json:"slippageBps,omitempty"`
}

type tokenView struct {
	Symbol   string `json:"symbol,omitempty"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

type quoteResponse struct {
	ID                    string    `json:"id"`
	Router                string    `json:"router"`
	RouterAddress         string    `json:"routerAddress"`
	Path                  []string  `json:"path"`
	SellToken             tokenView `json:"sellToken"`
	BuyToken              tokenView `json:"buyToken"`
	SellAmount            string    `json:"sellAmount"`
	BuyAmount             string    `json:"buyAmount"`
	BuyAmountFormatted    string    `json:"buyAmountFormatted"`
	MinBuyAmount          string    `json:"minBuyAmount"`
	MinBuyAmountFormatted string    `json:"minBuyAmountFormatted"`
	Amounts               []string  `json:"amounts"`
	SlippageBps           int64     `json:"slippageBps"`
	ReflectionPadBps      int64     `json:"reflectionPadBps"`
	Timestamp             time.Time `json:"timestamp"`
}

type batchItem struct {
	Quote *quoteResponse `json:"quote,omitempty"`
	Error *errorBody     `json:"error,omitempty"`
}

func (s *Server) handleQuoteGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := quoteRequest{
		SellToken:  q.Get("sellToken"),
		BuyToken:   q.Get("buyToken"),
		SellAmount: q.Get("sellAmount"),
		Amount:     q.Get("amount"),
	}
	if v := q.Get("slippageBps"); v != "" {
		bps, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, r, badRequest("slippageBps must be an integer"))
			return
		}
		req.SlippageBps = &bps
	}

	resp, err := s.quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQuotePost(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQuoteBatch resolves independent quotes concurrently on the worker
// pool. Results keep request order; one failure does not fail the batch.
func (s *Server) handleQuoteBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []quoteRequest
	if err := decodeBody(w, r, &reqs); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(reqs) == 0 {
		s.writeError(w, r, badRequest("at least one quote request is required"))
		return
	}
	if len(reqs) > s.maxBatch {
		s.writeError(w, r, badRequest(fmt.Sprintf("at most %d quote requests per batch", s.maxBatch)))
		return
	}

	jobs := make([]worker.Job, len(reqs))
	for i, req := range reqs {
		req := req
		jobs[i] = worker.Job{
			ID: strconv.Itoa(i),
			Execute: func(ctx context.Context) (any, error) {
				return s.quote(ctx, req)
			},
		}
	}

	var results []worker.Result
	if s.pool != nil {
		results = s.pool.Run(r.Context(), jobs)
	} else {
		results = make([]worker.Result, len(jobs))
		for i, job := range jobs {
			v, err := job.Execute(r.Context())
			results[i] = worker.Result{JobID: job.ID, Value: v, Err: err}
		}
	}

	items := make([]batchItem, len(results))
	for i, res := range results {
		if res.Err != nil {
			_, body := classify(res.Err)
			items[i].Error = &body
			continue
		}
		items[i].Quote = res.Value.(*quoteResponse)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) quote(ctx context.Context, req quoteRequest) (*quoteResponse, error) {
	if req.SellToken == "" || req.BuyToken == "" {
		return nil, badRequest("sellToken and buyToken are required")
	}
	if (req.SellAmount == "") == (req.Amount == "") {
		return nil, badRequest("exactly one of sellAmount or amount is required")
	}
	slippage := s.slippageBps
	if req.SlippageBps != nil {
		if *req.SlippageBps < 0 || *req.SlippageBps >= 10_000 {
			return nil, badRequest("slippageBps must be in [0, 10000)")
		}
		slippage = *req.SlippageBps
	}

	sell, err := s.token(ctx, req.SellToken)
	if err != nil {
		return nil, err
	}
	buy, err := s.token(ctx, req.BuyToken)
	if err != nil {
		return nil, err
	}

	var amount *big.Int
	if req.SellAmount != "" {
		amount, err = parseRawAmount(req.SellAmount)
	} else {
		amount, err = parseHumanAmount(req.Amount, sell.Decimals)
	}
	if err != nil {
		return nil, err
	}

	q, err := s.resolver.Resolve(ctx, sell.Address, buy.Address, amount)
	if err != nil {
		return nil, err
	}

	minBuy := q.MinBuyAmount(slippage, s.reflectionPadBps)
	resp := &quoteResponse{
		ID:                    q.ID,
		Router:                q.Router,
		RouterAddress:         q.RouterAddress.Hex(),
		Path:                  make([]string, len(q.Path)),
		SellToken:             viewOf(sell),
		BuyToken:              viewOf(buy),
		SellAmount:            q.SellAmount.String(),
		BuyAmount:             q.BuyAmount.String(),
		BuyAmountFormatted:    formatAmount(q.BuyAmount, buy.Decimals),
		MinBuyAmount:          minBuy.String(),
		MinBuyAmountFormatted: formatAmount(minBuy, buy.Decimals),
		Amounts:               make([]string, len(q.Amounts)),
		SlippageBps:           slippage,
		ReflectionPadBps:      s.reflectionPadBps,
		Timestamp:             q.Timestamp,
	}
	for i, hop := range q.Path {
		resp.Path[i] = hop.Hex()
	}
	for i, a := range q.Amounts {
		resp.Amounts[i] = a.String()
	}
	return resp, nil
}

// token resolves a symbol or address, reading decimals from chain for
// addresses the registry does not know
func (s *Server) token(ctx context.Context, symbolOrAddress string) (config.TokenInfo, error) {
	t, err := s.tokens.Resolve(symbolOrAddress)
	if err != nil {
		return config.TokenInfo{}, badRequest(err.Error())
	}
	if t.Symbol != "" || s.tokenMeta == nil {
		return t, nil
	}
	md, err := s.tokenMeta.Metadata(ctx, t.Address)
	if err != nil {
		return config.TokenInfo{}, badRequest(fmt.Sprintf("cannot read token %s: %v", t.Address.Hex(), err))
	}
	t.Symbol, t.Decimals = md.Symbol, md.Decimals
	return t, nil
}

func viewOf(t config.TokenInfo) tokenView {
	return tokenView{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
