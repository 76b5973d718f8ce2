// Package api is the read-only HTTP/WebSocket query surface over chain
// head state, plus pending-transaction submission into the mempool
// (spec §6 Outputs: "Head state: object-store snapshot keyed by (kind,
// instance)", "Block & chain parameters: read-through the singleton
// global and dynamic-global properties", "Applied operation stream").
//
// Grounded on the teacher's pkg/api (gorilla/mux router, rs/cors
// wrapper, a Hub/Client websocket pub-sub for broadcast), generalized
// from the teacher's fixed perp-market/position endpoints to the
// ledger's asset/account/order/chain-status endpoints, reading through
// chain.Database rather than perp.App.
package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ledgerforge/chain/pkg/entity"
	"github.com/ledgerforge/chain/pkg/market"
	"github.com/ledgerforge/chain/pkg/mempool"
	"github.com/ledgerforge/chain/pkg/node"
	"github.com/ledgerforge/chain/pkg/ops"
	"github.com/ledgerforge/chain/pkg/types"
	"go.uber.org/zap"
)

// Server serves the read-only query API over a *node.Node and accepts
// pending transactions into a shared *mempool.Mempool.
type Server struct {
	N       *node.Node
	Pending *mempool.Mempool
	Log     *zap.SugaredLogger
	router  *mux.Router
	hub     *Hub
}

func NewServer(n *node.Node, pending *mempool.Mempool, log *zap.SugaredLogger) *Server {
	s := &Server{N: n, Pending: pending, Log: log, router: mux.NewRouter(), hub: NewHub()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/chain/status", s.handleChainStatus).Methods("GET")
	api.HandleFunc("/assets/{symbol}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/accounts/{name}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{name}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/markets/{base}/{quote}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/transactions", s.handleSubmitTransaction).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the HTTP server, wrapped in CORS the way the teacher's
// query API is for browser-facing read surfaces (SPEC_FULL.md DOMAIN
// STACK: rs/cors "CORS wrapper for the query API").
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.Log.Infow("api server starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleChainStatus(w http.ResponseWriter, r *http.Request) {
	s.N.DB.RLock()
	defer s.N.DB.RUnlock()
	dgp := s.N.DB.DynamicGlobalProperty()
	respondJSON(w, ChainStatus{
		HeadBlockNumber:     dgp.HeadBlockNumber,
		HeadBlockTimeUnix:   dgp.HeadBlockTimeUnix,
		NextMaintenanceUnix: dgp.NextMaintenanceTimeUnix,
		CurrentWitness:      dgp.CurrentWitness.String(),
		ParticipationRate:   s.N.Schedule.ParticipationRate(),
		MempoolSize:         s.Pending.Len(),
	})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	s.N.DB.RLock()
	defer s.N.DB.RUnlock()
	a, ok := s.N.DB.Assets.Find("symbol", symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "asset not found", symbol)
		return
	}
	respondJSON(w, AssetInfo{
		Symbol: a.Symbol, Issuer: a.Issuer.String(), Precision: a.Precision,
		CurrentSupply: a.CurrentSupply, AccumulatedFees: a.AccumulatedFees,
		MarketFeeBp: a.MarketFeeBp, IsMarketPegged: a.IsMarketPegged(),
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.N.DB.RLock()
	defer s.N.DB.RUnlock()
	acc, ok := s.N.DB.Accounts.Find("name", name)
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", name)
		return
	}
	stats, _ := s.N.DB.AccountStats.Find("account", acc.ID.String())
	resp := AccountInfo{
		Name: acc.Name, OwnerThreshold: acc.Owner.Threshold, ActiveThreshold: acc.Active.Threshold,
		MembershipExpiration: acc.MembershipExpiration,
	}
	if stats != nil {
		resp.TotalCoreInOrders = stats.TotalCoreInOrders
		resp.LifetimeFeesPaid = stats.LifetimeFeesPaid
		resp.PendingFees = stats.PendingFees
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	s.N.DB.RLock()
	defer s.N.DB.RUnlock()
	acc, ok := s.N.DB.Accounts.Find("name", name)
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", name)
		return
	}
	var out []BalanceInfo
	s.N.DB.Balances.All(func(b *entity.Balance) bool {
		if b.Owner == acc.ID {
			symbol := b.Asset.String()
			if a, ok := s.N.DB.Assets.Get(b.Asset); ok {
				symbol = a.Symbol
			}
			out = append(out, BalanceInfo{Asset: symbol, Amount: b.Amount})
		}
		return true
	})
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	baseSym, quoteSym := vars["base"], vars["quote"]
	s.N.DB.RLock()
	defer s.N.DB.RUnlock()
	baseAsset, ok := s.N.DB.Assets.Find("symbol", baseSym)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown base asset", baseSym)
		return
	}
	quoteAsset, ok := s.N.DB.Assets.Find("symbol", quoteSym)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown quote asset", quoteSym)
		return
	}
	snap := OrderbookSnapshot{Base: baseSym, Quote: quoteSym}
	market.AllForPair(s.N.DB, baseAsset.ID, quoteAsset.ID, func(o *entity.LimitOrder) {
		info := OrderInfo{
			ID: o.ID.String(), Seller: o.Seller.String(),
			Base: o.SellPrice.Base.AssetID.String(), Quote: o.SellPrice.Quote.AssetID.String(),
			PriceBase: o.SellPrice.Base.Amount, PriceQuote: o.SellPrice.Quote.Amount,
			ForSale: o.ForSale, Expiration: o.Expiration,
		}
		if o.SellPrice.Base.AssetID == baseAsset.ID {
			snap.Asks = append(snap.Asks, info)
		} else {
			snap.Bids = append(snap.Bids, info)
		}
	})
	respondJSON(w, snap)
}

// handleSubmitTransaction decodes a JSON transaction envelope, hex-
// decodes its signatures, and admits it into the mempool (spec §6
// Inputs "Transaction (pending)"). It does not apply the transaction —
// application only happens as part of a block (spec §5 "writes occur
// only through the block-application path").
func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", err.Error())
		return
	}
	tx := ops.Transaction{Operations: req.Operations, Expiration: req.Expiration}
	for _, sigHex := range req.Signatures {
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid signature hex", err.Error())
			return
		}
		tx.Signatures = append(tx.Signatures, sig)
	}

	s.N.DB.RLock()
	now := s.N.DB.DynamicGlobalProperty().HeadBlockTimeUnix
	s.N.DB.RUnlock()

	if err := s.Pending.Push(tx, now); err != nil {
		respondError(w, http.StatusBadRequest, "transaction rejected", err.Error())
		return
	}
	digest, _ := tx.Digest()
	respondJSON(w, SubmitTransactionResponse{Status: "pending", Digest: fmt.Sprintf("%x", digest)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// BroadcastFill publishes one synthetic fill_order event over the
// WebSocket "fills" channel (spec §6 Outputs "Applied operation
// stream ... including synthetic fill_order operations from
// matching").
func (s *Server) BroadcastFill(blockNumber uint64, taker, maker types.ID, price types.Price, baseFilled, quoteFilled int64) {
	s.hub.BroadcastToChannel("fills", FillEvent{
		BlockNumber: blockNumber, TakerOrder: taker.String(), MakerOrder: maker.String(),
		PriceBase: price.Base.Amount, PriceQuote: price.Quote.Amount,
		BaseFilled: baseFilled, QuoteFilled: quoteFilled,
	})
}

// BroadcastAppliedOp publishes one applied-operation record over the
// WebSocket "ops" channel.
func (s *Server) BroadcastAppliedOp(blockNumber uint64, opType, feePayer string) {
	s.hub.BroadcastToChannel("ops", AppliedOp{BlockNumber: blockNumber, Type: opType, FeePayer: feePayer})
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg, Detail: detail})
}
