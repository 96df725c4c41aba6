package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/engine"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/exchange"
	"github.com/uhyunpark/hyperswap/pkg/feed"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

const maxTxBytes = 64 << 10

// BlockReader serves block history. storage.PebbleStore implements it.
type BlockReader interface {
	LoadBlock(height int64) (sequencer.Block, bool, error)
	LoadEvents(height int64) ([]feed.Envelope, error)
}

type Config struct {
	App            *exchange.App
	Blocks         BlockReader  // optional; /blocks answers 404 without it
	Metrics        http.Handler // optional; served on /metrics
	AllowedOrigins []string
	Logger         *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *exchange.App
	blocks  BlockReader
	metrics http.Handler
	origins []string
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = util.Nop()
	}
	s := &Server{
		app:     cfg.App,
		blocks:  cfg.Blocks,
		metrics: cfg.Metrics,
		origins: cfg.AllowedOrigins,
		router:  mux.NewRouter(),
		hub:     NewHub(cfg.Logger),
		log:     cfg.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	api.HandleFunc("/assets/{address}", s.handleGetAsset).Methods("GET")

	api.HandleFunc("/books/{side}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/books/{side}/{index:[0-9]+}", s.handleGetBookEntry).Methods("GET")
	api.HandleFunc("/orders/{owner}/{asset}/{side}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")

	api.HandleFunc("/blocks/{height:[0-9]+}", s.handleGetBlock).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Hub is the websocket hub; add it to the node's feed to stream events.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Serve listens on addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets := s.app.Assets()
	response := make([]AssetInfo, len(assets))
	for i, a := range assets {
		response[i] = assetInfo(a)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	a, err := s.app.Asset(addr)
	if errors.Is(err, market.ErrAssetNotFound) {
		respondError(w, http.StatusNotFound, "asset not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load asset", err.Error())
		return
	}
	respondJSON(w, assetInfo(a))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	side, ok := sideVar(w, r)
	if !ok {
		return
	}
	orders := s.app.Book(side)
	response := BookResponse{
		Side:   side.String(),
		Height: s.app.Height(),
		Count:  len(orders),
		Orders: make([]OrderInfo, len(orders)),
	}
	for i, o := range orders {
		response.Orders[i] = orderInfo(i, o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBookEntry(w http.ResponseWriter, r *http.Request) {
	side, ok := sideVar(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid index", err.Error())
		return
	}
	order, err := s.app.OrderEntry(side, index)
	if err != nil {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	respondJSON(w, orderInfo(index, order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	owner, ok := addressVar(w, r, "owner")
	if !ok {
		return
	}
	asset, ok := addressVar(w, r, "asset")
	if !ok {
		return
	}
	side, ok := sideVar(w, r)
	if !ok {
		return
	}
	detail, err := s.app.OrderDetail(owner, asset, side)
	if errors.Is(err, engine.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "order not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order query", err.Error())
		return
	}

	// The index is not part of the key; -1 marks it as unknown.
	o := orderInfo(-1, orderbook.Order{Key: orderbook.Key{Owner: owner, Asset: asset}, Side: side, Detail: detail})
	respondJSON(w, o)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	respondJSON(w, s.app.Account(addr))
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	if s.blocks == nil {
		respondError(w, http.StatusNotFound, "block history disabled", "")
		return
	}
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, ok, err := s.blocks.LoadBlock(height)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load block", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	events, err := s.blocks.LoadEvents(height)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load events", err.Error())
		return
	}
	if events == nil {
		events = []feed.Envelope{}
	}
	respondJSON(w, BlockResponse{
		Height:   b.Height,
		Hash:     sequencer.HashOfBlock(b),
		Parent:   b.Parent,
		Time:     b.Time,
		AppHash:  b.AppHash,
		TxCount:  len(b.Txs),
		Receipts: b.Receipts,
		Events:   events,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ChainStatus{
		Height:      s.app.Height(),
		AppHash:     s.app.AppHash(),
		MempoolSize: s.app.MempoolSize(),
	})
}

// handleSubmitTx checks a signed transaction and queues it. Acceptance only means the
// signature and nonce were valid; the block receipt carries the outcome.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	hash, err := s.app.SubmitTx(body)
	if errors.Is(err, mempool.ErrFull) {
		respondError(w, http.StatusServiceUnavailable, "mempool full", err.Error())
		return
	}
	if err != nil {
		s.log.Debugw("tx_refused", "err", err)
		respondError(w, http.StatusBadRequest, "transaction refused", err.Error())
		return
	}

	s.log.Debugw("tx_submitted", "hash", hash.Hex(), "bytes", len(body))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{Status: "submitted", Hash: hash})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called after each block)
// ==============================

// BroadcastBook sends both book sides to their channel subscribers.
func (s *Server) BroadcastBook(height int64) {
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		orders := s.app.Book(side)
		update := BookUpdate{Type: "book", Side: side.String(), Height: height, Orders: make([]OrderInfo, len(orders))}
		for i, o := range orders {
			update.Orders[i] = orderInfo(i, o)
		}
		s.hub.BroadcastToChannel(channelBook+side.String(), update)
	}
}

// ==============================
// Helper Functions
// ==============================

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	v := mux.Vars(r)[name]
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func sideVar(w http.ResponseWriter, r *http.Request) (orderbook.Side, bool) {
	side, err := orderbook.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid side", err.Error())
		return 0, false
	}
	return side, true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
