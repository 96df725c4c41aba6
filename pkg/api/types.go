package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/feed"
)

// API response types for REST endpoints and WebSocket messages. Amounts are decimal
// strings in smallest units.

// ==============================
// REST Response Types
// ==============================

type AssetInfo struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Status   string         `json:"status"` // "Active", "Paused", "Delisted"
}

func assetInfo(a market.Asset) AssetInfo {
	return AssetInfo{Symbol: a.Symbol, Address: a.Address, Decimals: a.Decimals, Status: a.Status.String()}
}

type OrderInfo struct {
	Index     int            `json:"index"`
	Owner     common.Address `json:"owner"`
	Asset     common.Address `json:"asset"`
	Side      string         `json:"side"`
	Amount    *uint256.Int   `json:"amount"`
	UnitPrice *uint256.Int   `json:"unitPrice"` // payment units per whole asset unit
}

func orderInfo(i int, o orderbook.Order) OrderInfo {
	return OrderInfo{
		Index:     i,
		Owner:     o.Owner,
		Asset:     o.Asset,
		Side:      o.Side.String(),
		Amount:    o.Amount,
		UnitPrice: o.UnitPrice,
	}
}

// BookResponse lists one side of the book in sequence order.
type BookResponse struct {
	Side   string      `json:"side"`
	Height int64       `json:"height"`
	Count  int         `json:"count"`
	Orders []OrderInfo `json:"orders"`
}

type BlockResponse struct {
	Height   int64           `json:"height"`
	Hash     abci.Hash       `json:"hash"`
	Parent   abci.Hash       `json:"parent"`
	Time     time.Time       `json:"time"`
	AppHash  abci.Hash       `json:"appHash"`
	TxCount  int             `json:"txCount"`
	Receipts []abci.TxResult `json:"receipts"`
	Events   []feed.Envelope `json:"events"`
}

type ChainStatus struct {
	Height      int64     `json:"height"`
	AppHash     abci.Hash `json:"appHash"`
	MempoolSize int       `json:"mempoolSize"` // pending transactions
}

type SubmitTxResponse struct {
	Status string      `json:"status"` // "submitted"
	Hash   common.Hash `json:"hash"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "events", "book:buy", "book:sell"
}

// WSAck confirms a subscription change.
type WSAck struct {
	Type     string   `json:"type"` // "subscribed" or "unsubscribed"
	Channels []string `json:"channels"`
}

// EventMessage carries one committed engine event.
type EventMessage struct {
	Type string        `json:"type"` // "event"
	Data feed.Envelope `json:"data"`
}

// BookUpdate is broadcast after every block
type BookUpdate struct {
	Type   string      `json:"type"` // "book"
	Side   string      `json:"side"`
	Height int64       `json:"height"`
	Orders []OrderInfo `json:"orders"`
}
