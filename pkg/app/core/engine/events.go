package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

const (
	KindOrderPlaced   = "order_placed"
	KindOrderMatched  = "order_matched"
	KindOrderCanceled = "order_canceled"
)

// Event is something observers learn about once the operation that produced it has
// committed.
type Event interface {
	Kind() string
}

type OrderPlaced struct {
	Owner     common.Address `json:"owner"`
	Asset     common.Address `json:"asset"`
	Amount    *uint256.Int   `json:"amount"`
	UnitPrice *uint256.Int   `json:"unitPrice"`
	Side      orderbook.Side `json:"side"`
	Timestamp time.Time      `json:"timestamp"`
}

// OrderMatched is emitted once per counter-order filled. Owner and Side describe the
// order being placed; Counterparty owns the resting order.
type OrderMatched struct {
	Owner        common.Address `json:"owner"`
	Counterparty common.Address `json:"counterparty"`
	Asset        common.Address `json:"asset"`
	TradeAmount  *uint256.Int   `json:"tradeAmount"`
	UnitPrice    *uint256.Int   `json:"unitPrice"`
	Side         orderbook.Side `json:"side"`
	Timestamp    time.Time      `json:"timestamp"`
}

type OrderCanceled struct {
	Owner     common.Address `json:"owner"`
	Asset     common.Address `json:"asset"`
	Side      orderbook.Side `json:"side"`
	Timestamp time.Time      `json:"timestamp"`
}

func (OrderPlaced) Kind() string   { return KindOrderPlaced }
func (OrderMatched) Kind() string  { return KindOrderMatched }
func (OrderCanceled) Kind() string { return KindOrderCanceled }
