package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// Key schema. Numbers are zero-padded so that pebble's byte order is numeric order.
//
//	asset:{asset}                   → market.Asset
//	book:{side}:{index}             → orderbook.Order, in sequence order
//	tok:{token}                     → tokenRecord
//	bal:{token}:{owner}             → balanceRecord
//	alw:{token}:{owner}:{spender}   → ledger.Allowance
//	pay:{owner}                     → balanceRecord
//	nonce:{owner}                   → nonceRecord
//	meta:height                     → metaRecord
//	blk:{height}                    → sequencer.Block (gob)
//	evt:{height}:{seq}              → feed.Envelope
const (
	prefixAsset     = "asset:"
	prefixBook      = "book:"
	prefixToken     = "tok:"
	prefixBalance   = "bal:"
	prefixAllowance = "alw:"
	prefixPayment   = "pay:"
	prefixNonce     = "nonce:"
	prefixBlock     = "blk:"
	prefixEvent     = "evt:"
)

var keyMeta = []byte("meta:height")

// statePrefixes are rewritten in full on every commit.
var statePrefixes = []string{
	prefixAsset, prefixBook, prefixToken, prefixBalance, prefixAllowance, prefixPayment, prefixNonce,
}

func assetKey(addr common.Address) []byte {
	return []byte(prefixAsset + addr.Hex())
}

func bookKey(side orderbook.Side, index int) []byte {
	return []byte(fmt.Sprintf("%s%d:%010d", prefixBook, side, index))
}

func bookPrefix(side orderbook.Side) []byte {
	return []byte(fmt.Sprintf("%s%d:", prefixBook, side))
}

func tokenKey(token common.Address) []byte {
	return []byte(prefixToken + token.Hex())
}

func balanceKey(token, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, token.Hex(), owner.Hex()))
}

func balancePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, token.Hex()))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%s", prefixAllowance, token.Hex(), owner.Hex(), spender.Hex()))
}

func allowancePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAllowance, token.Hex()))
}

func paymentKey(owner common.Address) []byte {
	return []byte(prefixPayment + owner.Hex())
}

func nonceKey(owner common.Address) []byte {
	return []byte(prefixNonce + owner.Hex())
}

func blockKey(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

func eventKey(height int64, seq int) []byte {
	return []byte(fmt.Sprintf("%s%020d:%06d", prefixEvent, height, seq))
}

func eventPrefix(height int64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixEvent, height))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
