package exchange

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/custody"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// applyTx runs one raw transaction. A transaction that does not parse, verify or carry
// a fresh nonce is rejected without touching state. Once it verifies, its nonce is
// spent even if the operation itself fails and is reverted.
func (a *App) applyTx(ctx context.Context, raw []byte) abci.TxResult {
	res := abci.TxResult{Hash: abci.Hash(transaction.Hash(raw))}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		res.Code, res.Log = abci.CodeRejected, err.Error()
		return res
	}
	res.Type = string(tx.Type)

	op, err := a.verifier.Verify(tx)
	if err != nil {
		res.Code, res.Log = abci.CodeRejected, err.Error()
		return res
	}
	if err := a.useNonce(op.Signer, op.Nonce); err != nil {
		res.Code, res.Log = abci.CodeRejected, err.Error()
		return res
	}

	snap := a.journal.Snapshot()
	if err := a.execute(ctx, op); err != nil {
		a.journal.RevertToSnapshot(snap)
		res.Code, res.Log = abci.CodeFailed, err.Error()
		return res
	}
	return res
}

func (a *App) execute(ctx context.Context, op *transaction.Op) error {
	x := a.Executor()
	switch op.Type {
	case transaction.TxTypePlace:
		return x.Place(ctx, op.Signer, op.Asset, op.Amount, op.Total, op.Side)
	case transaction.TxTypeCancel:
		return x.Cancel(ctx, op.Signer, op.Owner, op.Asset, op.Side)
	case transaction.TxTypeApprove:
		return x.Approve(ctx, op.Owner, op.Asset, op.Amount)
	}
	return fmt.Errorf("%w: unknown transaction type: %s", transaction.ErrMalformed, op.Type)
}

// useNonce requires nonces to strictly increase per signer. Gaps are allowed.
func (a *App) useNonce(signer common.Address, nonce uint64) error {
	last, had := a.nonces[signer]
	if nonce <= last {
		return fmt.Errorf("%w: %d, last used %d", ErrNonceTooLow, nonce, last)
	}
	a.nonces[signer] = nonce
	a.journal.Append(func() {
		if had {
			a.nonces[signer] = last
		} else {
			delete(a.nonces, signer)
		}
	})
	return nil
}

// computeAppHash hashes, in order:
//  1. block height and timestamp (big-endian)
//  2. buy then sell orders in sequence order: owner, asset, amount, unit price
//  3. what custody holds of every listed asset, then of the payment currency
//  4. account nonces sorted by address
func (a *App) computeAppHash(height int64, ts time.Time) abci.Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(ts.UnixNano()))
	h.Write(buf[:])

	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		h.Write([]byte{byte(side)})
		for _, o := range a.store.Orders(side) {
			h.Write(o.Owner[:])
			h.Write(o.Asset[:])
			amount, price := o.Amount.Bytes32(), o.UnitPrice.Bytes32()
			h.Write(amount[:])
			h.Write(price[:])
		}
	}

	if holdings, ok := a.gateway.(custody.Holdings); ok {
		for _, asset := range a.registry.List() {
			h.Write(asset.Address[:])
			v := holdings.AssetCustody(asset.Address).Bytes32()
			h.Write(v[:])
		}
		v := holdings.PaymentCustody().Bytes32()
		h.Write(v[:])
	}

	addrs := make([]common.Address, 0, len(a.nonces))
	for addr := range a.nonces {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	for _, addr := range addrs {
		h.Write(addr[:])
		binary.BigEndian.PutUint64(buf[:], a.nonces[addr])
		h.Write(buf[:])
	}

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}
