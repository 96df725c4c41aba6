package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/market"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/exchange"
	"github.com/uhyunpark/hyperswap/pkg/feed"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// ============================================================================
// Blocks
// ============================================================================

func (s *PebbleStore) SaveBlock(b sequencer.Block) error {
	val, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}
	if err := s.db.Set(blockKey(b.Height), val, pebble.Sync); err != nil {
		return fmt.Errorf("save block: %w", err)
	}
	return nil
}

func (s *PebbleStore) BlockByHeight(height int64) (sequencer.Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if errors.Is(err, pebble.ErrNotFound) {
		return sequencer.Block{}, false, nil
	}
	if err != nil {
		return sequencer.Block{}, false, fmt.Errorf("get block: %w", err)
	}
	defer closer.Close()
	var out sequencer.Block
	if err := decodeGob(val, &out); err != nil {
		return sequencer.Block{}, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return out, true, nil
}

// LoadBlock is BlockByHeight for callers outside the sequencer.
func (s *PebbleStore) LoadBlock(height int64) (sequencer.Block, bool, error) {
	return s.BlockByHeight(height)
}

func (s *PebbleStore) Latest() (sequencer.Block, bool, error) {
	prefix := []byte(prefixBlock)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return sequencer.Block{}, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return sequencer.Block{}, false, iter.Error()
	}
	var out sequencer.Block
	if err := decodeGob(iter.Value(), &out); err != nil {
		return sequencer.Block{}, false, fmt.Errorf("decode latest block: %w", err)
	}
	return out, true, nil
}

// ============================================================================
// Application state
// ============================================================================

// SaveCommit replaces the stored state with cp.State and appends the block's events,
// all in one synced batch.
func (s *PebbleStore) SaveCommit(cp *exchange.Checkpoint) error {
	if cp.State == nil {
		return fmt.Errorf("checkpoint %d has no state", cp.Height)
	}
	b := s.db.NewBatch()
	defer b.Close()

	for _, p := range statePrefixes {
		if err := b.DeleteRange([]byte(p), keyUpperBound([]byte(p)), nil); err != nil {
			return fmt.Errorf("clear %s: %w", p, err)
		}
	}
	if err := writeState(b, cp.State); err != nil {
		return err
	}
	for _, env := range cp.Events {
		if err := putJSON(b, eventKey(env.Height, env.Seq), env); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if err := putJSON(b, keyMeta, metaRecord{Height: cp.Height, AppHash: cp.AppHash}); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func writeState(b *pebble.Batch, st *exchange.Snapshot) error {
	for _, a := range st.Assets {
		if err := putJSON(b, assetKey(a.Address), a); err != nil {
			return fmt.Errorf("write asset: %w", err)
		}
	}
	for side, orders := range map[orderbook.Side][]orderbook.Order{orderbook.Buy: st.Buys, orderbook.Sell: st.Sells} {
		for i, o := range orders {
			if err := putJSON(b, bookKey(side, i), o); err != nil {
				return fmt.Errorf("write order: %w", err)
			}
		}
	}
	for _, t := range st.Tokens {
		if err := putJSON(b, tokenKey(t.Address), tokenRecord{Address: t.Address, Symbol: t.Symbol, Decimals: t.Decimals}); err != nil {
			return fmt.Errorf("write token: %w", err)
		}
		for owner, amt := range t.Balances {
			if err := putJSON(b, balanceKey(t.Address, owner), balanceRecord{Owner: owner, Amount: amt}); err != nil {
				return fmt.Errorf("write balance: %w", err)
			}
		}
		for _, a := range t.Allowances {
			if err := putJSON(b, allowanceKey(t.Address, a.Owner, a.Spender), a); err != nil {
				return fmt.Errorf("write allowance: %w", err)
			}
		}
	}
	for owner, amt := range st.Payments {
		if err := putJSON(b, paymentKey(owner), balanceRecord{Owner: owner, Amount: amt}); err != nil {
			return fmt.Errorf("write payment: %w", err)
		}
	}
	for owner, n := range st.Nonces {
		if err := putJSON(b, nonceKey(owner), nonceRecord{Owner: owner, Nonce: n}); err != nil {
			return fmt.Errorf("write nonce: %w", err)
		}
	}
	return nil
}

// LoadState returns the state saved by the last SaveCommit. It reports false on a
// fresh database.
func (s *PebbleStore) LoadState() (*exchange.Snapshot, bool, error) {
	val, closer, err := s.db.Get(keyMeta)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get meta: %w", err)
	}
	var meta metaRecord
	err = json.Unmarshal(val, &meta)
	closer.Close()
	if err != nil {
		return nil, false, fmt.Errorf("decode meta: %w", err)
	}

	st := &exchange.Snapshot{
		Height:   meta.Height,
		AppHash:  meta.AppHash,
		Payments: make(map[common.Address]*uint256.Int),
		Nonces:   make(map[common.Address]uint64),
	}

	if err := scanJSON(s.db, []byte(prefixAsset), func(a market.Asset) { st.Assets = append(st.Assets, a) }); err != nil {
		return nil, false, err
	}
	if err := scanJSON(s.db, bookPrefix(orderbook.Buy), func(o orderbook.Order) { st.Buys = append(st.Buys, o) }); err != nil {
		return nil, false, err
	}
	if err := scanJSON(s.db, bookPrefix(orderbook.Sell), func(o orderbook.Order) { st.Sells = append(st.Sells, o) }); err != nil {
		return nil, false, err
	}

	var tokens []tokenRecord
	if err := scanJSON(s.db, []byte(prefixToken), func(t tokenRecord) { tokens = append(tokens, t) }); err != nil {
		return nil, false, err
	}
	for _, t := range tokens {
		ts := exchange.TokenState{
			Address:  t.Address,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Balances: make(map[common.Address]*uint256.Int),
		}
		if err := scanJSON(s.db, balancePrefix(t.Address), func(r balanceRecord) { ts.Balances[r.Owner] = r.Amount }); err != nil {
			return nil, false, err
		}
		if err := scanJSON(s.db, allowancePrefix(t.Address), func(a ledger.Allowance) { ts.Allowances = append(ts.Allowances, a) }); err != nil {
			return nil, false, err
		}
		st.Tokens = append(st.Tokens, ts)
	}

	if err := scanJSON(s.db, []byte(prefixPayment), func(r balanceRecord) { st.Payments[r.Owner] = r.Amount }); err != nil {
		return nil, false, err
	}
	if err := scanJSON(s.db, []byte(prefixNonce), func(r nonceRecord) { st.Nonces[r.Owner] = r.Nonce }); err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// LoadEvents returns the events committed at height in emission order.
func (s *PebbleStore) LoadEvents(height int64) ([]feed.Envelope, error) {
	var out []feed.Envelope
	err := scanJSON(s.db, eventPrefix(height), func(e feed.Envelope) { out = append(out, e) })
	return out, err
}

func putJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, data, nil)
}

// scanJSON decodes every value under prefix in key order.
func scanJSON[T any](db *pebble.DB, prefix []byte, fn func(T)) error {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		fn(v)
	}
	return iter.Error()
}

var (
	_ sequencer.BlockStore = (*PebbleStore)(nil)
	_ exchange.Persister   = (*PebbleStore)(nil)
)
