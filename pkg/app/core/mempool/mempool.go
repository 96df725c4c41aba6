package mempool

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TxType is the bucket a raw transaction is queued in.
type TxType int

const (
	TxApprove TxType = iota
	TxCancel
	TxPlace
)

var ErrFull = errors.New("mempool full")

// ClassifyRaw buckets a raw transaction by its JSON envelope:
//
//	{"type": "approve", ...} -> TxApprove
//	{"type": "cancel", ...}  -> TxCancel
//	anything else            -> TxPlace
//
// Malformed transactions land in TxPlace and are rejected when the block applies them.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxPlace
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxPlace
	}
	switch envelope.Type {
	case "approve":
		return TxApprove
	case "cancel":
		return TxCancel
	default:
		return TxPlace
	}
}

type entry struct {
	raw    []byte
	bucket TxType
	seq    uint64

	signed bool
	signer common.Address
	nonce  uint64
}

// Mempool drains transactions in the bucket order approve -> cancel -> place, so a
// block applies allowances before the sells that need them and frees escrow before
// new orders arrive.
//
// Transactions pushed with a signer are never reordered past each other: a signer's
// transactions leave in nonce order, and a later one is held back to the bucket of an
// earlier one when its own bucket would run it first.
type Mempool struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	pending []entry
}

// NewMempool returns a mempool holding at most max transactions; max <= 0 is unbounded.
func NewMempool(max int) *Mempool {
	return &Mempool{max: max}
}

// PushRaw classifies and enqueues a copy of b with no ordering constraint beyond its
// bucket.
func (m *Mempool) PushRaw(b []byte) error {
	return m.push(entry{raw: b})
}

// Push enqueues a copy of b signed by signer with the given nonce.
func (m *Mempool) Push(b []byte, signer common.Address, nonce uint64) error {
	return m.push(entry{raw: b, signed: true, signer: signer, nonce: nonce})
}

func (m *Mempool) push(e entry) error {
	e.raw = append([]byte(nil), e.raw...)
	e.bucket = ClassifyRaw(e.raw)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.pending) >= m.max {
		return ErrFull
	}
	m.seq++
	e.seq = m.seq
	m.pending = append(m.pending, e)
	return nil
}

// SelectForProposal removes and returns up to maxBytes worth of txs. A tx that does
// not fit stays queued together with every later tx of the same signer; smaller txs
// of other signers may still be taken.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := proposalOrder(m.pending)

	var (
		out     [][]byte
		used    int64
		rest    []entry
		blocked = make(map[common.Address]bool)
	)
	for _, e := range ordered {
		n := int64(len(e.raw))
		if (e.signed && blocked[e.signer]) || (maxBytes > 0 && used+n > maxBytes) {
			if e.signed {
				blocked[e.signer] = true
			}
			rest = append(rest, e)
			continue
		}
		out = append(out, e.raw)
		used += n
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].seq < rest[j].seq })
	m.pending = rest
	return out
}

// proposalOrder sorts by effective bucket, then arrival. Each signer's txs are first
// put in nonce order; a tx's effective bucket is the highest bucket among itself and
// the signer's earlier nonces, and its arrival is the earliest among itself and the
// signer's later nonces. Both keys are then monotone along a signer's nonces.
func proposalOrder(pending []entry) []entry {
	type keyed struct {
		entry
		eff TxType
		pos uint64
	}
	out := make([]keyed, len(pending))
	bySigner := make(map[common.Address][]int)
	for i, e := range pending {
		out[i] = keyed{entry: e, eff: e.bucket, pos: e.seq}
		if e.signed {
			bySigner[e.signer] = append(bySigner[e.signer], i)
		}
	}

	for _, idx := range bySigner {
		sort.SliceStable(idx, func(a, b int) bool { return out[idx[a]].nonce < out[idx[b]].nonce })
		for k := 1; k < len(idx); k++ {
			if prev := out[idx[k-1]].eff; prev > out[idx[k]].eff {
				out[idx[k]].eff = prev
			}
		}
		for k := len(idx) - 2; k >= 0; k-- {
			if next := out[idx[k+1]].pos; next < out[idx[k]].pos {
				out[idx[k]].pos = next
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.eff != b.eff {
			return a.eff < b.eff
		}
		if a.pos != b.pos {
			return a.pos < b.pos
		}
		return a.signed && b.signed && a.signer == b.signer && a.nonce < b.nonce
	})

	res := make([]entry, len(out))
	for i, k := range out {
		res[i] = k.entry
	}
	return res
}

func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
