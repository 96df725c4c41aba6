package sequencer

import (
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

type Block struct {
	Height   int64
	Parent   abci.Hash
	Time     time.Time
	Txs      [][]byte
	AppHash  abci.Hash       // state after executing the block
	Receipts []abci.TxResult // one per tx, in order
}

// HashOfBlock commits to the block header and its transactions. AppHash and receipts
// are results of execution and are left out, so the hash is known before the block
// runs.
func HashOfBlock(b Block) abci.Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.UnixNano()))
	h.Write(buf[:])

	// Length-prefixed so that different splits of the same bytes differ.
	for _, tx := range b.Txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		h.Write(buf[:])
		h.Write(tx)
	}

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// BlockStore keeps produced blocks. Implementations: MemStore, storage.PebbleStore.
type BlockStore interface {
	SaveBlock(b Block) error
	BlockByHeight(height int64) (Block, bool, error)
	// Latest returns the highest stored block.
	Latest() (Block, bool, error)
}

type WAL interface {
	Append(line string)
}
