// Package abci is the contract between the block producer and the exchange
// application, shaped after ABCI++: the producer asks the app to propose txs, checks
// the proposal, has the app execute it and finally tells the app the block is durable.
package abci

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte("0x" + h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	s := strings.TrimPrefix(string(b), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(raw))
	}
	copy(h[:], raw)
	return nil
}

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height int64
	Time   time.Time
	Txs    [][]byte
}

const (
	CodeOK       uint32 = 0
	CodeRejected uint32 = 1 // malformed, bad signature or bad nonce; nonce untouched
	CodeFailed   uint32 = 2 // verified but the operation failed and was reverted
)

// TxResult is the receipt of one transaction.
type TxResult struct {
	Hash Hash   `json:"hash"`
	Type string `json:"type"`
	Code uint32 `json:"code"`
	Log  string `json:"log,omitempty"`
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	Events    int // events emitted by the block
	AppHash   Hash
}

type ResponseCommit struct{ Height int64 }

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
	// Commit is called once the block is stored. The app makes the block's state
	// final and publishes its effects.
	Commit() (ResponseCommit, error)
}
