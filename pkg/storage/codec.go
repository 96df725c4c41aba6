package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

type tokenRecord struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

type balanceRecord struct {
	Owner  common.Address `json:"owner"`
	Amount *uint256.Int   `json:"amount"`
}

type nonceRecord struct {
	Owner common.Address `json:"owner"`
	Nonce uint64         `json:"nonce"`
}

type metaRecord struct {
	Height  int64     `json:"height"`
	AppHash abci.Hash `json:"app_hash"`
}
