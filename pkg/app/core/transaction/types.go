package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypePlace   TxType = "place"   // Place order (signed by owner)
	TxTypeCancel  TxType = "cancel"  // Cancel order (signed by caller)
	TxTypeApprove TxType = "approve" // Allow custody to pull an asset (signed by owner)
)

var ErrMalformed = errors.New("malformed transaction")

// SignedTransaction is the JSON envelope accepted by POST /api/v1/tx.
// Exactly one payload matching Type is set.
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Place     *PlacePayload   `json:"place,omitempty"`
	Cancel    *CancelPayload  `json:"cancel,omitempty"`
	Approve   *ApprovePayload `json:"approve,omitempty"`
	Signature string          `json:"signature"` // 0x-prefixed [R || S || V]
}

// PlacePayload mirrors crypto.PlaceOrderEIP712 with decimal strings for big numbers
type PlacePayload struct {
	Asset  string `json:"asset"`
	Side   uint8  `json:"side"` // 1=Buy, 2=Sell
	Amount string `json:"amount"`
	Total  string `json:"total"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

type CancelPayload struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
	Side  uint8  `json:"side"`
	Nonce string `json:"nonce"`
}

type ApprovePayload struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

func parseBig(field, v string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s: %q", ErrMalformed, field, v)
	}
	return n, nil
}

func parseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: invalid %s address: %q", ErrMalformed, field, v)
	}
	return common.HexToAddress(v), nil
}

func (p *PlacePayload) ToEIP712() (*crypto.PlaceOrderEIP712, error) {
	asset, err := parseAddress("asset", p.Asset)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	total, err := parseBig("total", p.Total)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", p.Nonce)
	if err != nil {
		return nil, err
	}
	return &crypto.PlaceOrderEIP712{Asset: asset, Side: p.Side, Amount: amount, Total: total, Nonce: nonce, Owner: owner}, nil
}

func FromPlaceEIP712(o *crypto.PlaceOrderEIP712) *PlacePayload {
	return &PlacePayload{
		Asset:  o.Asset.Hex(),
		Side:   o.Side,
		Amount: o.Amount.String(),
		Total:  o.Total.String(),
		Nonce:  o.Nonce.String(),
		Owner:  o.Owner.Hex(),
	}
}

func (c *CancelPayload) ToEIP712() (*crypto.CancelOrderEIP712, error) {
	owner, err := parseAddress("owner", c.Owner)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", c.Asset)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", c.Nonce)
	if err != nil {
		return nil, err
	}
	return &crypto.CancelOrderEIP712{Owner: owner, Asset: asset, Side: c.Side, Nonce: nonce}, nil
}

func FromCancelEIP712(c *crypto.CancelOrderEIP712) *CancelPayload {
	return &CancelPayload{Owner: c.Owner.Hex(), Asset: c.Asset.Hex(), Side: c.Side, Nonce: c.Nonce.String()}
}

func (a *ApprovePayload) ToEIP712() (*crypto.ApproveEIP712, error) {
	asset, err := parseAddress("asset", a.Asset)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", a.Owner)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", a.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", a.Nonce)
	if err != nil {
		return nil, err
	}
	return &crypto.ApproveEIP712{Asset: asset, Amount: amount, Nonce: nonce, Owner: owner}, nil
}

func FromApproveEIP712(a *crypto.ApproveEIP712) *ApprovePayload {
	return &ApprovePayload{Asset: a.Asset.Hex(), Amount: a.Amount.String(), Nonce: a.Nonce.String(), Owner: a.Owner.Hex()}
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate checks the envelope shape; signatures are checked by Verifier
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	switch tx.Type {
	case TxTypePlace:
		if tx.Place == nil {
			return fmt.Errorf("%w: place type requires place payload", ErrMalformed)
		}
		if tx.Place.Side == 0 {
			return fmt.Errorf("%w: invalid order side", ErrMalformed)
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("%w: cancel type requires cancel payload", ErrMalformed)
		}
		if tx.Cancel.Side == 0 {
			return fmt.Errorf("%w: invalid order side", ErrMalformed)
		}
	case TxTypeApprove:
		if tx.Approve == nil {
			return fmt.Errorf("%w: approve type requires approve payload", ErrMalformed)
		}
	case "":
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown transaction type: %s", ErrMalformed, tx.Type)
	}
	return nil
}

// ParseTransaction decodes and validates raw mempool bytes
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Hash identifies raw transaction bytes in receipts and the API
func Hash(raw []byte) common.Hash {
	return ethCrypto.Keccak256Hash(raw)
}

// Example (place):
//   {
//     "type": "place",
//     "place": {
//       "asset": "0x00000000000000000000000000000000000a55e7",
//       "side": 2,
//       "amount": "5000000000000000000",
//       "total": "25",
//       "nonce": "1",
//       "owner": "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
//     },
//     "signature": "0x..."
//   }
