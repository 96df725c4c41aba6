package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	ErrBadSignature   = errors.New("invalid signature")
	ErrSignerMismatch = errors.New("signer is not the declared owner")
)

// Op is a verified transaction, decoded into engine types.
// Signer is the authenticated caller. For place and approve it equals Owner.
type Op struct {
	Type   TxType
	Signer common.Address
	Owner  common.Address
	Asset  common.Address
	Side   orderbook.Side
	Amount *uint256.Int // place, approve
	Total  *uint256.Int // place
	Nonce  uint64
}

// Verifier checks EIP-712 signatures on transactions
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Domain() crypto.EIP712Domain { return v.eip712Signer.Domain() }

// Verify recovers the signer of tx and decodes its payload
func (v *Verifier) Verify(tx *SignedTransaction) (*Op, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, err
	}

	switch tx.Type {
	case TxTypePlace:
		return v.verifyPlace(tx.Place, sig)
	case TxTypeCancel:
		return v.verifyCancel(tx.Cancel, sig)
	default:
		return v.verifyApprove(tx.Approve, sig)
	}
}

func (v *Verifier) verifyPlace(p *PlacePayload, sig []byte) (*Op, error) {
	order, err := p.ToEIP712()
	if err != nil {
		return nil, err
	}
	signer, err := v.eip712Signer.RecoverPlaceOrder(order, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != order.Owner {
		return nil, fmt.Errorf("%w: signed by %s, owner %s", ErrSignerMismatch, signer.Hex(), order.Owner.Hex())
	}
	op := &Op{Type: TxTypePlace, Signer: signer, Owner: order.Owner, Asset: order.Asset, Side: orderbook.Side(order.Side)}
	if op.Amount, err = toUint256("amount", order.Amount); err != nil {
		return nil, err
	}
	if op.Total, err = toUint256("total", order.Total); err != nil {
		return nil, err
	}
	if op.Nonce, err = toNonce(order.Nonce); err != nil {
		return nil, err
	}
	return op, nil
}

// verifyCancel does not require the signer to be the owner; the engine rejects
// cancels by anyone else.
func (v *Verifier) verifyCancel(c *CancelPayload, sig []byte) (*Op, error) {
	cancel, err := c.ToEIP712()
	if err != nil {
		return nil, err
	}
	signer, err := v.eip712Signer.RecoverCancelOrder(cancel, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	op := &Op{Type: TxTypeCancel, Signer: signer, Owner: cancel.Owner, Asset: cancel.Asset, Side: orderbook.Side(cancel.Side)}
	if op.Nonce, err = toNonce(cancel.Nonce); err != nil {
		return nil, err
	}
	return op, nil
}

func (v *Verifier) verifyApprove(a *ApprovePayload, sig []byte) (*Op, error) {
	approve, err := a.ToEIP712()
	if err != nil {
		return nil, err
	}
	signer, err := v.eip712Signer.RecoverApprove(approve, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if signer != approve.Owner {
		return nil, fmt.Errorf("%w: signed by %s, owner %s", ErrSignerMismatch, signer.Hex(), approve.Owner.Hex())
	}
	op := &Op{Type: TxTypeApprove, Signer: signer, Owner: approve.Owner, Asset: approve.Asset}
	if op.Amount, err = toUint256("amount", approve.Amount); err != nil {
		return nil, err
	}
	if op.Nonce, err = toNonce(approve.Nonce); err != nil {
		return nil, err
	}
	return op, nil
}

func toUint256(field string, b *big.Int) (*uint256.Int, error) {
	out, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows 256 bits", ErrMalformed, field)
	}
	return out, nil
}

func toNonce(b *big.Int) (uint64, error) {
	if !b.IsUint64() {
		return 0, fmt.Errorf("%w: nonce out of range", ErrMalformed)
	}
	return b.Uint64(), nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %w", ErrBadSignature, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrBadSignature, len(sigBytes))
	}
	return sigBytes, nil
}

// EncodeSignature is the inverse of decodeSignature
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}
