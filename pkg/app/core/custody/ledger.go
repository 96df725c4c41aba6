package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
)

// Ledger settles against the in-process asset ledger. Transfers are journaled by the
// ledger, so they roll back with the rest of a failed operation.
type Ledger struct {
	ledger    *ledger.Ledger
	custodian common.Address
}

func NewLedger(l *ledger.Ledger, custodian common.Address) *Ledger {
	return &Ledger{ledger: l, custodian: custodian}
}

func (g *Ledger) Custodian() common.Address { return g.custodian }

func (g *Ledger) token(asset common.Address) (*ledger.Token, error) {
	t, err := g.ledger.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownAsset, err)
	}
	return t, nil
}

func (g *Ledger) Decimals(_ context.Context, asset common.Address) (uint8, error) {
	t, err := g.token(asset)
	if err != nil {
		return 0, err
	}
	return t.Decimals(), nil
}

func (g *Ledger) Allowance(_ context.Context, owner, asset common.Address) (*uint256.Int, error) {
	t, err := g.token(asset)
	if err != nil {
		return nil, err
	}
	return t.Allowance(owner, g.custodian), nil
}

func (g *Ledger) PullAsset(_ context.Context, from, asset common.Address, amount *uint256.Int) error {
	t, err := g.token(asset)
	if err != nil {
		return err
	}
	if err := t.TransferFrom(g.custodian, from, g.custodian, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientAllowance) {
			return fmt.Errorf("%w: %w", ErrAllowanceInsufficient, err)
		}
		return fmt.Errorf("%w: pull %s from %s: %w", ErrTransferFailed, amount.Dec(), from.Hex(), err)
	}
	return nil
}

func (g *Ledger) PushAsset(_ context.Context, to, asset common.Address, amount *uint256.Int) error {
	t, err := g.token(asset)
	if err != nil {
		return err
	}
	if err := t.Transfer(g.custodian, to, amount); err != nil {
		return fmt.Errorf("%w: push %s to %s: %w", ErrTransferFailed, amount.Dec(), to.Hex(), err)
	}
	return nil
}

func (g *Ledger) PushPayment(_ context.Context, to common.Address, amount *uint256.Int) error {
	if err := g.ledger.TransferPayment(g.custodian, to, amount); err != nil {
		return fmt.Errorf("%w: pay %s to %s: %w", ErrTransferFailed, amount.Dec(), to.Hex(), err)
	}
	return nil
}

func (g *Ledger) Attach(_ context.Context, from common.Address, value *uint256.Int) error {
	if err := g.ledger.TransferPayment(from, g.custodian, value); err != nil {
		return fmt.Errorf("%w: attach %s from %s: %w", ErrTransferFailed, value.Dec(), from.Hex(), err)
	}
	return nil
}

func (g *Ledger) AssetCustody(asset common.Address) *uint256.Int {
	t, err := g.ledger.Token(asset)
	if err != nil {
		return new(uint256.Int)
	}
	return t.BalanceOf(g.custodian)
}

func (g *Ledger) PaymentCustody() *uint256.Int { return g.ledger.PaymentBalance(g.custodian) }

var (
	_ Gateway  = (*Ledger)(nil)
	_ Attacher = (*Ledger)(nil)
	_ Holdings = (*Ledger)(nil)
)
