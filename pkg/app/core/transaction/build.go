package transaction

import (
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Builder signs transactions for one key under one domain.
type Builder struct {
	signer *crypto.Signer
	eip712 *crypto.EIP712Signer
}

func NewBuilder(signer *crypto.Signer, domain crypto.EIP712Domain) *Builder {
	return &Builder{signer: signer, eip712: crypto.NewEIP712Signer(domain)}
}

func (b *Builder) Signer() *crypto.Signer { return b.signer }

func (b *Builder) Place(o *crypto.PlaceOrderEIP712) (*SignedTransaction, error) {
	sig, err := b.eip712.SignPlaceOrder(b.signer, o)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Type: TxTypePlace, Place: FromPlaceEIP712(o), Signature: EncodeSignature(sig)}, nil
}

func (b *Builder) Cancel(c *crypto.CancelOrderEIP712) (*SignedTransaction, error) {
	sig, err := b.eip712.SignCancelOrder(b.signer, c)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Type: TxTypeCancel, Cancel: FromCancelEIP712(c), Signature: EncodeSignature(sig)}, nil
}

func (b *Builder) Approve(a *crypto.ApproveEIP712) (*SignedTransaction, error) {
	sig, err := b.eip712.SignApprove(b.signer, a)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Type: TxTypeApprove, Approve: FromApproveEIP712(a), Signature: EncodeSignature(sig)}, nil
}
