package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the domain separator for all HyperSwap typed data.
// VerifyingContract is the exchange custody address.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

func DefaultDomain(chainID int64, custody common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSwap",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: custody,
	}
}

// PlaceOrderEIP712 is what a trader signs to place an order.
// Total is the payment for the whole Amount.
type PlaceOrderEIP712 struct {
	Asset  common.Address
	Side   uint8 // 1 = Buy, 2 = Sell
	Amount *big.Int
	Total  *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

type CancelOrderEIP712 struct {
	Owner common.Address
	Asset common.Address
	Side  uint8
	Nonce *big.Int
}

// ApproveEIP712 authorizes the custody account to pull Amount of Asset from Owner.
type ApproveEIP712 struct {
	Asset  common.Address
	Amount *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var (
	placeOrderType = []apitypes.Type{
		{Name: "asset", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "amount", Type: "uint256"},
		{Name: "total", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	cancelOrderType = []apitypes.Type{
		{Name: "owner", Type: "address"},
		{Name: "asset", Type: "address"},
		{Name: "side", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
	}
	approveType = []apitypes.Type{
		{Name: "asset", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
)

// EIP712Signer hashes, signs and verifies typed data under one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

func (e *EIP712Signer) hash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) placeData(o *PlaceOrderEIP712) apitypes.TypedData {
	return e.typedData("PlaceOrder", placeOrderType, apitypes.TypedDataMessage{
		"asset":  o.Asset.Hex(),
		"side":   fmt.Sprintf("%d", o.Side),
		"amount": o.Amount.String(),
		"total":  o.Total.String(),
		"nonce":  o.Nonce.String(),
		"owner":  o.Owner.Hex(),
	})
}

func (e *EIP712Signer) cancelData(c *CancelOrderEIP712) apitypes.TypedData {
	return e.typedData("CancelOrder", cancelOrderType, apitypes.TypedDataMessage{
		"owner": c.Owner.Hex(),
		"asset": c.Asset.Hex(),
		"side":  fmt.Sprintf("%d", c.Side),
		"nonce": c.Nonce.String(),
	})
}

func (e *EIP712Signer) approveData(a *ApproveEIP712) apitypes.TypedData {
	return e.typedData("Approve", approveType, apitypes.TypedDataMessage{
		"asset":  a.Asset.Hex(),
		"amount": a.Amount.String(),
		"nonce":  a.Nonce.String(),
		"owner":  a.Owner.Hex(),
	})
}

func (e *EIP712Signer) HashPlaceOrder(o *PlaceOrderEIP712) ([]byte, error) {
	return e.hash(e.placeData(o))
}

func (e *EIP712Signer) HashCancelOrder(c *CancelOrderEIP712) ([]byte, error) {
	return e.hash(e.cancelData(c))
}

func (e *EIP712Signer) HashApprove(a *ApproveEIP712) ([]byte, error) {
	return e.hash(e.approveData(a))
}

func (e *EIP712Signer) sign(signer *Signer, hash []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) SignPlaceOrder(signer *Signer, o *PlaceOrderEIP712) ([]byte, error) {
	h, err := e.HashPlaceOrder(o)
	return e.sign(signer, h, err)
}

func (e *EIP712Signer) SignCancelOrder(signer *Signer, c *CancelOrderEIP712) ([]byte, error) {
	h, err := e.HashCancelOrder(c)
	return e.sign(signer, h, err)
}

func (e *EIP712Signer) SignApprove(signer *Signer, a *ApproveEIP712) ([]byte, error) {
	h, err := e.HashApprove(a)
	return e.sign(signer, h, err)
}

func recoverFrom(hash []byte, err error, signature []byte) (common.Address, error) {
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// RecoverPlaceOrder returns the address that signed o. Callers compare it with o.Owner.
func (e *EIP712Signer) RecoverPlaceOrder(o *PlaceOrderEIP712, signature []byte) (common.Address, error) {
	h, err := e.HashPlaceOrder(o)
	return recoverFrom(h, err, signature)
}

func (e *EIP712Signer) RecoverCancelOrder(c *CancelOrderEIP712, signature []byte) (common.Address, error) {
	h, err := e.HashCancelOrder(c)
	return recoverFrom(h, err, signature)
}

func (e *EIP712Signer) RecoverApprove(a *ApproveEIP712, signature []byte) (common.Address, error) {
	h, err := e.HashApprove(a)
	return recoverFrom(h, err, signature)
}

// PlaceOrderToJSON renders o in the eth_signTypedData_v4 format wallets expect.
func (e *EIP712Signer) PlaceOrderToJSON(o *PlaceOrderEIP712) (string, error) {
	b, err := json.MarshalIndent(e.placeData(o), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}
