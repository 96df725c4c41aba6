package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

func main() {
	var (
		key     = flag.String("key", "", "hex private key (default: generate a new one)")
		devnet  = flag.Int("devnet", -1, "use the n-th devnet key instead of -key")
		kind    = flag.String("type", "place", "place, cancel or approve")
		assetS  = flag.String("asset", "0x00000000000000000000000000000000000a55e7", "asset address")
		sideS   = flag.String("side", "buy", "buy or sell")
		amountS = flag.String("amount", "1000000000000000000", "amount in smallest asset units")
		totalS  = flag.String("total", "10", "total payment for a place")
		nonce   = flag.Uint64("nonce", 1, "account nonce, one above the last used")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")

	// Step 1: Generate or load key
	signer, err := loadSigner(*key, *devnet)
	if err != nil {
		fail("key", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())
	if *key == "" && *devnet < 0 {
		fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}

	if !common.IsHexAddress(*assetS) {
		fail("asset", fmt.Errorf("invalid address %q", *assetS))
	}
	asset := common.HexToAddress(*assetS)
	side, err := orderbook.ParseSide(*sideS)
	if err != nil {
		fail("side", err)
	}
	amount, ok := new(big.Int).SetString(*amountS, 10)
	if !ok {
		fail("amount", fmt.Errorf("not a decimal integer: %q", *amountS))
	}
	total, ok := new(big.Int).SetString(*totalS, 10)
	if !ok {
		fail("total", fmt.Errorf("not a decimal integer: %q", *totalS))
	}
	n := new(big.Int).SetUint64(*nonce)

	// Step 2: Sign with EIP-712
	domain := crypto.DefaultDomain(cfg.Chain.ChainID, cfg.Chain.CustodyAddress)
	b := transaction.NewBuilder(signer, domain)
	owner := signer.Address()

	var tx *transaction.SignedTransaction
	switch *kind {
	case "place":
		tx, err = b.Place(&crypto.PlaceOrderEIP712{Asset: asset, Side: uint8(side), Amount: amount, Total: total, Nonce: n, Owner: owner})
	case "cancel":
		tx, err = b.Cancel(&crypto.CancelOrderEIP712{Owner: owner, Asset: asset, Side: uint8(side), Nonce: n})
	case "approve":
		tx, err = b.Approve(&crypto.ApproveEIP712{Asset: asset, Amount: amount, Nonce: n, Owner: owner})
	default:
		err = fmt.Errorf("unknown type %q", *kind)
	}
	if err != nil {
		fail("sign", err)
	}

	// Step 3: Verify before printing
	op, err := transaction.NewVerifier(domain).Verify(tx)
	if err != nil {
		fail("verify", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, signer %s, nonce %d\n", op.Signer.Hex(), op.Nonce)

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("encode", err)
	}
	fmt.Fprintln(os.Stderr, "POST /api/v1/tx with body:")
	fmt.Println(string(out))
}

func loadSigner(key string, devnet int) (*crypto.Signer, error) {
	switch {
	case devnet >= 0:
		if devnet >= len(params.DevnetKeys) {
			return nil, fmt.Errorf("only %d devnet keys", len(params.DevnetKeys))
		}
		return crypto.FromPrivateKeyHex(params.DevnetKeys[devnet])
	case key != "":
		return crypto.FromPrivateKeyHex(key)
	default:
		return crypto.GenerateKey()
	}
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
