package params

import (
	"encoding/json"
	"fmt"
	"os"
)

// GenesisAsset lists a tradable asset on the in-process ledger.
type GenesisAsset struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// GenesisAccount funds an account at height 0. Amounts are decimal strings in
// smallest units; Tokens is keyed by asset symbol.
type GenesisAccount struct {
	Address string            `json:"address"`
	Payment string            `json:"payment"`
	Tokens  map[string]string `json:"tokens"`
}

type Genesis struct {
	Assets   []GenesisAsset   `json:"assets"`
	Accounts []GenesisAccount `json:"accounts"`
}

// DevnetGenesis lists one 18-decimal asset and funds the first two well-known
// development accounts.
func DevnetGenesis() Genesis {
	const tenThousand = "10000000000000000000000"
	return Genesis{
		Assets: []GenesisAsset{
			{Symbol: "HYPL", Address: "0x00000000000000000000000000000000000a55e7", Decimals: 18},
			{Symbol: "GOLD", Address: "0x00000000000000000000000000000000000a55e8", Decimals: 6},
		},
		Accounts: []GenesisAccount{
			{
				Address: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
				Payment: "1000000",
				Tokens:  map[string]string{"HYPL": tenThousand, "GOLD": "10000000000"},
			},
			{
				Address: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
				Payment: "1000000",
				Tokens:  map[string]string{"HYPL": tenThousand, "GOLD": "10000000000"},
			},
		},
	}
}

// DevnetKeys are the private keys of the DevnetGenesis accounts. They are the public
// Hardhat development keys and must never hold real funds.
var DevnetKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
}

// LoadGenesis reads a genesis document; an empty path yields DevnetGenesis.
func LoadGenesis(path string) (Genesis, error) {
	if path == "" {
		return DevnetGenesis(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return Genesis{}, fmt.Errorf("parse genesis %s: %w", path, err)
	}
	return g, nil
}
