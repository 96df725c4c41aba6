package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Custody modes.
const (
	CustodyLedger = "ledger" // in-process asset ledger (devnet)
	CustodyChain  = "chain"  // live EVM ledger over JSON-RPC
)

type Node struct {
	DataDir string
	LogFile string
	Verbose bool
	// WALFile receives one line per committed block; empty disables it.
	WALFile string
	WALSync bool
	// MinBlockTime throttles block production. A block is only produced when the
	// mempool has transactions.
	MinBlockTime  time.Duration
	MaxBlockBytes int64
	GenesisFile   string
	// TxFeeder makes the node trade between the devnet accounts on its own.
	TxFeeder bool
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Chain struct {
	ChainID int64
	// CustodyAddress is the account holding escrowed assets and payment. It is also the
	// EIP-712 verifying contract.
	CustodyAddress common.Address
	CustodyMode    string
	RPCURL         string
	PrivateKey     string
	ConfirmTimeout time.Duration
}

type Feed struct {
	KafkaBrokers []string
	KafkaTopic   string
	P2PListen    string
	P2PBootstrap []string
	P2PTopic     string
}

type Config struct {
	Node  Node
	API   API
	Chain Chain
	Feed  Feed
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:       "data",
			LogFile:       "data/node.log",
			WALFile:       "data/wal.log",
			MinBlockTime:  200 * time.Millisecond,
			MaxBlockBytes: 1 << 24,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Chain: Chain{
			ChainID:        1337,
			CustodyAddress: common.HexToAddress("0x00000000000000000000000000000000000e5c40"),
			CustodyMode:    CustodyLedger,
			ConfirmTimeout: 2 * time.Minute,
		},
		Feed: Feed{
			KafkaTopic: "hyperswap.events",
			P2PTopic:   "hyperswap/events/1",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	if wal, ok := os.LookupEnv("WAL_FILE"); ok {
		cfg.Node.WALFile = wal
	}
	cfg.Node.WALSync = os.Getenv("WAL_SYNC") == "true"
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"
	cfg.Node.TxFeeder = os.Getenv("TX_FEEDER") == "true"

	if minBlock := os.Getenv("MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if maxBytes := os.Getenv("MAX_BLOCK_BYTES"); maxBytes != "" {
		if n, err := strconv.ParseInt(maxBytes, 10, 64); err == nil {
			cfg.Node.MaxBlockBytes = n
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := splitList(os.Getenv("API_ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.API.AllowedOrigins = origins
	}

	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
	}
	if addr := os.Getenv("CUSTODY_ADDRESS"); common.IsHexAddress(addr) {
		cfg.Chain.CustodyAddress = common.HexToAddress(addr)
	}
	cfg.Chain.CustodyMode = getEnv("CUSTODY_MODE", cfg.Chain.CustodyMode)
	cfg.Chain.RPCURL = getEnv("ETH_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.PrivateKey = strings.TrimPrefix(getEnv("ETH_PRIVATE_KEY", cfg.Chain.PrivateKey), "0x")
	if timeout := os.Getenv("ETH_CONFIRM_TIMEOUT_S"); timeout != "" {
		if s, err := strconv.Atoi(timeout); err == nil {
			cfg.Chain.ConfirmTimeout = time.Duration(s) * time.Second
		}
	}

	cfg.Feed.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Feed.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Feed.KafkaTopic)
	cfg.Feed.P2PListen = getEnv("P2P_LISTEN", cfg.Feed.P2PListen)
	cfg.Feed.P2PBootstrap = splitList(os.Getenv("P2P_BOOTSTRAP"))
	cfg.Feed.P2PTopic = getEnv("P2P_TOPIC", cfg.Feed.P2PTopic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
