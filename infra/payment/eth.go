// Package payment provides the external payout rail implementations: an
// Ethereum client sending stable-token transfers and a deterministic
// simulator for tests and demo mode.
package payment

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/homewatt/flex/core/ledger"
	"github.com/homewatt/flex/core/logger"
)

// dec1e18 converts between USD-denominated decimals and 18-decimal token
// atoms.
var dec1e18 = decimal.NewFromInt(1_000_000_000_000_000_000)

const transferGasLimit = 21000

// Config defines the payout rail parameters.
type Config struct {
	Mode           string `json:"mode"` // "sim" or "eth"
	RPCURL         string `json:"rpc_url"`
	PrivateKey     string `json:"private_key"`
	ChainID        int64  `json:"chain_id"`
	ScanBlocks     int64  `json:"scan_blocks"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "sim"
	}
	if c.ScanBlocks <= 0 {
		c.ScanBlocks = 128
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Mode {
	case "sim":
		return nil
	case "eth":
		if c.RPCURL == "" {
			return fmt.Errorf("payment.rpc_url is required in eth mode")
		}
		if c.PrivateKey == "" {
			return fmt.Errorf("payment.private_key is required in eth mode")
		}
		if c.ChainID == 0 {
			return fmt.Errorf("payment.chain_id is required in eth mode")
		}
		return nil
	default:
		return fmt.Errorf("unknown payment mode %s", c.Mode)
	}
}

// EthPayment sends payouts as signed legacy transfers over JSON-RPC.
type EthPayment struct {
	cfg     Config
	log     logger.Logger
	chainID *big.Int

	clientMux sync.Mutex
	client    *ethclient.Client
}

// NewEthPayment builds the Ethereum payout rail. The RPC connection is
// established lazily on first use.
func NewEthPayment(cfg Config, log logger.Logger) (*EthPayment, error) {
	if log == nil {
		return nil, fmt.Errorf("payment: nil logger provided to NewEthPayment")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EthPayment{cfg: cfg, log: log, chainID: big.NewInt(cfg.ChainID)}, nil
}

// Send transfers amount to destination and returns the transaction hash.
func (p *EthPayment) Send(ctx context.Context, destination string, amount decimal.Decimal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}
	key, err := crypto.HexToECDSA(p.cfg.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}

	to := common.HexToAddress(destination)
	value := ToAtoms(amount)
	tx := types.NewTransaction(nonce, to, value, transferGasLimit, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send tx: %w", err)
	}
	p.log.Infof("sent %s to %s (tx %s)", amount, destination, signed.Hash().Hex())
	return signed.Hash().Hex(), nil
}

// Balance returns the payer account balance.
func (p *EthPayment) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	bal, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromAtoms(bal), nil
}

// RecentTransactions scans the trailing blocks for outgoing transfers to the
// address. Used by ledger reconciliation after a restart.
func (p *EthPayment) RecentTransactions(ctx context.Context, address string) ([]ledger.Transaction, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(p.cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	dest := common.HexToAddress(address)

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	start := int64(head) - p.cfg.ScanBlocks
	if start < 0 {
		start = 0
	}

	signer := types.LatestSignerForChainID(p.chainID)
	var out []ledger.Transaction
	for n := start; n <= int64(head); n++ {
		block, err := client.BlockByNumber(ctx, big.NewInt(n))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", n, err)
		}
		for _, tx := range block.Transactions() {
			if tx.To() == nil || *tx.To() != dest {
				continue
			}
			sender, err := types.Sender(signer, tx)
			if err != nil || sender != from {
				continue
			}
			out = append(out, ledger.Transaction{
				Ref:         tx.Hash().Hex(),
				Destination: address,
				Amount:      FromAtoms(tx.Value()),
				Timestamp:   time.Unix(int64(block.Time()), 0),
			})
		}
	}
	return out, nil
}

func (p *EthPayment) getClient(ctx context.Context) (*ethclient.Client, error) {
	p.clientMux.Lock()
	defer p.clientMux.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := ethclient.DialContext(ctx, p.cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// ToAtoms converts a USD-denominated decimal to 18-decimal token atoms.
func ToAtoms(amount decimal.Decimal) *big.Int {
	return amount.Mul(dec1e18).Round(0).BigInt()
}

// FromAtoms converts 18-decimal token atoms back to a decimal amount.
func FromAtoms(atoms *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(atoms, -18)
}

var _ ledger.Payment = (*EthPayment)(nil)
