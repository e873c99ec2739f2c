package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"bookrails/internal/contracts"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// SignerSession is the signing surface the eth clients need.
type SignerSession interface {
	Address() (common.Address, bool)
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// EthBackend wraps a shared RPC connection.
type EthBackend struct {
	client  *ethclient.Client
	chainID *big.Int
	poll    time.Duration
}

type EthBackendConfig struct {
	RPCURL       string
	PollInterval time.Duration
}

func NewEthBackend(ctx context.Context, cfg EthBackendConfig) (*EthBackend, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}

	return &EthBackend{client: cli, chainID: chainID, poll: poll}, nil
}

func (b *EthBackend) ChainID() *big.Int { return b.chainID }

func (b *EthBackend) Ping(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := b.client.BlockNumber(ctx)
	return err
}

// waitForReceipt polls until the transaction is mined or the context is
// cancelled.
func (b *EthBackend) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrConfirmationAmbiguous, ctx.Err())
		case <-ticker.C:
		}
	}
}

// EthTokenClient talks to the payment token contract.
type EthTokenClient struct {
	backend  *EthBackend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	spender  common.Address
	session  SignerSession
	log      *zap.Logger
}

func NewEthTokenClient(backend *EthBackend, tokenAddr, escrowAddr string, session SignerSession, log *zap.Logger) (*EthTokenClient, error) {
	if !common.IsHexAddress(tokenAddr) {
		return nil, fmt.Errorf("invalid token address %q", tokenAddr)
	}
	if !common.IsHexAddress(escrowAddr) {
		return nil, fmt.Errorf("invalid escrow address %q", escrowAddr)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.PaymentTokenABI))
	if err != nil {
		return nil, fmt.Errorf("parse token abi: %w", err)
	}

	address := common.HexToAddress(tokenAddr)
	return &EthTokenClient{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsedABI, backend.client, backend.client, backend.client),
		abi:      parsedABI,
		address:  address,
		spender:  common.HexToAddress(escrowAddr),
		session:  session,
		log:      log,
	}, nil
}

func (c *EthTokenClient) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *EthTokenClient) Allowance(ctx context.Context, owner string) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", common.HexToAddress(owner), c.spender)
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *EthTokenClient) Approve(ctx context.Context, amount *big.Int) (*TxAttempt, error) {
	from, ok := c.session.Address()
	if !ok {
		return nil, fmt.Errorf("no wallet connected")
	}

	attempt := NewTxAttempt()
	go c.runApprove(ctx, attempt, from, amount)
	return attempt, nil
}

func (c *EthTokenClient) runApprove(ctx context.Context, attempt *TxAttempt, from common.Address, amount *big.Int) {
	input, err := c.abi.Pack("approve", c.spender, amount)
	if err != nil {
		attempt.Fail(fmt.Errorf("pack approve: %w", err))
		return
	}

	if err := simulate(ctx, c.backend.client, from, c.address, input); err != nil {
		attempt.Fail(&SimulationError{Call: "approve", Reason: err})
		return
	}

	attempt.SetStatus(StatusAwaitingSignature)
	opts, err := c.session.TransactOpts(ctx)
	if err != nil {
		attempt.Fail(classifySubmitErr(err))
		return
	}

	tx, err := c.contract.Transact(opts, "approve", c.spender, amount)
	if err != nil {
		attempt.Fail(classifySubmitErr(err))
		return
	}

	attempt.SetStatus(StatusConfirming)
	receipt, err := c.backend.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		attempt.Fail(err)
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		attempt.Fail(fmt.Errorf("approve tx %s reverted on-chain", tx.Hash().Hex()))
		return
	}

	c.log.Debug("allowance granted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("owner", strings.ToLower(from.Hex())),
	)
	attempt.Confirm(TxResult{TxHash: tx.Hash().Hex()})
}

// EthEscrowClient talks to the escrow contract.
type EthEscrowClient struct {
	backend  *EthBackend
	contract *bind.BoundContract
	abi      abi.ABI
	address  common.Address
	session  SignerSession
	log      *zap.Logger
}

func NewEthEscrowClient(backend *EthBackend, escrowAddr string, session SignerSession, log *zap.Logger) (*EthEscrowClient, error) {
	if !common.IsHexAddress(escrowAddr) {
		return nil, fmt.Errorf("invalid escrow address %q", escrowAddr)
	}

	parsedABI, err := abi.JSON(strings.NewReader(contracts.SlotEscrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}

	address := common.HexToAddress(escrowAddr)
	return &EthEscrowClient{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsedABI, backend.client, backend.client, backend.client),
		abi:      parsedABI,
		address:  address,
		session:  session,
		log:      log,
	}, nil
}

func (c *EthEscrowClient) CreateEscrow(ctx context.Context, recipient string, amount *big.Int) (*TxAttempt, error) {
	from, ok := c.session.Address()
	if !ok {
		return nil, fmt.Errorf("no wallet connected")
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("invalid recipient address %q", recipient)
	}

	attempt := NewTxAttempt()
	go c.runCreate(ctx, attempt, from, common.HexToAddress(recipient), amount)
	return attempt, nil
}

func (c *EthEscrowClient) runCreate(ctx context.Context, attempt *TxAttempt, from, recipient common.Address, amount *big.Int) {
	input, err := c.abi.Pack("createEscrow", recipient, amount)
	if err != nil {
		attempt.Fail(fmt.Errorf("pack createEscrow: %w", err))
		return
	}

	if err := simulate(ctx, c.backend.client, from, c.address, input); err != nil {
		attempt.Fail(&SimulationError{Call: "createEscrow", Reason: err})
		return
	}

	attempt.SetStatus(StatusAwaitingSignature)
	opts, err := c.session.TransactOpts(ctx)
	if err != nil {
		attempt.Fail(classifySubmitErr(err))
		return
	}

	tx, err := c.contract.Transact(opts, "createEscrow", recipient, amount)
	if err != nil {
		attempt.Fail(classifySubmitErr(err))
		return
	}

	attempt.SetStatus(StatusConfirming)
	receipt, err := c.backend.waitForReceipt(ctx, tx.Hash())
	if err != nil {
		attempt.Fail(err)
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		attempt.Fail(fmt.Errorf("createEscrow tx %s reverted on-chain", tx.Hash().Hex()))
		return
	}

	escrowID, ok := c.extractEscrowID(receipt)
	if !ok {
		// Funds moved but the id never surfaced; without it no record or
		// receipt can be built.
		attempt.Fail(fmt.Errorf("tx %s confirmed without an EscrowCreated event", tx.Hash().Hex()))
		return
	}

	c.log.Debug("escrow created",
		zap.Int64("escrow_id", escrowID),
		zap.String("tx_hash", tx.Hash().Hex()),
	)
	attempt.Confirm(TxResult{TxHash: tx.Hash().Hex(), EscrowID: escrowID})
}

func (c *EthEscrowClient) extractEscrowID(receipt *types.Receipt) (int64, bool) {
	eventID := c.abi.Events["EscrowCreated"].ID
	for _, entry := range receipt.Logs {
		if entry.Address != c.address || len(entry.Topics) < 2 || entry.Topics[0] != eventID {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Int64(), true
	}
	return 0, false
}

func simulate(ctx context.Context, client *ethclient.Client, from, to common.Address, input []byte) error {
	_, err := client.CallContract(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: input,
	}, nil)
	return err
}
