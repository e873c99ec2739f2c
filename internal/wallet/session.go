// Package wallet models the connected signer session the booking flow
// depends on. The session is injected into the orchestrator so the core
// never reaches for ambient wallet state.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Session is the wallet surface the orchestrator consumes.
type Session interface {
	// Address returns the connected address; ok is false when no wallet
	// is connected.
	Address() (common.Address, bool)
	IsAuthenticated() bool
	// RequestLogin prompts the user to connect/authenticate. It is fire
	// and forget; the flow stays where it is until the user acts.
	RequestLogin()
}

// Transactor is implemented by sessions that can sign transactions.
type Transactor interface {
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// KeySession is a session backed by a raw private key. Used for server-side
// signing; a hosted deployment swaps in a remote signer behind the same
// interfaces.
type KeySession struct {
	key     *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
}

func NewKeySession(hexKey string, chainID *big.Int) (*KeySession, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &KeySession{
		key:     key,
		addr:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func (s *KeySession) Address() (common.Address, bool) { return s.addr, true }

func (s *KeySession) IsAuthenticated() bool { return true }

func (s *KeySession) RequestLogin() {}

func (s *KeySession) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = 0 // let node estimate
	return opts, nil
}

// StubSession is a controllable session for tests and keyless local runs.
type StubSession struct {
	Addr          common.Address
	Connected     bool
	Authenticated bool
	LoginRequests int
}

func (s *StubSession) Address() (common.Address, bool) { return s.Addr, s.Connected }

func (s *StubSession) IsAuthenticated() bool { return s.Authenticated }

func (s *StubSession) RequestLogin() { s.LoginRequests++ }
