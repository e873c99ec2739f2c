package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"bookrails/internal/chain"
	"bookrails/internal/config"
	"bookrails/internal/escrowstore"
	"bookrails/internal/server"
	"bookrails/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	var records escrowstore.Store = escrowstore.NewMemoryStore()
	if cfg.Service.PostgresDSN != "" {
		pg, err := escrowstore.NewPostgresStore(ctx, cfg.Service.PostgresDSN)
		if err != nil {
			logger.Fatal("escrow store error", zap.Error(err))
		}
		defer pg.Close()
		records = pg
	}

	deps := server.Deps{Records: records}

	if cfg.Chain.PrivateKey != "" {
		backend, err := chain.NewEthBackend(ctx, chain.EthBackendConfig{
			RPCURL:       cfg.Chain.RPCURL,
			PollInterval: cfg.Chain.ConfirmPollInterval,
		})
		if err != nil {
			logger.Fatal("chain backend error", zap.Error(err))
		}

		session, err := wallet.NewKeySession(cfg.Chain.PrivateKey, backend.ChainID())
		if err != nil {
			logger.Fatal("wallet session error", zap.Error(err))
		}

		token, err := chain.NewEthTokenClient(backend, cfg.Deployment.Contracts.PaymentToken, cfg.Deployment.Contracts.SlotEscrow, session, logger)
		if err != nil {
			logger.Fatal("token client error", zap.Error(err))
		}
		escrow, err := chain.NewEthEscrowClient(backend, cfg.Deployment.Contracts.SlotEscrow, session, logger)
		if err != nil {
			logger.Fatal("escrow client error", zap.Error(err))
		}

		deps.Session = session
		deps.Token = token
		deps.Escrow = escrow
	} else {
		// Keyless local run: fake chain that confirms immediately.
		logger.Warn("CHAIN_PRIVATE_KEY not set; using fake chain clients")
		balance, _ := new(big.Int).SetString("1000000000000000000000000", 10)
		token := chain.NewFakeTokenClient(balance, big.NewInt(0))
		token.AutoConfirm = true
		escrow := chain.NewFakeEscrowClient()
		escrow.AutoConfirm = true

		deps.Session = &wallet.StubSession{
			Addr:          common.HexToAddress(cfg.Deployment.Deployer),
			Connected:     true,
			Authenticated: true,
		}
		deps.Token = token
		deps.Escrow = escrow
	}

	apiServer := server.NewServer(cfg, deps, logger)

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Info("server stopped", zap.Error(err))
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Service.ShutdownTimeout)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
