package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"swapchain/config"
	"swapchain/core"
	"swapchain/crypto"
	"swapchain/observability/logging"
	"swapchain/rpc"
	"swapchain/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.Setup("swapd", cfg.Env, cfg.LogFile)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "swapdb"))
	if err != nil {
		logger.Error("failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	node := core.NewNode(db)
	if cfg.CustodyDepositAmount > 0 {
		node.SetCustodyDeposit(cfg.CustodyDepositAsset, new(big.Int).SetUint64(cfg.CustodyDepositAmount))
	}

	tokens, allocations, err := genesis(cfg)
	if err != nil {
		logger.Error("invalid genesis configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := node.Bootstrap(tokens, allocations); err != nil {
		logger.Error("bootstrap failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("node bootstrapped",
		slog.Int("tokens", len(tokens)),
		slog.Int("allocations", len(allocations)))

	server := rpc.NewServer(node, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func genesis(cfg *config.Config) ([]core.TokenSpec, []core.Allocation, error) {
	tokens := make([]core.TokenSpec, 0, len(cfg.Tokens))
	for _, token := range cfg.Tokens {
		tokens = append(tokens, core.TokenSpec{
			Symbol:   strings.ToUpper(strings.TrimSpace(token.Symbol)),
			Name:     token.Name,
			Decimals: token.Decimals,
		})
	}
	allocations := make([]core.Allocation, 0, len(cfg.GenesisAccounts))
	for _, account := range cfg.GenesisAccounts {
		addr, err := crypto.DecodeAddress(account.Address)
		if err != nil {
			return nil, nil, err
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(account.Amount), 10)
		if !ok {
			return nil, nil, fmt.Errorf("genesis account %s: invalid amount %q", account.Address, account.Amount)
		}
		var raw [20]byte
		copy(raw[:], addr.Bytes())
		allocations = append(allocations, core.Allocation{
			Address: raw,
			Symbol:  strings.ToUpper(strings.TrimSpace(account.Asset)),
			Amount:  amount,
		})
	}
	return tokens, allocations, nil
}
