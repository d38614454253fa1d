package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares a token registered at bootstrap.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// GenesisAccount funds an address at bootstrap. Amount is a base-10 string
// so balances above 2^53 survive the TOML round trip.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress          string `toml:"RPCAddress"`
	DataDir             string `toml:"DataDir"`
	Env                 string `toml:"Env"`
	LogFile             string `toml:"LogFile"`
	CustodyDepositAsset string `toml:"CustodyDepositAsset"`
	// CustodyDepositAmount of zero disables the deposit entirely.
	CustodyDepositAmount uint64           `toml:"CustodyDepositAmount"`
	Tokens               []TokenConfig    `toml:"Tokens"`
	GenesisAccounts      []GenesisAccount `toml:"GenesisAccounts"`
}

// Load loads the configuration from the given path, writing a default file
// if none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CustodyDepositAmount > 0 && strings.TrimSpace(c.CustodyDepositAsset) == "" {
		return fmt.Errorf("CustodyDepositAsset required when CustodyDepositAmount is set")
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for _, token := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(token.Symbol))
		if symbol == "" {
			return fmt.Errorf("token with empty symbol")
		}
		if _, ok := seen[symbol]; ok {
			return fmt.Errorf("duplicate token %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./swap-data"
	}
	if strings.TrimSpace(c.Env) == "" {
		c.Env = "local"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:           ":8545",
		DataDir:              "./swap-data",
		Env:                  "local",
		CustodyDepositAsset:  "SWP",
		CustodyDepositAmount: 0,
		Tokens: []TokenConfig{
			{Symbol: "SWP", Name: "Swapchain Native", Decimals: 8},
		},
		GenesisAccounts: []GenesisAccount{},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
