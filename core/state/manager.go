package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapchain/native/otc"
	"swapchain/storage"
)

// Manager provides keyed access to the ledger state: the token registry,
// account balances and nonces, offer records, and custody vaults. Keys are
// hashed with keccak256 before hitting the underlying store and values are
// RLP encoded.
//
// Manager is not safe for concurrent use; the node serialises every mutating
// transition before touching it.
type Manager struct {
	db storage.Database

	depositAsset   string
	custodyDeposit *big.Int
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, custodyDeposit: big.NewInt(0)}
}

// SetCustodyDeposit configures the flat deposit debited when a custody vault
// is created and refunded when it closes. A zero amount disables deposits.
func (m *Manager) SetCustodyDeposit(asset string, amount *big.Int) {
	m.depositAsset = strings.ToUpper(strings.TrimSpace(asset))
	if amount == nil {
		m.custodyDeposit = big.NewInt(0)
		return
	}
	m.custodyDeposit = new(big.Int).Set(amount)
}

// TokenMetadata describes one registered fungible asset.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func tokenListKey() []byte {
	return ethcrypto.Keccak256(tokenListKeySeed)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func nonceKey(addr [20]byte) []byte {
	buf := make([]byte, len(noncePrefix)+len(addr))
	copy(buf, noncePrefix)
	copy(buf[len(noncePrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.get(tokenListKey())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.get(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores the metadata for a fungible asset and records it in
// the token index. Registering the same symbol twice fails.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}

	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := m.db.Put(tokenListKey(), encoded); err != nil {
		return err
	}

	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encodedMeta, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.db.Put(tokenMetadataKey(normalized), encodedMeta)
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.loadTokenMetadata(strings.ToUpper(strings.TrimSpace(symbol)))
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

// Balance retrieves a token balance for the provided account.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	data, err := m.get(balanceKey(addr, strings.ToUpper(strings.TrimSpace(symbol))))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetBalance stores an account balance for the provided token. Used by
// genesis allocation; runtime movement goes through Transfer.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	if meta, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if meta == nil {
		return fmt.Errorf("token %s not registered", normalized)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(addr, normalized), encoded)
}

func (m *Manager) writeBalance(addr [20]byte, symbol string, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(addr, symbol), encoded)
}

// Transfer moves amount units of asset between accounts. The debit and the
// credit either both apply or neither does; an uncoverable debit fails with
// otc.ErrInsufficientBalance before any write.
func (m *Manager) Transfer(asset string, from, to [20]byte, amount uint64) error {
	return m.transfer(asset, from, to, new(big.Int).SetUint64(amount))
}

func (m *Manager) transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount")
	}
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if !m.TokenExists(normalized) {
		return otc.ErrInvalidAsset
	}
	fromBal, err := m.Balance(from, normalized)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return otc.ErrInsufficientBalance
	}
	// A self-transfer nets to zero. Writing debit and credit from the same
	// pre-read snapshot would mint the amount instead.
	if from == to {
		return nil
	}
	toBal, err := m.Balance(to, normalized)
	if err != nil {
		return err
	}
	newFrom := new(big.Int).Sub(fromBal, amount)
	newTo := new(big.Int).Add(toBal, amount)
	if err := m.writeBalance(from, normalized, newFrom); err != nil {
		return err
	}
	if err := m.writeBalance(to, normalized, newTo); err != nil {
		// Restore the debit so a failed credit never burns funds.
		if restoreErr := m.writeBalance(from, normalized, fromBal); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("rollback debit: %w", restoreErr))
		}
		return err
	}
	return nil
}

// Nonce returns the transaction nonce expected from the account.
func (m *Manager) Nonce(addr [20]byte) (uint64, error) {
	data, err := m.get(nonceKey(addr))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	var nonce uint64
	if err := rlp.DecodeBytes(data, &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce stores the next expected nonce for the account.
func (m *Manager) SetNonce(addr [20]byte, nonce uint64) error {
	encoded, err := rlp.EncodeToBytes(nonce)
	if err != nil {
		return err
	}
	return m.db.Put(nonceKey(addr), encoded)
}
