package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"swapchain/core/events"
	"swapchain/core/state"
	"swapchain/core/types"
	"swapchain/native/otc"
	"swapchain/storage"
)

// Node wires the offer engine to the persistent ledger and gates every
// mutating transition behind the authorization guard. Transitions are
// serialised under one lock so two concurrent fills can never observe the
// same remaining amounts; preconditions are always checked against freshly
// loaded state inside the lock.
type Node struct {
	mu sync.Mutex

	db      storage.Database
	manager *state.Manager
	engine  *otc.Engine

	eventMu sync.RWMutex
	events  []*types.Event
}

// TokenSpec declares one asset registered at bootstrap.
type TokenSpec struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// Allocation seeds a genesis balance.
type Allocation struct {
	Address [20]byte
	Symbol  string
	Amount  *big.Int
}

// NewNode creates a node over the provided database.
func NewNode(db storage.Database) *Node {
	n := &Node{
		db:      db,
		manager: state.NewManager(db),
		engine:  otc.NewEngine(),
	}
	n.engine.SetState(n.manager)
	n.engine.SetEmitter(n)
	return n
}

// SetCustodyDeposit forwards the custody deposit configuration to the state
// manager.
func (n *Node) SetCustodyDeposit(asset string, amount *big.Int) {
	n.manager.SetCustodyDeposit(asset, amount)
}

// SetNowFunc overrides the engine's time source, used by tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.engine.SetNowFunc(now)
}

// Emit implements events.Emitter by appending to the node's in-memory event
// log for read-side consumers.
func (n *Node) Emit(evt events.Event) {
	typed, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	n.events = append(n.events, typed.Event())
}

// Events returns the events recorded at or after the given index.
func (n *Node) Events(from int) []*types.Event {
	n.eventMu.RLock()
	defer n.eventMu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(n.events) {
		return []*types.Event{}
	}
	out := make([]*types.Event, len(n.events)-from)
	copy(out, n.events[from:])
	return out
}

// Bootstrap registers tokens and seeds balances on a fresh database. Already
// registered tokens are left untouched so restarts are harmless.
func (n *Node) Bootstrap(tokens []TokenSpec, allocations []Allocation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range tokens {
		if n.manager.TokenExists(t.Symbol) {
			continue
		}
		if err := n.manager.RegisterToken(t.Symbol, t.Name, t.Decimals); err != nil {
			return err
		}
	}
	for _, a := range allocations {
		current, err := n.manager.Balance(a.Address, a.Symbol)
		if err != nil {
			return err
		}
		if current.Sign() != 0 {
			continue
		}
		if err := n.manager.SetBalance(a.Address, a.Symbol, a.Amount); err != nil {
			return err
		}
	}
	return nil
}

// TxResult carries the outcome of one applied transaction.
type TxResult struct {
	Offer          *otc.Offer        `json:"offer,omitempty"`
	Accept         *otc.AcceptResult `json:"accept,omitempty"`
	RefundedAmount uint64            `json:"refundedAmount,omitempty"`
}

// ApplyTransaction validates the envelope signature, checks the caller's
// nonce, and dispatches the operation to the engine. Authorization runs
// before any state is touched; a failed transition leaves state unchanged
// and the nonce unconsumed.
func (n *Node) ApplyTransaction(tx *types.Transaction) (*TxResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	from, err := tx.From()
	if err != nil {
		return nil, otc.ErrUnauthorized
	}
	var caller [20]byte
	copy(caller[:], from)

	n.mu.Lock()
	defer n.mu.Unlock()

	nonce, err := n.manager.Nonce(caller)
	if err != nil {
		return nil, err
	}
	if tx.Nonce != nonce {
		return nil, fmt.Errorf("invalid nonce: got %d, want %d", tx.Nonce, nonce)
	}

	// Consume the nonce first: a transition must never commit without its
	// replay guard persisted. A failed transition hands the nonce back.
	if err := n.manager.SetNonce(caller, nonce+1); err != nil {
		return nil, err
	}
	result, err := n.apply(tx, caller)
	if err != nil {
		if restoreErr := n.manager.SetNonce(caller, nonce); restoreErr != nil {
			return nil, errors.Join(err, restoreErr)
		}
		return nil, err
	}
	return result, nil
}

func (n *Node) apply(tx *types.Transaction, caller [20]byte) (*TxResult, error) {
	switch tx.Type {
	case types.TxTypeCreateOffer:
		var payload types.CreateOfferPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return nil, fmt.Errorf("invalid create payload: %w", err)
		}
		offer, err := n.engine.CreateOffer(
			caller,
			payload.OfferAsset, payload.RequestAsset,
			payload.OfferAmount, payload.RequestAmount,
			payload.Deadline, payload.OfferID,
		)
		if err != nil {
			return nil, err
		}
		return &TxResult{Offer: offer}, nil
	case types.TxTypeAcceptOffer:
		var payload types.AcceptOfferPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return nil, fmt.Errorf("invalid accept payload: %w", err)
		}
		id, err := decodeOfferRef(payload.Offer)
		if err != nil {
			return nil, err
		}
		result, err := n.engine.AcceptOffer(id, caller, payload.FillRequest)
		if err != nil {
			return nil, err
		}
		return &TxResult{Accept: result}, nil
	case types.TxTypeCancelOffer:
		var payload types.OfferRefPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return nil, fmt.Errorf("invalid cancel payload: %w", err)
		}
		id, err := decodeOfferRef(payload.Offer)
		if err != nil {
			return nil, err
		}
		refunded, err := n.engine.CancelOffer(id, caller)
		if err != nil {
			return nil, err
		}
		return &TxResult{RefundedAmount: refunded}, nil
	case types.TxTypeCloseExpiredOffer:
		var payload types.OfferRefPayload
		if err := json.Unmarshal(tx.Data, &payload); err != nil {
			return nil, fmt.Errorf("invalid close payload: %w", err)
		}
		id, err := decodeOfferRef(payload.Offer)
		if err != nil {
			return nil, err
		}
		refunded, err := n.engine.CloseExpiredOffer(id, caller)
		if err != nil {
			return nil, err
		}
		return &TxResult{RefundedAmount: refunded}, nil
	default:
		return nil, fmt.Errorf("unknown transaction type: %d", tx.Type)
	}
}

func decodeOfferRef(ref string) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(ref), "0x"))
	if err != nil || len(raw) != 32 {
		return id, fmt.Errorf("offer reference must be 32 hex-encoded bytes")
	}
	copy(id[:], raw)
	return id, nil
}

// OfferGet returns the open offer at the address, if any.
func (n *Node) OfferGet(id [32]byte) (*otc.Offer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetOffer(id)
}

// OfferList returns all open offers for the read side.
func (n *Node) OfferList() ([]*otc.Offer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.OfferList()
}

// Balance returns the account's balance of the given asset.
func (n *Node) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Balance(addr, symbol)
}

// Nonce returns the next expected transaction nonce for the account.
func (n *Node) Nonce(addr [20]byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.Nonce(addr)
}

// TokenList returns the registered asset symbols.
func (n *Node) TokenList() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.manager.TokenList()
}
