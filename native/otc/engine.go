package otc

import (
	"crypto/subtle"
	"time"

	"swapchain/core/events"
)

// engineState is the ledger substrate boundary. Implementations must apply
// each call atomically: a transfer either fully moves the amount or fails
// with no effect, and balance sufficiency is enforced here, not re-derived
// by the engine.
type engineState interface {
	OfferPut(*Offer) error
	OfferGet(id [32]byte) (*Offer, bool)
	OfferDelete(id [32]byte) error
	TokenExists(symbol string) bool
	// Transfer moves amount units of asset between ledger accounts. It
	// returns ErrInsufficientBalance when the source cannot cover the debit.
	Transfer(asset string, from, to [20]byte, amount uint64) error
	// VaultCreate derives the custody account for the offer and debits the
	// configured custody deposit from the creator.
	VaultCreate(offerID [32]byte, creator [20]byte) ([20]byte, error)
	// VaultClose refunds the custody deposit to the recipient and retires the
	// vault. The vault's asset balance must already be zero.
	VaultClose(offerID [32]byte, depositRecipient [20]byte) error
}

// Engine implements the offer lifecycle state machine: create, partial/full
// accept, cancel, and reclaim-on-expiry. It owns every invariant that keeps
// custodied value from being duplicated, lost, or released to the wrong
// party; the substrate behind engineState owns atomicity and persistence.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an offer engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadOffer(id [32]byte) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(id)
	if !ok {
		return nil, ErrOfferNotFound
	}
	return SanitizeOffer(offer)
}

// CreateOffer locks offerAmount of offerAsset in a freshly derived custody
// vault and persists the offer record with remaining amounts equal to the
// originals. The offerID is a caller-chosen nonce; reusing one while the
// previous offer is still open fails with ErrDuplicateOffer.
func (e *Engine) CreateOffer(
	creator [20]byte,
	offerAsset, requestAsset string,
	offerAmount, requestAmount uint64,
	deadline int64,
	offerID uint64,
) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if offerAmount == 0 || requestAmount == 0 {
		return nil, ErrInvalidAmount
	}
	normalizedOffer, err := NormalizeAsset(offerAsset)
	if err != nil {
		return nil, ErrInvalidAsset
	}
	normalizedRequest, err := NormalizeAsset(requestAsset)
	if err != nil {
		return nil, ErrInvalidAsset
	}
	if !e.state.TokenExists(normalizedOffer) || !e.state.TokenExists(normalizedRequest) {
		return nil, ErrInvalidAsset
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrInvalidDeadline
	}
	id := OfferAddress(creator, offerID)
	if _, exists := e.state.OfferGet(id); exists {
		return nil, ErrDuplicateOffer
	}
	vault, err := e.state.VaultCreate(id, creator)
	if err != nil {
		return nil, err
	}
	if err := e.state.Transfer(normalizedOffer, creator, vault, offerAmount); err != nil {
		_ = e.state.VaultClose(id, creator)
		return nil, err
	}
	offer := &Offer{
		ID:                     id,
		Creator:                creator,
		OfferAsset:             normalizedOffer,
		RequestAsset:           normalizedRequest,
		OfferAmount:            offerAmount,
		RequestAmount:          requestAmount,
		RemainingOfferAmount:   offerAmount,
		RemainingRequestAmount: requestAmount,
		Deadline:               deadline,
		Vault:                  vault,
		OfferID:                offerID,
		CreatedAt:              now,
	}
	if err := e.state.OfferPut(offer); err != nil {
		_ = e.state.Transfer(normalizedOffer, vault, creator, offerAmount)
		_ = e.state.VaultClose(id, creator)
		return nil, err
	}
	e.emit(events.OfferCreated{
		ID:            id,
		Creator:       creator,
		OfferAsset:    normalizedOffer,
		RequestAsset:  normalizedRequest,
		OfferAmount:   offerAmount,
		RequestAmount: requestAmount,
		Deadline:      deadline,
		OfferID:       offerID,
	})
	return offer.Clone(), nil
}

// AcceptResult describes the settlement of one fill.
type AcceptResult struct {
	OfferAmountReleased    uint64
	RequestAmountReceived  uint64
	RemainingOfferAmount   uint64
	RemainingRequestAmount uint64
	IsFullAcceptance       bool
}

// AcceptOffer settles a partial or full fill: fillRequest units of the
// request asset move from the acceptor to the creator and the proportional
// share of the custodied offer asset moves from the vault to the acceptor.
// The fill that zeroes the remaining requested amount releases the vault's
// entire remaining balance, so floor-rounding dust never strands in custody,
// then closes the vault and deletes the record.
func (e *Engine) AcceptOffer(id [32]byte, acceptor [20]byte, fillRequest uint64) (*AcceptResult, error) {
	offer, err := e.loadOffer(id)
	if err != nil {
		return nil, err
	}
	if fillRequest == 0 {
		return nil, ErrInvalidAmount
	}
	if offer.IsExpired(e.now()) {
		return nil, ErrOfferExpired
	}
	release, err := offer.CalculateFill(fillRequest)
	if err != nil {
		return nil, err
	}
	remainingRequest := offer.RemainingRequestAmount - fillRequest
	full := remainingRequest == 0
	if full {
		release = offer.RemainingOfferAmount
	}
	if release > offer.RemainingOfferAmount {
		return nil, ErrMathOverflow
	}
	remainingOffer := offer.RemainingOfferAmount - release

	if err := e.state.Transfer(offer.RequestAsset, acceptor, offer.Creator, fillRequest); err != nil {
		return nil, err
	}
	if err := e.state.Transfer(offer.OfferAsset, offer.Vault, acceptor, release); err != nil {
		_ = e.state.Transfer(offer.RequestAsset, offer.Creator, acceptor, fillRequest)
		return nil, err
	}

	prev := offer.Clone()
	offer.RemainingOfferAmount = remainingOffer
	offer.RemainingRequestAmount = remainingRequest
	// A record write failing after both transfers settled must undo the
	// transfers, otherwise the fill half-applies.
	if full {
		if err := e.state.OfferDelete(id); err != nil {
			_ = e.state.Transfer(offer.OfferAsset, acceptor, offer.Vault, release)
			_ = e.state.Transfer(offer.RequestAsset, offer.Creator, acceptor, fillRequest)
			return nil, err
		}
		if err := e.state.VaultClose(id, offer.Creator); err != nil {
			_ = e.state.OfferPut(prev)
			_ = e.state.Transfer(offer.OfferAsset, acceptor, offer.Vault, release)
			_ = e.state.Transfer(offer.RequestAsset, offer.Creator, acceptor, fillRequest)
			return nil, err
		}
	} else {
		if err := e.state.OfferPut(offer); err != nil {
			_ = e.state.Transfer(offer.OfferAsset, acceptor, offer.Vault, release)
			_ = e.state.Transfer(offer.RequestAsset, offer.Creator, acceptor, fillRequest)
			return nil, err
		}
	}
	e.emit(events.OfferAccepted{
		ID:                     id,
		Acceptor:               acceptor,
		OfferAmountReleased:    release,
		RequestAmountReceived:  fillRequest,
		RemainingOfferAmount:   remainingOffer,
		RemainingRequestAmount: remainingRequest,
		IsFullAcceptance:       full,
	})
	return &AcceptResult{
		OfferAmountReleased:    release,
		RequestAmountReceived:  fillRequest,
		RemainingOfferAmount:   remainingOffer,
		RemainingRequestAmount: remainingRequest,
		IsFullAcceptance:       full,
	}, nil
}

// CancelOffer refunds the vault's entire remaining balance to the creator and
// destroys the record. Only the creator may cancel; the check runs in
// constant time. Cancellation ignores the deadline, the offer just has to be
// open.
func (e *Engine) CancelOffer(id [32]byte, caller [20]byte) (uint64, error) {
	offer, err := e.loadOffer(id)
	if err != nil {
		return 0, err
	}
	if subtle.ConstantTimeCompare(caller[:], offer.Creator[:]) != 1 {
		return 0, ErrUnauthorized
	}
	refund := offer.RemainingOfferAmount
	if err := e.state.Transfer(offer.OfferAsset, offer.Vault, offer.Creator, refund); err != nil {
		return 0, err
	}
	if err := e.state.VaultClose(id, offer.Creator); err != nil {
		return 0, err
	}
	if err := e.state.OfferDelete(id); err != nil {
		return 0, err
	}
	e.emit(events.OfferCancelled{
		ID:             id,
		Creator:        offer.Creator,
		RefundedAmount: refund,
	})
	return refund, nil
}

// CloseExpiredOffer reclaims a lapsed offer on behalf of the creator. Anyone
// may invoke it once the deadline has passed; the remaining custody always
// returns to the creator while the custody deposit compensates the closer.
func (e *Engine) CloseExpiredOffer(id [32]byte, closer [20]byte) (uint64, error) {
	offer, err := e.loadOffer(id)
	if err != nil {
		return 0, err
	}
	if !offer.IsExpired(e.now()) {
		return 0, ErrOfferNotExpired
	}
	refund := offer.RemainingOfferAmount
	if err := e.state.Transfer(offer.OfferAsset, offer.Vault, offer.Creator, refund); err != nil {
		return 0, err
	}
	if err := e.state.VaultClose(id, closer); err != nil {
		return 0, err
	}
	if err := e.state.OfferDelete(id); err != nil {
		return 0, err
	}
	e.emit(events.OfferClosed{
		ID:             id,
		Creator:        offer.Creator,
		RefundedAmount: refund,
		Closer:         closer,
	})
	return refund, nil
}

// GetOffer returns a copy of the open offer stored at the address, if any.
// Lookups never mutate state, so two reads without an intervening transition
// always observe identical data.
func (e *Engine) GetOffer(id [32]byte) (*Offer, error) {
	return e.loadOffer(id)
}
