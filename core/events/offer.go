package events

import (
	"encoding/hex"

	"swapchain/core/types"
	"swapchain/crypto"
)

const (
	TypeOfferCreated   = "otc.offer.created"
	TypeOfferAccepted  = "otc.offer.accepted"
	TypeOfferCancelled = "otc.offer.cancelled"
	TypeOfferClosed    = "otc.offer.closed"
)

// OfferCreated is emitted when a creator locks custody and opens an offer.
type OfferCreated struct {
	ID            [32]byte
	Creator       [20]byte
	OfferAsset    string
	RequestAsset  string
	OfferAmount   uint64
	RequestAmount uint64
	Deadline      int64
	OfferID       uint64
}

func (OfferCreated) EventType() string { return TypeOfferCreated }

func (e OfferCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCreated,
		Attributes: map[string]string{
			"offer":         hex.EncodeToString(e.ID[:]),
			"creator":       crypto.NewAddress(crypto.SwapPrefix, e.Creator[:]).String(),
			"offerAsset":    e.OfferAsset,
			"requestAsset":  e.RequestAsset,
			"offerAmount":   uintToString(e.OfferAmount),
			"requestAmount": uintToString(e.RequestAmount),
			"deadline":      intToString(e.Deadline),
			"offerId":       uintToString(e.OfferID),
		},
	}
}

// OfferAccepted is emitted on every successful fill, partial or full.
type OfferAccepted struct {
	ID                     [32]byte
	Acceptor               [20]byte
	OfferAmountReleased    uint64
	RequestAmountReceived  uint64
	RemainingOfferAmount   uint64
	RemainingRequestAmount uint64
	IsFullAcceptance       bool
}

func (OfferAccepted) EventType() string { return TypeOfferAccepted }

func (e OfferAccepted) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferAccepted,
		Attributes: map[string]string{
			"offer":                  hex.EncodeToString(e.ID[:]),
			"acceptor":               crypto.NewAddress(crypto.SwapPrefix, e.Acceptor[:]).String(),
			"offerAmountReleased":    uintToString(e.OfferAmountReleased),
			"requestAmountReceived":  uintToString(e.RequestAmountReceived),
			"remainingOfferAmount":   uintToString(e.RemainingOfferAmount),
			"remainingRequestAmount": uintToString(e.RemainingRequestAmount),
			"isFullAcceptance":       boolToString(e.IsFullAcceptance),
		},
	}
}

// OfferCancelled is emitted when the creator withdraws an open offer.
type OfferCancelled struct {
	ID             [32]byte
	Creator        [20]byte
	RefundedAmount uint64
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"offer":          hex.EncodeToString(e.ID[:]),
			"creator":        crypto.NewAddress(crypto.SwapPrefix, e.Creator[:]).String(),
			"refundedAmount": uintToString(e.RefundedAmount),
		},
	}
}

// OfferClosed is emitted when a lapsed offer is reclaimed. Closer records the
// party that paid for the transition; the refund itself goes to the creator.
type OfferClosed struct {
	ID             [32]byte
	Creator        [20]byte
	RefundedAmount uint64
	Closer         [20]byte
}

func (OfferClosed) EventType() string { return TypeOfferClosed }

func (e OfferClosed) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferClosed,
		Attributes: map[string]string{
			"offer":          hex.EncodeToString(e.ID[:]),
			"creator":        crypto.NewAddress(crypto.SwapPrefix, e.Creator[:]).String(),
			"refundedAmount": uintToString(e.RefundedAmount),
			"closer":         crypto.NewAddress(crypto.SwapPrefix, e.Closer[:]).String(),
		},
	}
}
