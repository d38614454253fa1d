package otc

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	offerSeed = []byte("otc/offer")
	vaultSeed = []byte("otc/vault")
)

// Offer captures one bilateral swap agreement and its fill state. A record
// exists iff the offer is open; terminal transitions delete it together with
// the custody vault, so open/closed needs no status flag.
type Offer struct {
	ID            [32]byte
	Creator       [20]byte
	OfferAsset    string
	RequestAsset  string
	OfferAmount   uint64
	RequestAmount uint64
	// Remaining amounts start equal to the originals and only ever decrease.
	RemainingOfferAmount   uint64
	RemainingRequestAmount uint64
	Deadline               int64
	Vault                  [20]byte
	OfferID                uint64
	CreatedAt              int64
}

// Clone returns a copy the caller can mutate without affecting the stored
// instance.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// IsExpired reports whether the deadline has been reached.
func (o *Offer) IsExpired(now int64) bool {
	return now >= o.Deadline
}

// NormalizeAsset canonicalises a token symbol to its uppercase form.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("otc: empty asset symbol")
	}
	return trimmed, nil
}

// SanitizeOffer validates and normalises the supplied offer, returning a
// cloned instance with canonical asset casing. The invariants checked here
// must hold at every observation point while the record exists.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("otc: nil offer")
	}
	clone := o.Clone()
	offerAsset, err := NormalizeAsset(clone.OfferAsset)
	if err != nil {
		return nil, err
	}
	requestAsset, err := NormalizeAsset(clone.RequestAsset)
	if err != nil {
		return nil, err
	}
	clone.OfferAsset = offerAsset
	clone.RequestAsset = requestAsset
	if clone.OfferAmount == 0 || clone.RequestAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if clone.RemainingOfferAmount > clone.OfferAmount ||
		clone.RemainingRequestAmount > clone.RequestAmount {
		return nil, fmt.Errorf("otc: remaining amount exceeds original")
	}
	if clone.RemainingOfferAmount == 0 && clone.RemainingRequestAmount == 0 {
		return nil, fmt.Errorf("otc: fully filled offer must not be stored")
	}
	return clone, nil
}

// OfferAddress derives the storage address of an offer from its creator and
// the caller-supplied identifier. The derivation is injective per distinct
// (creator, offerID) and stable, which is what makes duplicate detection and
// repeat lookup work.
func OfferAddress(creator [20]byte, offerID uint64) [32]byte {
	buf := make([]byte, 0, len(offerSeed)+len(creator)+8)
	buf = append(buf, offerSeed...)
	buf = append(buf, creator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, offerID)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// VaultAddress derives the custody account address scoped to one offer.
func VaultAddress(offerID [32]byte) [20]byte {
	buf := make([]byte, 0, len(vaultSeed)+len(offerID))
	buf = append(buf, vaultSeed...)
	buf = append(buf, offerID[:]...)
	hash := ethcrypto.Keccak256(buf)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

// CalculateFill computes the proportional offer-side release for a fill of
// fillRequest units of the request asset. The ratio uses the ORIGINAL
// amounts, not the remaining ones, so every fill settles at the original
// exchange rate and rounding drift never compounds across partial fills.
// Intermediates are wider than 64 bits; a quotient that does not fit the
// unsigned 64-bit amount range aborts with ErrMathOverflow.
func (o *Offer) CalculateFill(fillRequest uint64) (uint64, error) {
	if fillRequest == 0 {
		return 0, ErrInvalidAmount
	}
	if fillRequest > o.RemainingRequestAmount {
		return 0, ErrInsufficientOfferAmount
	}
	release := new(big.Int).Mul(
		new(big.Int).SetUint64(o.OfferAmount),
		new(big.Int).SetUint64(fillRequest),
	)
	release.Div(release, new(big.Int).SetUint64(o.RequestAmount))
	if !release.IsUint64() {
		return 0, ErrMathOverflow
	}
	return release.Uint64(), nil
}
