package otc

import "errors"

var (
	// ErrInvalidAmount is returned when a zero quantity is supplied for an
	// offer term or a fill.
	ErrInvalidAmount = errors.New("otc: amount must be positive")
	// ErrInvalidDeadline is returned when an offer deadline is not strictly in
	// the future at creation time.
	ErrInvalidDeadline = errors.New("otc: deadline must be in the future")
	// ErrDuplicateOffer is returned when an open offer already exists at the
	// address derived from (creator, offer id).
	ErrDuplicateOffer = errors.New("otc: offer identifier already in use")
	// ErrInsufficientBalance is surfaced by the ledger primitive when a debit
	// cannot be covered.
	ErrInsufficientBalance = errors.New("otc: insufficient balance")
	// ErrInsufficientOfferAmount is returned when a fill exceeds the remaining
	// requested amount.
	ErrInsufficientOfferAmount = errors.New("otc: insufficient offer amount remaining")
	// ErrOfferExpired is returned when a fill is attempted at or past the
	// deadline.
	ErrOfferExpired = errors.New("otc: offer has expired")
	// ErrOfferNotExpired is returned when a reclaim is attempted before the
	// deadline.
	ErrOfferNotExpired = errors.New("otc: offer has not expired yet")
	// ErrUnauthorized is returned when the caller does not hold the identity a
	// transition requires.
	ErrUnauthorized = errors.New("otc: unauthorized")
	// ErrMathOverflow is returned when settlement arithmetic exceeds the
	// unsigned 64-bit amount range. The transition aborts with no mutation.
	ErrMathOverflow = errors.New("otc: math overflow")
	// ErrOfferNotFound is returned when no open offer exists at the address.
	ErrOfferNotFound = errors.New("otc: offer not found")
	// ErrInvalidAsset is returned when an offer references an unregistered
	// token symbol.
	ErrInvalidAsset = errors.New("otc: unregistered asset")

	errNilState = errors.New("otc engine: state not configured")
)
