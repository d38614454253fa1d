package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// TxType defines the operation carried by a transaction.
type TxType byte

const (
	TxTypeCreateOffer       TxType = 0x01 // Lock offer asset and open a new offer
	TxTypeAcceptOffer       TxType = 0x02 // Fill an open offer fully or partially
	TxTypeCancelOffer       TxType = 0x03 // Creator-initiated refund of the remaining custody
	TxTypeCloseExpiredOffer TxType = 0x04 // Permissionless reclaim after the deadline
)

// Transaction is the signed envelope for every mutating operation. The
// operation arguments travel JSON-encoded in Data; the signer is recovered
// from the secp256k1 signature over the envelope hash.
type Transaction struct {
	Type  TxType `json:"type"`
	Nonce uint64 `json:"nonce"`
	Data  []byte `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// CreateOfferPayload carries the arguments of a create-offer operation.
type CreateOfferPayload struct {
	OfferAsset    string `json:"offerAsset"`
	RequestAsset  string `json:"requestAsset"`
	OfferAmount   uint64 `json:"offerAmount"`
	RequestAmount uint64 `json:"requestAmount"`
	Deadline      int64  `json:"deadline"`
	OfferID       uint64 `json:"offerId"`
}

// AcceptOfferPayload carries the arguments of an accept-offer operation.
type AcceptOfferPayload struct {
	Offer       string `json:"offer"` // hex-encoded 32-byte offer address
	FillRequest uint64 `json:"fillRequest"`
}

// OfferRefPayload references an existing offer for cancel and close-expired.
type OfferRefPayload struct {
	Offer string `json:"offer"`
}

// Hash covers every field that determines the effect of the transaction.
func (tx *Transaction) Hash() ([]byte, error) {
	txData := struct {
		Type  TxType
		Nonce uint64
		Data  []byte
	}{tx.Type, tx.Nonce, tx.Data}

	b, err := json.Marshal(txData)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the signer address. The result is cached; a transaction with
// a missing or malformed signature yields an error, never a zero address.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, fmt.Errorf("transaction is not signed")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	rBytes := tx.R.Bytes()
	sBytes := tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, fmt.Errorf("malformed signature")
	}
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	v := tx.V.Uint64()
	if v < 27 || v > 28 {
		return nil, fmt.Errorf("malformed signature recovery id")
	}
	sig[64] = byte(v - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
