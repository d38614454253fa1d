package state

import (
	"bytes"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"swapchain/native/otc"
)

func offerStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(offerRecordPrefix)+len(id))
	copy(buf, offerRecordPrefix)
	copy(buf[len(offerRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

func offerIndexKey() []byte {
	return ethcrypto.Keccak256(offerIndexSeed)
}

func vaultStorageKey(id [32]byte) []byte {
	buf := make([]byte, len(vaultRecordPrefix)+len(id))
	copy(buf, vaultRecordPrefix)
	copy(buf[len(vaultRecordPrefix):], id[:])
	return ethcrypto.Keccak256(buf)
}

// storedOffer mirrors otc.Offer with RLP-friendly field types. Signed
// timestamps are wrapped in big.Int the same way the rest of the state
// records handle them.
type storedOffer struct {
	ID                     [32]byte
	Creator                [20]byte
	OfferAsset             string
	RequestAsset           string
	OfferAmount            uint64
	RequestAmount          uint64
	RemainingOfferAmount   uint64
	RemainingRequestAmount uint64
	Deadline               *big.Int
	Vault                  [20]byte
	OfferID                uint64
	CreatedAt              *big.Int
}

func newStoredOffer(o *otc.Offer) *storedOffer {
	if o == nil {
		return nil
	}
	return &storedOffer{
		ID:                     o.ID,
		Creator:                o.Creator,
		OfferAsset:             o.OfferAsset,
		RequestAsset:           o.RequestAsset,
		OfferAmount:            o.OfferAmount,
		RequestAmount:          o.RequestAmount,
		RemainingOfferAmount:   o.RemainingOfferAmount,
		RemainingRequestAmount: o.RemainingRequestAmount,
		Deadline:               big.NewInt(o.Deadline),
		Vault:                  o.Vault,
		OfferID:                o.OfferID,
		CreatedAt:              big.NewInt(o.CreatedAt),
	}
}

func (s *storedOffer) toOffer() (*otc.Offer, error) {
	if s == nil {
		return nil, fmt.Errorf("otc: nil storage record")
	}
	out := &otc.Offer{
		ID:                     s.ID,
		Creator:                s.Creator,
		OfferAsset:             s.OfferAsset,
		RequestAsset:           s.RequestAsset,
		OfferAmount:            s.OfferAmount,
		RequestAmount:          s.RequestAmount,
		RemainingOfferAmount:   s.RemainingOfferAmount,
		RemainingRequestAmount: s.RemainingRequestAmount,
		Vault:                  s.Vault,
		OfferID:                s.OfferID,
	}
	if s.Deadline != nil {
		out.Deadline = s.Deadline.Int64()
	}
	if s.CreatedAt != nil {
		out.CreatedAt = s.CreatedAt.Int64()
	}
	return otc.SanitizeOffer(out)
}

// OfferPut persists an open offer record.
func (m *Manager) OfferPut(o *otc.Offer) error {
	sanitized, err := otc.SanitizeOffer(o)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(newStoredOffer(sanitized))
	if err != nil {
		return err
	}
	if err := m.db.Put(offerStorageKey(sanitized.ID), encoded); err != nil {
		return err
	}
	return m.offerIndexAdd(sanitized.ID)
}

// OfferGet loads the open offer stored at the address, if any.
func (m *Manager) OfferGet(id [32]byte) (*otc.Offer, bool) {
	data, err := m.get(offerStorageKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedOffer)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	offer, err := stored.toOffer()
	if err != nil {
		return nil, false
	}
	return offer, true
}

// OfferDelete destroys the record of a terminally-transitioned offer.
func (m *Manager) OfferDelete(id [32]byte) error {
	if err := m.db.Delete(offerStorageKey(id)); err != nil {
		return err
	}
	return m.offerIndexRemove(id)
}

func (m *Manager) offerIndexAdd(id [32]byte) error {
	ids, err := m.offerIndex()
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if bytes.Equal(existing, id[:]) {
			return nil
		}
	}
	ids = append(ids, append([]byte(nil), id[:]...))
	return m.writeOfferIndex(ids)
}

func (m *Manager) offerIndexRemove(id [32]byte) error {
	ids, err := m.offerIndex()
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if !bytes.Equal(existing, id[:]) {
			filtered = append(filtered, existing)
		}
	}
	return m.writeOfferIndex(filtered)
}

func (m *Manager) offerIndex() ([][]byte, error) {
	data, err := m.get(offerIndexKey())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var ids [][]byte
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) writeOfferIndex(ids [][]byte) error {
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(offerIndexKey(), encoded)
}

// OfferList returns every open offer. Listing serves the read side only; no
// transition ever iterates offers.
func (m *Manager) OfferList() ([]*otc.Offer, error) {
	ids, err := m.offerIndex()
	if err != nil {
		return nil, err
	}
	offers := make([]*otc.Offer, 0, len(ids))
	for _, raw := range ids {
		if len(raw) != 32 {
			continue
		}
		var id [32]byte
		copy(id[:], raw)
		if offer, ok := m.OfferGet(id); ok {
			offers = append(offers, offer)
		}
	}
	return offers, nil
}

// storedVault records the custody deposit held for one offer's vault so the
// close path can refund exactly what was debited.
type storedVault struct {
	Vault        [20]byte
	DepositAsset string
	Deposit      *big.Int
}

// VaultCreate derives the custody account for the offer and debits the
// configured custody deposit from the creator into the vault address.
func (m *Manager) VaultCreate(offerID [32]byte, creator [20]byte) ([20]byte, error) {
	vault := otc.VaultAddress(offerID)
	record := &storedVault{Vault: vault, DepositAsset: m.depositAsset, Deposit: big.NewInt(0)}
	if m.custodyDeposit.Sign() > 0 && m.depositAsset != "" {
		if err := m.transfer(m.depositAsset, creator, vault, m.custodyDeposit); err != nil {
			return [20]byte{}, err
		}
		record.Deposit = new(big.Int).Set(m.custodyDeposit)
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return [20]byte{}, err
	}
	if err := m.db.Put(vaultStorageKey(offerID), encoded); err != nil {
		if record.Deposit.Sign() > 0 {
			_ = m.transfer(record.DepositAsset, vault, creator, record.Deposit)
		}
		return [20]byte{}, err
	}
	return vault, nil
}

// VaultClose refunds the custody deposit to the recipient and retires the
// vault record. The vault's escrowed asset balance must already be zero.
func (m *Manager) VaultClose(offerID [32]byte, depositRecipient [20]byte) error {
	data, err := m.get(vaultStorageKey(offerID))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("otc: vault not found")
	}
	record := new(storedVault)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return err
	}
	if record.Deposit != nil && record.Deposit.Sign() > 0 {
		if err := m.transfer(record.DepositAsset, record.Vault, depositRecipient, record.Deposit); err != nil {
			return err
		}
	}
	return m.db.Delete(vaultStorageKey(offerID))
}
