package state

import (
	"math/big"
	"testing"

	"swapchain/native/otc"
)

func testOffer(creator [20]byte, seq uint64) *otc.Offer {
	id := otc.OfferAddress(creator, seq)
	return &otc.Offer{
		ID:                     id,
		Creator:                creator,
		OfferAsset:             "GLDT",
		RequestAsset:           "SWP",
		OfferAmount:            1_000,
		RequestAmount:          2_000,
		RemainingOfferAmount:   750,
		RemainingRequestAmount: 1_500,
		Deadline:               1_700_000_500,
		Vault:                  otc.VaultAddress(id),
		OfferID:                seq,
		CreatedAt:              1_700_000_000,
	}
}

func TestOfferPersistenceRoundTrip(t *testing.T) {
	m := newTestManager(t)
	offer := testOffer(testAddr(0x10), 1)

	if err := m.OfferPut(offer); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := m.OfferGet(offer.ID)
	if !ok {
		t.Fatalf("offer not found after put")
	}
	if *loaded != *offer {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", loaded, offer)
	}
}

func TestOfferPutRejectsInvalidRecords(t *testing.T) {
	m := newTestManager(t)
	offer := testOffer(testAddr(0x11), 1)
	offer.RemainingOfferAmount = 0
	offer.RemainingRequestAmount = 0

	if err := m.OfferPut(offer); err == nil {
		t.Fatalf("fully filled record must not persist")
	}
}

func TestOfferDeleteRemovesRecordAndIndex(t *testing.T) {
	m := newTestManager(t)
	offer := testOffer(testAddr(0x12), 1)
	if err := m.OfferPut(offer); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.OfferDelete(offer.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.OfferGet(offer.ID); ok {
		t.Fatalf("offer survived delete")
	}
	offers, err := m.OfferList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("index entry survived delete")
	}
}

func TestOfferListTracksOpenOffers(t *testing.T) {
	m := newTestManager(t)
	creator := testAddr(0x13)
	first := testOffer(creator, 1)
	second := testOffer(creator, 2)

	if err := m.OfferPut(first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := m.OfferPut(second); err != nil {
		t.Fatalf("put second: %v", err)
	}
	// Re-putting an offer must not duplicate its index entry.
	first.RemainingOfferAmount = 500
	first.RemainingRequestAmount = 1_000
	if err := m.OfferPut(first); err != nil {
		t.Fatalf("update first: %v", err)
	}

	offers, err := m.OfferList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 open offers, got %d", len(offers))
	}
}

func TestVaultDepositRoundTrip(t *testing.T) {
	m := newTestManager(t)
	m.SetCustodyDeposit("SWP", big.NewInt(5))
	creator := testAddr(0x14)
	recipient := testAddr(0x15)
	if err := m.SetBalance(creator, "SWP", big.NewInt(5)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	offerID := otc.OfferAddress(creator, 1)

	vault, err := m.VaultCreate(offerID, creator)
	if err != nil {
		t.Fatalf("vault create: %v", err)
	}
	if vault != otc.VaultAddress(offerID) {
		t.Fatalf("vault address must derive from the offer id")
	}
	creatorBal, _ := m.Balance(creator, "SWP")
	vaultBal, _ := m.Balance(vault, "SWP")
	if creatorBal.Sign() != 0 || vaultBal.Int64() != 5 {
		t.Fatalf("deposit not debited into the vault: %s/%s", creatorBal, vaultBal)
	}

	if err := m.VaultClose(offerID, recipient); err != nil {
		t.Fatalf("vault close: %v", err)
	}
	recipientBal, _ := m.Balance(recipient, "SWP")
	if recipientBal.Int64() != 5 {
		t.Fatalf("deposit must go to the designated recipient")
	}
	if err := m.VaultClose(offerID, recipient); err == nil {
		t.Fatalf("closing a retired vault must fail")
	}
}

func TestVaultCreateFailsWithoutDepositFunds(t *testing.T) {
	m := newTestManager(t)
	m.SetCustodyDeposit("SWP", big.NewInt(5))
	creator := testAddr(0x16)
	offerID := otc.OfferAddress(creator, 1)

	if _, err := m.VaultCreate(offerID, creator); err == nil {
		t.Fatalf("create must fail when the deposit cannot be covered")
	}
}

func TestVaultWithoutConfiguredDeposit(t *testing.T) {
	m := newTestManager(t)
	creator := testAddr(0x17)
	offerID := otc.OfferAddress(creator, 1)

	vault, err := m.VaultCreate(offerID, creator)
	if err != nil {
		t.Fatalf("vault create: %v", err)
	}
	if err := m.VaultClose(offerID, creator); err != nil {
		t.Fatalf("vault close: %v", err)
	}
	balance, _ := m.Balance(vault, "SWP")
	if balance.Sign() != 0 {
		t.Fatalf("no deposit may move when none is configured")
	}
}
