package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"swapchain/core/types"
	"swapchain/crypto"
	"swapchain/native/otc"
	"swapchain/storage"
)

const nodeTestNow = int64(1_700_000_000)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	node := NewNode(storage.NewMemDB())
	node.SetNowFunc(func() int64 { return nodeTestNow })
	err := node.Bootstrap(
		[]TokenSpec{
			{Symbol: "GLDT", Name: "Gold Token", Decimals: 6},
			{Symbol: "USDQ", Name: "Quote Dollar", Decimals: 6},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return node
}

func newTestKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var addr [20]byte
	copy(addr[:], key.PubKey().Address().Bytes())
	return key, addr
}

func fundAccount(t *testing.T, node *Node, addr [20]byte, asset string, amount int64) {
	t.Helper()
	err := node.Bootstrap(nil, []Allocation{{Address: addr, Symbol: asset, Amount: big.NewInt(amount)}})
	if err != nil {
		t.Fatalf("fund %s: %v", asset, err)
	}
}

func signedTx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) *types.Transaction {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	tx := &types.Transaction{Type: txType, Nonce: nonce, Data: data}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func createOfferTx(t *testing.T, key *crypto.PrivateKey, nonce uint64) *types.Transaction {
	t.Helper()
	return signedTx(t, key, types.TxTypeCreateOffer, nonce, types.CreateOfferPayload{
		OfferAsset:    "GLDT",
		RequestAsset:  "USDQ",
		OfferAmount:   1_000,
		RequestAmount: 2_000,
		Deadline:      nodeTestNow + 3600,
		OfferID:       1,
	})
}

func TestApplyTransactionLifecycle(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	acceptorKey, acceptor := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 1_000)
	fundAccount(t, node, acceptor, "USDQ", 2_000)

	result, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if result.Offer == nil {
		t.Fatalf("create must return the offer")
	}
	offerID := result.Offer.ID

	accept := signedTx(t, acceptorKey, types.TxTypeAcceptOffer, 0, types.AcceptOfferPayload{
		Offer:       hex.EncodeToString(offerID[:]),
		FillRequest: 2_000,
	})
	acceptResult, err := node.ApplyTransaction(accept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if acceptResult.Accept == nil || !acceptResult.Accept.IsFullAcceptance {
		t.Fatalf("expected full acceptance, got %+v", acceptResult)
	}

	creatorUSDQ, err := node.Balance(creator, "USDQ")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	acceptorGLDT, err := node.Balance(acceptor, "GLDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if creatorUSDQ.Int64() != 2_000 || acceptorGLDT.Int64() != 1_000 {
		t.Fatalf("settlement balances wrong: %s/%s", creatorUSDQ, acceptorGLDT)
	}

	if _, err := node.OfferGet(offerID); !errors.Is(err, otc.ErrOfferNotFound) {
		t.Fatalf("offer must be destroyed after full fill, got %v", err)
	}

	evts := node.Events(0)
	if len(evts) != 2 {
		t.Fatalf("expected creation and acceptance events, got %d", len(evts))
	}
	if evts[0].Type != "otc.offer.created" || evts[1].Type != "otc.offer.accepted" {
		t.Fatalf("unexpected event types %s/%s", evts[0].Type, evts[1].Type)
	}
}

func TestAcceptOwnOfferConservesValue(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 1_000)
	fundAccount(t, node, creator, "USDQ", 2_000)

	result, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	offerID := result.Offer.ID

	accept := signedTx(t, creatorKey, types.TxTypeAcceptOffer, 1, types.AcceptOfferPayload{
		Offer:       hex.EncodeToString(offerID[:]),
		FillRequest: 2_000,
	})
	acceptResult, err := node.ApplyTransaction(accept)
	if err != nil {
		t.Fatalf("accept own offer: %v", err)
	}
	if !acceptResult.Accept.IsFullAcceptance {
		t.Fatalf("expected full acceptance, got %+v", acceptResult.Accept)
	}

	// The request-asset leg is creator-to-creator and must net to zero; the
	// offer asset simply returns. Nothing may be minted.
	gldt, err := node.Balance(creator, "GLDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	usdq, err := node.Balance(creator, "USDQ")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if gldt.Int64() != 1_000 || usdq.Int64() != 2_000 {
		t.Fatalf("self-accept changed total holdings: GLDT=%s USDQ=%s", gldt, usdq)
	}
	if _, err := node.OfferGet(offerID); !errors.Is(err, otc.ErrOfferNotFound) {
		t.Fatalf("offer must be destroyed after full fill, got %v", err)
	}
}

func TestApplyTransactionNonceReplay(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 2_000)

	tx := createOfferTx(t, creatorKey, 0)
	if _, err := node.ApplyTransaction(tx); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := node.ApplyTransaction(tx); err == nil {
		t.Fatalf("replay with a consumed nonce must fail")
	}

	nonce, err := node.Nonce(creator)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("expected nonce 1 after one transaction, got %d", nonce)
	}
}

func TestApplyTransactionFailedTransitionKeepsNonce(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	// No funding: the create must fail inside the engine.

	tx := createOfferTx(t, creatorKey, 0)
	if _, err := node.ApplyTransaction(tx); !errors.Is(err, otc.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	nonce, err := node.Nonce(creator)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("a failed transition must not consume the nonce")
	}
}

// faultyDB rejects writes on demand so nonce persistence failures can be
// exercised.
type faultyDB struct {
	storage.Database
	failPuts bool
}

func (db *faultyDB) Put(key, value []byte) error {
	if db.failPuts {
		return fmt.Errorf("disk full")
	}
	return db.Database.Put(key, value)
}

func TestApplyTransactionRequiresNoncePersistence(t *testing.T) {
	db := &faultyDB{Database: storage.NewMemDB()}
	node := NewNode(db)
	node.SetNowFunc(func() int64 { return nodeTestNow })
	err := node.Bootstrap(
		[]TokenSpec{
			{Symbol: "GLDT", Name: "Gold Token", Decimals: 6},
			{Symbol: "USDQ", Name: "Quote Dollar", Decimals: 6},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	creatorKey, creator := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 1_000)

	db.failPuts = true
	if _, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0)); err == nil {
		t.Fatalf("transaction must fail when the replay guard cannot persist")
	}
	db.failPuts = false

	offers, err := node.OfferList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("transition applied without a persisted nonce")
	}
	nonce, err := node.Nonce(creator)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("expected nonce 0 after rejected transaction, got %d", nonce)
	}

	// The same envelope then applies cleanly.
	if _, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0)); err != nil {
		t.Fatalf("resubmit after recovery: %v", err)
	}
}

func TestApplyTransactionRejectsUnsigned(t *testing.T) {
	node := newTestNode(t)
	payload, _ := json.Marshal(types.CreateOfferPayload{
		OfferAsset:    "GLDT",
		RequestAsset:  "USDQ",
		OfferAmount:   100,
		RequestAmount: 100,
		Deadline:      nodeTestNow + 60,
		OfferID:       1,
	})
	tx := &types.Transaction{Type: types.TxTypeCreateOffer, Nonce: 0, Data: payload}
	if _, err := node.ApplyTransaction(tx); !errors.Is(err, otc.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestApplyTransactionRejectsTamperedPayload(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 10_000)

	tx := createOfferTx(t, creatorKey, 0)
	tampered, _ := json.Marshal(types.CreateOfferPayload{
		OfferAsset:    "GLDT",
		RequestAsset:  "USDQ",
		OfferAmount:   9_999,
		RequestAmount: 1,
		Deadline:      nodeTestNow + 3600,
		OfferID:       1,
	})
	tx.Data = tampered

	// Recovery over the mutated hash yields some other address whose nonce
	// and balances do not line up, so the transaction cannot take effect as
	// the original signer.
	if _, err := node.ApplyTransaction(tx); err == nil {
		t.Fatalf("tampered payload must not apply")
	}
	offers, err := node.OfferList()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(offers) != 0 {
		t.Fatalf("tampered payload must not open an offer")
	}
}

func TestCancelRequiresCreatorSignature(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	strangerKey, _ := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 1_000)

	result, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	offerID := result.Offer.ID
	ref := types.OfferRefPayload{Offer: hex.EncodeToString(offerID[:])}

	cancel := signedTx(t, strangerKey, types.TxTypeCancelOffer, 0, ref)
	if _, err := node.ApplyTransaction(cancel); !errors.Is(err, otc.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	cancel = signedTx(t, creatorKey, types.TxTypeCancelOffer, 1, ref)
	cancelResult, err := node.ApplyTransaction(cancel)
	if err != nil {
		t.Fatalf("creator cancel: %v", err)
	}
	if cancelResult.RefundedAmount != 1_000 {
		t.Fatalf("expected full refund, got %d", cancelResult.RefundedAmount)
	}
	balance, _ := node.Balance(creator, "GLDT")
	if balance.Int64() != 1_000 {
		t.Fatalf("custody must return to the creator")
	}
}

func TestCloseExpiredViaTransaction(t *testing.T) {
	node := newTestNode(t)
	creatorKey, creator := newTestKey(t)
	closerKey, _ := newTestKey(t)
	fundAccount(t, node, creator, "GLDT", 1_000)

	result, err := node.ApplyTransaction(createOfferTx(t, creatorKey, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	offerID := result.Offer.ID
	ref := types.OfferRefPayload{Offer: hex.EncodeToString(offerID[:])}

	closeTx := signedTx(t, closerKey, types.TxTypeCloseExpiredOffer, 0, ref)
	if _, err := node.ApplyTransaction(closeTx); !errors.Is(err, otc.ErrOfferNotExpired) {
		t.Fatalf("expected ErrOfferNotExpired, got %v", err)
	}

	node.SetNowFunc(func() int64 { return result.Offer.Deadline })
	closeResult, err := node.ApplyTransaction(signedTx(t, closerKey, types.TxTypeCloseExpiredOffer, 0, ref))
	if err != nil {
		t.Fatalf("close expired: %v", err)
	}
	if closeResult.RefundedAmount != 1_000 {
		t.Fatalf("expected full refund, got %d", closeResult.RefundedAmount)
	}
	balance, _ := node.Balance(creator, "GLDT")
	if balance.Int64() != 1_000 {
		t.Fatalf("custody must return to the creator, not the closer")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	node := newTestNode(t)
	addr := [20]byte{0x01}
	fundAccount(t, node, addr, "GLDT", 500)
	// A second bootstrap run must not double-credit.
	fundAccount(t, node, addr, "GLDT", 500)

	balance, err := node.Balance(addr, "GLDT")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 500 {
		t.Fatalf("bootstrap double-credited: %s", balance)
	}
}
