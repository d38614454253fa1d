package rpc

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"swapchain/core"
	"swapchain/core/types"
	"swapchain/crypto"
	"swapchain/native/otc"
)

const (
	codeOTCInvalidParams      = -32021
	codeOTCNotFound           = -32022
	codeOTCForbidden          = -32023
	codeOTCConflict           = -32024
	codeOTCInternal           = -32025
	codeOTCFailedPrecondition = -32026
)

type offerJSON struct {
	ID                     string `json:"id"`
	Creator                string `json:"creator"`
	OfferAsset             string `json:"offerAsset"`
	RequestAsset           string `json:"requestAsset"`
	OfferAmount            string `json:"offerAmount"`
	RequestAmount          string `json:"requestAmount"`
	RemainingOfferAmount   string `json:"remainingOfferAmount"`
	RemainingRequestAmount string `json:"remainingRequestAmount"`
	Deadline               int64  `json:"deadline"`
	Vault                  string `json:"vault"`
	OfferID                uint64 `json:"offerId"`
	CreatedAt              int64  `json:"createdAt"`
}

func offerToJSON(o *otc.Offer) *offerJSON {
	if o == nil {
		return nil
	}
	creator := crypto.NewAddress(crypto.SwapPrefix, o.Creator[:]).String()
	vault := crypto.NewAddress(crypto.SwapPrefix, o.Vault[:]).String()
	return &offerJSON{
		ID:                     "0x" + hex.EncodeToString(o.ID[:]),
		Creator:                creator,
		OfferAsset:             o.OfferAsset,
		RequestAsset:           o.RequestAsset,
		OfferAmount:            strconv.FormatUint(o.OfferAmount, 10),
		RequestAmount:          strconv.FormatUint(o.RequestAmount, 10),
		RemainingOfferAmount:   strconv.FormatUint(o.RemainingOfferAmount, 10),
		RemainingRequestAmount: strconv.FormatUint(o.RemainingRequestAmount, 10),
		Deadline:               o.Deadline,
		Vault:                  vault,
		OfferID:                o.OfferID,
		CreatedAt:              o.CreatedAt,
	}
}

type acceptJSON struct {
	OfferAmountReleased    string `json:"offerAmountReleased"`
	RequestAmountReceived  string `json:"requestAmountReceived"`
	RemainingOfferAmount   string `json:"remainingOfferAmount"`
	RemainingRequestAmount string `json:"remainingRequestAmount"`
	IsFullAcceptance       bool   `json:"isFullAcceptance"`
}

type txResultJSON struct {
	Offer          *offerJSON  `json:"offer,omitempty"`
	Accept         *acceptJSON `json:"accept,omitempty"`
	RefundedAmount string      `json:"refundedAmount,omitempty"`
}

func txResultToJSON(res *core.TxResult) *txResultJSON {
	out := &txResultJSON{Offer: offerToJSON(res.Offer)}
	if res.Accept != nil {
		out.Accept = &acceptJSON{
			OfferAmountReleased:    strconv.FormatUint(res.Accept.OfferAmountReleased, 10),
			RequestAmountReceived:  strconv.FormatUint(res.Accept.RequestAmountReceived, 10),
			RemainingOfferAmount:   strconv.FormatUint(res.Accept.RemainingOfferAmount, 10),
			RemainingRequestAmount: strconv.FormatUint(res.Accept.RemainingRequestAmount, 10),
			IsFullAcceptance:       res.Accept.IsFullAcceptance,
		}
	}
	if res.RefundedAmount > 0 {
		out.RefundedAmount = strconv.FormatUint(res.RefundedAmount, 10)
	}
	return out
}

// engineErrorCode maps the module error taxonomy onto RPC error codes so
// clients can branch without string matching.
func engineErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, otc.ErrInvalidAmount),
		errors.Is(err, otc.ErrInvalidDeadline),
		errors.Is(err, otc.ErrInvalidAsset):
		return codeOTCInvalidParams, "invalid_params"
	case errors.Is(err, otc.ErrOfferNotFound):
		return codeOTCNotFound, "not_found"
	case errors.Is(err, otc.ErrUnauthorized):
		return codeOTCForbidden, "forbidden"
	case errors.Is(err, otc.ErrDuplicateOffer):
		return codeOTCConflict, "conflict"
	case errors.Is(err, otc.ErrInsufficientBalance),
		errors.Is(err, otc.ErrInsufficientOfferAmount),
		errors.Is(err, otc.ErrOfferExpired),
		errors.Is(err, otc.ErrOfferNotExpired),
		errors.Is(err, otc.ErrMathOverflow):
		return codeOTCFailedPrecondition, "failed_precondition"
	default:
		return codeOTCInternal, "internal_error"
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, id int, err error) int {
	code, message := engineErrorCode(err)
	status := http.StatusBadRequest
	if code == codeOTCInternal {
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, message, err.Error())
	return code
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return rpcErr.Code
	}
	var tx types.Transaction
	if err := singleParam(req, &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	result, err := s.node.ApplyTransaction(&tx)
	if err != nil {
		s.logger.Warn("transaction rejected",
			slog.Int("type", int(tx.Type)),
			slog.Uint64("nonce", tx.Nonce),
			slog.String("error", err.Error()))
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, txResultToJSON(result))
	return 0
}

type getOfferParams struct {
	ID string `json:"id"`
}

func decodeOfferID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, err
	}
	if len(decoded) != len(id) {
		return id, errors.New("offer id must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func (s *Server) handleGetOffer(w http.ResponseWriter, req *RPCRequest) int {
	var params getOfferParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	id, err := decodeOfferID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	offer, err := s.node.OfferGet(id)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, offerToJSON(offer))
	return 0
}

func (s *Server) handleListOffers(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "no parameters expected")
		return codeInvalidParams
	}
	offers, err := s.node.OfferList()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	out := make([]*offerJSON, 0, len(offers))
	for _, offer := range offers {
		out = append(out, offerToJSON(offer))
	}
	writeResult(w, req.ID, out)
	return 0
}

type getBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func decodeBech32(raw string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) int {
	var params getBalanceParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	balance, err := s.node.Balance(addr, params.Asset)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, balanceJSON{
		Address: params.Address,
		Asset:   strings.ToUpper(strings.TrimSpace(params.Asset)),
		Amount:  balance.String(),
	})
	return 0
}

type getNonceParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetNonce(w http.ResponseWriter, req *RPCRequest) int {
	var params getNonceParams
	if err := singleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return codeInvalidParams
	}
	nonce, err := s.node.Nonce(addr)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]uint64{"nonce": nonce})
	return 0
}

type getEventsParams struct {
	From int `json:"from"`
}

func (s *Server) handleGetEvents(w http.ResponseWriter, req *RPCRequest) int {
	var params getEventsParams
	if len(req.Params) > 0 {
		if err := singleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return codeInvalidParams
		}
	}
	if params.From < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "from must not be negative")
		return codeInvalidParams
	}
	writeResult(w, req.ID, s.node.Events(params.From))
	return 0
}

func (s *Server) handleListTokens(w http.ResponseWriter, req *RPCRequest) int {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "no parameters expected")
		return codeInvalidParams
	}
	tokens, err := s.node.TokenList()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, tokens)
	return 0
}
