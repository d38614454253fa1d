package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"swapchain/core/types"
	"swapchain/crypto"
)

var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("SWAPD_RPC_TOKEN")

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "balance":
		if len(args) < 3 {
			fmt.Println("Usage: balance <address> <asset>")
			return
		}
		getBalance(args[1], args[2])
	case "offers":
		listOffers()
	case "offer":
		if len(args) < 2 {
			fmt.Println("Usage: offer <offer-id>")
			return
		}
		getOffer(args[1])
	case "create-offer":
		if len(args) < 8 {
			fmt.Println("Usage: create-offer <offerAsset> <requestAsset> <offerAmount> <requestAmount> <deadline-rfc3339|unix> <seq> <keyfile>")
			return
		}
		createOffer(args[1], args[2], args[3], args[4], args[5], args[6], args[7])
	case "accept-offer":
		if len(args) < 4 {
			fmt.Println("Usage: accept-offer <offer-id> <fillRequest> <keyfile>")
			return
		}
		acceptOffer(args[1], args[2], args[3])
	case "cancel-offer":
		if len(args) < 3 {
			fmt.Println("Usage: cancel-offer <offer-id> <keyfile>")
			return
		}
		sendOfferRef(types.TxTypeCancelOffer, args[1], args[2])
	case "close-expired":
		if len(args) < 3 {
			fmt.Println("Usage: close-expired <offer-id> <keyfile>")
			return
		}
		sendOfferRef(types.TxTypeCloseExpiredOffer, args[1], args[2])
	case "events":
		from := 0
		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil {
				fmt.Println("Error: invalid event cursor.")
				return
			}
			from = parsed
		}
		listEvents(from)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: swap-cli [--rpc <url>] <command> [args]")
	fmt.Println("Commands:")
	fmt.Println("  generate-key")
	fmt.Println("  balance <address> <asset>")
	fmt.Println("  offers")
	fmt.Println("  offer <offer-id>")
	fmt.Println("  create-offer <offerAsset> <requestAsset> <offerAmount> <requestAmount> <deadline> <seq> <keyfile>")
	fmt.Println("  accept-offer <offer-id> <fillRequest> <keyfile>")
	fmt.Println("  cancel-offer <offer-id> <keyfile>")
	fmt.Println("  close-expired <offer-id> <keyfile>")
	fmt.Println("  events [from]")
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}

	fileName := "wallet.key"
	if err := os.WriteFile(fileName, key.Bytes(), 0600); err != nil {
		panic(fmt.Sprintf("Failed to save key to %s: %v", fileName, err))
	}

	fmt.Printf("Generated new key and saved to %s\n", fileName)
	fmt.Printf("Your public address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Signing commands will refuse to run without it.")
}

func getBalance(addr, asset string) {
	result, err := callRPC("otc_getBalance", map[string]string{"address": addr, "asset": asset}, false)
	if err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	var balance struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	}
	if err := json.Unmarshal(result, &balance); err != nil {
		fmt.Printf("Error decoding balance: %v\n", err)
		return
	}
	fmt.Printf("Balance for %s\n", addr)
	fmt.Printf("  %s: %s\n", balance.Asset, balance.Amount)
}

func listOffers() {
	result, err := callRPC("otc_listOffers", nil, false)
	if err != nil {
		fmt.Printf("Error listing offers: %v\n", err)
		return
	}
	printJSON(result)
}

func getOffer(id string) {
	result, err := callRPC("otc_getOffer", map[string]string{"id": id}, false)
	if err != nil {
		fmt.Printf("Error fetching offer: %v\n", err)
		return
	}
	printJSON(result)
}

func listEvents(from int) {
	result, err := callRPC("otc_getEvents", map[string]int{"from": from}, false)
	if err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	printJSON(result)
}

func createOffer(offerAsset, requestAsset, offerAmountRaw, requestAmountRaw, deadlineRaw, seqRaw, keyFile string) {
	offerAmount, err := strconv.ParseUint(offerAmountRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid offer amount.")
		return
	}
	requestAmount, err := strconv.ParseUint(requestAmountRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid request amount.")
		return
	}
	deadline, err := parseDeadline(deadlineRaw)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	seq, err := strconv.ParseUint(seqRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid offer sequence number.")
		return
	}

	payload := types.CreateOfferPayload{
		OfferAsset:    offerAsset,
		RequestAsset:  requestAsset,
		OfferAmount:   offerAmount,
		RequestAmount: requestAmount,
		Deadline:      deadline,
		OfferID:       seq,
	}
	result, err := signAndSend(types.TxTypeCreateOffer, payload, keyFile)
	if err != nil {
		fmt.Printf("Error sending create-offer transaction: %v\n", err)
		return
	}
	fmt.Println("Offer created.")
	printJSON(result)
}

func acceptOffer(id, fillRaw, keyFile string) {
	fillRequest, err := strconv.ParseUint(fillRaw, 10, 64)
	if err != nil {
		fmt.Println("Error: invalid fill amount.")
		return
	}
	if _, err := decodeOfferID(id); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	payload := types.AcceptOfferPayload{Offer: id, FillRequest: fillRequest}
	result, err := signAndSend(types.TxTypeAcceptOffer, payload, keyFile)
	if err != nil {
		fmt.Printf("Error sending accept-offer transaction: %v\n", err)
		return
	}
	fmt.Println("Offer accepted.")
	printJSON(result)
}

func sendOfferRef(txType types.TxType, id, keyFile string) {
	if _, err := decodeOfferID(id); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	payload := types.OfferRefPayload{Offer: id}
	result, err := signAndSend(txType, payload, keyFile)
	if err != nil {
		fmt.Printf("Error sending transaction: %v\n", err)
		return
	}
	fmt.Println("Done.")
	printJSON(result)
}

func signAndSend(txType types.TxType, payload interface{}, keyFile string) (json.RawMessage, error) {
	privKey, err := loadPrivateKey(keyFile)
	if err != nil {
		return nil, err
	}
	addr := privKey.PubKey().Address().String()
	nonce, err := fetchNonce(addr)
	if err != nil {
		return nil, fmt.Errorf("fetching nonce: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	tx := types.Transaction{
		Type:  txType,
		Nonce: nonce,
		Data:  data,
	}
	if err := tx.Sign(privKey.PrivateKey); err != nil {
		return nil, err
	}
	return callRPC("otc_sendTransaction", &tx, true)
}

func fetchNonce(addr string) (uint64, error) {
	result, err := callRPC("otc_getNonce", map[string]string{"address": addr}, false)
	if err != nil {
		return 0, err
	}
	var out struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

func parseDeadline(raw string) (int64, error) {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, fmt.Errorf("deadline must be a unix timestamp or RFC3339 time")
	}
	return parsed.Unix(), nil
}

func decodeOfferID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("offer id must be hex encoded")
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("offer id must be 32 bytes")
	}
	copy(id[:], decoded)
	return id, nil
}

func callRPC(method string, param interface{}, requireAuth bool) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response from node")
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Data != nil {
			return nil, fmt.Errorf("error from node: %s (%v)", rpcResp.Error.Message, rpcResp.Error.Data)
		}
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run swap-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty. run swap-cli generate-key first", path)
	}
	privKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return privKey, nil
}
