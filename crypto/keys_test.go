package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateAndRestoreKey(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !bytes.Equal(key.Bytes(), restored.Bytes()) {
		t.Fatalf("restored key differs")
	}
	if key.PubKey().Address().String() != restored.PubKey().Address().String() {
		t.Fatalf("restored key yields a different address")
	}
}

func TestAddressEncoding(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(SwapPrefix)) {
		t.Fatalf("expected %s prefix, got %s", SwapPrefix, encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip changed the address bytes")
	}
	if decoded.Prefix() != SwapPrefix {
		t.Fatalf("round trip changed the prefix")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-bech32",
		"swp1qqqq", // truncated payload
	}
	for _, raw := range cases {
		if _, err := DecodeAddress(raw); err == nil {
			t.Fatalf("expected error decoding %q", raw)
		}
	}
}
