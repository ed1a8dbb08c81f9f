package exchangerest

import (
	"strings"
	"testing"

	"arbcore/internal/config"
)

func testAuthConfig() config.Config {
	return config.Config{
		Wallet: config.WalletConfig{
			PrivateKey: "0x1111111111111111111111111111111111111111111111111111111111111111",
			ChainID:    137,
		},
		API: config.APIConfig{
			CLOBBaseURL: "http://localhost",
			ApiKey:      "test-key",
			Secret:      "c2VjcmV0LWJ5dGVz", // base64("secret-bytes")
			Passphrase:  "test-pass",
		},
	}
}

func TestNewAuthDerivesAddressFromKey(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.Address().Hex() == "" {
		t.Fatal("expected non-empty derived address")
	}
	if auth.FunderAddress() != auth.Address() {
		t.Fatal("funder should default to signer address when unset")
	}
}

func TestNewAuthHonorsFunderAddress(t *testing.T) {
	t.Parallel()
	cfg := testAuthConfig()
	cfg.Wallet.FunderAddress = "0x0000000000000000000000000000000000dEaD"
	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if auth.FunderAddress() == auth.Address() {
		t.Fatal("funder address should differ from signer when configured")
	}
}

func TestHasL2Credentials(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}
	if !auth.HasL2Credentials() {
		t.Fatal("expected L2 credentials to be configured")
	}

	cfg := testAuthConfig()
	cfg.API.Secret = ""
	auth2, _ := NewAuth(cfg)
	if auth2.HasL2Credentials() {
		t.Fatal("expected no L2 credentials when secret missing")
	}
}

func TestL1HeadersProducesSignature(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	headers, err := auth.L1Headers(0)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}
	if !strings.HasPrefix(headers["POLY_SIGNATURE"], "0x") {
		t.Fatalf("signature = %q, want 0x-prefixed", headers["POLY_SIGNATURE"])
	}
	if headers["POLY_ADDRESS"] != auth.Address().Hex() {
		t.Fatalf("address header = %q, want %q", headers["POLY_ADDRESS"], auth.Address().Hex())
	}
}

func TestL2HeadersAreDeterministicPerTimestamp(t *testing.T) {
	t.Parallel()
	auth, err := NewAuth(testAuthConfig())
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	sig1, err := auth.buildHMAC("1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	sig2, err := auth.buildHMAC("1700000000", "POST", "/orders", `{"a":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 != sig2 {
		t.Fatal("expected identical input to produce identical signature")
	}

	sig3, err := auth.buildHMAC("1700000000", "POST", "/orders", `{"a":2}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 == sig3 {
		t.Fatal("expected different body to change the signature")
	}
}

func TestL2HeadersRejectsUndecodableSecret(t *testing.T) {
	t.Parallel()
	cfg := testAuthConfig()
	cfg.API.Secret = "not valid base64!!"
	auth, err := NewAuth(cfg)
	if err != nil {
		t.Fatalf("NewAuth: %v", err)
	}

	if _, err := auth.L2Headers("GET", "/book", ""); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}
