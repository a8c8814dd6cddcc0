package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestSignKnownVector(t *testing.T) {
	secret := "whsec_testsecret123"
	payload := map[string]any{"b": 2, "a": "x"}

	got, err := signature.Sign(payload, secret)
	if err != nil {
		t.Fatal(err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(`{"a":"x","b":2}`))
	expected := hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignKeyOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"z":{"y":1,"x":[3,2,1]},"a":null}`)
	b := json.RawMessage(`{ "a" : null, "z" : { "x" : [3, 2, 1], "y" : 1 } }`)

	sa, err := signature.Sign(a, "s")
	if err != nil {
		t.Fatal(err)
	}
	sb, err := signature.Sign(b, "s")
	if err != nil {
		t.Fatal(err)
	}
	if sa != sb {
		t.Fatalf("equal documents signed differently: %s vs %s", sa, sb)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nested keys sorted", json.RawMessage(`{"b":{"d":1,"c":2},"a":1}`), `{"a":1,"b":{"c":2,"d":1}}`},
		{"numbers verbatim", json.RawMessage(`{"n":1.50,"big":12345678901234567890}`), `{"big":12345678901234567890,"n":1.50}`},
		{"no html escape", map[string]any{"q": "<a&b>"}, `{"q":"<a&b>"}`},
		{"array order kept", []any{3, 1, 2}, `[3,1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := signature.Canonicalize(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonicalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalizeInvalidJSON(t *testing.T) {
	if _, err := signature.Canonicalize(json.RawMessage(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSignDifferentSecrets(t *testing.T) {
	body := map[string]any{"k": "v"}
	s1, _ := signature.Sign(body, "one")
	s2, _ := signature.Sign(body, "two")
	if s1 == s2 {
		t.Fatal("different secrets produced the same signature")
	}
	if len(s1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(s1))
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	body, err := signature.Canonicalize(map[string]any{"invoice_id": "inv_01h2x", "amount": 9900})
	if err != nil {
		t.Fatal(err)
	}
	header := signature.Header(signature.SignBytes(body, "whsec_round"))

	if !signature.Verify(body, "whsec_round", header) {
		t.Error("Verify() returned false for valid signature")
	}
	if signature.Verify([]byte(`{"amount":1}`), "whsec_round", header) {
		t.Error("Verify() returned true for tampered body")
	}
	if signature.Verify(body, "whsec_wrong", header) {
		t.Error("Verify() returned true for wrong secret")
	}
	if signature.Verify(body, "whsec_round", header[len("sha256="):]) {
		t.Error("Verify() accepted a header without the sha256= prefix")
	}
}
