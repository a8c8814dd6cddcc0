package signature_test

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestGenerateSecret(t *testing.T) {
	seen := make(map[string]bool)
	for range 16 {
		secret := signature.GenerateSecret()

		raw, ok := strings.CutPrefix(secret, "whsec_")
		if !ok {
			t.Fatalf("secret %q lacks whsec_ prefix", secret)
		}
		key, err := hex.DecodeString(raw)
		if err != nil {
			t.Fatalf("secret body %q is not hex: %v", raw, err)
		}
		if len(key) != 32 {
			t.Fatalf("secret carries %d random bytes, want 32", len(key))
		}
		if raw != strings.ToLower(raw) {
			t.Fatalf("secret body %q should be lowercase hex", raw)
		}

		if seen[secret] {
			t.Fatalf("GenerateSecret repeated %q", secret)
		}
		seen[secret] = true
	}
}

func TestGeneratedSecretSigns(t *testing.T) {
	secret := signature.GenerateSecret()
	body := []byte(`{"type":"system.test"}`)

	sig := signature.SignBytes(body, secret)
	if sig == signature.SignBytes(body, signature.GenerateSecret()) {
		t.Fatal("different secrets produced the same signature")
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64 hex chars", len(sig))
	}
}
