// Package signature provides HMAC-SHA256 webhook signing over canonical JSON.
//
// The signature covers the exact bytes herald sends as the request body: the
// payload serialized with object keys sorted at every level and no
// insignificant whitespace. Receivers recompute it over the raw body.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HeaderPrefix is prepended to the hex digest in the signature header.
const HeaderPrefix = "sha256="

// Canonicalize serializes payload as canonical JSON. Raw JSON input
// ([]byte, json.RawMessage) is re-encoded so equal documents always yield
// equal bytes. Numbers keep their literal form.
func Canonicalize(payload any) ([]byte, error) {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("signature: marshal payload: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("signature: decode payload: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("signature: encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign returns the lowercase hex HMAC-SHA256 of the canonical form of
// payload, keyed by secret.
func Sign(payload any, secret string) (string, error) {
	body, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SignBytes(body, secret), nil
}

// SignBytes signs already-canonical bytes.
func SignBytes(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Header formats a digest as the X-Webhook-Signature header value.
func Header(sig string) string {
	return HeaderPrefix + sig
}
