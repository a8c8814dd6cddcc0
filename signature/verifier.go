package signature

import (
	"crypto/hmac"
	"strings"
)

// Verify reports whether header (in "sha256=<hex>" form) is the signature of
// body under secret. body must be the raw request body as received.
func Verify(body []byte, secret, header string) bool {
	sig, ok := strings.CutPrefix(header, HeaderPrefix)
	if !ok {
		return false
	}
	expected := SignBytes(body, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
