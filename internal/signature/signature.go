// Package signature verifies Miniflux webhook signatures.
//
// Miniflux signs the exact request body with HMAC-SHA256 using the webhook
// secret and sends the lowercase hex digest in the X-Miniflux-Signature
// header. The digest must be computed over the raw bytes as received; any
// re-serialization changes the result.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Header is the request header carrying the hex digest.
const Header = "X-Miniflux-Signature"

var (
	ErrMissingSignature = errors.New("signature header missing")
	ErrInvalidSignature = errors.New("signature mismatch")
	// ErrMissingRawBody means the HTTP layer did not capture the body.
	// This is a configuration defect, not a client error.
	ErrMissingRawBody = errors.New("raw request body not captured")
)

// Sign returns the lowercase hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of rawBody.
func Verify(secret, rawBody []byte, provided string) bool {
	return Check(secret, rawBody, true, provided) == nil
}

// Check is Verify with a reason. captured is false when the HTTP layer never
// stored the body, which is reported as ErrMissingRawBody.
func Check(secret, rawBody []byte, captured bool, provided string) error {
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return ErrMissingSignature
	}
	if !captured {
		return ErrMissingRawBody
	}
	expected := Sign(secret, rawBody)
	// hmac.Equal is constant time for equal lengths; a length mismatch
	// only leaks the (public) digest size.
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}
