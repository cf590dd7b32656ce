package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignPayload computes the signature header value for a raw request body.
// Format: "sha256=<hex_signature>" over the exact bytes on the wire, so any
// re-serialization on either side breaks verification by construction.
func SignPayload(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks an inbound signature header against the raw request
// body using a constant time comparison.
func VerifySignature(secret string, body []byte, header string) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return fmt.Errorf("unsupported signature algorithm")
	}

	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := h.Sum(nil)

	if !hmac.Equal(expected, providedBytes) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}
