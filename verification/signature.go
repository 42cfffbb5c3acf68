package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks signatureHeader against HMAC-SHA256(secret, rawPayload).
// The header must be "sha256=<hex>". Any missing input or malformed header fails
// closed. rawPayload must be the exact bytes received, before any parsing.
func VerifySignature(rawPayload []byte, signatureHeader string, secret []byte) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || len(secret) == 0 {
		return false
	}
	if !strings.HasPrefix(sig, signaturePrefix) {
		return false
	}

	provided, err := hex.DecodeString(strings.ToLower(strings.TrimPrefix(sig, signaturePrefix)))
	if err != nil || len(provided) != sha256.Size {
		return false
	}

	return hmac.Equal(computeMAC(rawPayload, secret), provided)
}

// SignPayload returns the header value a processor would send for payload.
func SignPayload(payload, secret []byte) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(payload, secret))
}

func computeMAC(payload, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}
