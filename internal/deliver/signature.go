package deliver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader carries the webhook payload signature so receivers can
// authenticate the sender.
const SignatureHeader = "X-Relay-Signature"

// SignPayload computes the signature header value for a webhook body:
// "sha256=" followed by the hex HMAC-SHA256 of the body under the route's
// signing secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether a signature header value matches the body
// under the secret. Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
