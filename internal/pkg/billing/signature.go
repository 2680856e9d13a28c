package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyOpenNodeSignature checks the hashed_order field of an OpenNode
// webhook payload: HMAC-SHA256 of the charge ID keyed with the API key,
// hex-encoded, compared in constant time.
func VerifyOpenNodeSignature(chargeID, hashedOrder, apiKey string) bool {
	id := strings.TrimSpace(chargeID)
	sig := strings.TrimSpace(hashedOrder)
	key := strings.TrimSpace(apiKey)
	if id == "" || sig == "" || key == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(id))
	return hmac.Equal(mac.Sum(nil), decoded)
}
