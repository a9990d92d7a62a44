package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

func yocoMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Yoco returns the hex HMAC-SHA256 of the raw request body.
func Yoco(body []byte, secret string) string {
	return hex.EncodeToString(yocoMAC(body, secret))
}

// VerifyYoco accepts hex or base64 signatures, optionally prefixed with
// "v1," or "sha256=".
func VerifyYoco(body []byte, secret string, sig string) bool {
	if secret == "" {
		return false
	}
	sig = strings.TrimSpace(sig)
	sig = strings.TrimPrefix(sig, "v1,")
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		got, err = base64.StdEncoding.DecodeString(sig)
		if err != nil {
			return false
		}
	}
	return hmac.Equal(got, yocoMAC(body, secret))
}
