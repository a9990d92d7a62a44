// Package signature computes and checks PSP webhook signatures.
package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const PayFastField = "signature"

// PayFast signs the fields the way PayFast ITN does: signature and empty fields
// dropped, keys sorted, values query-escaped, passphrase appended last.
func PayFast(fields url.Values, passphrase string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == PayFastField || strings.TrimSpace(fields.Get(k)) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(strings.TrimSpace(fields.Get(k))))
	}
	if passphrase != "" {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString("passphrase=")
		b.WriteString(url.QueryEscape(passphrase))
	}

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func VerifyPayFast(fields url.Values, passphrase string) bool {
	got := strings.ToLower(strings.TrimSpace(fields.Get(PayFastField)))
	if got == "" {
		return false
	}
	want := PayFast(fields, passphrase)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
